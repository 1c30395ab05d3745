package ingest

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/qacompanion/qac/artifact"
	"github.com/qacompanion/qac/chunk"
	"github.com/qacompanion/qac/errors"
	"github.com/qacompanion/qac/jobs"
	"github.com/qacompanion/qac/logger"
	"github.com/qacompanion/qac/sym"
)

// backlogSource is the dedup key for embed backlog jobs. One pending
// backlog job at a time is enough; it drains everything unembedded.
const backlogSource = "backlog"

// FileFailure records one file the pipeline could not process.
type FileFailure struct {
	FileInfo
	Error string `json:"error"`
}

// Result is the outcome of one pipeline execution.
type Result struct {
	Run     *Run          `json:"run"`
	Valid   []FileInfo    `json:"valid,omitempty"`
	Skipped []SkippedFile `json:"skipped,omitempty"`
	Failed  []FileFailure `json:"failed,omitempty"`
}

// Pipeline ingests files into the artifact store: discover, validate,
// process, report. Loader dispatch picks the reader per file; chunks go
// through the splitter; an embed backlog job is enqueued at the end so
// vectors catch up asynchronously.
type Pipeline struct {
	artifacts *artifact.Store
	runs      *RunStore
	splitter  *chunk.Splitter
	queue     *jobs.Queue
	loaders   []Loader
	emitter   ProgressEmitter
}

// NewPipeline wires a pipeline. queue may be nil, in which case no embed
// backlog job is enqueued and embedding is left to the caller.
func NewPipeline(artifacts *artifact.Store, runs *RunStore, splitter *chunk.Splitter, queue *jobs.Queue) *Pipeline {
	return &Pipeline{
		artifacts: artifacts,
		runs:      runs,
		splitter:  splitter,
		queue:     queue,
		loaders:   DefaultLoaders(),
		emitter:   NullEmitter{},
	}
}

// WithEmitter returns a copy of the pipeline reporting through e. The
// receiver keeps its own emitter, so concurrent runs do not share one.
func (p *Pipeline) WithEmitter(e ProgressEmitter) *Pipeline {
	clone := *p
	if e == nil {
		e = NullEmitter{}
	}
	clone.emitter = e
	return &clone
}

// loaderFor returns the first loader accepting path, or nil.
func (p *Pipeline) loaderFor(path string) Loader {
	for _, l := range p.loaders {
		if l.CanLoad(path) {
			return l
		}
	}
	return nil
}

// Plan discovers and validates files under root without touching the store.
// The CLI shows the plan for confirmation; --dry-run stops here.
func (p *Pipeline) Plan(root string, opts Options) ([]FileInfo, []SkippedFile, error) {
	p.emitter.EmitStage("discover", root)
	files, err := Discover(root, opts)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to discover files under %s", root)
	}

	p.emitter.EmitStage("validate", "")
	valid, skipped := p.Validate(files, opts)

	logger.Infow(sym.IX+" Ingestion plan ready",
		"root", root,
		"candidates", len(files),
		"valid", len(valid),
		"skipped", len(skipped),
	)
	return valid, skipped, nil
}

// Execute processes validated files and reports the run. Failures on
// individual files are recorded and do not abort the run; a cancelled
// context does.
func (p *Pipeline) Execute(ctx context.Context, files []FileInfo, skipped []SkippedFile, source string, opts Options) (*Result, error) {
	run, err := p.runs.Begin(source)
	if err != nil {
		return nil, err
	}
	run.Skipped = len(skipped)

	result := &Result{
		Run:     run,
		Valid:   files,
		Skipped: skipped,
	}

	p.emitter.EmitStage("process", source)
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			run.Error = err.Error()
			break
		}
		p.emitter.EmitFile(i+1, len(files), f.Name)
		if err := p.processFile(f, opts, run); err != nil {
			p.emitter.EmitError("process", err)
			result.Failed = append(result.Failed, FileFailure{FileInfo: f, Error: err.Error()})
			run.Failed++
		}
	}

	p.emitter.EmitStage("report", "")
	if err := p.runs.Finish(run); err != nil {
		return result, err
	}

	if p.queue != nil && run.Chunks > 0 {
		EnqueueBacklog(p.queue)
	}

	p.emitter.EmitComplete(map[string]interface{}{
		"processed": run.Processed,
		"unchanged": run.Unchanged,
		"failed":    run.Failed,
		"skipped":   run.Skipped,
		"chunks":    run.Chunks,
		"duration":  run.Duration().Round(time.Millisecond).String(),
	})
	logger.Infow(sym.IX+" Ingestion run finished",
		"run_id", run.ID,
		"source", source,
		"processed", run.Processed,
		"unchanged", run.Unchanged,
		"failed", run.Failed,
		"skipped", run.Skipped,
		"chunks", run.Chunks,
	)

	if run.Error != "" {
		return result, errors.Newf("ingestion interrupted: %s", run.Error)
	}
	return result, nil
}

// Run is Plan plus Execute against a local root. Handlers and the watch
// engine use it; the CLI calls the stages separately so it can confirm in
// between.
func (p *Pipeline) Run(ctx context.Context, root string, opts Options) (*Result, error) {
	if opts.Root == "" {
		opts.Root = root
	}
	valid, skipped, err := p.Plan(root, opts)
	if err != nil {
		return nil, err
	}
	if opts.DryRun {
		return &Result{Valid: valid, Skipped: skipped}, nil
	}
	return p.Execute(ctx, valid, skipped, root, opts)
}

// processFile loads one file and persists every draft it yields. Counts on
// the run are per artifact, except Failed and Skipped which are per file.
func (p *Pipeline) processFile(f FileInfo, opts Options, run *Run) error {
	loader := p.loaderFor(f.Path)
	if loader == nil {
		return errors.NewInvalidInputError("no loader accepts %s", f.Path)
	}

	drafts, err := loader.Load(f.Path, opts)
	if err != nil {
		return err
	}

	for _, draft := range drafts {
		_, unchanged, chunks, err := SaveDraft(p.artifacts, p.splitter, draft)
		if err != nil {
			return errors.Wrapf(err, "failed to save artifact from %s", f.Path)
		}
		if unchanged {
			run.Unchanged++
			continue
		}
		run.Processed++
		run.Chunks += chunks
	}
	return nil
}

// SaveDraft persists one draft and replaces its chunks when the content
// changed. Returns the artifact, whether it was unchanged, and the number
// of chunks written. Git and GitHub ingestion share this path with the
// filesystem pipeline.
func SaveDraft(artifacts *artifact.Store, splitter *chunk.Splitter, draft *artifact.Draft) (*artifact.Artifact, bool, int, error) {
	a, unchanged, err := artifacts.Save(draft)
	if err != nil {
		return nil, false, 0, err
	}
	if unchanged {
		return a, true, 0, nil
	}
	chunks := draftChunks(splitter, draft, a.ID)
	if err := artifacts.ReplaceChunks(a.ID, chunks); err != nil {
		return nil, false, 0, errors.Wrapf(err, "failed to store chunks for %s", a.ID)
	}
	return a, false, len(chunks), nil
}

// draftChunks splits a draft's content into chunk rows. Markdown is pre-split
// at headings so chunks do not straddle section boundaries. Duplicate
// content within one artifact collapses to a single chunk.
func draftChunks(splitter *chunk.Splitter, draft *artifact.Draft, artifactID string) []artifact.Chunk {
	var pieces []string
	if format, _ := draft.Metadata["format"].(string); format == "markdown" {
		for _, section := range SplitSections(draft.Content) {
			pieces = append(pieces, splitter.Split(section)...)
		}
	} else {
		pieces = splitter.Split(draft.Content)
	}

	seen := map[string]bool{}
	chunks := make([]artifact.Chunk, 0, len(pieces))
	for _, piece := range pieces {
		if !chunk.Acceptable(piece) {
			continue
		}
		id := artifact.ChunkID(artifactID, piece)
		if seen[id] {
			continue
		}
		seen[id] = true
		chunks = append(chunks, artifact.Chunk{
			ID:         id,
			ArtifactID: artifactID,
			Seq:        len(chunks),
			Content:    piece,
			WordCount:  chunk.WordCount(piece),
		})
	}
	return chunks
}

// EnqueueBacklog schedules the embed backlog drain. Deduped: while one
// backlog job is active, new runs piggyback on it.
func EnqueueBacklog(queue *jobs.Queue) {
	job, err := jobs.NewJob(jobs.HandlerEmbedBacklog, backlogSource, nil, 0, 0)
	if err != nil {
		logger.Warnw(sym.Embed+" Failed to build embed backlog job", "error", err)
		return
	}
	queued, err := queue.EnqueueDeduped(job)
	if err != nil {
		logger.Warnw(sym.Embed+" Failed to enqueue embed backlog job", "error", err)
		return
	}
	logger.Debugw(sym.Embed+" Embed backlog queued", "job_id", queued.ID)
}

// WriteReport saves the run result as a JSON report file.
func WriteReport(result *Result, path string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal ingest report")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write ingest report to %s", path)
	}
	return nil
}
