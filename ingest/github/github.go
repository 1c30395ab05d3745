// Package github ingests issues and pull requests from GitHub. Issues
// become bug report artifacts keyed "owner/repo#N", the form commit
// messages reference, so the heuristic linker can tie fixes to them. Pull
// request bodies ingest as design docs when labeled design, otherwise as
// bug report context.
package github

import (
	"context"
	"fmt"
	"strings"
	"time"

	gh "github.com/google/go-github/v82/github"

	"github.com/qacompanion/qac/artifact"
	"github.com/qacompanion/qac/chunk"
	"github.com/qacompanion/qac/ingest"
	"github.com/qacompanion/qac/jobs"
	"github.com/qacompanion/qac/logger"
	"github.com/qacompanion/qac/sym"
	"github.com/qacompanion/qac/trace"
)

// progressEvery bounds emitter updates while storing fetched items.
const progressEvery = 25

// Options configure one repository ingestion.
type Options struct {
	// Repo labels stored artifacts; defaults to the repository name.
	Repo string

	// State filters by issue/PR state: open, closed, or all (default).
	State string

	// Since restricts the pull to items updated at or after this time.
	Since time.Time

	// Labels restricts issues to those carrying every listed label.
	Labels []string
}

// Result is the outcome of one repository ingestion.
type Result struct {
	Run    *ingest.Run `json:"run"`
	Issues int         `json:"issues"`
	Pulls  int         `json:"pulls"`
}

// Ingester pulls issues and PRs from the GitHub API and persists them.
type Ingester struct {
	client    *Client
	artifacts *artifact.Store
	runs      *ingest.RunStore
	splitter  *chunk.Splitter
	queue     *jobs.Queue
	emitter   ingest.ProgressEmitter
}

// NewIngester wires a GitHub ingester. queue may be nil: no follow-up jobs
// are enqueued then.
func NewIngester(client *Client, artifacts *artifact.Store, runs *ingest.RunStore, splitter *chunk.Splitter, queue *jobs.Queue) *Ingester {
	return &Ingester{
		client:    client,
		artifacts: artifacts,
		runs:      runs,
		splitter:  splitter,
		queue:     queue,
		emitter:   ingest.NullEmitter{},
	}
}

// WithEmitter returns a copy of the ingester reporting through e, so
// concurrent runs do not share an emitter.
func (ing *Ingester) WithEmitter(e ingest.ProgressEmitter) *Ingester {
	clone := *ing
	if e == nil {
		e = ingest.NullEmitter{}
	}
	clone.emitter = e
	return &clone
}

// Ingest pulls repoFullName's issues and pull requests and stores them as
// artifacts. Per-item failures are recorded on the run and do not abort the
// ingestion; fetch failures do.
func (ing *Ingester) Ingest(ctx context.Context, repoFullName string, opts Options) (*Result, error) {
	owner, name, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}
	if opts.Repo == "" {
		opts.Repo = name
	}

	run, err := ing.runs.Begin("github:" + repoFullName)
	if err != nil {
		return nil, err
	}
	result := &Result{Run: run}

	ing.emitter.EmitStage("issues", repoFullName)
	issues, err := ing.client.listIssues(ctx, owner, name, opts)
	if err != nil {
		run.Error = err.Error()
		_ = ing.runs.Finish(run)
		return result, err
	}

	seen := 0
	for _, issue := range issues {
		// The issues API interleaves pull requests; those ingest from
		// the pulls listing with their PR metadata instead.
		if issue.IsPullRequest() {
			continue
		}
		if ing.saveItem(issueDraft(issue, repoFullName, opts.Repo), "issues", run) {
			result.Issues++
		}
		seen++
		if seen%progressEvery == 0 {
			ing.emitter.EmitProgress(seen, map[string]interface{}{"type": "issues"})
		}
	}

	ing.emitter.EmitStage("pulls", repoFullName)
	pulls, err := ing.client.listPulls(ctx, owner, name, opts)
	if err != nil {
		run.Error = err.Error()
		_ = ing.runs.Finish(run)
		return result, err
	}

	for _, pr := range pulls {
		if ing.saveItem(pullDraft(pr, repoFullName, opts.Repo), "pulls", run) {
			result.Pulls++
		}
		seen++
		if seen%progressEvery == 0 {
			ing.emitter.EmitProgress(seen, map[string]interface{}{"type": "pulls"})
		}
	}
	if seen > 0 && seen%progressEvery != 0 {
		ing.emitter.EmitProgress(seen, map[string]interface{}{"type": "pulls"})
	}

	if err := ing.runs.Finish(run); err != nil {
		return result, err
	}
	if ing.queue != nil {
		if run.Chunks > 0 {
			ingest.EnqueueBacklog(ing.queue)
		}
		// New bug reports make references in already-stored commits
		// resolvable; a rescan picks those links up.
		if result.Issues+result.Pulls > 0 {
			trace.EnqueueRescan(ing.queue)
		}
	}

	ing.emitter.EmitComplete(map[string]interface{}{
		"issues":    result.Issues,
		"pulls":     result.Pulls,
		"unchanged": run.Unchanged,
		"chunks":    run.Chunks,
		"duration":  run.Duration().Round(time.Millisecond).String(),
	})
	logger.Infow(sym.IX+" GitHub ingestion finished",
		"run_id", run.ID,
		"repo", repoFullName,
		"issues", result.Issues,
		"pulls", result.Pulls,
		"unchanged", run.Unchanged,
		"chunks", run.Chunks,
	)
	return result, nil
}

// saveItem stores one draft, folding the outcome into the run counts.
// Returns true when the draft produced a new or updated artifact.
func (ing *Ingester) saveItem(draft *artifact.Draft, stage string, run *ingest.Run) bool {
	_, unchanged, chunks, err := ingest.SaveDraft(ing.artifacts, ing.splitter, draft)
	if err != nil {
		run.Failed++
		ing.emitter.EmitError(stage, err)
		logger.Warnw(sym.IX+" Failed to store GitHub item",
			"source_id", draft.SourceID,
			"error", err,
		)
		return false
	}
	if unchanged {
		run.Unchanged++
		return false
	}
	run.Processed++
	run.Chunks += chunks
	return true
}

// issueDraft maps an issue to a bug report draft. The source id carries the
// owner/repo#N form commit messages use, and the body is markdown, so it
// chunks by section.
func issueDraft(issue *gh.Issue, repoFullName, repoLabel string) *artifact.Draft {
	number := issue.GetNumber()

	meta := map[string]interface{}{
		"number":     number,
		"url":        issue.GetHTMLURL(),
		"state":      issue.GetState(),
		"format":     "markdown",
		"created_at": issue.GetCreatedAt().UTC().Format(time.RFC3339),
		"updated_at": issue.GetUpdatedAt().UTC().Format(time.RFC3339),
	}
	if labels := labelNames(issue.Labels); len(labels) > 0 {
		meta["labels"] = labels
	}
	if issue.ClosedAt != nil {
		meta["closed_at"] = issue.GetClosedAt().UTC().Format(time.RFC3339)
	}
	if issue.GetComments() > 0 {
		meta["comments"] = issue.GetComments()
	}

	return &artifact.Draft{
		Kind:     artifact.KindBugReport,
		SourceID: fmt.Sprintf("%s#%d", repoFullName, number),
		Title:    issue.GetTitle(),
		Content:  bodyOrTitle(issue.GetBody(), issue.GetTitle()),
		Repo:     repoLabel,
		Author:   issue.GetUser().GetLogin(),
		Metadata: meta,
	}
}

// pullDraft maps a pull request to a draft. A design label makes it a
// design doc; anything else is context on the work, stored as bug report.
func pullDraft(pr *gh.PullRequest, repoFullName, repoLabel string) *artifact.Draft {
	number := pr.GetNumber()
	labels := labelNames(pr.Labels)

	meta := map[string]interface{}{
		"number":      number,
		"url":         pr.GetHTMLURL(),
		"state":       pr.GetState(),
		"pull":        true,
		"base_branch": pr.GetBase().GetRef(),
		"head_branch": pr.GetHead().GetRef(),
		"format":      "markdown",
		"created_at":  pr.GetCreatedAt().UTC().Format(time.RFC3339),
		"updated_at":  pr.GetUpdatedAt().UTC().Format(time.RFC3339),
	}
	if len(labels) > 0 {
		meta["labels"] = labels
	}
	if pr.GetDraft() {
		meta["draft"] = true
	}
	if !pr.GetMergedAt().IsZero() {
		meta["merged_at"] = pr.GetMergedAt().UTC().Format(time.RFC3339)
	} else if pr.ClosedAt != nil {
		meta["closed_at"] = pr.GetClosedAt().UTC().Format(time.RFC3339)
	}

	return &artifact.Draft{
		Kind:     pullKind(labels),
		SourceID: fmt.Sprintf("%s#%d", repoFullName, number),
		Title:    pr.GetTitle(),
		Content:  bodyOrTitle(pr.GetBody(), pr.GetTitle()),
		Repo:     repoLabel,
		Author:   pr.GetUser().GetLogin(),
		Metadata: meta,
	}
}

func pullKind(labels []string) artifact.Kind {
	for _, l := range labels {
		if strings.EqualFold(l, "design") {
			return artifact.KindDesignDoc
		}
	}
	return artifact.KindBugReport
}

// bodyOrTitle falls back to the title when the body is empty, so every
// artifact has searchable content.
func bodyOrTitle(body, title string) string {
	if content := strings.TrimSpace(body); content != "" {
		return content
	}
	return title
}

func labelNames(labels []*gh.Label) []string {
	if len(labels) == 0 {
		return nil
	}
	names := make([]string, 0, len(labels))
	for _, l := range labels {
		names = append(names, l.GetName())
	}
	return names
}
