// Package git ingests repository history: each commit becomes a commit
// artifact and each dependency manifest at the repository root becomes a
// requirement artifact. The trace linker scans new commits for issue
// references as they are stored, so "which commits touched this bug"
// queries work right after ingestion.
package git

import (
	"context"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/qacompanion/qac/artifact"
	"github.com/qacompanion/qac/chunk"
	"github.com/qacompanion/qac/errors"
	"github.com/qacompanion/qac/ingest"
	"github.com/qacompanion/qac/jobs"
	"github.com/qacompanion/qac/logger"
	"github.com/qacompanion/qac/sym"
	"github.com/qacompanion/qac/trace"
)

const (
	// progressEvery bounds emitter updates while walking large histories.
	progressEvery = 25

	// maxMetadataFiles caps the per-commit file list stored in metadata.
	maxMetadataFiles = 50

	// titleLimit truncates commit subjects for the artifact title.
	titleLimit = 80
)

// Options configure one repository ingestion.
type Options struct {
	// Repo labels stored artifacts; derived from the path when empty.
	Repo string

	// Since skips commits at or before a cutoff: an RFC3339 timestamp,
	// a date (2006-01-02), or a commit hash (full or abbreviated).
	Since string
}

// Result is the outcome of one repository ingestion. Run carries the
// aggregate counts; the named fields break them down by what was stored.
type Result struct {
	Run       *ingest.Run `json:"run"`
	Commits   int         `json:"commits"`
	Manifests int         `json:"manifests"`
	Releases  int         `json:"releases"`
	Links     int         `json:"links"`
}

// Ingester walks a repository with go-git and persists its history.
type Ingester struct {
	artifacts *artifact.Store
	runs      *ingest.RunStore
	splitter  *chunk.Splitter
	queue     *jobs.Queue
	linker    *trace.Linker
	emitter   ingest.ProgressEmitter
}

// NewIngester wires a git ingester. queue and linker may be nil: without a
// queue no embed backlog job is enqueued, without a linker commits are not
// scanned for issue references.
func NewIngester(artifacts *artifact.Store, runs *ingest.RunStore, splitter *chunk.Splitter, queue *jobs.Queue, linker *trace.Linker) *Ingester {
	return &Ingester{
		artifacts: artifacts,
		runs:      runs,
		splitter:  splitter,
		queue:     queue,
		linker:    linker,
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

// release is a semver tag resolved to its commit.
type release struct {
	name    string
	hash    string
	version *semver.Version
	when    time.Time
}

// Ingest walks the repository at repoPath from HEAD, newest first, storing
// one commit artifact per commit and one requirement artifact per manifest.
// Per-commit failures are recorded on the run and do not abort the walk; a
// cancelled context does.
func (ing *Ingester) Ingest(ctx context.Context, repoPath string, opts Options) (*Result, error) {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, errors.NewInvalidInputError("%s is not a git repository", repoPath)
		}
		return nil, errors.Wrapf(err, "failed to open repository at %s", repoPath)
	}

	if opts.Repo == "" {
		opts.Repo = ingest.SourceName(repoPath)
	}

	since, err := resolveSince(repo, opts.Since)
	if err != nil {
		return nil, err
	}

	head, err := repo.Head()
	if err != nil {
		return nil, errors.Wrapf(err, "repository at %s has no commits on HEAD", repoPath)
	}

	releases := collectReleases(repo)

	run, err := ing.runs.Begin(repoPath)
	if err != nil {
		return nil, err
	}
	result := &Result{Run: run, Releases: len(releases)}

	ing.emitter.EmitStage("commits", opts.Repo)
	iter, err := repo.Log(&git.LogOptions{
		From:  head.Hash(),
		Order: git.LogOrderCommitterTime,
	})
	if err != nil {
		run.Error = err.Error()
		_ = ing.runs.Finish(run)
		return result, errors.Wrap(err, "failed to walk commit history")
	}

	walked := 0
	walkErr := iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if since != nil && !c.Author.When.After(*since) {
			run.Skipped++
			return nil
		}

		walked++
		ing.processCommit(c, opts, releases, run, result)
		if walked%progressEvery == 0 {
			ing.emitter.EmitProgress(walked, map[string]interface{}{"type": "commits"})
		}
		return nil
	})
	if walkErr != nil {
		run.Error = walkErr.Error()
	}
	if walked > 0 && walked%progressEvery != 0 {
		ing.emitter.EmitProgress(walked, map[string]interface{}{"type": "commits"})
	}

	if run.Skipped > 0 {
		logger.Infow(sym.IX+" Commits before cutoff skipped",
			"since", opts.Since,
			"skipped", run.Skipped,
			"walked", walked,
		)
	}

	if walkErr == nil {
		ing.emitter.EmitStage("manifests", opts.Repo)
		ing.ingestManifests(repoPath, opts, run, result)
	}

	if err := ing.runs.Finish(run); err != nil {
		return result, err
	}
	if ing.queue != nil && run.Chunks > 0 {
		ingest.EnqueueBacklog(ing.queue)
	}

	ing.emitter.EmitComplete(map[string]interface{}{
		"commits":   result.Commits,
		"unchanged": run.Unchanged,
		"skipped":   run.Skipped,
		"manifests": result.Manifests,
		"releases":  result.Releases,
		"links":     result.Links,
		"chunks":    run.Chunks,
		"duration":  run.Duration().Round(time.Millisecond).String(),
	})
	logger.Infow(sym.IX+" Repository ingestion finished",
		"run_id", run.ID,
		"repo", opts.Repo,
		"commits", result.Commits,
		"unchanged", run.Unchanged,
		"manifests", result.Manifests,
		"links", result.Links,
		"chunks", run.Chunks,
	)

	if run.Error != "" {
		return result, errors.Newf("repository ingestion interrupted: %s", run.Error)
	}
	return result, nil
}

// processCommit stores one commit and scans it for issue references.
func (ing *Ingester) processCommit(c *object.Commit, opts Options, releases []release, run *ingest.Run, result *Result) {
	draft := commitDraft(c, opts.Repo, releases)

	a, unchanged, chunks, err := ingest.SaveDraft(ing.artifacts, ing.splitter, draft)
	if err != nil {
		run.Failed++
		ing.emitter.EmitError("commits", err)
		logger.Warnw(sym.IX+" Failed to store commit",
			"hash", shortHash(c.Hash.String()),
			"error", err,
		)
		return
	}
	if unchanged {
		run.Unchanged++
		return
	}

	run.Processed++
	run.Chunks += chunks
	result.Commits++

	if ing.linker != nil {
		links, err := ing.linker.ScanArtifact(a)
		if err != nil {
			logger.Warnw(sym.Trace+" Issue reference scan failed for commit",
				"hash", shortHash(c.Hash.String()),
				"error", err,
			)
		}
		result.Links += len(links)
	}
}

// commitDraft maps one commit to an artifact draft. Stats are best-effort:
// computing them can fail on some merge commits, and the commit still
// ingests without file metadata.
func commitDraft(c *object.Commit, repoLabel string, releases []release) *artifact.Draft {
	hash := c.Hash.String()

	meta := map[string]interface{}{
		"hash":         hash,
		"short_hash":   shortHash(hash),
		"author_email": c.Author.Email,
		"committer":    c.Committer.Name,
		"authored_at":  c.Author.When.UTC().Format(time.RFC3339),
		"committed_at": c.Committer.When.UTC().Format(time.RFC3339),
	}

	if len(c.ParentHashes) > 0 {
		parents := make([]string, len(c.ParentHashes))
		for i, p := range c.ParentHashes {
			parents[i] = shortHash(p.String())
		}
		meta["parents"] = parents
	}

	if stats, err := c.Stats(); err == nil {
		additions, deletions := 0, 0
		files := make([]string, 0, len(stats))
		for _, fs := range stats {
			additions += fs.Addition
			deletions += fs.Deletion
			if len(files) < maxMetadataFiles {
				files = append(files, fs.Name)
			}
		}
		meta["files_changed"] = len(stats)
		meta["additions"] = additions
		meta["deletions"] = deletions
		if len(files) > 0 {
			meta["files"] = files
		}
		if pkgs := modifiedPackages(stats); len(pkgs) > 0 {
			meta["packages"] = pkgs
		}
	}

	if rel := releaseFor(c.Committer.When, releases); rel != "" {
		meta["release"] = rel
	}

	return &artifact.Draft{
		Kind:     artifact.KindCommit,
		SourceID: hash,
		Title:    subjectOf(c.Message),
		Content:  strings.TrimSpace(c.Message),
		Repo:     repoLabel,
		Author:   c.Author.Name,
		Metadata: meta,
	}
}

// subjectOf returns the commit subject line, truncated for display.
func subjectOf(message string) string {
	subject := strings.TrimSpace(strings.SplitN(message, "\n", 2)[0])
	if len(subject) > titleLimit {
		return subject[:titleLimit-3] + "..."
	}
	return subject
}

func shortHash(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}

// modifiedPackages returns the unique directories a commit touched, in
// first-seen order. Root-level files map to ".".
func modifiedPackages(stats object.FileStats) []string {
	seen := make(map[string]bool)
	var pkgs []string
	for _, fs := range stats {
		dir := path.Dir(fs.Name)
		if !seen[dir] {
			seen[dir] = true
			pkgs = append(pkgs, dir)
		}
	}
	return pkgs
}

// collectReleases resolves semver tags to commits, ordered by commit time.
// Tags that do not parse as versions are not releases and are ignored.
func collectReleases(repo *git.Repository) []release {
	iter, err := repo.Tags()
	if err != nil {
		return nil
	}

	var releases []release
	_ = iter.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name().Short()
		version, err := semver.NewVersion(name)
		if err != nil {
			return nil
		}

		c, err := tagCommit(repo, ref)
		if err != nil {
			logger.Debugw(sym.IX+" Release tag does not resolve to a commit",
				"tag", name, "error", err)
			return nil
		}
		releases = append(releases, release{
			name:    name,
			hash:    c.Hash.String(),
			version: version,
			when:    c.Committer.When,
		})
		return nil
	})

	sort.Slice(releases, func(i, j int) bool {
		if releases[i].when.Equal(releases[j].when) {
			return releases[i].version.LessThan(releases[j].version)
		}
		return releases[i].when.Before(releases[j].when)
	})
	return releases
}

// tagCommit resolves a tag reference to its commit, peeling annotated tags.
func tagCommit(repo *git.Repository, ref *plumbing.Reference) (*object.Commit, error) {
	if tag, err := repo.TagObject(ref.Hash()); err == nil {
		return tag.Commit()
	}
	return repo.CommitObject(ref.Hash())
}

// releaseFor returns the first release cut at or after the commit, the one
// that shipped it. Commits after the last release carry no release.
func releaseFor(when time.Time, releases []release) string {
	for _, r := range releases {
		if !r.when.Before(when) {
			return r.name
		}
	}
	return ""
}

// resolveSince turns a since value into a cutoff time. Accepts an RFC3339
// timestamp, a date, or a commit hash with at least 7 characters; a hash
// resolves to its author time.
func resolveSince(repo *git.Repository, since string) (*time.Time, error) {
	if since == "" {
		return nil, nil
	}

	if t, err := time.Parse(time.RFC3339, since); err == nil {
		return &t, nil
	}
	if t, err := time.Parse("2006-01-02", since); err == nil {
		return &t, nil
	}

	if len(since) >= 7 {
		if c, err := repo.CommitObject(plumbing.NewHash(since)); err == nil {
			t := c.Author.When
			return &t, nil
		}

		// Abbreviated hash: scan for a prefix match.
		iter, err := repo.CommitObjects()
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan commits for abbreviated hash")
		}
		defer iter.Close()

		var found *time.Time
		_ = iter.ForEach(func(c *object.Commit) error {
			if strings.HasPrefix(c.Hash.String(), since) {
				t := c.Author.When
				found = &t
				return storer.ErrStop
			}
			return nil
		})
		if found != nil {
			logger.Debugw(sym.IX+" Resolved abbreviated hash to commit time",
				"since", since,
				"cutoff", found.Format(time.RFC3339),
			)
			return found, nil
		}
	}

	return nil, errors.NewInvalidInputError(
		"cannot resolve since value %q: use an RFC3339 timestamp, a date, or a commit hash", since)
}

// IsRepository reports whether path contains a git repository.
func IsRepository(path string) bool {
	_, err := git.PlainOpen(path)
	return err == nil
}
