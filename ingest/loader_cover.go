package ingest

import (
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/tools/cover"

	"github.com/qacompanion/qac/artifact"
	"github.com/qacompanion/qac/errors"
)

// CoverLoader ingests Go coverage profiles as test_result artifacts. The
// artifact content summarizes statement coverage per package so low-coverage
// areas surface in search.
type CoverLoader struct{}

func (l *CoverLoader) Name() string { return "cover" }

func (l *CoverLoader) CanLoad(path string) bool {
	return strings.ToLower(filepath.Ext(path)) == ".out"
}

func (l *CoverLoader) Load(profilePath string, opts Options) ([]*artifact.Draft, error) {
	profiles, err := cover.ParseProfiles(profilePath)
	if err != nil {
		return nil, errors.Wrapf(err, "%s is not a Go coverage profile", profilePath)
	}
	if len(profiles) == 0 {
		return nil, errors.NewInvalidInputError("%s contains no coverage data", profilePath)
	}

	type pkgCover struct {
		covered int
		total   int
	}
	byPackage := map[string]*pkgCover{}
	totals := pkgCover{}
	for _, profile := range profiles {
		pkg := path.Dir(profile.FileName)
		pc := byPackage[pkg]
		if pc == nil {
			pc = &pkgCover{}
			byPackage[pkg] = pc
		}
		for _, block := range profile.Blocks {
			pc.total += block.NumStmt
			totals.total += block.NumStmt
			if block.Count > 0 {
				pc.covered += block.NumStmt
				totals.covered += block.NumStmt
			}
		}
	}

	pkgs := make([]string, 0, len(byPackage))
	for pkg := range byPackage {
		pkgs = append(pkgs, pkg)
	}
	sort.Strings(pkgs)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Coverage report (%s mode)\n", profiles[0].Mode)
	fmt.Fprintf(&sb, "Total: %s of statements covered\n\n", percent(totals.covered, totals.total))
	for _, pkg := range pkgs {
		pc := byPackage[pkg]
		fmt.Fprintf(&sb, "%s: %s (%d/%d statements)\n", pkg, percent(pc.covered, pc.total), pc.covered, pc.total)
	}

	sourceID := relSourceID(opts.Root, profilePath)
	return []*artifact.Draft{{
		Kind:     artifact.KindTestResult,
		SourceID: sourceID,
		Title:    "coverage: " + filepath.Base(profilePath),
		Content:  sb.String(),
		Repo:     opts.Repo,
		Metadata: map[string]interface{}{
			"path":               sourceID,
			"format":             "cover",
			"mode":               profiles[0].Mode,
			"packages":           len(byPackage),
			"statements":         totals.total,
			"covered_statements": totals.covered,
		},
	}}, nil
}

func percent(covered, total int) string {
	if total == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(covered)/float64(total)*100)
}
