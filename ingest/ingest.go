// Package ingest turns files on disk into artifacts, chunks, and embed
// backlog work. The pipeline runs in stages: discover files under a root,
// validate them against size and extension limits, process each one through
// a loader, and report the run. Remote sources (git URLs, archives) are
// resolved to a local directory first.
package ingest

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/qacompanion/qac/artifact"
)

// Directories that never contain artifacts worth ingesting.
var skipDirs = map[string]bool{
	"vendor":       true,
	"node_modules": true,
	"__pycache__":  true,
	".git":         true,
}

// SkipDir reports whether a directory name is excluded from discovery:
// dotted directories and well-known dependency trees. The watch engine
// applies the same rule so file events match what ingestion would read.
func SkipDir(name string) bool {
	return skipDirs[name] || strings.HasPrefix(name, ".")
}

// Options controls discovery and validation for one ingestion run.
type Options struct {
	// Recursive walks subdirectories below the root.
	Recursive bool
	// Extensions restricts discovery to the listed extensions (with dot,
	// case-insensitive). Empty means every extension a loader accepts.
	Extensions []string
	// MaxFileSizeMB drops files larger than this during validation.
	MaxFileSizeMB float64
	// Repo labels every artifact produced by the run.
	Repo string
	// Kind forces the artifact kind instead of letting loaders classify.
	Kind artifact.Kind
	// DryRun stops the pipeline after validation.
	DryRun bool
	// Root is the resolved run root; artifact source ids are paths relative
	// to it. Set by the pipeline before loaders run.
	Root string
}

// FileInfo describes one discovered file.
type FileInfo struct {
	Path     string  `json:"path"`
	Name     string  `json:"name"`
	Ext      string  `json:"ext"`
	SizeMB   float64 `json:"size_mb"`
	Readable bool    `json:"readable"`
}

// SkippedFile is a discovered file that validation dropped, with the reason.
type SkippedFile struct {
	FileInfo
	Reason string `json:"reason"`
}

// Skip reasons recorded during validation.
const (
	ReasonUnreadable  = "unreadable"
	ReasonTooLarge    = "too large"
	ReasonUnsupported = "unsupported extension"
)

// Discover walks root and returns candidate files. Dotfiles and well-known
// dependency directories (vendor, node_modules) are skipped. When root is a
// single file it is returned as the only candidate.
func Discover(root string, opts Options) ([]FileInfo, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []FileInfo{fileInfo(root, info)}, nil
	}

	wanted := extensionSet(opts.Extensions)

	var files []FileInfo
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			// Unreadable directory entries are dropped, not fatal.
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if path == root {
				return nil
			}
			if !opts.Recursive || SkipDir(name) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		if wanted != nil && !wanted[strings.ToLower(filepath.Ext(name))] {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		files = append(files, fileInfo(path, fi))
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// Validate partitions discovered files into loadable candidates and skipped
// files with reasons. A file is loadable when it is readable, within the size
// limit, and some registered loader accepts it.
func (p *Pipeline) Validate(files []FileInfo, opts Options) (valid []FileInfo, skipped []SkippedFile) {
	for _, f := range files {
		switch {
		case !f.Readable:
			skipped = append(skipped, SkippedFile{FileInfo: f, Reason: ReasonUnreadable})
		case opts.MaxFileSizeMB > 0 && f.SizeMB > opts.MaxFileSizeMB:
			skipped = append(skipped, SkippedFile{FileInfo: f, Reason: ReasonTooLarge})
		case p.loaderFor(f.Path) == nil:
			skipped = append(skipped, SkippedFile{FileInfo: f, Reason: ReasonUnsupported})
		default:
			valid = append(valid, f)
		}
	}
	return valid, skipped
}

func fileInfo(path string, info os.FileInfo) FileInfo {
	return FileInfo{
		Path:     path,
		Name:     info.Name(),
		Ext:      strings.ToLower(filepath.Ext(path)),
		SizeMB:   float64(info.Size()) / (1024 * 1024),
		Readable: isReadable(path),
	}
}

func isReadable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

func extensionSet(exts []string) map[string]bool {
	if len(exts) == 0 {
		return nil
	}
	set := make(map[string]bool, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = true
	}
	if len(set) == 0 {
		return nil
	}
	return set
}
