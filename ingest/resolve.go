package ingest

// Source resolution for ingestion inputs. Uses hashicorp/go-getter so a
// single argument can name:
//   - Local paths: /path/to/dir, ./relative/path, ~/home/path
//   - Git URLs: https://github.com/user/repo, git@github.com:user/repo.git
//   - GitHub shorthand: github.com/user/repo (auto-detected by go-getter)
//   - Archives: https://example.com/docs.tar.gz (auto-extracted)

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-getter"
	"github.com/qacompanion/qac/errors"
	"github.com/qacompanion/qac/logger"
	"github.com/qacompanion/qac/sym"
)

// Source is a resolved ingestion input.
type Source struct {
	// LocalPath is where the content lives on disk (original or fetched).
	LocalPath string
	// OriginalInput is the argument the caller passed.
	OriginalInput string
	// Fetched reports whether the content was pulled from a remote source.
	Fetched bool
	// TempDir is the temporary directory used for fetching (empty if local).
	TempDir string

	cleanup func()
}

// Cleanup removes any temporary resources created for this source.
// Safe to call multiple times.
func (s *Source) Cleanup() {
	if s.cleanup != nil {
		s.cleanup()
		s.cleanup = nil
	}
}

// Resolve turns an ingestion input into a local path, fetching remote
// sources into a temp directory. The returned Source must be cleaned up
// when done.
func Resolve(ctx context.Context, input string) (*Source, error) {
	pwd, err := os.Getwd()
	if err != nil {
		pwd = "."
	}

	detected, err := getter.Detect(input, pwd, getter.Detectors)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to detect source type for %q", input)
	}

	logger.Debugw(sym.IX+" Source detected",
		"input", input,
		"detected", detected,
	)

	parsedURL, err := url.Parse(detected)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse detected URL %q", detected)
	}

	// file:// URLs and bare paths stay local.
	if parsedURL.Scheme == "file" || parsedURL.Scheme == "" {
		localPath := input
		if parsedURL.Scheme == "file" {
			localPath = parsedURL.Path
		}

		if strings.HasPrefix(localPath, "~/") {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, errors.Wrap(err, "failed to expand home directory")
			}
			localPath = filepath.Join(home, localPath[2:])
		}

		if !filepath.IsAbs(localPath) {
			localPath = filepath.Join(pwd, localPath)
		}

		if _, err := os.Stat(localPath); err != nil {
			return nil, errors.WrapNotFound(err, "source path")
		}

		return &Source{
			LocalPath:     localPath,
			OriginalInput: input,
			Fetched:       false,
			cleanup:       func() {},
		}, nil
	}

	return fetch(ctx, input, detected)
}

// fetch pulls a remote source into a temp directory using go-getter.
func fetch(ctx context.Context, input, detected string) (*Source, error) {
	name := SourceName(input)

	tempDir, err := os.MkdirTemp("", "qac-ingest-"+name+"-*")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create temp directory")
	}

	logger.Infow(sym.IX+" Fetching remote source",
		"input", input,
		"destination", tempDir,
	)

	client := &getter.Client{
		Ctx:     ctx,
		Src:     detected,
		Dst:     tempDir,
		Mode:    getter.ClientModeDir,
		Getters: getter.Getters,
	}

	if err := client.Get(); err != nil {
		os.RemoveAll(tempDir)
		return nil, errors.Wrapf(err, "failed to fetch %q", input)
	}

	return &Source{
		LocalPath:     tempDir,
		OriginalInput: input,
		Fetched:       true,
		TempDir:       tempDir,
		cleanup: func() {
			logger.Debugw(sym.IX+" Cleaning up fetched source", "path", tempDir)
			os.RemoveAll(tempDir)
		},
	}, nil
}

// IsRemote reports whether the input looks like a remote source rather than
// a local path.
func IsRemote(input string) bool {
	pwd, err := os.Getwd()
	if err != nil {
		pwd = "."
	}

	detected, err := getter.Detect(input, pwd, getter.Detectors)
	if err != nil {
		return false
	}

	parsedURL, err := url.Parse(detected)
	if err != nil {
		return false
	}
	return parsedURL.Scheme != "" && parsedURL.Scheme != "file"
}

// SourceName derives a short name from a URL or path, used for temp
// directory naming and as the default repo label.
func SourceName(input string) string {
	input = strings.TrimSuffix(input, ".git")
	input = strings.TrimSuffix(input, "/")

	if strings.Contains(input, "/") {
		parts := strings.Split(input, "/")
		for i := len(parts) - 1; i >= 0; i-- {
			if parts[i] != "" {
				return sanitizeSourceName(parts[i])
			}
		}
	}
	return sanitizeSourceName(input)
}

// sanitizeSourceName strips characters not safe for directory names.
func sanitizeSourceName(name string) string {
	name = strings.TrimPrefix(name, "git@")

	replacer := strings.NewReplacer(
		":", "-",
		"@", "-",
		" ", "-",
	)
	name = replacer.Replace(name)

	if len(name) > 50 {
		name = name[:50]
	}
	if name == "" {
		name = "source"
	}
	return name
}
