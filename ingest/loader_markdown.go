package ingest

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	gtext "github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"

	"github.com/qacompanion/qac/artifact"
	"github.com/qacompanion/qac/errors"
)

// frontmatterKinds are the artifact kinds a document may claim for itself.
var frontmatterKinds = map[string]artifact.Kind{
	"design_doc":  artifact.KindDesignDoc,
	"requirement": artifact.KindRequirement,
	"rca":         artifact.KindRCA,
	"bug_report":  artifact.KindBugReport,
}

// Frontmatter is the YAML header a markdown document may start with.
type Frontmatter struct {
	Title string   `yaml:"title"`
	Kind  string   `yaml:"kind"`
	Tags  []string `yaml:"tags"`
	Links []string `yaml:"links"`
}

// mdParser parses markdown into an AST for heading extraction. Rendering to
// HTML happens at serve time, not here.
var mdParser = goldmark.New(goldmark.WithExtensions(extension.GFM))

// MarkdownLoader ingests markdown documents. Without a frontmatter kind the
// document becomes a design_doc; frontmatter may reclassify it as a
// requirement, RCA, or bug report. Tags and links land in metadata.
type MarkdownLoader struct{}

func (l *MarkdownLoader) Name() string { return "markdown" }

func (l *MarkdownLoader) CanLoad(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return true
	}
	return false
}

func (l *MarkdownLoader) Load(path string, opts Options) ([]*artifact.Draft, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}

	fm, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, errors.Wrapf(err, "bad frontmatter in %s", path)
	}
	if strings.TrimSpace(string(body)) == "" {
		return nil, errors.NewInvalidInputError("%s has no content", path)
	}

	kind := opts.Kind
	if kind == "" {
		kind = artifact.KindDesignDoc
	}
	if fm.Kind != "" {
		mapped, ok := frontmatterKinds[strings.ToLower(strings.TrimSpace(fm.Kind))]
		if !ok {
			return nil, errors.NewInvalidInputError("%s declares unknown kind %q", path, fm.Kind)
		}
		kind = mapped
	}

	title := strings.TrimSpace(fm.Title)
	if title == "" {
		title = firstHeading(body)
	}
	if title == "" {
		title = filepath.Base(path)
	}

	sourceID := relSourceID(opts.Root, path)
	metadata := map[string]interface{}{
		"path":   sourceID,
		"format": "markdown",
	}
	if len(fm.Tags) > 0 {
		metadata["tags"] = fm.Tags
	}
	if len(fm.Links) > 0 {
		metadata["links"] = fm.Links
	}

	return []*artifact.Draft{{
		Kind:     kind,
		SourceID: sourceID,
		Title:    title,
		Content:  string(body),
		Repo:     opts.Repo,
		Metadata: metadata,
	}}, nil
}

// splitFrontmatter separates a leading YAML frontmatter block from the
// document body. A document without a block returns an empty Frontmatter.
func splitFrontmatter(src []byte) (Frontmatter, []byte, error) {
	var fm Frontmatter
	if !bytes.HasPrefix(src, []byte("---\n")) && !bytes.HasPrefix(src, []byte("---\r\n")) {
		return fm, src, nil
	}

	rest := src[bytes.IndexByte(src, '\n')+1:]
	end := bytes.Index(rest, []byte("\n---"))
	if end < 0 {
		// Opening fence without a closing one: treat the whole file as body.
		return fm, src, nil
	}

	block := rest[:end]
	body := rest[end+len("\n---"):]
	// Drop the remainder of the closing fence line.
	if nl := bytes.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		body = nil
	}

	if err := yaml.Unmarshal(block, &fm); err != nil {
		return Frontmatter{}, nil, err
	}
	return fm, body, nil
}

// firstHeading returns the text of the first heading in the document.
func firstHeading(body []byte) string {
	doc := mdParser.Parser().Parse(gtext.NewReader(body))
	var title string
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if h, ok := n.(*ast.Heading); ok {
			title = headingText(h, body)
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	return title
}

// headingText reassembles a heading's source text from its line segments.
func headingText(h *ast.Heading, body []byte) string {
	var sb strings.Builder
	lines := h.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		sb.Write(seg.Value(body))
	}
	return strings.TrimSpace(sb.String())
}

// SplitSections divides a markdown body at its headings so chunking does
// not straddle section boundaries. Content before the first heading is its
// own section. A body without headings comes back whole.
func SplitSections(body string) []string {
	src := []byte(body)
	doc := mdParser.Parser().Parse(gtext.NewReader(src))

	var cuts []int
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok || h.Lines().Len() == 0 {
			return ast.WalkContinue, nil
		}
		// Lines() starts at the heading text; rewind to the marker.
		start := h.Lines().At(0).Start
		for start > 0 && src[start-1] != '\n' {
			start--
		}
		cuts = append(cuts, start)
		return ast.WalkContinue, nil
	})

	if len(cuts) == 0 {
		return []string{body}
	}

	var sections []string
	prev := 0
	for _, cut := range cuts {
		if cut > prev {
			if sec := strings.TrimSpace(body[prev:cut]); sec != "" {
				sections = append(sections, sec)
			}
		}
		prev = cut
	}
	if sec := strings.TrimSpace(body[prev:]); sec != "" {
		sections = append(sections, sec)
	}
	if len(sections) == 0 {
		return []string{body}
	}
	return sections
}
