package ingest

import (
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/qacompanion/qac/artifact"
	"github.com/qacompanion/qac/errors"
)

// textExtensions lists the plain-text and source extensions the TextLoader
// accepts. Markdown is deliberately absent; the MarkdownLoader owns it.
var textExtensions = map[string]bool{
	".txt":   true,
	".go":    true,
	".py":    true,
	".js":    true,
	".jsx":   true,
	".ts":    true,
	".tsx":   true,
	".java":  true,
	".kt":    true,
	".rs":    true,
	".rb":    true,
	".c":     true,
	".h":     true,
	".cc":    true,
	".cpp":   true,
	".hpp":   true,
	".cs":    true,
	".swift": true,
	".sh":    true,
	".sql":   true,
	".proto": true,
	".yaml":  true,
	".yml":   true,
	".toml":  true,
	".json":  true,
}

// TextLoader ingests plain text and source files as source_code artifacts.
// Go files additionally yield one code_comment artifact per doc comment, so
// API documentation is searchable on its own.
type TextLoader struct{}

func (l *TextLoader) Name() string { return "text" }

func (l *TextLoader) CanLoad(path string) bool {
	return textExtensions[strings.ToLower(filepath.Ext(path))]
}

func (l *TextLoader) Load(path string, opts Options) ([]*artifact.Draft, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	if !utf8.Valid(data) {
		return nil, errors.NewInvalidInputError("%s is not valid UTF-8 text", path)
	}
	content := string(data)
	if strings.TrimSpace(content) == "" {
		return nil, errors.NewInvalidInputError("%s is empty", path)
	}

	kind := opts.Kind
	if kind == "" {
		kind = artifact.KindSourceCode
	}
	sourceID := relSourceID(opts.Root, path)
	ext := strings.ToLower(filepath.Ext(path))

	drafts := []*artifact.Draft{{
		Kind:     kind,
		SourceID: sourceID,
		Title:    filepath.Base(path),
		Content:  content,
		Repo:     opts.Repo,
		Metadata: map[string]interface{}{
			"path":  sourceID,
			"ext":   ext,
			"lines": strings.Count(content, "\n") + 1,
		},
	}}

	if ext == ".go" && kind == artifact.KindSourceCode {
		drafts = append(drafts, goDocDrafts(sourceID, content, opts.Repo)...)
	}
	return drafts, nil
}

// goDocDrafts extracts doc comments from Go source as code_comment drafts.
// A file that fails to parse still ingests as source code; it just yields
// no comment artifacts.
func goDocDrafts(sourceID, content, repo string) []*artifact.Draft {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, sourceID, content, parser.ParseComments)
	if err != nil {
		return nil
	}

	var drafts []*artifact.Draft
	add := func(symbol, title, doc string) {
		doc = strings.TrimSpace(doc)
		if doc == "" {
			return
		}
		drafts = append(drafts, &artifact.Draft{
			Kind:     artifact.KindCodeComment,
			SourceID: sourceID + "#" + symbol,
			Title:    title,
			Content:  doc,
			Repo:     repo,
			Metadata: map[string]interface{}{
				"file":   sourceID,
				"symbol": symbol,
			},
		})
	}

	if file.Doc != nil {
		add("package", "package "+file.Name.Name, file.Doc.Text())
	}
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			if d.Doc == nil {
				continue
			}
			symbol := d.Name.Name
			if d.Recv != nil && len(d.Recv.List) > 0 {
				symbol = receiverName(d.Recv.List[0].Type) + "." + symbol
			}
			add(symbol, symbol, d.Doc.Text())
		case *ast.GenDecl:
			if d.Doc == nil {
				continue
			}
			if symbol := firstSpecName(d); symbol != "" {
				add(symbol, symbol, d.Doc.Text())
			}
		}
	}
	return drafts
}

// receiverName resolves the type name of a method receiver expression.
func receiverName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverName(t.X)
	case *ast.Ident:
		return t.Name
	case *ast.IndexExpr:
		return receiverName(t.X)
	case *ast.IndexListExpr:
		return receiverName(t.X)
	}
	return "recv"
}

// firstSpecName returns the name of the first spec in a declaration group.
func firstSpecName(d *ast.GenDecl) string {
	for _, spec := range d.Specs {
		switch s := spec.(type) {
		case *ast.TypeSpec:
			return s.Name.Name
		case *ast.ValueSpec:
			if len(s.Names) > 0 {
				return s.Names[0].Name
			}
		}
	}
	return ""
}
