package server

import (
	"bytes"
	"net/http"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var (
	md     goldmark.Markdown
	policy *bluemonday.Policy
)

func init() {
	// WithUnsafe lets goldmark emit raw HTML; bluemonday strips anything
	// dangerous afterwards.
	md = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(html.WithUnsafe()),
	)
	policy = bluemonday.UGCPolicy()
}

// renderMarkdown converts Markdown to sanitized HTML. On conversion
// failure the raw input is sanitized and returned so something always
// renders.
func renderMarkdown(source []byte) []byte {
	var buf bytes.Buffer
	if err := md.Convert(source, &buf); err != nil {
		return policy.SanitizeBytes(source)
	}
	return policy.SanitizeBytes(buf.Bytes())
}

// handleArtifactHTML serves an artifact's content rendered as HTML.
// Engineering artifacts are predominantly Markdown; anything else
// still comes out readable as sanitized preformatted text.
func (s *Server) handleArtifactHTML(w http.ResponseWriter, r *http.Request, artifactID string) {
	a, err := s.artifacts.Get(artifactID)
	if err != nil {
		handleError(w, s.logger, err, "failed to get artifact")
		return
	}

	rendered := renderMarkdown([]byte(a.Content))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(rendered)
}
