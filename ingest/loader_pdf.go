package ingest

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/qacompanion/qac/artifact"
	"github.com/qacompanion/qac/errors"
	"github.com/qacompanion/qac/logger"
	"github.com/qacompanion/qac/sym"
)

// PDFLoader extracts text from PDF documents. Pages without extractable
// text (scans, diagrams) are skipped with a warning; there is no OCR pass.
type PDFLoader struct{}

func (l *PDFLoader) Name() string { return "pdf" }

func (l *PDFLoader) CanLoad(path string) bool {
	return strings.ToLower(filepath.Ext(path)) == ".pdf"
}

func (l *PDFLoader) Load(path string, opts Options) ([]*artifact.Draft, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open PDF %s", path)
	}
	defer f.Close()

	var (
		sb      strings.Builder
		pages   int
		skipped int
	)
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		text, err := extractPageText(reader, pageNum)
		if err != nil {
			logger.Warnw(sym.Doc+" Skipping unreadable PDF page",
				"path", path,
				"page", pageNum,
				"error", err,
			)
			skipped++
			continue
		}
		if strings.TrimSpace(text) == "" {
			// Image-only page; nothing to index without OCR.
			skipped++
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(text)
		pages++
	}

	if pages == 0 {
		return nil, errors.NewInvalidInputError("%s has no extractable text (%d pages skipped)", path, skipped)
	}
	if skipped > 0 {
		logger.Warnw(sym.Doc+" PDF pages without text skipped",
			"path", path,
			"skipped", skipped,
			"extracted", pages,
		)
	}

	kind := opts.Kind
	if kind == "" {
		kind = artifact.KindDesignDoc
	}
	sourceID := relSourceID(opts.Root, path)

	return []*artifact.Draft{{
		Kind:     kind,
		SourceID: sourceID,
		Title:    strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Content:  sb.String(),
		Repo:     opts.Repo,
		Metadata: map[string]interface{}{
			"path":          sourceID,
			"format":        "pdf",
			"pages":         pages,
			"skipped_pages": skipped,
		},
	}}, nil
}

// extractPageText pulls plain text from one page. The underlying parser
// panics on some malformed content streams, so the recover converts those
// into per-page errors instead of killing the run.
func extractPageText(reader *pdf.Reader, pageNum int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("page parse panic: %v", r)
		}
	}()

	page := reader.Page(pageNum)
	if page.V.IsNull() {
		return "", fmt.Errorf("page %d is null", pageNum)
	}
	return page.GetPlainText(nil)
}
