package converter

import (
	"fmt"

	fitz "github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog/log"
)

// VerifyPDF checks that a freshly converted output is a readable PDF with at
// least one page. Both readers are consulted: pdfcpu validates structure while
// MuPDF confirms the document actually opens for rendering.
func VerifyPDF(path string) error {
	pages, err := api.PageCountFile(path)
	if err != nil {
		return fmt.Errorf("pdf page count failed: %w", err)
	}
	if pages < 1 {
		return fmt.Errorf("pdf has no pages")
	}

	doc, err := fitz.New(path)
	if err != nil {
		return fmt.Errorf("pdf failed to open: %w", err)
	}
	defer doc.Close()
	if doc.NumPage() < 1 {
		return fmt.Errorf("pdf opens but reports no pages")
	}

	log.Debug().Str("path", path).Int("pages", pages).Msg("verified converted PDF")
	return nil
}
