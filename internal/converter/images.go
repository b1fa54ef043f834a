package converter

import (
    "errors"
    "fmt"
    "time"

    "github.com/pdfcpu/pdfcpu/pkg/api"
    "github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
    "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
    "github.com/rs/zerolog/log"
)

// ImageMerger composites uploaded images into a single PDF, one image per page,
// preserving input order on fixed-width letter pages.
var errMissingInput = errors.New("no input images")

type ImageMerger struct {
    imp *pdfcpu.Import
}

func NewImageMerger() *ImageMerger {
    imp, err := pdfcpu.ParseImportDetails("form:letter, pos:c, s:0.9", types.POINTS)
    if err != nil {
        // fall back to pdfcpu defaults (page sized to each image)
        log.Warn().Err(err).Msg("import details rejected, using pdfcpu defaults")
        imp = nil
    }
    return &ImageMerger{imp: imp}
}

// MergeToPDF writes one PDF at outputPath containing every input image on its
// own page, in the given order.
func (m *ImageMerger) MergeToPDF(inputPaths []string, outputPath string) Result {
    startTime := time.Now()
    if len(inputPaths) == 0 {
        return Result{Success: false, Error: errMissingInput, Duration: time.Since(startTime)}
    }
    if err := api.ImportImagesFile(inputPaths, outputPath, m.imp, nil); err != nil {
        return Result{
            Success:  false,
            Error:    fmt.Errorf("image import failed: %v", err),
            Duration: time.Since(startTime),
        }
    }
    log.Info().Int("images", len(inputPaths)).Str("output", outputPath).Dur("duration", time.Since(startTime)).Msg("images merged into PDF")
    return Result{Success: true, OutputPath: outputPath, Duration: time.Since(startTime)}
}
