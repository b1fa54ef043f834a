package converter

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

const mimeDocx = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// AllowedDocumentExt reports whether name carries a convertible document extension.
func AllowedDocumentExt(name string) bool {
	return strings.ToLower(filepath.Ext(name)) == ".docx"
}

// AllowedImageExt reports whether name carries an accepted image extension.
func AllowedImageExt(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}

// CheckDocumentFile verifies by magic bytes that the stored upload really is a
// DOCX. Modern Office formats are ZIP containers, so a generic ZIP detection
// combined with the .docx extension is accepted, mirroring how the extension
// was already screened.
func CheckDocumentFile(path string) error {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return fmt.Errorf("detect file type: %w", err)
	}
	mime := mtype.String()
	log.Debug().Str("mime", mime).Str("file", path).Msg("detected upload type")

	if mime == mimeDocx {
		return nil
	}
	if (mime == "application/zip" || strings.Contains(mime, "application/x-zip")) && AllowedDocumentExt(path) {
		return nil
	}
	return fmt.Errorf("not a DOCX document: %s", mime)
}

// CheckImageFile verifies by magic bytes that the stored upload is a JPEG or PNG.
func CheckImageFile(path string) error {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return fmt.Errorf("detect file type: %w", err)
	}
	mime := mtype.String()
	log.Debug().Str("mime", mime).Str("file", path).Msg("detected upload type")

	switch mime {
	case "image/jpeg", "image/png":
		return nil
	}
	return fmt.Errorf("not a supported image: %s", mime)
}
