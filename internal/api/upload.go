package api

import (
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/amillerrr/lms-catalog/internal/catalog"
	"github.com/amillerrr/lms-catalog/pkg/models"
)

// Multipart limits
const (
	multipartMemory   = 32 << 20 // 32 MB held in memory, the rest spills to disk
	multipartOverhead = 1 << 20  // form fields and part headers
)

// fileRule describes an accepted upload field.
type fileRule struct {
	field    string
	label    string
	maxBytes int64
	accept   func(contentType string) bool
}

func videoRule(maxBytes int64) fileRule {
	return fileRule{field: "video", label: "a video", maxBytes: maxBytes, accept: hasPrefix("video/")}
}

func thumbnailRule(maxBytes int64) fileRule {
	return fileRule{field: "thumbnail", label: "an image", maxBytes: maxBytes, accept: hasPrefix("image/")}
}

func notesRule(maxBytes int64) fileRule {
	return fileRule{field: "notes", label: "a PDF", maxBytes: maxBytes, accept: func(ct string) bool {
		return ct == "application/pdf"
	}}
}

func hasPrefix(prefix string) func(string) bool {
	return func(ct string) bool { return strings.HasPrefix(ct, prefix) }
}

// readUpload parses the multipart form of r and returns the file in rule.field.
// The caller must invoke the returned cleanup once the upload is consumed.
func (h *Handlers) readUpload(w http.ResponseWriter, r *http.Request, rule fileRule) (catalog.Upload, func(), error) {
	noop := func() {}

	r.Body = http.MaxBytesReader(w, r.Body, rule.maxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return catalog.Upload{}, noop, fmt.Errorf("%w: limit is %d bytes", models.ErrFileTooLarge, rule.maxBytes)
		}
		return catalog.Upload{}, noop, models.NewValidationError("", "Invalid multipart form")
	}
	cleanup := func() { _ = r.MultipartForm.RemoveAll() }

	file, header, err := r.FormFile(rule.field)
	if err != nil {
		cleanup()
		return catalog.Upload{}, noop, models.NewValidationError(rule.field, fmt.Sprintf("Please upload %s file.", rule.label))
	}

	upload, err := describeUpload(file, header, rule)
	if err != nil {
		_ = file.Close()
		cleanup()
		return catalog.Upload{}, noop, err
	}

	return upload, func() {
		_ = file.Close()
		cleanup()
	}, nil
}

// describeUpload validates header against rule.
func describeUpload(file multipart.File, header *multipart.FileHeader, rule fileRule) (catalog.Upload, error) {
	if err := validateFilename(header.Filename); err != nil {
		return catalog.Upload{}, err
	}
	if header.Size > rule.maxBytes {
		return catalog.Upload{}, fmt.Errorf("%w: limit is %d bytes", models.ErrFileTooLarge, rule.maxBytes)
	}

	contentType := detectContentType(header)
	if !rule.accept(contentType) {
		return catalog.Upload{}, fmt.Errorf("%w: %q", models.ErrInvalidContentType, contentType)
	}

	return catalog.Upload{
		Body:        file,
		Size:        header.Size,
		Filename:    filepath.Base(header.Filename),
		ContentType: contentType,
	}, nil
}

// detectContentType prefers the part header and falls back to the extension.
func detectContentType(header *multipart.FileHeader) string {
	contentType := header.Header.Get("Content-Type")
	if contentType != "" && contentType != "application/octet-stream" {
		if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
			return mediaType
		}
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(header.Filename))); byExt != "" {
		mediaType, _, _ := mime.ParseMediaType(byExt)
		return mediaType
	}
	return contentType
}

func validateFilename(filename string) error {
	if filename == "" {
		return models.NewValidationError("filename", "filename is required")
	}
	if len(filename) > MaxFilenameLength {
		return models.ErrFilenameTooLong
	}
	return nil
}
