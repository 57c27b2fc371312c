package uploadqueue

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/amillerrr/lms-catalog/pkg/models"
)

// Status is the lifecycle state of a queued upload.
type Status string

const (
	StatusPending    Status = "pending"
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Terminal reports whether no further transition follows s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Active reports whether s holds the single transfer slot.
func (s Status) Active() bool {
	return s == StatusUploading || s == StatusProcessing
}

// File is the content to upload. Open is called once, when the transfer starts.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// FileFromPath describes a file on disk. The content type is guessed from
// the extension.
func FileFromPath(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, err
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("%s is a directory", path)
	}

	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return File{
		Name:        filepath.Base(path),
		ContentType: contentType,
		Size:        info.Size(),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

// Item is a snapshot of a queued upload.
type Item struct {
	ID          string        `json:"id"`
	CourseID    string        `json:"courseId"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	FileName    string        `json:"fileName"`
	Size        int64         `json:"size"`
	Status      Status        `json:"status"`
	Progress    int           `json:"progress"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	Video       *models.Video `json:"video,omitempty"`
}

// Stats aggregates the queue by status.
type Stats struct {
	Pending    int `json:"pending"`
	Uploading  int `json:"uploading"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Error      int `json:"error"`
	Active     int `json:"active"`
	Total      int `json:"total"`
}

// UploadRequest is a single transfer handed to the Uploader.
type UploadRequest struct {
	CourseID    string
	Title       string
	Description string
	File        File
}

// Uploader transfers a video and returns the stored record. progress receives
// the percentage of bytes sent, reaching 100 once the body is fully sent.
type Uploader interface {
	UploadVideo(ctx context.Context, req UploadRequest, progress func(percent int)) (*models.Video, error)
}
