// Package catalog implements the course and video use cases and keeps the
// ordering and video count invariants of the catalog intact across them.
package catalog

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/amillerrr/lms-catalog/internal/events"
	"github.com/amillerrr/lms-catalog/internal/metrics"
	"github.com/amillerrr/lms-catalog/internal/storage"
	"github.com/amillerrr/lms-catalog/pkg/models"
)

var tracer = otel.Tracer("lms-catalog")

// CourseStore persists courses.
type CourseStore interface {
	CreateCourse(ctx context.Context, course *models.Course) error
	GetCourse(ctx context.Context, id string) (*models.Course, error)
	ListCourses(ctx context.Context, publishedOnly bool) ([]models.Course, error)
	UpdateCourse(ctx context.Context, course *models.Course) error
	SetCourseOrder(ctx context.Context, id string, order int) error
	SetVideoCount(ctx context.Context, id string, count int) error
	DeleteCourse(ctx context.Context, id string) error
}

// VideoStore persists videos.
type VideoStore interface {
	CreateVideo(ctx context.Context, video *models.Video) error
	GetVideo(ctx context.Context, id string) (*models.Video, error)
	ListVideosByCourse(ctx context.Context, courseID string, publishedOnly bool) ([]models.Video, error)
	CountVideos(ctx context.Context, courseID string) (int, error)
	UpdateVideo(ctx context.Context, video *models.Video) error
	SetVideoOrder(ctx context.Context, id string, order int) error
	DeleteVideo(ctx context.Context, id string) error
	DeleteVideosByCourse(ctx context.Context, courseID string) ([]models.Video, error)
}

// BlobStore stores uploaded files.
type BlobStore interface {
	Upload(ctx context.Context, body io.Reader, size int64, filename, contentType, folder string) (*storage.Blob, error)
	Delete(ctx context.Context, key string) error
	URL(key string) string
}

// Upload is a file received from a client.
type Upload struct {
	Body        io.Reader
	Size        int64
	Filename    string
	ContentType string
}

// Config holds Service dependencies.
type Config struct {
	Courses CourseStore
	Videos  VideoStore
	Blobs   BlobStore
	Events  events.Publisher
	Logger  *slog.Logger
}

// Service implements the catalog operations.
type Service struct {
	courses CourseStore
	videos  VideoStore
	blobs   BlobStore
	events  events.Publisher
	log     *slog.Logger
}

// NewService creates a Service. A nil Events publisher drops events.
func NewService(cfg Config) *Service {
	pub := cfg.Events
	if pub == nil {
		pub = events.NopPublisher{}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		courses: cfg.Courses,
		videos:  cfg.Videos,
		blobs:   cfg.Blobs,
		events:  pub,
		log:     log,
	}
}

// storeErr wraps a store failure for op. Not-found results pass through
// unchanged so callers can branch on them.
func storeErr(op string, err error) error {
	if err == nil || errors.Is(err, models.ErrNotFound) {
		return err
	}
	return models.NewStoreError(op, err)
}

// deleteBlob is the single delete entry point for every stored blob
// reference. Failures are logged and swallowed.
func (s *Service) deleteBlob(ctx context.Context, kind, key string) {
	if key == "" {
		return
	}
	if err := s.blobs.Delete(ctx, key); err != nil {
		metrics.BlobCleanupFailures.WithLabelValues(kind).Inc()
		s.log.WarnContext(ctx, "Failed to delete blob", "kind", kind, "key", key, "error", err)
	}
}

// publish sends event best-effort.
func (s *Service) publish(ctx context.Context, event events.Event) {
	if err := s.events.Publish(ctx, event); err != nil {
		s.log.WarnContext(ctx, "Failed to publish event", "type", event.Type, "error", err)
	}
}

// Recount stores the number of videos of a course, regardless of their
// publish state.
func (s *Service) Recount(ctx context.Context, courseID string) error {
	count, err := s.videos.CountVideos(ctx, courseID)
	if err != nil {
		return storeErr("count videos", err)
	}
	if err := s.courses.SetVideoCount(ctx, courseID, count); err != nil {
		return storeErr("set video count", err)
	}
	return nil
}
