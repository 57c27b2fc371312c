package catalog

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/amillerrr/lms-catalog/internal/events"
	"github.com/amillerrr/lms-catalog/pkg/models"
)

// Reconcile repairs what a catalog mutation may have left behind. It is
// idempotent, so events may be delivered more than once.
//
//   - VideoCreated and VideoDeleted recount the course.
//   - VideoDeleted also deletes the video file again.
//   - CourseDeleted deletes the videos still attached to a deleted course.
func (s *Service) Reconcile(ctx context.Context, event events.Event) error {
	ctx, span := tracer.Start(ctx, "Reconcile", trace.WithAttributes(
		attribute.String("event.type", event.Type),
		attribute.String("course.id", event.CourseID),
	))
	defer span.End()

	switch event.Type {
	case events.VideoCreated:
		return s.recountExisting(ctx, event.CourseID)
	case events.VideoDeleted:
		if event.VideoKey != "" {
			if err := s.blobs.Delete(ctx, event.VideoKey); err != nil {
				return fmt.Errorf("delete video blob: %w", err)
			}
		}
		return s.recountExisting(ctx, event.CourseID)
	case events.CourseDeleted:
		return s.removeOrphans(ctx, event.CourseID)
	default:
		return fmt.Errorf("%w: unknown type %q", events.ErrMalformedEvent, event.Type)
	}
}

// recountExisting recounts a course that may have been deleted since.
func (s *Service) recountExisting(ctx context.Context, courseID string) error {
	if err := s.Recount(ctx, courseID); err != nil && !errors.Is(err, models.ErrCourseNotFound) {
		return err
	}
	return nil
}

// removeOrphans deletes the videos and files of a course that no longer exists.
func (s *Service) removeOrphans(ctx context.Context, courseID string) error {
	_, err := s.courses.GetCourse(ctx, courseID)
	switch {
	case err == nil:
		s.log.WarnContext(ctx, "Course still exists, skipping orphan removal", "courseId", courseID)
		return nil
	case !errors.Is(err, models.ErrCourseNotFound):
		return storeErr("get course", err)
	}

	videos, err := s.videos.DeleteVideosByCourse(ctx, courseID)
	if err != nil {
		return models.NewStoreError("delete course videos", err)
	}
	s.deleteVideoBlobs(ctx, videos)

	if len(videos) > 0 {
		s.log.InfoContext(ctx, "Removed orphaned videos", "courseId", courseID, "videos", len(videos))
	}
	return nil
}
