package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/amillerrr/lms-catalog/internal/events"
	"github.com/amillerrr/lms-catalog/internal/metrics"
	"github.com/amillerrr/lms-catalog/internal/storage"
	"github.com/amillerrr/lms-catalog/pkg/models"
)

// CourseInput holds the fields of a new course.
type CourseInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Thumbnail   string `json:"thumbnail"`
	IsPublished bool   `json:"isPublished"`
}

// CourseUpdate holds the course fields to change. Nil fields are left as is.
type CourseUpdate struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Category    *string `json:"category"`
	Thumbnail   *string `json:"thumbnail"`
	IsPublished *bool   `json:"isPublished"`
	Order       *int    `json:"order"`
}

// ListCourses returns the courses visible to the caller in display order.
func (s *Service) ListCourses(ctx context.Context, privileged bool) ([]models.Course, error) {
	courses, err := s.courses.ListCourses(ctx, !privileged)
	if err != nil {
		return nil, storeErr("list courses", err)
	}
	sortByOrder(courses)
	return courses, nil
}

// visibleCourse returns the course when the caller may see it.
func (s *Service) visibleCourse(ctx context.Context, id string, privileged bool) (*models.Course, error) {
	course, err := s.courses.GetCourse(ctx, id)
	if err != nil {
		return nil, storeErr("get course", err)
	}
	if !privileged && !course.IsPublished {
		return nil, models.ErrCourseNotFound
	}
	return course, nil
}

// GetCourse returns a course and its visible videos in display order.
func (s *Service) GetCourse(ctx context.Context, id string, privileged bool) (*models.CourseDetail, error) {
	course, err := s.visibleCourse(ctx, id, privileged)
	if err != nil {
		return nil, err
	}

	videos, err := s.videos.ListVideosByCourse(ctx, id, !privileged)
	if err != nil {
		return nil, storeErr("list videos", err)
	}
	sortByOrder(videos)
	if videos == nil {
		videos = []models.Video{}
	}

	return &models.CourseDetail{Course: *course, Videos: videos}, nil
}

// CreateCourse appends a new course after the existing ones.
func (s *Service) CreateCourse(ctx context.Context, in CourseInput) (course *models.Course, err error) {
	ctx, span := tracer.Start(ctx, "CreateCourse")
	defer span.End()
	defer func() { metrics.RecordMutation("course", "create", err) }()

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, models.NewValidationError("title", "course title is required")
	}

	siblings, err := s.courses.ListCourses(ctx, false)
	if err != nil {
		return nil, storeErr("list courses", err)
	}

	now := models.Timestamp(time.Now())
	course = &models.Course{
		ID:           uuid.NewString(),
		Title:        title,
		Description:  in.Description,
		Category:     in.Category,
		ThumbnailURL: in.Thumbnail,
		IsPublished:  in.IsPublished,
		Order:        nextOrder(siblings),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	span.SetAttributes(attribute.String("course.id", course.ID), attribute.Int("course.order", course.Order))

	if err := s.courses.CreateCourse(ctx, course); err != nil {
		return nil, storeErr("create course", err)
	}

	s.log.InfoContext(ctx, "Course created", "courseId", course.ID, "order", course.Order)
	return course, nil
}

// UpdateCourse applies a partial update to a course.
func (s *Service) UpdateCourse(ctx context.Context, id string, in CourseUpdate) (course *models.Course, err error) {
	ctx, span := tracer.Start(ctx, "UpdateCourse", trace.WithAttributes(attribute.String("course.id", id)))
	defer span.End()
	defer func() { metrics.RecordMutation("course", "update", err) }()

	course, err = s.courses.GetCourse(ctx, id)
	if err != nil {
		return nil, storeErr("get course", err)
	}

	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return nil, models.NewValidationError("title", "course title must not be empty")
		}
		course.Title = title
	}
	if in.Description != nil {
		course.Description = *in.Description
	}
	if in.Category != nil {
		course.Category = *in.Category
	}
	if in.Thumbnail != nil && *in.Thumbnail != course.ThumbnailURL {
		// an external URL replaces any stored thumbnail blob
		s.deleteBlob(ctx, "thumbnail", course.ThumbnailKey)
		course.ThumbnailURL = *in.Thumbnail
		course.ThumbnailKey = ""
	}
	if in.IsPublished != nil {
		course.IsPublished = *in.IsPublished
	}
	if in.Order != nil {
		if *in.Order < 0 {
			return nil, models.NewValidationError("order", "must not be negative")
		}
		course.Order = *in.Order
	}

	if err := s.courses.UpdateCourse(ctx, course); err != nil {
		return nil, storeErr("update course", err)
	}
	return course, nil
}

// SetCourseThumbnail stores an uploaded image as the course thumbnail and
// deletes the one it replaces.
func (s *Service) SetCourseThumbnail(ctx context.Context, id string, file Upload) (course *models.Course, err error) {
	ctx, span := tracer.Start(ctx, "SetCourseThumbnail", trace.WithAttributes(attribute.String("course.id", id)))
	defer span.End()
	defer func() { metrics.RecordMutation("course", "thumbnail", err) }()

	course, err = s.courses.GetCourse(ctx, id)
	if err != nil {
		return nil, storeErr("get course", err)
	}

	blob, err := s.blobs.Upload(ctx, file.Body, file.Size, file.Filename, file.ContentType, storage.FolderThumbnails)
	if err != nil {
		return nil, err
	}

	oldKey := course.ThumbnailKey
	course.ThumbnailURL = blob.URL
	course.ThumbnailKey = blob.Key
	if err := s.courses.UpdateCourse(ctx, course); err != nil {
		s.deleteBlob(ctx, "thumbnail", blob.Key)
		return nil, storeErr("update course", err)
	}

	s.deleteBlob(ctx, "thumbnail", oldKey)
	return course, nil
}

// ReorderCourses assigns each listed course its index as order.
func (s *Service) ReorderCourses(ctx context.Context, ids []string) (err error) {
	ctx, span := tracer.Start(ctx, "ReorderCourses", trace.WithAttributes(attribute.Int("ids", len(ids))))
	defer span.End()
	defer func() { metrics.RecordMutation("course", "reorder", err) }()

	if err := validateIDs("courseIds", ids); err != nil {
		return err
	}
	return s.applyOrder(ctx, "course", ids, s.courses.SetCourseOrder)
}

// DeleteCourse deletes a course, then every video in it, then their blobs.
// The steps are not atomic: when deleting the videos fails, the course is
// already gone and the remaining videos are orphaned. Orphans stay hidden
// because every video read checks its course first, and the CourseDeleted
// event lets Reconcile remove them later.
func (s *Service) DeleteCourse(ctx context.Context, id string) (err error) {
	ctx, span := tracer.Start(ctx, "DeleteCourse", trace.WithAttributes(attribute.String("course.id", id)))
	defer span.End()
	defer func() { metrics.RecordMutation("course", "delete", err) }()

	course, err := s.courses.GetCourse(ctx, id)
	if err != nil {
		return storeErr("get course", err)
	}

	if err := s.courses.DeleteCourse(ctx, id); err != nil {
		return storeErr("delete course", err)
	}

	// published even when the videos remain, so the reconciler can finish
	// the cascade
	defer s.publish(ctx, events.Event{Type: events.CourseDeleted, CourseID: id})

	s.deleteBlob(ctx, "thumbnail", course.ThumbnailKey)

	videos, err := s.videos.DeleteVideosByCourse(ctx, id)
	if err != nil {
		s.log.ErrorContext(ctx, "Course deleted but its videos were not", "courseId", id, "error", err)
		span.RecordError(err)
		return models.NewStoreError("delete course videos", err)
	}
	s.deleteVideoBlobs(ctx, videos)

	s.log.InfoContext(ctx, "Course deleted", "courseId", id, "videos", len(videos))
	return nil
}
