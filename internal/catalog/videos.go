package catalog

import (
	"context"
	"errors"
	"path/filepath"
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

// VideoInput holds the fields of a new video whose file is already stored.
type VideoInput struct {
	CourseID    string `json:"courseId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	VideoKey    string `json:"videoKey"`
	NotesKey    string `json:"notesKey"`
	NotesTitle  string `json:"notesTitle"`
	IsPublished *bool  `json:"isPublished"`
}

// VideoUpdate holds the video fields to change. Nil fields are left as is.
type VideoUpdate struct {
	Title         *string `json:"title"`
	Description   *string `json:"description"`
	Order         *int    `json:"order"`
	IsPublished   *bool   `json:"isPublished"`
	NotesTitle    *string `json:"notesTitle"`
	Thumbnail     *string `json:"thumbnail"`
	VideoDuration *string `json:"videoDuration"`
}

// ListVideos returns the videos of a course visible to the caller in
// display order.
func (s *Service) ListVideos(ctx context.Context, courseID string, privileged bool) ([]models.Video, error) {
	if _, err := s.visibleCourse(ctx, courseID, privileged); err != nil {
		return nil, err
	}

	videos, err := s.videos.ListVideosByCourse(ctx, courseID, !privileged)
	if err != nil {
		return nil, storeErr("list videos", err)
	}
	sortByOrder(videos)
	if videos == nil {
		videos = []models.Video{}
	}
	return videos, nil
}

// GetVideo returns a visible video with its previous and next visible
// siblings.
func (s *Service) GetVideo(ctx context.Context, id string, privileged bool) (*models.VideoDetail, error) {
	video, err := s.videos.GetVideo(ctx, id)
	if err != nil {
		return nil, storeErr("get video", err)
	}
	if !privileged && !video.IsPublished {
		return nil, models.ErrVideoNotFound
	}

	course, err := s.visibleCourse(ctx, video.CourseID, privileged)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrVideoNotFound
		}
		return nil, err
	}

	siblings, err := s.videos.ListVideosByCourse(ctx, video.CourseID, !privileged)
	if err != nil {
		return nil, storeErr("list videos", err)
	}

	detail := &models.VideoDetail{Video: *video, CourseTitle: course.Title}
	detail.PrevVideo, detail.NextVideo = neighbours(siblings, video)
	return detail, nil
}

// neighbours returns the siblings with the nearest lower and higher order.
func neighbours(siblings []models.Video, video *models.Video) (prev, next *models.VideoRef) {
	for i := range siblings {
		s := &siblings[i]
		if s.ID == video.ID {
			continue
		}
		if s.Order < video.Order && (prev == nil || s.Order > prev.Order) {
			prev = s.Ref()
		}
		if s.Order > video.Order && (next == nil || s.Order < next.Order) {
			next = s.Ref()
		}
	}
	return prev, next
}

// CreateVideo appends a video to its course and recounts the course.
func (s *Service) CreateVideo(ctx context.Context, in VideoInput) (video *models.Video, err error) {
	ctx, span := tracer.Start(ctx, "CreateVideo", trace.WithAttributes(attribute.String("course.id", in.CourseID)))
	defer span.End()
	defer func() { metrics.RecordMutation("video", "create", err) }()

	title := strings.TrimSpace(in.Title)
	switch {
	case in.CourseID == "":
		return nil, models.NewValidationError("courseId", "course ID is required")
	case title == "":
		return nil, models.NewValidationError("title", "video title is required")
	case in.VideoKey == "":
		return nil, models.NewValidationError("videoKey", "video key is required")
	}

	if _, err := s.courses.GetCourse(ctx, in.CourseID); err != nil {
		return nil, storeErr("get course", err)
	}

	siblings, err := s.videos.ListVideosByCourse(ctx, in.CourseID, false)
	if err != nil {
		return nil, storeErr("list videos", err)
	}

	now := models.Timestamp(time.Now())
	video = &models.Video{
		ID:          uuid.NewString(),
		CourseID:    in.CourseID,
		Title:       title,
		Description: in.Description,
		Order:       nextOrder(siblings),
		VideoKey:    in.VideoKey,
		VideoURL:    s.blobs.URL(in.VideoKey),
		IsPublished: true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.IsPublished != nil {
		video.IsPublished = *in.IsPublished
	}
	if in.NotesKey != "" {
		video.NotesKey = in.NotesKey
		video.NotesURL = s.blobs.URL(in.NotesKey)
		video.NotesTitle = in.NotesTitle
	}
	span.SetAttributes(attribute.String("video.id", video.ID), attribute.Int("video.order", video.Order))

	if err := s.videos.CreateVideo(ctx, video); err != nil {
		return nil, storeErr("create video", err)
	}
	s.publish(ctx, events.Event{
		Type:     events.VideoCreated,
		CourseID: video.CourseID,
		VideoID:  video.ID,
		VideoKey: video.VideoKey,
	})

	// the video is stored even when the recount fails
	if err := s.Recount(ctx, in.CourseID); err != nil {
		return video, err
	}

	s.log.InfoContext(ctx, "Video created", "videoId", video.ID, "courseId", video.CourseID, "order", video.Order)
	return video, nil
}

// UploadVideo stores a video file and appends it to its course. An empty
// title defaults to the file name without extension. Like CreateVideo, it
// returns the video along with the error when only the recount failed.
func (s *Service) UploadVideo(ctx context.Context, in VideoInput, file Upload) (*models.Video, error) {
	ctx, span := tracer.Start(ctx, "UploadVideo", trace.WithAttributes(
		attribute.String("course.id", in.CourseID),
		attribute.Int64("file.size", file.Size),
	))
	defer span.End()

	if in.CourseID == "" {
		return nil, models.NewValidationError("courseId", "course ID is required")
	}
	if _, err := s.courses.GetCourse(ctx, in.CourseID); err != nil {
		return nil, storeErr("get course", err)
	}
	if strings.TrimSpace(in.Title) == "" {
		in.Title = models.TitleFromFilename(file.Filename)
	}

	blob, err := s.blobs.Upload(ctx, file.Body, file.Size, file.Filename, file.ContentType, storage.FolderVideos)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	in.VideoKey = blob.Key
	video, err := s.CreateVideo(ctx, in)
	if video == nil {
		s.deleteBlob(ctx, "video", blob.Key)
		return nil, err
	}
	// a failed recount still returns the stored video with the error
	return video, err
}

// UpdateVideo applies a partial update to a video.
func (s *Service) UpdateVideo(ctx context.Context, id string, in VideoUpdate) (video *models.Video, err error) {
	ctx, span := tracer.Start(ctx, "UpdateVideo", trace.WithAttributes(attribute.String("video.id", id)))
	defer span.End()
	defer func() { metrics.RecordMutation("video", "update", err) }()

	video, err = s.videos.GetVideo(ctx, id)
	if err != nil {
		return nil, storeErr("get video", err)
	}

	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return nil, models.NewValidationError("title", "video title must not be empty")
		}
		video.Title = title
	}
	if in.Description != nil {
		video.Description = *in.Description
	}
	if in.Order != nil {
		if *in.Order < 0 {
			return nil, models.NewValidationError("order", "must not be negative")
		}
		video.Order = *in.Order
	}
	if in.IsPublished != nil {
		video.IsPublished = *in.IsPublished
	}
	if in.NotesTitle != nil {
		video.NotesTitle = *in.NotesTitle
	}
	if in.Thumbnail != nil {
		video.Thumbnail = *in.Thumbnail
	}
	if in.VideoDuration != nil {
		video.VideoDuration = *in.VideoDuration
	}

	if err := s.videos.UpdateVideo(ctx, video); err != nil {
		return nil, storeErr("update video", err)
	}
	return video, nil
}

// UploadNotes attaches a notes file to a video and deletes the one it
// replaces. An empty title defaults to the file name.
func (s *Service) UploadNotes(ctx context.Context, id, title string, file Upload) (video *models.Video, err error) {
	ctx, span := tracer.Start(ctx, "UploadNotes", trace.WithAttributes(attribute.String("video.id", id)))
	defer span.End()
	defer func() { metrics.RecordMutation("video", "notes_upload", err) }()

	video, err = s.videos.GetVideo(ctx, id)
	if err != nil {
		return nil, storeErr("get video", err)
	}

	blob, err := s.blobs.Upload(ctx, file.Body, file.Size, file.Filename, file.ContentType, storage.FolderNotes)
	if err != nil {
		return nil, err
	}

	oldKey := video.NotesKey
	video.NotesKey = blob.Key
	video.NotesURL = blob.URL
	video.NotesTitle = strings.TrimSpace(title)
	if video.NotesTitle == "" {
		video.NotesTitle = filepath.Base(file.Filename)
	}

	if err := s.videos.UpdateVideo(ctx, video); err != nil {
		s.deleteBlob(ctx, "notes", blob.Key)
		return nil, storeErr("update video", err)
	}

	s.deleteBlob(ctx, "notes", oldKey)
	return video, nil
}

// RemoveNotes detaches and deletes the notes file of a video.
func (s *Service) RemoveNotes(ctx context.Context, id string) (video *models.Video, err error) {
	ctx, span := tracer.Start(ctx, "RemoveNotes", trace.WithAttributes(attribute.String("video.id", id)))
	defer span.End()
	defer func() { metrics.RecordMutation("video", "notes_remove", err) }()

	video, err = s.videos.GetVideo(ctx, id)
	if err != nil {
		return nil, storeErr("get video", err)
	}

	oldKey := video.NotesKey
	video.NotesKey = ""
	video.NotesURL = ""
	video.NotesTitle = ""
	if err := s.videos.UpdateVideo(ctx, video); err != nil {
		return nil, storeErr("update video", err)
	}

	s.deleteBlob(ctx, "notes", oldKey)
	return video, nil
}

// ReorderVideos assigns each listed video its index as order. When courseID
// is set, every listed video must belong to that course.
func (s *Service) ReorderVideos(ctx context.Context, courseID string, ids []string) (err error) {
	ctx, span := tracer.Start(ctx, "ReorderVideos", trace.WithAttributes(
		attribute.String("course.id", courseID),
		attribute.Int("ids", len(ids)),
	))
	defer span.End()
	defer func() { metrics.RecordMutation("video", "reorder", err) }()

	if err := validateIDs("videoIds", ids); err != nil {
		return err
	}

	if courseID != "" {
		videos, err := s.videos.ListVideosByCourse(ctx, courseID, false)
		if err != nil {
			return storeErr("list videos", err)
		}
		members := make(map[string]bool, len(videos))
		for _, v := range videos {
			members[v.ID] = true
		}
		for _, id := range ids {
			if !members[id] {
				return models.NewValidationError("videoIds", "video "+id+" does not belong to course "+courseID)
			}
		}
	}

	return s.applyOrder(ctx, "video", ids, s.videos.SetVideoOrder)
}

// DeleteVideo deletes a video and its blobs, then recounts its course.
func (s *Service) DeleteVideo(ctx context.Context, id string) (err error) {
	ctx, span := tracer.Start(ctx, "DeleteVideo", trace.WithAttributes(attribute.String("video.id", id)))
	defer span.End()
	defer func() { metrics.RecordMutation("video", "delete", err) }()

	video, err := s.videos.GetVideo(ctx, id)
	if err != nil {
		return storeErr("get video", err)
	}

	if err := s.videos.DeleteVideo(ctx, id); err != nil {
		return storeErr("delete video", err)
	}

	s.deleteVideoBlobs(ctx, []models.Video{*video})
	s.publish(ctx, events.Event{
		Type:     events.VideoDeleted,
		CourseID: video.CourseID,
		VideoID:  video.ID,
		VideoKey: video.VideoKey,
	})

	// an orphaned video has no course left to recount
	if err := s.Recount(ctx, video.CourseID); err != nil && !errors.Is(err, models.ErrCourseNotFound) {
		return err
	}
	return nil
}

// deleteVideoBlobs removes the video and notes files of videos.
func (s *Service) deleteVideoBlobs(ctx context.Context, videos []models.Video) {
	for _, v := range videos {
		s.deleteBlob(ctx, "video", v.VideoKey)
		s.deleteBlob(ctx, "notes", v.NotesKey)
	}
}
