package api

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/amillerrr/lms-catalog/internal/catalog"
	"github.com/amillerrr/lms-catalog/pkg/models"
)

// ListVideosHandler returns the videos of a course visible to the caller.
func (h *Handlers) ListVideosHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	videos, err := h.catalog.ListVideos(ctx, r.PathValue("courseId"), privileged(r))
	if err != nil {
		h.writeServiceError(ctx, w, err, "Failed to fetch videos.")
		return
	}
	writeList(h, ctx, w, videos)
}

// GetVideoHandler returns a video with its previous and next siblings.
func (h *Handlers) GetVideoHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	detail, err := h.catalog.GetVideo(ctx, r.PathValue("id"), privileged(r))
	if err != nil {
		h.writeServiceError(ctx, w, err, "Failed to fetch video.")
		return
	}
	h.writeData(ctx, w, http.StatusOK, "", detail)
}

// CreateVideoHandler creates a video from an already stored file.
func (h *Handlers) CreateVideoHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var in catalog.VideoInput
	if !h.decodeJSON(w, r, &in) {
		return
	}

	video, err := h.catalog.CreateVideo(ctx, in)
	switch {
	case video != nil && err != nil:
		h.writeStoredWithWarning(ctx, w, video, err, "Video created")
		return
	case err != nil:
		h.writeServiceError(ctx, w, err, "Failed to create video.")
		return
	}
	h.writeData(ctx, w, http.StatusCreated, "Video created successfully.", video)
}

// UploadVideoHandler stores an uploaded video file and appends it to its course.
func (h *Handlers) UploadVideoHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "upload-video-handler")
	defer span.End()

	upload, cleanup, err := h.readUpload(w, r, videoRule(h.cfg.Uploads.MaxVideoBytes))
	if err != nil {
		span.RecordError(err)
		h.writeServiceError(ctx, w, err, "Failed to upload video.")
		return
	}
	defer cleanup()

	in := catalog.VideoInput{
		CourseID:    r.FormValue("courseId"),
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
	}
	span.SetAttributes(
		attribute.String("course.id", in.CourseID),
		attribute.String("video.filename", upload.Filename),
		attribute.Int64("video.size_bytes", upload.Size),
	)

	video, err := h.catalog.UploadVideo(ctx, in, upload)
	switch {
	case video != nil && err != nil:
		span.RecordError(err)
		h.writeStoredWithWarning(ctx, w, video, err, "Video uploaded")
		return
	case err != nil:
		span.RecordError(err)
		h.writeServiceError(ctx, w, err, "Failed to upload video.")
		return
	}

	h.log.InfoContext(ctx, "Video uploaded",
		"videoId", video.ID,
		"courseId", video.CourseID,
		"filename", upload.Filename,
		"size", upload.Size,
	)
	h.writeData(ctx, w, http.StatusCreated, "Video uploaded successfully.", video)
}

// writeStoredWithWarning reports a video that was stored although a later
// step failed. Retrying would duplicate it, so the request still succeeds.
func (h *Handlers) writeStoredWithWarning(ctx context.Context, w http.ResponseWriter, video *models.Video, err error, action string) {
	h.log.WarnContext(ctx, action+" but the course video count is stale",
		"videoId", video.ID,
		"courseId", video.CourseID,
		"error", err,
	)
	h.writeData(ctx, w, http.StatusCreated, action+", but the course video count could not be updated.", video)
}

// UpdateVideoHandler applies a partial update to a video.
func (h *Handlers) UpdateVideoHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var in catalog.VideoUpdate
	if !h.decodeJSON(w, r, &in) {
		return
	}

	video, err := h.catalog.UpdateVideo(ctx, r.PathValue("id"), in)
	if err != nil {
		h.writeServiceError(ctx, w, err, "Failed to update video.")
		return
	}
	h.writeData(ctx, w, http.StatusOK, "Video updated successfully.", video)
}

// DeleteVideoHandler deletes a video and its files.
func (h *Handlers) DeleteVideoHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	if err := h.catalog.DeleteVideo(ctx, id); err != nil {
		h.writeServiceError(ctx, w, err, "Failed to delete video.")
		return
	}

	h.log.InfoContext(ctx, "Video deleted", "videoId", id)
	h.writeData(ctx, w, http.StatusOK, "Video deleted successfully.", nil)
}

// UploadNotesHandler attaches an uploaded PDF to a video.
func (h *Handlers) UploadNotesHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx, span := tracer.Start(r.Context(), "upload-notes-handler",
		trace.WithAttributes(attribute.String("video.id", id)))
	defer span.End()

	upload, cleanup, err := h.readUpload(w, r, notesRule(h.cfg.Uploads.MaxNotesBytes))
	if err != nil {
		span.RecordError(err)
		h.writeServiceError(ctx, w, err, "Failed to upload notes.")
		return
	}
	defer cleanup()

	video, err := h.catalog.UploadNotes(ctx, id, r.FormValue("notesTitle"), upload)
	if err != nil {
		span.RecordError(err)
		h.writeServiceError(ctx, w, err, "Failed to upload notes.")
		return
	}
	h.writeData(ctx, w, http.StatusOK, "Notes uploaded successfully.", video)
}

// RemoveNotesHandler detaches and deletes the notes of a video.
func (h *Handlers) RemoveNotesHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	video, err := h.catalog.RemoveNotes(ctx, r.PathValue("id"))
	if err != nil {
		h.writeServiceError(ctx, w, err, "Failed to remove notes.")
		return
	}
	h.writeData(ctx, w, http.StatusOK, "Notes removed successfully.", video)
}

// ReorderVideosRequest is the request payload for video reordering.
type ReorderVideosRequest struct {
	VideoIDs []string `json:"videoIds"`
	CourseID string   `json:"courseId"`
}

// ReorderVideosHandler assigns display order by list position.
func (h *Handlers) ReorderVideosHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ReorderVideosRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	if err := h.catalog.ReorderVideos(ctx, req.CourseID, req.VideoIDs); err != nil {
		h.writeServiceError(ctx, w, err, "Failed to reorder videos.")
		return
	}
	h.writeData(ctx, w, http.StatusOK, "Videos reordered successfully.", nil)
}
