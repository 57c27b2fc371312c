package api

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/amillerrr/lms-catalog/internal/catalog"
)

// ListCoursesHandler returns the courses visible to the caller.
func (h *Handlers) ListCoursesHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	courses, err := h.catalog.ListCourses(ctx, privileged(r))
	if err != nil {
		h.writeServiceError(ctx, w, err, "Failed to fetch courses.")
		return
	}
	writeList(h, ctx, w, courses)
}

// GetCourseHandler returns a course with its videos.
func (h *Handlers) GetCourseHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	detail, err := h.catalog.GetCourse(ctx, r.PathValue("id"), privileged(r))
	if err != nil {
		h.writeServiceError(ctx, w, err, "Failed to fetch course.")
		return
	}
	h.writeData(ctx, w, http.StatusOK, "", detail)
}

// CreateCourseHandler creates a course at the end of the display order.
func (h *Handlers) CreateCourseHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var in catalog.CourseInput
	if !h.decodeJSON(w, r, &in) {
		return
	}

	course, err := h.catalog.CreateCourse(ctx, in)
	if err != nil {
		h.writeServiceError(ctx, w, err, "Failed to create course.")
		return
	}

	h.log.InfoContext(ctx, "Course created", "courseId", course.ID)
	h.writeData(ctx, w, http.StatusCreated, "Course created successfully.", course)
}

// UpdateCourseHandler applies a partial update to a course.
func (h *Handlers) UpdateCourseHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var in catalog.CourseUpdate
	if !h.decodeJSON(w, r, &in) {
		return
	}

	course, err := h.catalog.UpdateCourse(ctx, r.PathValue("id"), in)
	if err != nil {
		h.writeServiceError(ctx, w, err, "Failed to update course.")
		return
	}
	h.writeData(ctx, w, http.StatusOK, "Course updated successfully.", course)
}

// DeleteCourseHandler deletes a course and all its videos.
func (h *Handlers) DeleteCourseHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	if err := h.catalog.DeleteCourse(ctx, id); err != nil {
		h.writeServiceError(ctx, w, err, "Failed to delete course.")
		return
	}

	h.log.InfoContext(ctx, "Course deleted", "courseId", id)
	h.writeData(ctx, w, http.StatusOK, "Course and all its videos deleted successfully.", nil)
}

// ReorderCoursesRequest is the request payload for course reordering.
type ReorderCoursesRequest struct {
	CourseIDs []string `json:"courseIds"`
}

// ReorderCoursesHandler assigns display order by list position.
func (h *Handlers) ReorderCoursesHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ReorderCoursesRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	if err := h.catalog.ReorderCourses(ctx, req.CourseIDs); err != nil {
		h.writeServiceError(ctx, w, err, "Failed to reorder courses.")
		return
	}
	h.writeData(ctx, w, http.StatusOK, "Courses reordered successfully.", nil)
}

// UploadThumbnailHandler replaces a course thumbnail with an uploaded image.
func (h *Handlers) UploadThumbnailHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx, span := tracer.Start(r.Context(), "upload-thumbnail-handler",
		trace.WithAttributes(attribute.String("course.id", id)))
	defer span.End()

	upload, cleanup, err := h.readUpload(w, r, thumbnailRule(h.cfg.Uploads.MaxThumbnailBytes))
	if err != nil {
		span.RecordError(err)
		h.writeServiceError(ctx, w, err, "Failed to upload thumbnail.")
		return
	}
	defer cleanup()

	course, err := h.catalog.SetCourseThumbnail(ctx, id, upload)
	if err != nil {
		span.RecordError(err)
		h.writeServiceError(ctx, w, err, "Failed to upload thumbnail.")
		return
	}
	h.writeData(ctx, w, http.StatusOK, "Thumbnail uploaded successfully.", course)
}
