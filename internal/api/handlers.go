package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/amillerrr/lms-catalog/internal/auth"
	"github.com/amillerrr/lms-catalog/internal/catalog"
	"github.com/amillerrr/lms-catalog/internal/config"
	"github.com/amillerrr/lms-catalog/pkg/models"
)

var tracer = otel.Tracer("lms-api")

// Configuration constants
const (
	MaxFilenameLength  = 255
	MaxRequestBodySize = 1 << 20 // 1 MB
)

// Catalog is the course and video use case layer behind the handlers.
type Catalog interface {
	ListCourses(ctx context.Context, privileged bool) ([]models.Course, error)
	GetCourse(ctx context.Context, id string, privileged bool) (*models.CourseDetail, error)
	CreateCourse(ctx context.Context, in catalog.CourseInput) (*models.Course, error)
	UpdateCourse(ctx context.Context, id string, in catalog.CourseUpdate) (*models.Course, error)
	SetCourseThumbnail(ctx context.Context, id string, file catalog.Upload) (*models.Course, error)
	ReorderCourses(ctx context.Context, ids []string) error
	DeleteCourse(ctx context.Context, id string) error

	ListVideos(ctx context.Context, courseID string, privileged bool) ([]models.Video, error)
	GetVideo(ctx context.Context, id string, privileged bool) (*models.VideoDetail, error)
	CreateVideo(ctx context.Context, in catalog.VideoInput) (*models.Video, error)
	UploadVideo(ctx context.Context, in catalog.VideoInput, file catalog.Upload) (*models.Video, error)
	UpdateVideo(ctx context.Context, id string, in catalog.VideoUpdate) (*models.Video, error)
	UploadNotes(ctx context.Context, id, title string, file catalog.Upload) (*models.Video, error)
	RemoveNotes(ctx context.Context, id string) (*models.Video, error)
	ReorderVideos(ctx context.Context, courseID string, ids []string) error
	DeleteVideo(ctx context.Context, id string) error
}

// AdminStore reads and updates admin accounts.
type AdminStore interface {
	GetAdmin(ctx context.Context, username string) (*models.Admin, error)
	UpdatePassword(ctx context.Context, username, passwordHash string) error
	RecordLogin(ctx context.Context, username string, at time.Time) error
}

// Handlers contains all HTTP handlers for the API.
type Handlers struct {
	cfg         *config.Config
	log         *slog.Logger
	catalog     Catalog
	admins      AdminStore
	jwtService  *auth.JWTService
	rateLimiter *auth.RateLimiter
}

// HandlersConfig holds dependencies for handlers.
type HandlersConfig struct {
	Config      *config.Config
	Logger      *slog.Logger
	Catalog     Catalog
	Admins      AdminStore
	JWTService  *auth.JWTService
	RateLimiter *auth.RateLimiter
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(cfg *HandlersConfig) *Handlers {
	return &Handlers{
		cfg:         cfg.Config,
		log:         cfg.Logger,
		catalog:     cfg.Catalog,
		admins:      cfg.Admins,
		jwtService:  cfg.JWTService,
		rateLimiter: cfg.RateLimiter,
	}
}

// response is the envelope of every API response.
type response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Count   *int   `json:"count,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// writeJSON writes a JSON response.
func (h *Handlers) writeJSON(ctx context.Context, w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.ErrorContext(ctx, "Failed to encode JSON response", "error", err)
	}
}

// writeData writes a successful envelope carrying data.
func (h *Handlers) writeData(ctx context.Context, w http.ResponseWriter, status int, message string, data any) {
	h.writeJSON(ctx, w, status, response{Success: true, Message: message, Data: data})
}

// writeList writes a successful envelope carrying items and their count.
func writeList[T any](h *Handlers, ctx context.Context, w http.ResponseWriter, items []T) {
	if items == nil {
		items = []T{}
	}
	count := len(items)
	h.writeJSON(ctx, w, http.StatusOK, response{Success: true, Count: &count, Data: items})
}

// writeError writes an error response.
func (h *Handlers) writeError(ctx context.Context, w http.ResponseWriter, status int, message string) {
	h.writeJSON(ctx, w, status, response{Success: false, Message: message})
}

// writeServiceError maps err onto a status code. Unclassified failures are
// logged and reported with fallback.
func (h *Handlers) writeServiceError(ctx context.Context, w http.ResponseWriter, err error, fallback string) {
	status, message := classify(err)
	if status == http.StatusInternalServerError {
		h.log.ErrorContext(ctx, fallback, "error", err)
		message = fallback
	}
	h.writeError(ctx, w, status, message)
}

// classify returns the status code and client message for err.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrCourseNotFound):
		return http.StatusNotFound, "Course not found."
	case errors.Is(err, models.ErrVideoNotFound):
		return http.StatusNotFound, "Video not found."
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "Not found."
	case errors.Is(err, models.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, err.Error()
	case errors.Is(err, models.ErrValidation),
		errors.Is(err, models.ErrInvalidContentType),
		errors.Is(err, models.ErrInvalidFileType),
		errors.Is(err, models.ErrFilenameTooLong):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, models.ErrInvalidCredentials):
		return http.StatusUnauthorized, "Invalid credentials."
	default:
		return http.StatusInternalServerError, ""
	}
}

// limitRequestBody wraps the request body with a size limit.
func (h *Handlers) limitRequestBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
}

// decodeJSON reads a size-limited JSON body into v. It writes the error
// response itself and reports whether decoding succeeded.
func (h *Handlers) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	h.limitRequestBody(w, r)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			h.writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "Request body too large")
			return false
		}
		h.writeError(r.Context(), w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// privileged reports whether the request carries valid admin claims.
func privileged(r *http.Request) bool {
	_, ok := auth.GetClaimsFromContext(r.Context())
	return ok
}

// LoginRequest is the request payload for admin login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the data returned by a successful login.
type LoginResponse struct {
	Token string        `json:"token"`
	Admin *models.Admin `json:"admin"`
}

// LoginHandler authenticates an admin and returns a JWT token.
func (h *Handlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "login-handler")
	defer span.End()

	clientIP := auth.GetClientIP(r)
	if h.rateLimiter != nil && h.rateLimiter.IsLimited(clientIP) {
		h.writeError(ctx, w, http.StatusTooManyRequests, "Too many failed attempts, try again later")
		return
	}

	var req LoginRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	username := strings.ToLower(strings.TrimSpace(req.Username))
	if username == "" || req.Password == "" {
		h.writeError(ctx, w, http.StatusBadRequest, "Please provide username and password.")
		return
	}

	admin, err := h.admins.GetAdmin(ctx, username)
	if err != nil && !errors.Is(err, models.ErrAdminNotFound) {
		span.RecordError(err)
		h.writeServiceError(ctx, w, err, "Login failed. Please try again.")
		return
	}
	if admin == nil || !auth.CheckPassword(admin.PasswordHash, req.Password) {
		if h.rateLimiter != nil {
			h.rateLimiter.RecordFailure(clientIP)
		}
		h.log.WarnContext(ctx, "Failed login attempt", "username", username, "ip", clientIP)
		h.writeError(ctx, w, http.StatusUnauthorized, "Invalid credentials.")
		return
	}

	token, err := h.jwtService.GenerateToken(username)
	if err != nil {
		span.RecordError(err)
		h.writeServiceError(ctx, w, err, "Login failed. Please try again.")
		return
	}

	now := time.Now().UTC()
	if err := h.admins.RecordLogin(ctx, username, now); err != nil {
		h.log.WarnContext(ctx, "Failed to record login", "username", username, "error", err)
	} else {
		admin.LastLogin = models.Timestamp(now)
	}
	if h.rateLimiter != nil {
		h.rateLimiter.Reset(clientIP)
	}

	h.log.InfoContext(ctx, "Successful login", "username", username, "ip", clientIP)
	h.writeData(ctx, w, http.StatusOK, "Login successful.", LoginResponse{Token: token, Admin: admin})
}

// currentAdmin loads the admin named by the request claims.
func (h *Handlers) currentAdmin(r *http.Request) (*models.Admin, error) {
	claims, ok := auth.GetClaimsFromContext(r.Context())
	if !ok {
		return nil, models.ErrInvalidCredentials
	}
	admin, err := h.admins.GetAdmin(r.Context(), claims.Username)
	if errors.Is(err, models.ErrAdminNotFound) {
		return nil, models.ErrInvalidCredentials
	}
	return admin, err
}

// ProfileHandler returns the authenticated admin.
func (h *Handlers) ProfileHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	admin, err := h.currentAdmin(r)
	if err != nil {
		h.writeServiceError(ctx, w, err, "Failed to get profile.")
		return
	}
	h.writeData(ctx, w, http.StatusOK, "", admin)
}

// VerifyHandler confirms the bearer token is valid.
func (h *Handlers) VerifyHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	admin, err := h.currentAdmin(r)
	if err != nil {
		h.writeServiceError(ctx, w, err, "Token verification failed.")
		return
	}
	h.writeData(ctx, w, http.StatusOK, "Token is valid.", admin)
}

// ChangePasswordRequest is the request payload for a password change.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// ChangePasswordHandler replaces the authenticated admin's password.
func (h *Handlers) ChangePasswordHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ChangePasswordRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		h.writeError(ctx, w, http.StatusBadRequest, "Please provide current and new password.")
		return
	}
	if len(req.NewPassword) < auth.MinPasswordLength {
		h.writeError(ctx, w, http.StatusBadRequest, "New password must be at least 6 characters.")
		return
	}

	admin, err := h.currentAdmin(r)
	if err != nil {
		h.writeServiceError(ctx, w, err, "Failed to change password.")
		return
	}
	if !auth.CheckPassword(admin.PasswordHash, req.CurrentPassword) {
		h.writeError(ctx, w, http.StatusBadRequest, "Current password is incorrect.")
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		h.writeServiceError(ctx, w, err, "Failed to change password.")
		return
	}
	if err := h.admins.UpdatePassword(ctx, admin.Username, hash); err != nil {
		h.writeServiceError(ctx, w, err, "Failed to change password.")
		return
	}

	h.log.InfoContext(ctx, "Password changed", "username", admin.Username)
	h.writeData(ctx, w, http.StatusOK, "Password changed successfully.", nil)
}
