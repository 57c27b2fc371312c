package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amillerrr/lms-catalog/internal/uploadqueue"
	"github.com/amillerrr/lms-catalog/pkg/models"
)

func writeEnvelope(w http.ResponseWriter, status int, success bool, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": success,
		"message": message,
		"data":    data,
	})
}

func videoFile(body string) uploadqueue.File {
	return uploadqueue.File{
		Name:        "lesson 1.mp4",
		ContentType: "video/mp4",
		Size:        int64(len(body)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(body)), nil
		},
	}
}

func TestLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if r.URL.Path != "/api/auth/login" || body["username"] != "admin" || body["password"] != "secret1" {
			writeEnvelope(w, http.StatusUnauthorized, false, "Invalid credentials.", nil)
			return
		}
		writeEnvelope(w, http.StatusOK, true, "Login successful.", map[string]any{"token": "tok-123"})
	}))
	defer srv.Close()

	c := New(srv.URL + "/")

	err := c.Login(context.Background(), "admin", "wrong")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
	assert.Empty(t, c.Token())

	require.NoError(t, c.Login(context.Background(), "admin", "secret1"))
	assert.Equal(t, "tok-123", c.Token())
}

func TestUploadVideo_StreamsMultipartWithProgress(t *testing.T) {
	content := strings.Repeat("0123456789", 50_000)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/videos/upload", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "C1", r.FormValue("courseId"))
		assert.Equal(t, "Lesson 1", r.FormValue("title"))

		file, header, err := r.FormFile("video")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "lesson 1.mp4", header.Filename)
		assert.Equal(t, "video/mp4", header.Header.Get("Content-Type"))
		data, _ := io.ReadAll(file)
		assert.Equal(t, len(content), len(data))

		writeEnvelope(w, http.StatusCreated, true, "Video uploaded successfully.", models.Video{
			ID: "v1", CourseID: "C1", Title: "Lesson 1",
		})
	}))
	defer srv.Close()

	c := New(srv.URL, WithToken("tok"))

	var mu sync.Mutex
	var seen []int
	video, err := c.UploadVideo(context.Background(), uploadqueue.UploadRequest{
		CourseID: "C1",
		Title:    "Lesson 1",
		File:     videoFile(content),
	}, func(p int) {
		mu.Lock()
		seen = append(seen, p)
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.Equal(t, "v1", video.ID)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.Contains(t, seen, 100)
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i], seen[i-1], "progress never goes back")
	}
	for _, p := range seen[:len(seen)-1] {
		assert.Less(t, p, 100, "only the final report reaches 100")
	}
}

func TestUploadVideo_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		writeEnvelope(w, http.StatusNotFound, false, "Course not found.", nil)
	}))
	defer srv.Close()

	c := New(srv.URL, WithToken("tok"))
	_, err := c.UploadVideo(context.Background(), uploadqueue.UploadRequest{
		CourseID: "missing",
		File:     videoFile("data"),
	}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrNotFound)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Course not found.", apiErr.Message)
}

func TestUploadVideo_RequiresToken(t *testing.T) {
	c := New("http://127.0.0.1:0")
	_, err := c.UploadVideo(context.Background(), uploadqueue.UploadRequest{File: videoFile("x")}, nil)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestListCourses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		writeEnvelope(w, http.StatusOK, true, "", []models.Course{{ID: "c1", Title: "Go"}})
	}))
	defer srv.Close()

	courses, err := New(srv.URL, WithToken("tok")).ListCourses(context.Background())
	require.NoError(t, err)
	require.Len(t, courses, 1)
	assert.Equal(t, "Go", courses[0].Title)
}

func TestClient_ImplementsUploader(t *testing.T) {
	var _ uploadqueue.Uploader = (*Client)(nil)
}
