package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/amillerrr/lms-catalog/internal/events"
	"github.com/amillerrr/lms-catalog/internal/storage"
	"github.com/amillerrr/lms-catalog/pkg/models"
)

var errStoreDown = errors.New("store unavailable")

type memCourses struct {
	mu      sync.Mutex
	courses map[string]models.Course
}

func newMemCourses() *memCourses {
	return &memCourses{courses: make(map[string]models.Course)}
}

func (m *memCourses) CreateCourse(ctx context.Context, c *models.Course) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.courses[c.ID] = *c
	return nil
}

func (m *memCourses) GetCourse(ctx context.Context, id string) (*models.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.courses[id]
	if !ok {
		return nil, models.ErrCourseNotFound
	}
	return &c, nil
}

func (m *memCourses) ListCourses(ctx context.Context, publishedOnly bool) ([]models.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Course
	for _, c := range m.courses {
		if publishedOnly && !c.IsPublished {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *memCourses) UpdateCourse(ctx context.Context, c *models.Course) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.courses[c.ID]
	if !ok {
		return models.ErrCourseNotFound
	}
	updated := *c
	updated.VideoCount = old.VideoCount
	m.courses[c.ID] = updated
	return nil
}

func (m *memCourses) SetCourseOrder(ctx context.Context, id string, order int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.courses[id]
	if !ok {
		return models.ErrCourseNotFound
	}
	c.Order = order
	m.courses[id] = c
	return nil
}

func (m *memCourses) SetVideoCount(ctx context.Context, id string, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.courses[id]
	if !ok {
		return models.ErrCourseNotFound
	}
	c.VideoCount = count
	m.courses[id] = c
	return nil
}

func (m *memCourses) DeleteCourse(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.courses[id]; !ok {
		return models.ErrCourseNotFound
	}
	delete(m.courses, id)
	return nil
}

type memVideos struct {
	mu                 sync.Mutex
	videos             map[string]models.Video
	failDeleteByCourse bool
	failCount          bool
}

func newMemVideos() *memVideos {
	return &memVideos{videos: make(map[string]models.Video)}
}

func (m *memVideos) CreateVideo(ctx context.Context, v *models.Video) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.videos[v.ID] = *v
	return nil
}

func (m *memVideos) GetVideo(ctx context.Context, id string) (*models.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[id]
	if !ok {
		return nil, models.ErrVideoNotFound
	}
	return &v, nil
}

func (m *memVideos) ListVideosByCourse(ctx context.Context, courseID string, publishedOnly bool) ([]models.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Video
	for _, v := range m.videos {
		if v.CourseID != courseID || (publishedOnly && !v.IsPublished) {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (m *memVideos) CountVideos(ctx context.Context, courseID string) (int, error) {
	if m.failCount {
		return 0, errStoreDown
	}
	videos, _ := m.ListVideosByCourse(ctx, courseID, false)
	return len(videos), nil
}

func (m *memVideos) UpdateVideo(ctx context.Context, v *models.Video) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.videos[v.ID]; !ok {
		return models.ErrVideoNotFound
	}
	m.videos[v.ID] = *v
	return nil
}

func (m *memVideos) SetVideoOrder(ctx context.Context, id string, order int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[id]
	if !ok {
		return models.ErrVideoNotFound
	}
	v.Order = order
	m.videos[id] = v
	return nil
}

func (m *memVideos) DeleteVideo(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.videos[id]; !ok {
		return models.ErrVideoNotFound
	}
	delete(m.videos, id)
	return nil
}

func (m *memVideos) DeleteVideosByCourse(ctx context.Context, courseID string) ([]models.Video, error) {
	if m.failDeleteByCourse {
		return nil, errStoreDown
	}
	videos, _ := m.ListVideosByCourse(ctx, courseID, false)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range videos {
		delete(m.videos, v.ID)
	}
	return videos, nil
}

type memBlobs struct {
	mu        sync.Mutex
	blobs     map[string]string
	deleted   []string
	n         int
	deleteErr error
}

func newMemBlobs() *memBlobs {
	return &memBlobs{blobs: make(map[string]string)}
}

func (m *memBlobs) Upload(ctx context.Context, body io.Reader, size int64, filename, contentType, folder string) (*storage.Blob, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.n++
	key := fmt.Sprintf("%s/%d-%s", folder, m.n, filename)
	m.blobs[key] = string(data)
	return &storage.Blob{Key: key, URL: m.URL(key)}, nil
}

func (m *memBlobs) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, key)
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.blobs, key)
	return nil
}

func (m *memBlobs) URL(key string) string {
	return "https://cdn.test/" + key
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}
