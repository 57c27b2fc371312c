package uploadqueue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amillerrr/lms-catalog/pkg/models"
)

// fakeUploader records calls and replays scripted progress per title.
type fakeUploader struct {
	mu        sync.Mutex
	active    int
	maxActive int
	calls     []string
	progress  map[string][]int
	fail      map[string]error
	gates     map[string]chan struct{}
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{
		progress: make(map[string][]int),
		fail:     make(map[string]error),
		gates:    make(map[string]chan struct{}),
	}
}

func (f *fakeUploader) gate(title string) chan struct{} {
	ch := make(chan struct{})
	f.mu.Lock()
	f.gates[title] = ch
	f.mu.Unlock()
	return ch
}

func (f *fakeUploader) UploadVideo(ctx context.Context, req UploadRequest, progress func(int)) (*models.Video, error) {
	f.mu.Lock()
	f.active++
	f.maxActive = max(f.maxActive, f.active)
	f.calls = append(f.calls, req.Title)
	steps := f.progress[req.Title]
	err := f.fail[req.Title]
	gate := f.gates[req.Title]
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	for _, p := range steps {
		progress(p)
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &models.Video{ID: "video-" + req.Title, CourseID: req.CourseID, Title: req.Title}, nil
}

func (f *fakeUploader) callOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// updateLog collects OnUpdate snapshots.
type updateLog struct {
	mu      sync.Mutex
	updates []Item
	hooks   []func(Item)
}

func (l *updateLog) record(item Item) {
	l.mu.Lock()
	l.updates = append(l.updates, item)
	hooks := l.hooks
	l.mu.Unlock()
	for _, h := range hooks {
		h(item)
	}
}

func (l *updateLog) states(id string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, u := range l.updates {
		if u.ID == id {
			out = append(out, fmt.Sprintf("%s(%d)", u.Status, u.Progress))
		}
	}
	return out
}

func (l *updateLog) terminalOrder() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, u := range l.updates {
		if u.Status.Terminal() {
			out = append(out, u.Title)
		}
	}
	return out
}

func newTestQueue(t *testing.T, up Uploader) (*Queue, *updateLog) {
	t.Helper()
	log := &updateLog{}
	q := New(Config{
		Uploader: up,
		Logger:   slog.New(slog.NewJSONHandler(io.Discard, nil)),
		OnUpdate: log.record,
	})
	return q, log
}

func start(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitIdle(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.WaitIdle(ctx))
}

func files(names ...string) []File {
	out := make([]File, len(names))
	for i, name := range names {
		body := "data-" + name
		out[i] = File{
			Name:        name,
			ContentType: "video/mp4",
			Size:        int64(len(body)),
			Open: func() (io.ReadCloser, error) {
				return io.NopCloser(strings.NewReader(body)), nil
			},
		}
	}
	return out
}

func TestEnqueue_PendingInFileOrderWithDefaultTitles(t *testing.T) {
	q, _ := newTestQueue(t, newFakeUploader())

	n, err := q.Enqueue(files("a.mp4", "b.mp4", "c.mp4"), "C1", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	items := q.Items()
	require.Len(t, items, 3)
	for i, want := range []string{"a", "b", "c"} {
		assert.Equal(t, want, items[i].Title)
		assert.Equal(t, StatusPending, items[i].Status)
		assert.Equal(t, "C1", items[i].CourseID)
		assert.NotEmpty(t, items[i].ID)
	}
	assert.Equal(t, Stats{Pending: 3, Total: 3}, q.Stats())
}

func TestEnqueue_PositionalTitles(t *testing.T) {
	q, _ := newTestQueue(t, newFakeUploader())

	_, err := q.Enqueue(files("a.mp4", "b.mp4", "c.mp4"), "C1", []string{"Intro", "  "})
	require.NoError(t, err)

	items := q.Items()
	assert.Equal(t, "Intro", items[0].Title)
	assert.Equal(t, "b", items[1].Title, "blank title falls back to the file name")
	assert.Equal(t, "c", items[2].Title, "missing title falls back to the file name")
}

func TestEnqueue_Validation(t *testing.T) {
	q, _ := newTestQueue(t, newFakeUploader())

	_, err := q.Enqueue(nil, "C1", nil)
	assert.ErrorIs(t, err, ErrNoFiles)

	_, err = q.Enqueue(files("a.mp4"), "", nil)
	assert.ErrorIs(t, err, ErrMissingCourse)

	assert.Empty(t, q.Items())
}

func TestRun_UploadsOneAtATimeInFIFOOrder(t *testing.T) {
	up := newFakeUploader()
	up.fail["c"] = errors.New("connection reset")
	q, log := newTestQueue(t, up)

	var violations int
	var mu sync.Mutex
	log.hooks = append(log.hooks, func(Item) {
		if q.Stats().Active > 1 {
			mu.Lock()
			violations++
			mu.Unlock()
		}
	})

	_, err := q.Enqueue(files("a.mp4", "b.mp4", "c.mp4", "d.mp4", "e.mp4"), "C1", nil)
	require.NoError(t, err)
	start(t, q)
	waitIdle(t, q)

	assert.Equal(t, 1, up.maxActive)
	assert.Zero(t, violations)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, up.callOrder())
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, log.terminalOrder())

	stats := q.Stats()
	assert.Equal(t, Stats{Completed: 4, Error: 1, Total: 5}, stats)

	items := q.Items()
	assert.Equal(t, StatusError, items[2].Status)
	assert.Contains(t, items[2].Error, "connection reset")
	assert.Contains(t, items[2].Error, models.ErrTransfer.Error())
	assert.Equal(t, StatusCompleted, items[3].Status, "a failure does not stop the queue")
	assert.Equal(t, "video-d", items[3].Video.ID)
}

func TestRun_ProgressStates(t *testing.T) {
	up := newFakeUploader()
	up.progress["lesson"] = []int{10, 55, 100}
	q, log := newTestQueue(t, up)

	_, err := q.Enqueue(files("lesson.mp4"), "C1", nil)
	require.NoError(t, err)
	id := q.Items()[0].ID

	start(t, q)
	waitIdle(t, q)

	assert.Equal(t, []string{
		"pending(0)",
		"uploading(0)",
		"uploading(10)",
		"uploading(55)",
		"processing(100)",
		"completed(100)",
	}, log.states(id))
}

func TestRun_CompletionWithoutFullProgressPassesThroughProcessing(t *testing.T) {
	up := newFakeUploader()
	up.progress["clip"] = []int{40}
	q, log := newTestQueue(t, up)

	_, err := q.Enqueue(files("clip.mp4"), "C1", nil)
	require.NoError(t, err)
	id := q.Items()[0].ID

	start(t, q)
	waitIdle(t, q)

	assert.Equal(t, []string{
		"pending(0)",
		"uploading(0)",
		"uploading(40)",
		"processing(100)",
		"completed(100)",
	}, log.states(id))
}

func TestRun_WakesOnLaterEnqueue(t *testing.T) {
	up := newFakeUploader()
	q, _ := newTestQueue(t, up)
	start(t, q)

	_, err := q.Enqueue(files("first.mp4"), "C1", nil)
	require.NoError(t, err)
	waitIdle(t, q)

	_, err = q.Enqueue(files("second.mp4"), "C1", nil)
	require.NoError(t, err)
	waitIdle(t, q)

	assert.Equal(t, []string{"first", "second"}, up.callOrder())
	assert.Equal(t, 2, q.Stats().Completed)
}

func TestEnqueue_WhileRunningDeliversUpdatesInOrder(t *testing.T) {
	up := newFakeUploader()
	release := up.gate("a")
	q, log := newTestQueue(t, up)
	start(t, q)

	_, err := q.Enqueue(files("a.mp4"), "C1", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return q.Stats().Uploading == 1 }, 5*time.Second, time.Millisecond)

	// while b's pending update is being delivered, let the worker finish a
	// and race through b and c
	var once sync.Once
	log.mu.Lock()
	log.hooks = append(log.hooks, func(item Item) {
		if item.Title == "b" && item.Status == StatusPending {
			once.Do(func() {
				close(release)
				time.Sleep(100 * time.Millisecond)
			})
		}
	})
	log.mu.Unlock()

	_, err = q.Enqueue(files("b.mp4", "c.mp4"), "C1", nil)
	require.NoError(t, err)
	waitIdle(t, q)

	want := []string{"pending(0)", "uploading(0)", "processing(100)", "completed(100)"}
	for _, item := range q.Items() {
		if item.Title == "a" {
			continue
		}
		assert.Equal(t, want, log.states(item.ID), "updates of %s", item.Title)
	}
	assert.Equal(t, []string{"a", "b", "c"}, log.terminalOrder())
}

func TestOnUpdate_MayCallBackIntoQueue(t *testing.T) {
	up := newFakeUploader()
	var q *Queue
	var mu sync.Mutex
	var seen []Stats
	q = New(Config{
		Uploader: up,
		Logger:   slog.New(slog.NewJSONHandler(io.Discard, nil)),
		OnUpdate: func(item Item) {
			s := q.Stats()
			mu.Lock()
			seen = append(seen, s)
			mu.Unlock()
		},
	})
	start(t, q)

	_, err := q.Enqueue(files("a.mp4", "b.mp4"), "C1", nil)
	require.NoError(t, err)
	waitIdle(t, q)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	for _, s := range seen {
		assert.LessOrEqual(t, s.Active, 1)
	}
}

func TestSubscribe_UnsubscribedObserverIsNotCalled(t *testing.T) {
	up := newFakeUploader()
	release := up.gate("a")
	q, _ := newTestQueue(t, up)

	var calls int
	var mu sync.Mutex
	sub, err := q.Subscribe(func(*models.Video) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	require.NoError(t, err)
	start(t, q)

	_, err = q.Enqueue(files("a.mp4"), "C1", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return q.Stats().Uploading == 1 }, 5*time.Second, time.Millisecond)

	sub.Unsubscribe()
	close(release)
	waitIdle(t, q)

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, calls)
}

func TestRun_AlreadyRunning(t *testing.T) {
	q, _ := newTestQueue(t, newFakeUploader())
	start(t, q)

	require.Eventually(t, func() bool { return q.running.Load() }, time.Second, time.Millisecond)
	assert.ErrorIs(t, q.Run(context.Background()), ErrAlreadyRunning)
}

func TestClearCompleted_KeepsActiveAndPendingAndIsIdempotent(t *testing.T) {
	up := newFakeUploader()
	up.fail["b"] = errors.New("boom")
	release := up.gate("c")
	q, log := newTestQueue(t, up)

	uploadingC := make(chan struct{})
	var once sync.Once
	log.hooks = append(log.hooks, func(item Item) {
		if item.Title == "c" && item.Status == StatusUploading {
			once.Do(func() { close(uploadingC) })
		}
	})

	_, err := q.Enqueue(files("a.mp4", "b.mp4", "c.mp4", "d.mp4"), "C1", nil)
	require.NoError(t, err)
	start(t, q)
	<-uploadingC

	assert.Equal(t, 2, q.ClearCompleted())
	first := q.Items()
	assert.Equal(t, 0, q.ClearCompleted())
	assert.Equal(t, first, q.Items())

	require.Len(t, first, 2)
	assert.Equal(t, StatusUploading, first[0].Status)
	assert.Equal(t, StatusPending, first[1].Status)

	close(release)
	waitIdle(t, q)
	assert.Equal(t, 2, q.ClearCompleted())
	assert.Empty(t, q.Items())
}

func TestRemove_InFlightItemIsHiddenButNotCancelled(t *testing.T) {
	up := newFakeUploader()
	release := up.gate("a")
	q, log := newTestQueue(t, up)

	var completed []string
	var mu sync.Mutex
	sub, err := q.Subscribe(func(v *models.Video) {
		mu.Lock()
		completed = append(completed, v.ID)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	uploadingA := make(chan string, 1)
	log.hooks = append(log.hooks, func(item Item) {
		if item.Title == "a" && item.Status == StatusUploading {
			select {
			case uploadingA <- item.ID:
			default:
			}
		}
	})

	_, err = q.Enqueue(files("a.mp4", "b.mp4"), "C1", nil)
	require.NoError(t, err)
	start(t, q)

	id := <-uploadingA
	assert.True(t, q.Remove(id))
	assert.False(t, q.Remove(id), "second removal finds nothing")
	assert.Equal(t, Stats{Pending: 1, Total: 1}, q.Stats())

	close(release)
	waitIdle(t, q)

	assert.Equal(t, []string{"a", "b"}, up.callOrder(), "the removed transfer still ran")
	mu.Lock()
	assert.Equal(t, []string{"video-b"}, completed)
	mu.Unlock()

	items := q.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "b", items[0].Title)
	assert.NotContains(t, log.states(id), "completed(100)")
}

func TestRemove_PendingItemIsNeverUploaded(t *testing.T) {
	up := newFakeUploader()
	q, _ := newTestQueue(t, up)

	_, err := q.Enqueue(files("a.mp4", "b.mp4"), "C1", nil)
	require.NoError(t, err)
	assert.True(t, q.Remove(q.Items()[0].ID))

	start(t, q)
	waitIdle(t, q)
	assert.Equal(t, []string{"b"}, up.callOrder())
}

func TestSubscribe_SingleActiveSubscription(t *testing.T) {
	q, _ := newTestQueue(t, newFakeUploader())

	first, err := q.Subscribe(func(*models.Video) {})
	require.NoError(t, err)

	_, err = q.Subscribe(func(*models.Video) {})
	assert.ErrorIs(t, err, ErrObserverActive)

	first.Unsubscribe()
	second, err := q.Subscribe(func(*models.Video) {})
	require.NoError(t, err)

	// a stale handle must not release the new subscription
	first.Unsubscribe()
	_, err = q.Subscribe(func(*models.Video) {})
	assert.ErrorIs(t, err, ErrObserverActive)

	second.Unsubscribe()
}

func TestSubscribe_ReceivesEachCompletedVideoOnce(t *testing.T) {
	up := newFakeUploader()
	up.fail["bad"] = errors.New("rejected")
	q, _ := newTestQueue(t, up)

	var got []string
	var mu sync.Mutex
	sub, err := q.Subscribe(func(v *models.Video) {
		mu.Lock()
		got = append(got, v.Title)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	_, err = q.Enqueue(files("one.mp4", "bad.mp4", "two.mp4"), "C1", nil)
	require.NoError(t, err)
	start(t, q)
	waitIdle(t, q)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"one", "two"}, got)
}

func TestEdit(t *testing.T) {
	q, _ := newTestQueue(t, newFakeUploader())

	_, err := q.Enqueue(files("a.mp4"), "C1", nil)
	require.NoError(t, err)
	id := q.Items()[0].ID

	require.NoError(t, q.Edit(id, "Welcome", "First lesson"))
	item := q.Items()[0]
	assert.Equal(t, "Welcome", item.Title)
	assert.Equal(t, "First lesson", item.Description)

	assert.ErrorIs(t, q.Edit("missing", "x", ""), ErrItemNotFound)

	start(t, q)
	waitIdle(t, q)
	assert.ErrorIs(t, q.Edit(id, "Late", ""), ErrNotPending)
}

func TestWaitIdle(t *testing.T) {
	q, _ := newTestQueue(t, newFakeUploader())

	// an empty queue is idle
	require.NoError(t, q.WaitIdle(context.Background()))

	_, err := q.Enqueue(files("a.mp4"), "C1", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.WaitIdle(ctx), context.DeadlineExceeded, "pending work without a worker never settles")
}

func TestRun_StopsOnCancel(t *testing.T) {
	up := newFakeUploader()
	up.gate("slow")
	q, _ := newTestQueue(t, up)

	_, err := q.Enqueue(files("slow.mp4", "next.mp4"), "C1", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()

	require.Eventually(t, func() bool { return q.Stats().Active == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	items := q.Items()
	assert.Equal(t, StatusError, items[0].Status)
	assert.Equal(t, StatusPending, items[1].Status, "items after shutdown stay pending")
}

func TestFileFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o600))

	f, err := FileFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "notes.pdf", f.Name)
	assert.Equal(t, "application/pdf", f.ContentType)
	assert.Equal(t, int64(8), f.Size)

	rc, err := f.Open()
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))

	unknown := filepath.Join(dir, "clip.zzz")
	require.NoError(t, os.WriteFile(unknown, nil, 0o600))
	f, err = FileFromPath(unknown)
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", f.ContentType)

	_, err = FileFromPath(dir)
	assert.Error(t, err)
	_, err = FileFromPath(filepath.Join(dir, "missing.mp4"))
	assert.Error(t, err)
}

func TestStatus(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusError.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.True(t, StatusUploading.Active())
	assert.True(t, StatusProcessing.Active())
	assert.False(t, StatusPending.Active())
}
