// Package uploadqueue uploads batches of video files one at a time and
// tracks the status and progress of every queued file.
package uploadqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/amillerrr/lms-catalog/internal/metrics"
	"github.com/amillerrr/lms-catalog/pkg/models"
)

var tracer = otel.Tracer("lms-uploadqueue")

// Errors
var (
	ErrNoFiles        = errors.New("no files to enqueue")
	ErrMissingCourse  = errors.New("target course is required")
	ErrObserverActive = errors.New("a completion observer is already subscribed")
	ErrAlreadyRunning = errors.New("queue worker already running")
	ErrNotPending     = errors.New("item is no longer pending")
	ErrItemNotFound   = errors.New("item not found")
)

// Config holds queue dependencies.
type Config struct {
	Uploader Uploader
	Logger   *slog.Logger
	// OnUpdate, when set, receives a snapshot after every status or progress
	// change of a visible item.
	OnUpdate func(Item)
}

// update is a pending notification. Updates are recorded under the queue
// lock in the order the state changed and delivered in that order.
type update struct {
	item  Item
	sub   *Subscription
	video *models.Video
}

// entry is a queued file with its live state.
type entry struct {
	item    Item
	file    File
	removed bool
}

// Queue is a single-flight upload queue. Items are uploaded strictly in
// enqueue order by the goroutine running Run.
type Queue struct {
	uploader Uploader
	log      *slog.Logger
	onUpdate func(Item)

	mu       sync.Mutex
	items    []*entry
	active   *entry
	observer *Subscription
	idle     chan struct{}
	isIdle   bool
	outbox   []update

	// held by the one goroutine delivering the outbox
	delivering sync.Mutex

	wake    chan struct{}
	running atomic.Bool
}

// Subscription is the handle of the completion observer.
type Subscription struct {
	q  *Queue
	fn func(*models.Video)
}

// New creates an idle Queue.
func New(cfg Config) *Queue {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	idle := make(chan struct{})
	close(idle)
	return &Queue{
		uploader: cfg.Uploader,
		log:      log,
		onUpdate: cfg.OnUpdate,
		idle:     idle,
		isIdle:   true,
		wake:     make(chan struct{}, 1),
	}
}

// Enqueue appends one pending item per file, in file order, targeting
// courseID. titles[i] names files[i]; a missing or blank title defaults to
// the file name without extension.
func (q *Queue) Enqueue(files []File, courseID string, titles []string) (int, error) {
	if len(files) == 0 {
		return 0, ErrNoFiles
	}
	if courseID == "" {
		return 0, ErrMissingCourse
	}

	now := time.Now()
	added := make([]*entry, 0, len(files))
	for i, f := range files {
		title := ""
		if i < len(titles) {
			title = strings.TrimSpace(titles[i])
		}
		if title == "" {
			title = models.TitleFromFilename(f.Name)
		}
		added = append(added, &entry{
			file: f,
			item: Item{
				ID:        uuid.NewString(),
				CourseID:  courseID,
				Title:     title,
				FileName:  f.Name,
				Size:      f.Size,
				Status:    StatusPending,
				CreatedAt: now,
			},
		})
	}

	q.mu.Lock()
	q.items = append(q.items, added...)
	if q.isIdle {
		q.idle = make(chan struct{})
		q.isIdle = false
	}
	for _, e := range added {
		q.emitLocked(e.item)
	}
	q.recordStatsLocked()
	q.mu.Unlock()

	q.flush()
	q.signal()

	q.log.Info("Files queued", "count", len(added), "courseId", courseID)
	return len(added), nil
}

// Edit changes the title and description of a pending item.
func (q *Queue) Edit(id, title, description string) error {
	q.mu.Lock()
	e := q.findLocked(id)
	switch {
	case e == nil:
		q.mu.Unlock()
		return ErrItemNotFound
	case e.item.Status != StatusPending:
		q.mu.Unlock()
		return ErrNotPending
	}
	if title = strings.TrimSpace(title); title != "" {
		e.item.Title = title
	}
	e.item.Description = description
	q.emitLocked(e.item)
	q.mu.Unlock()

	q.flush()
	return nil
}

// Remove drops an item from the queue in any state. Removing the item being
// uploaded hides it but lets its transfer run to the end; it then triggers
// neither OnUpdate nor the completion observer.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := slices.IndexFunc(q.items, func(e *entry) bool { return e.item.ID == id })
	if i < 0 {
		return false
	}
	q.items[i].removed = true
	q.items = slices.Delete(q.items, i, i+1)
	q.settleLocked()
	q.recordStatsLocked()
	return true
}

// ClearCompleted removes every completed or failed item and returns how
// many were removed.
func (q *Queue) ClearCompleted() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	before := len(q.items)
	q.items = slices.DeleteFunc(q.items, func(e *entry) bool {
		if e.item.Status.Terminal() {
			e.removed = true
			return true
		}
		return false
	})
	q.recordStatsLocked()
	return before - len(q.items)
}

// Stats counts the current items by status.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statsLocked()
}

// Items returns snapshots of the current items in enqueue order.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Item, len(q.items))
	for i, e := range q.items {
		out[i] = e.item
	}
	return out
}

// Subscribe registers fn to receive every video created by a completed
// upload. Only one subscription may be active; Unsubscribe releases it.
func (q *Queue) Subscribe(fn func(*models.Video)) (*Subscription, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.observer != nil {
		return nil, ErrObserverActive
	}
	q.observer = &Subscription{q: q, fn: fn}
	return q.observer, nil
}

// Unsubscribe releases the subscription. It is a no-op for a handle that
// is no longer active.
func (s *Subscription) Unsubscribe() {
	s.q.mu.Lock()
	defer s.q.mu.Unlock()
	if s.q.observer == s {
		s.q.observer = nil
	}
}

// WaitIdle blocks until no item is pending or in flight and every update
// has been delivered, or ctx is done. It must not be called from OnUpdate
// or a completion observer.
func (q *Queue) WaitIdle(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
	case <-ctx.Done():
		return ctx.Err()
	}

	q.delivering.Lock()
	q.drain()
	q.delivering.Unlock()
	return nil
}

// Run is the worker loop. It uploads pending items one at a time and
// sleeps while there are none. It returns when ctx is done; an upload in
// flight is then failed by the cancelled context.
func (q *Queue) Run(ctx context.Context) error {
	if !q.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer q.running.Store(false)

	q.log.InfoContext(ctx, "Upload queue started")
	for {
		if ctx.Err() != nil {
			q.log.InfoContext(ctx, "Upload queue stopped")
			return ctx.Err()
		}
		if e := q.next(); e != nil {
			q.process(ctx, e)
			continue
		}

		select {
		case <-ctx.Done():
			q.log.InfoContext(ctx, "Upload queue stopped")
			return ctx.Err()
		case <-q.wake:
		}
	}
}

// signal wakes the worker without blocking.
func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// next claims the earliest pending item for upload, or marks the queue
// idle when there is none.
func (q *Queue) next() *entry {
	q.mu.Lock()

	i := slices.IndexFunc(q.items, func(e *entry) bool { return e.item.Status == StatusPending })
	if i < 0 {
		q.settleLocked()
		q.mu.Unlock()
		return nil
	}

	e := q.items[i]
	e.item.Status = StatusUploading
	e.item.Progress = 0
	q.active = e
	q.recordStatsLocked()
	q.emitLocked(e.item)
	q.mu.Unlock()

	q.flush()
	return e
}

func (q *Queue) process(ctx context.Context, e *entry) {
	ctx, span := tracer.Start(ctx, "UploadItem")
	defer span.End()
	span.SetAttributes(
		attribute.String("item.id", e.item.ID),
		attribute.String("course.id", e.item.CourseID),
		attribute.Int64("file.size", e.file.Size),
	)

	start := time.Now()
	req := UploadRequest{
		CourseID:    e.item.CourseID,
		Title:       e.item.Title,
		Description: e.item.Description,
		File:        e.file,
	}

	video, err := q.uploader.UploadVideo(ctx, req, func(percent int) {
		q.progress(e, percent)
	})
	metrics.RecordTransfer(err, time.Since(start).Seconds())

	if err != nil {
		err = fmt.Errorf("%w: %v", models.ErrTransfer, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		q.log.WarnContext(ctx, "Upload failed", "itemId", e.item.ID, "file", e.file.Name, "error", err)
		q.finish(e, nil, err)
		return
	}

	q.log.InfoContext(ctx, "Upload completed",
		"itemId", e.item.ID,
		"videoId", video.ID,
		"duration", time.Since(start).String(),
	)
	q.finish(e, video, nil)
}

// progress relays transport progress while uploading. 100 percent means the
// body is fully sent and the item moves to processing.
func (q *Queue) progress(e *entry, percent int) {
	q.mu.Lock()
	if e.item.Status != StatusUploading {
		q.mu.Unlock()
		return
	}

	if percent >= 100 {
		e.item.Status = StatusProcessing
		e.item.Progress = 100
		q.recordStatsLocked()
	} else {
		percent = max(percent, 0)
		if percent == e.item.Progress {
			q.mu.Unlock()
			return
		}
		e.item.Progress = percent
	}
	if !e.removed {
		q.emitLocked(e.item)
	}
	q.mu.Unlock()

	q.flush()
}

// finish moves the active item to its terminal state.
func (q *Queue) finish(e *entry, video *models.Video, err error) {
	q.mu.Lock()
	if err == nil && e.item.Status == StatusUploading {
		// the transport never reported the body as fully sent
		e.item.Status = StatusProcessing
		e.item.Progress = 100
		if !e.removed {
			q.emitLocked(e.item)
		}
	}
	if err != nil {
		e.item.Status = StatusError
		e.item.Error = err.Error()
	} else {
		e.item.Status = StatusCompleted
		e.item.Progress = 100
		e.item.Video = video
	}
	q.active = nil
	q.recordStatsLocked()

	if !e.removed {
		q.emitLocked(e.item)
		if q.observer != nil && err == nil {
			q.outbox = append(q.outbox, update{sub: q.observer, video: video})
		}
	}
	q.mu.Unlock()

	q.flush()
}

// emitLocked queues a snapshot of item for OnUpdate.
func (q *Queue) emitLocked(item Item) {
	if q.onUpdate != nil {
		q.outbox = append(q.outbox, update{item: item})
	}
}

// flush delivers queued updates unless another goroutine is already
// delivering, in which case that goroutine delivers them in order.
func (q *Queue) flush() {
	for q.delivering.TryLock() {
		q.drain()
		q.delivering.Unlock()

		// an update queued between the last drain and Unlock found the
		// lock taken and left it to us
		q.mu.Lock()
		empty := len(q.outbox) == 0
		q.mu.Unlock()
		if empty {
			return
		}
	}
}

// drain delivers the outbox in order. The caller holds q.delivering.
func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.outbox) == 0 {
			q.mu.Unlock()
			return
		}
		u := q.outbox[0]
		q.outbox = q.outbox[1:]
		current := u.sub == nil || q.observer == u.sub
		q.mu.Unlock()

		switch {
		case u.sub == nil:
			q.onUpdate(u.item)
		case current:
			u.sub.fn(u.video)
		}
	}
}

func (q *Queue) findLocked(id string) *entry {
	for _, e := range q.items {
		if e.item.ID == id {
			return e
		}
	}
	return nil
}

// settleLocked marks the queue idle once nothing is pending or in flight.
func (q *Queue) settleLocked() {
	if q.isIdle || q.active != nil {
		return
	}
	if slices.ContainsFunc(q.items, func(e *entry) bool { return e.item.Status == StatusPending }) {
		return
	}
	close(q.idle)
	q.isIdle = true
}

func (q *Queue) statsLocked() Stats {
	var s Stats
	for _, e := range q.items {
		switch e.item.Status {
		case StatusPending:
			s.Pending++
		case StatusUploading:
			s.Uploading++
		case StatusProcessing:
			s.Processing++
		case StatusCompleted:
			s.Completed++
		case StatusError:
			s.Error++
		}
	}
	s.Active = s.Uploading + s.Processing
	s.Total = len(q.items)
	return s
}

func (q *Queue) recordStatsLocked() {
	s := q.statsLocked()
	metrics.QueueItems.WithLabelValues(string(StatusPending)).Set(float64(s.Pending))
	metrics.QueueItems.WithLabelValues(string(StatusUploading)).Set(float64(s.Uploading))
	metrics.QueueItems.WithLabelValues(string(StatusProcessing)).Set(float64(s.Processing))
	metrics.QueueItems.WithLabelValues(string(StatusCompleted)).Set(float64(s.Completed))
	metrics.QueueItems.WithLabelValues(string(StatusError)).Set(float64(s.Error))
}
