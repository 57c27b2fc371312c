package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestMutationsStartSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	otel.SetTracerProvider(tp)

	f := newFixture(t)
	ctx := context.Background()
	c := f.course(t, "C", true)
	v := f.video(t, c.ID, "a")

	_, err := f.svc.UpdateCourse(ctx, c.ID, CourseUpdate{Category: ptr("go")})
	require.NoError(t, err)
	_, err = f.svc.UpdateVideo(ctx, v.ID, VideoUpdate{Description: ptr("intro")})
	require.NoError(t, err)
	_, err = f.svc.RemoveNotes(ctx, v.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.ReorderVideos(ctx, c.ID, []string{v.ID}))
	require.NoError(t, f.svc.ReorderCourses(ctx, []string{c.ID}))

	var names []string
	for _, s := range rec.Ended() {
		names = append(names, s.Name())
	}
	for _, want := range []string{"UpdateCourse", "UpdateVideo", "RemoveNotes", "ReorderVideos", "ReorderCourses"} {
		assert.Contains(t, names, want)
	}
}
