package presence

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type opRecorder struct {
	mu  sync.Mutex
	ops []string
}

func (r *opRecorder) record(name string) func(context.Context) error {
	return func(context.Context) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.ops = append(r.ops, name)
		return nil
	}
}

func (r *opRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ops...)
}

func TestWritePipelinePreservesOrder(t *testing.T) {
	p := newWritePipeline(16, nil)
	rec := &opRecorder{}

	p.enqueue(writeOp{key: "a", target: "remote", name: "first", fn: rec.record("first")})
	p.enqueue(writeOp{key: "b", target: "remote", name: "second", fn: rec.record("second")})
	p.enqueue(writeOp{key: "c", target: "cache", name: "third", fn: rec.record("third")})
	p.close()

	require.Equal(t, []string{"first", "second", "third"}, rec.all())
}

func TestWritePipelineDropsStaleWrites(t *testing.T) {
	p := newWritePipeline(16, nil)
	rec := &opRecorder{}

	p.enqueue(writeOp{key: "liveLocation", target: "remote", name: "newer", ts: 2000, fn: rec.record("newer")})
	// An older in-flight write completing late must not overwrite.
	p.enqueue(writeOp{key: "liveLocation", target: "remote", name: "older", ts: 1000, fn: rec.record("older")})
	p.enqueue(writeOp{key: "liveLocation", target: "remote", name: "newest", ts: 3000, fn: rec.record("newest")})
	p.close()

	require.Equal(t, []string{"newer", "newest"}, rec.all())
}

func TestWritePipelineFailureDoesNotBlockLaterWrites(t *testing.T) {
	p := newWritePipeline(16, nil)
	rec := &opRecorder{}

	p.enqueue(writeOp{key: "a", target: "remote", name: "boom", fn: func(context.Context) error {
		return errors.New("store down")
	}})
	p.enqueue(writeOp{key: "b", target: "remote", name: "after", fn: rec.record("after")})
	p.close()

	require.Equal(t, []string{"after"}, rec.all())
}

func TestWritePipelineEnqueueAfterClose(t *testing.T) {
	p := newWritePipeline(4, nil)
	p.close()
	require.NotPanics(t, func() {
		p.enqueue(writeOp{key: "a", target: "cache", name: "late", fn: func(context.Context) error { return nil }})
	})
}
