package presence

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const writeTimeout = 5 * time.Second

// writeOp is one best-effort persistence write. Ops carry the timestamp
// of the sample that produced them so a stale in-flight write can never
// overwrite a newer one for the same logical key; ts zero means
// unconditional.
type writeOp struct {
	key    string
	target string
	name   string
	ts     int64
	fn     func(ctx context.Context) error
}

// writePipeline serializes persistence writes through a single worker so
// writes are attempted in the order their triggering events occurred.
// Failures are logged and counted, never retried or rolled back.
type writePipeline struct {
	logger *zap.Logger
	tracer trace.Tracer

	mu     sync.Mutex
	closed bool
	ops    chan writeOp
	done   chan struct{}

	applied map[string]int64
}

func newWritePipeline(buffer int, logger *zap.Logger) *writePipeline {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &writePipeline{
		logger:  logger,
		tracer:  otel.Tracer("presence.writes"),
		ops:     make(chan writeOp, buffer),
		done:    make(chan struct{}),
		applied: make(map[string]int64),
	}
	go p.run()
	return p
}

// enqueue submits an op without blocking the caller. A full queue drops
// the op: these writes are best-effort and the next sample supersedes
// the lost one anyway.
func (p *writePipeline) enqueue(op writeOp) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.ops <- op:
	default:
		p.logger.Warn("write queue full, dropping op",
			zap.String("op", op.name), zap.String("key", op.key))
		writeFailTotal.WithLabelValues(op.target, op.name).Inc()
	}
}

// close stops accepting ops, drains the queue, and waits for the worker.
func (p *writePipeline) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.done
		return
	}
	p.closed = true
	close(p.ops)
	p.mu.Unlock()
	<-p.done
}

func (p *writePipeline) run() {
	defer close(p.done)
	for op := range p.ops {
		p.apply(op)
	}
}

func (p *writePipeline) apply(op writeOp) {
	if op.ts != 0 {
		if last, ok := p.applied[op.key]; ok && op.ts < last {
			staleWriteDropTotal.Inc()
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	ctx, span := p.tracer.Start(ctx, "presence.write."+op.name)
	defer span.End()

	if err := op.fn(ctx); err != nil {
		writeFailTotal.WithLabelValues(op.target, op.name).Inc()
		p.logger.Warn("best-effort write failed",
			zap.String("op", op.name), zap.String("key", op.key), zap.Error(err))
		return
	}
	if op.ts != 0 {
		p.applied[op.key] = op.ts
	}
}
