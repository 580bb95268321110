package geo

import (
	"context"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/kinsync/internal/presence/domain"
)

// Feed is a domain.LocationProvider fed by a gRPC stream of device
// samples. It is the concrete device source for the headless service:
// permission requests are satisfied trivially, one-shot reads serve the
// latest inbound sample, and watches fan every inbound sample out to the
// registered callback.
type Feed struct {
	logger *zap.Logger
	clock  domain.Clock

	mu       sync.Mutex
	deviceID string
	latest   *domain.LocationSample
	watchers map[int64]func(domain.LocationSample)
	nextID   int64
}

// NewFeed constructs a Feed bound to one device identity. An empty
// deviceID accepts samples from any device.
func NewFeed(deviceID string, logger *zap.Logger, clock domain.Clock) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Feed{
		logger:   logger,
		clock:    clock,
		deviceID: deviceID,
		watchers: make(map[int64]func(domain.LocationSample)),
	}
}

// StreamSamples ingests device samples until the client closes the stream.
func (f *Feed) StreamSamples(stream DeviceFeed_StreamSamplesServer) error {
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			return stream.SendAndClose(&Ack{})
		}
		if err != nil {
			return err
		}
		if f.deviceID != "" && msg.DeviceId != f.deviceID {
			continue
		}
		f.Push(sampleFromMessage(msg))
	}
}

// Push records a sample and delivers it to the active watcher, if any.
func (f *Feed) Push(sample domain.LocationSample) {
	f.mu.Lock()
	f.latest = &sample
	fns := make([]func(domain.LocationSample), 0, len(f.watchers))
	for _, fn := range f.watchers {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(sample)
	}
}

// RequestPermission satisfies domain.LocationProvider. A device feed
// needs no OS-level grant.
func (f *Feed) RequestPermission(context.Context) error { return nil }

// RequestBackgroundPermission satisfies domain.LocationProvider.
func (f *Feed) RequestBackgroundPermission(context.Context) error { return nil }

// Current returns the latest inbound sample no older than maxAge.
func (f *Feed) Current(_ context.Context, maxAge time.Duration) (domain.LocationSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.latest == nil {
		return domain.LocationSample{}, domain.ErrNoLocation
	}
	if maxAge > 0 && f.clock.Now().Sub(f.latest.Time()) > maxAge {
		return domain.LocationSample{}, domain.ErrNoLocation
	}
	return *f.latest, nil
}

// Watch registers fn for every inbound sample until stop is called.
func (f *Feed) Watch(_ context.Context, _ domain.WatchOptions, fn func(domain.LocationSample)) (func(), error) {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.watchers[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.watchers, id)
		f.mu.Unlock()
	}, nil
}

func sampleFromMessage(msg *DeviceSample) domain.LocationSample {
	sample := domain.LocationSample{
		Latitude:  msg.Lat,
		Longitude: msg.Lng,
		Timestamp: msg.Ts,
	}
	if msg.Accuracy > 0 {
		accuracy := msg.Accuracy
		sample.Accuracy = &accuracy
	}
	if msg.Heading >= 0 {
		heading := msg.Heading
		sample.Heading = &heading
	}
	if msg.Speed >= 0 {
		speed := msg.Speed
		sample.Speed = &speed
	}
	return sample
}
