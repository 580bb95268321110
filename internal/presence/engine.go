package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/kinsync/internal/cache"
	"github.com/example/kinsync/internal/geo"
	"github.com/example/kinsync/internal/hub"
	"github.com/example/kinsync/internal/presence/domain"
)

// Config tunes the engine.
type Config struct {
	// UserID is the authenticated identity. When empty the engine
	// generates a pseudo-identity and persists it in the cache.
	UserID string
	// Watch configures the continuous sampling subscription.
	Watch domain.WatchOptions
	// OneShotTimeout bounds one-shot location reads.
	OneShotTimeout time.Duration
	// OneShotMaxAge is the oldest acceptable one-shot fix.
	OneShotMaxAge time.Duration
	// WriteBuffer sizes the best-effort write queue.
	WriteBuffer int
}

func (c *Config) applyDefaults() {
	if c.Watch.Accuracy == "" {
		c.Watch.Accuracy = domain.AccuracyHigh
	}
	if c.Watch.MinInterval <= 0 {
		c.Watch.MinInterval = 5 * time.Second
	}
	if c.Watch.MinDistanceM <= 0 {
		c.Watch.MinDistanceM = 10
	}
	if c.OneShotTimeout <= 0 {
		c.OneShotTimeout = 10 * time.Second
	}
	if c.OneShotMaxAge <= 0 {
		c.OneShotMaxAge = time.Minute
	}
}

// Engine owns the sharing session lifecycle: it pulls samples from the
// sampler, writes through to the roster store and the presence cache,
// reconciles roster reads, and fans events out through the hub. It is
// the only component with cross-cutting state.
type Engine struct {
	cfg      Config
	sampler  *geo.Sampler
	store    domain.RosterStore
	cache    domain.PresenceCache
	events   *hub.Hub
	alerts   *AlertDispatcher
	clock    domain.Clock
	logger   *zap.Logger
	writes   *writePipeline

	mu      sync.Mutex
	uid     string
	sharing bool
	sub     *geo.Subscription
	gen     uint64
	current *domain.LocationSample
	roster  map[string]domain.FamilyMember
}

// New constructs the engine. Lifecycle is explicit: call Initialize
// before use and Cleanup on shutdown.
func New(cfg Config, sampler *geo.Sampler, store domain.RosterStore, presenceCache domain.PresenceCache, events *hub.Hub, alerts *AlertDispatcher, clock domain.Clock, logger *zap.Logger) *Engine {
	cfg.applyDefaults()
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if events == nil {
		events = hub.New(logger)
	}
	return &Engine{
		cfg:     cfg,
		sampler: sampler,
		store:   store,
		cache:   presenceCache,
		events:  events,
		alerts:  alerts,
		clock:   clock,
		logger:  logger,
		writes:  newWritePipeline(cfg.WriteBuffer, logger.Named("writes")),
		roster:  make(map[string]domain.FamilyMember),
	}
}

// Initialize resolves the user identity, loads the roster, requests
// location permission, and resumes an interrupted sharing session.
// A permission error is returned but leaves the engine usable for
// roster operations.
func (e *Engine) Initialize(ctx context.Context) error {
	uid, err := e.resolveIdentity(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.uid = uid
	e.mu.Unlock()

	if _, err := e.reloadRoster(ctx); err != nil {
		e.logger.Warn("initial roster load failed", zap.Error(err))
	}

	if err := e.sampler.Initialize(ctx); err != nil {
		e.logger.Warn("sampler initialization failed", zap.Error(err))
		return err
	}

	if e.restoreSharingFlag(ctx) {
		if err := e.StartLocationSharing(ctx); err != nil {
			e.logger.Warn("resume sharing failed", zap.Error(err))
		}
	}
	return nil
}

// StartLocationSharing transitions Idle to Active. Calling it while
// Active is a no-op returning success.
func (e *Engine) StartLocationSharing(ctx context.Context) error {
	e.mu.Lock()
	if e.sharing {
		e.mu.Unlock()
		return nil
	}
	gen := e.gen
	uid := e.uid
	e.mu.Unlock()

	sub, err := e.sampler.Subscribe(ctx, e.cfg.Watch, e.handleSample)
	if err != nil {
		return fmt.Errorf("start sharing: %w", err)
	}

	e.mu.Lock()
	if e.gen != gen {
		// A stop raced the start while the subscription was coming up;
		// the stop wins. The returned handle may already belong to a
		// newer start (Subscribe hands back the active subscription), so
		// only tear it down when it is not the installed one.
		stale := e.sub != sub
		e.mu.Unlock()
		if stale {
			sub.Cancel()
		}
		return nil
	}
	e.sub = sub
	e.sharing = true
	e.mu.Unlock()

	e.writes.enqueue(writeOp{key: "sharing", target: "remote", name: "set_sharing", fn: func(ctx context.Context) error {
		return e.store.SetSharing(ctx, uid, true)
	}})
	e.writes.enqueue(writeOp{key: "cache:sharing", target: "cache", name: "cache_sharing", fn: func(ctx context.Context) error {
		return e.cache.Set(ctx, cache.KeySharing, "true")
	}})
	e.events.EmitSharingState(true)
	return nil
}

// StopLocationSharing transitions Active to Idle. Safe to call
// repeatedly and from any state.
func (e *Engine) StopLocationSharing(ctx context.Context) error {
	e.mu.Lock()
	e.gen++
	sub := e.sub
	e.sub = nil
	wasSharing := e.sharing
	e.sharing = false
	uid := e.uid
	e.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	if !wasSharing {
		return nil
	}

	e.writes.enqueue(writeOp{key: "sharing", target: "remote", name: "set_sharing", fn: func(ctx context.Context) error {
		return e.store.SetSharing(ctx, uid, false)
	}})
	e.writes.enqueue(writeOp{key: "cache:sharing", target: "cache", name: "cache_sharing", fn: func(ctx context.Context) error {
		return e.cache.Set(ctx, cache.KeySharing, "false")
	}})
	e.events.EmitSharingState(false)
	return nil
}

// CurrentLocation returns a one-shot fix through the sampler.
func (e *Engine) CurrentLocation(ctx context.Context) (domain.LocationSample, error) {
	sample, err := e.sampler.Current(ctx, e.cfg.OneShotTimeout, e.cfg.OneShotMaxAge)
	if err != nil {
		return domain.LocationSample{}, err
	}
	e.mu.Lock()
	e.current = &sample
	e.mu.Unlock()
	return sample, nil
}

// AddFamilyMember validates nothing beyond normalization (callers gate
// empty name/phone), assigns defaults, and persists the entry. When the
// remote store is unavailable the member gets a locally generated id and
// lives only in the cache until connectivity returns; no later
// reconciliation merges it back.
func (e *Engine) AddFamilyMember(ctx context.Context, input domain.NewMemberInput) (domain.FamilyMember, error) {
	e.mu.Lock()
	uid := e.uid
	e.mu.Unlock()

	member := domain.FamilyMember{
		Name:     input.Name,
		Phone:    domain.NormalizePhone(input.Phone),
		Relation: input.Relation,
		Avatar:   input.Avatar,
	}

	created, err := e.store.CreateMember(ctx, uid, member)
	if err != nil {
		e.logger.Warn("remote member create failed, keeping member local-only", zap.Error(err))
		writeFailTotal.WithLabelValues("remote", "create_member").Inc()
		member.ID = uuid.NewString()
		member.CreatedAt = e.clock.Now()
		created = member
	}

	e.mu.Lock()
	e.roster[created.ID] = created
	e.mu.Unlock()
	e.mirrorRoster()
	return created, nil
}

// RemoveFamilyMember deletes the entry remotely then locally. The
// in-memory removal is unconditional even when the remote delete fails,
// which can resurrect the entry on the next full reload; that tradeoff
// keeps the UI responsive and is intentional.
func (e *Engine) RemoveFamilyMember(ctx context.Context, memberID string) error {
	e.mu.Lock()
	uid := e.uid
	e.mu.Unlock()

	if err := e.store.DeleteMember(ctx, uid, memberID); err != nil {
		e.logger.Warn("remote member delete failed", zap.String("member", memberID), zap.Error(err))
		writeFailTotal.WithLabelValues("remote", "delete_member").Inc()
	}

	e.mu.Lock()
	delete(e.roster, memberID)
	e.mu.Unlock()
	e.mirrorRoster()
	return nil
}

// ToggleMemberSharing flips only the member's isLocationShared field.
// Unknown ids are a no-op.
func (e *Engine) ToggleMemberSharing(ctx context.Context, memberID string, enabled bool) error {
	e.mu.Lock()
	uid := e.uid
	member, ok := e.roster[memberID]
	e.mu.Unlock()
	if !ok {
		return nil
	}

	if err := e.store.SetMemberSharing(ctx, uid, memberID, enabled); err != nil {
		e.logger.Warn("remote member toggle failed", zap.String("member", memberID), zap.Error(err))
		writeFailTotal.WithLabelValues("remote", "toggle_member").Inc()
	}

	member.IsLocationShared = enabled
	e.mu.Lock()
	e.roster[memberID] = member
	e.mu.Unlock()
	e.mirrorRoster()
	return nil
}

// FamilyLocations performs a full read-through reload before returning:
// remote store first, cache fallback, empty roster as the last resort.
func (e *Engine) FamilyLocations(ctx context.Context) (map[string]domain.FamilyMember, error) {
	snapshot, err := e.reloadRoster(ctx)
	if err != nil {
		return map[string]domain.FamilyMember{}, nil
	}
	return snapshot, nil
}

// FamilyMembers returns the last-loaded snapshot without touching
// storage.
func (e *Engine) FamilyMembers() map[string]domain.FamilyMember {
	e.mu.Lock()
	defer e.mu.Unlock()
	return gatedCopy(e.roster)
}

// LastKnownLocation returns the most recent own-location fix seen by any
// call path, or nil before the first fix.
func (e *Engine) LastKnownLocation() *domain.LocationSample {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return nil
	}
	sample := *e.current
	return &sample
}

// SharingStatus reports whether the session is Active.
func (e *Engine) SharingStatus() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sharing
}

// SendEmergencyAlert dispatches a location-attached alert, independent
// of the sharing session state.
func (e *Engine) SendEmergencyAlert(ctx context.Context, alertType, message string) (domain.EmergencyAlert, error) {
	if e.alerts == nil {
		return domain.EmergencyAlert{}, domain.ErrStoreUnavailable
	}
	e.mu.Lock()
	uid := e.uid
	e.mu.Unlock()
	return e.alerts.Dispatch(ctx, uid, alertType, message)
}

// OnLocation registers a location listener; the returned func removes it.
func (e *Engine) OnLocation(fn func(domain.LocationSample)) func() {
	return e.events.OnLocation(fn)
}

// OnSharingState registers a sharing-state listener.
func (e *Engine) OnSharingState(fn func(bool)) func() {
	return e.events.OnSharingState(fn)
}

// UserID returns the resolved identity (empty before Initialize).
func (e *Engine) UserID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.uid
}

// Cleanup cancels the active subscription and drains the write queue.
// It does not flip the persisted sharing preference: an interrupted
// session resumes on the next Initialize.
func (e *Engine) Cleanup() {
	e.mu.Lock()
	e.gen++
	sub := e.sub
	e.sub = nil
	e.sharing = false
	e.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
	e.writes.close()
}

func (e *Engine) handleSample(sample domain.LocationSample) {
	e.mu.Lock()
	if !e.sharing {
		// Late delivery from a cancelled subscription.
		e.mu.Unlock()
		return
	}
	e.current = &sample
	uid := e.uid
	e.mu.Unlock()

	samplesTotal.Inc()
	e.events.EmitLocation(sample)

	e.writes.enqueue(writeOp{key: "liveLocation", target: "remote", name: "live_location", ts: sample.Timestamp, fn: func(ctx context.Context) error {
		return e.store.SetLiveLocation(ctx, uid, sample)
	}})
	e.writes.enqueue(writeOp{key: "cache:liveLocation", target: "cache", name: "cache_location", ts: sample.Timestamp, fn: func(ctx context.Context) error {
		payload, err := json.Marshal(cachedLocation{UserID: uid, Location: sample, Timestamp: sample.Timestamp})
		if err != nil {
			return err
		}
		return e.cache.Set(ctx, cache.UserLocationKey(uid), string(payload))
	}})
}

type cachedLocation struct {
	UserID    string                `json:"userId"`
	Location  domain.LocationSample `json:"location"`
	Timestamp int64                 `json:"timestamp"`
}

func (e *Engine) resolveIdentity(ctx context.Context) (string, error) {
	if e.cfg.UserID != "" {
		return e.cfg.UserID, nil
	}
	if uid, ok, err := e.cache.Get(ctx, cache.KeyUserID); err == nil && ok && uid != "" {
		return uid, nil
	}
	uid := uuid.NewString()
	if err := e.cache.Set(ctx, cache.KeyUserID, uid); err != nil {
		return "", fmt.Errorf("persist pseudo identity: %w", err)
	}
	e.logger.Info("generated pseudo identity", zap.String("uid", uid))
	return uid, nil
}

// restoreSharingFlag reads the persisted sharing preference. A
// successful remote read is authoritative; the cache is consulted only
// when the store is unreachable.
func (e *Engine) restoreSharingFlag(ctx context.Context) bool {
	e.mu.Lock()
	uid := e.uid
	e.mu.Unlock()

	sharing, _, err := e.store.UserState(ctx, uid)
	if err == nil {
		return sharing
	}
	e.logger.Warn("remote sharing state read failed, falling back to cache", zap.Error(err))

	raw, ok, err := e.cache.Get(ctx, cache.KeySharing)
	if err != nil || !ok {
		return false
	}
	cached, _ := strconv.ParseBool(raw)
	return cached
}

// reloadRoster refreshes the in-memory snapshot from the remote store,
// falling back to the cached mirror when the store is unreachable.
func (e *Engine) reloadRoster(ctx context.Context) (map[string]domain.FamilyMember, error) {
	e.mu.Lock()
	uid := e.uid
	e.mu.Unlock()

	members, err := e.store.ListMembers(ctx, uid)
	if err != nil {
		e.logger.Warn("roster read failed, falling back to cache", zap.Error(err))
		return e.rosterFromCache(ctx)
	}
	rosterReloadTotal.WithLabelValues("remote").Inc()

	snapshot := make(map[string]domain.FamilyMember, len(members))
	for _, member := range members {
		snapshot[member.ID] = member
	}
	e.mu.Lock()
	e.roster = snapshot
	e.mu.Unlock()
	e.mirrorRoster()
	return gatedCopy(snapshot), nil
}

func (e *Engine) rosterFromCache(ctx context.Context) (map[string]domain.FamilyMember, error) {
	raw, ok, err := e.cache.Get(ctx, cache.KeyMembers)
	if err != nil || !ok {
		rosterReloadTotal.WithLabelValues("empty").Inc()
		return map[string]domain.FamilyMember{}, nil
	}
	var snapshot map[string]domain.FamilyMember
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		e.logger.Warn("cached roster decode failed", zap.Error(err))
		rosterReloadTotal.WithLabelValues("empty").Inc()
		return map[string]domain.FamilyMember{}, nil
	}
	rosterReloadTotal.WithLabelValues("cache").Inc()
	e.mu.Lock()
	e.roster = snapshot
	e.mu.Unlock()
	return gatedCopy(snapshot), nil
}

// mirrorRoster writes the current snapshot through to the cache,
// fire-and-forget.
func (e *Engine) mirrorRoster() {
	e.mu.Lock()
	snapshot := make(map[string]domain.FamilyMember, len(e.roster))
	for id, member := range e.roster {
		snapshot[id] = member
	}
	e.mu.Unlock()

	e.writes.enqueue(writeOp{key: "cache:members", target: "cache", name: "cache_members", fn: func(ctx context.Context) error {
		payload, err := json.Marshal(snapshot)
		if err != nil {
			return err
		}
		return e.cache.Set(ctx, cache.KeyMembers, string(payload))
	}})
}

// gatedCopy clones a roster snapshot, suppressing the location of any
// member whose sharing is off so stale fixes never surface as current.
func gatedCopy(roster map[string]domain.FamilyMember) map[string]domain.FamilyMember {
	out := make(map[string]domain.FamilyMember, len(roster))
	for id, member := range roster {
		member.Location = member.EffectiveLocation()
		if member.Location == nil {
			member.LastLocationUpdate = nil
		}
		out[id] = member
	}
	return out
}
