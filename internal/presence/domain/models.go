package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrPermissionDenied    = errors.New("location permission denied")
	ErrProviderUnavailable = errors.New("location provider unavailable")
	ErrNoLocation          = errors.New("no location available")
	ErrMemberNotFound      = errors.New("family member not found")
	ErrStoreUnavailable    = errors.New("roster store unavailable")
)

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// LocationSample is a single position fix as delivered by a device provider.
// Timestamp is provider-supplied epoch milliseconds, not time of receipt.
type LocationSample struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Heading   *float64 `json:"heading,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

// Point returns the sample coordinate as a GeoPoint.
func (s LocationSample) Point() GeoPoint {
	return GeoPoint{Lat: s.Latitude, Lng: s.Longitude}
}

// Time converts the sample timestamp to a time.Time.
func (s LocationSample) Time() time.Time {
	return time.UnixMilli(s.Timestamp).UTC()
}

// FamilyMember is a roster entry owned by the current user.
type FamilyMember struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	Phone              string          `json:"phone"`
	Relation           string          `json:"relation"`
	Avatar             string          `json:"avatar"`
	IsLocationShared   bool            `json:"isLocationShared"`
	LastLocationUpdate *int64          `json:"lastLocationUpdate,omitempty"`
	Location           *LocationSample `json:"location,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
}

// EffectiveLocation returns the member location only while sharing is
// enabled. A stored location from an earlier sharing period must never
// surface as current.
func (m FamilyMember) EffectiveLocation() *LocationSample {
	if !m.IsLocationShared {
		return nil
	}
	return m.Location
}

// NewMemberInput carries caller-provided fields for roster creation.
// Name and Phone validation happens at the caller boundary.
type NewMemberInput struct {
	Name     string
	Phone    string
	Relation string
	Avatar   string
}

// EmergencyAlert is a location-attached alert record. CreatedAt is
// assigned by the roster store on write.
type EmergencyAlert struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	UserID    string         `json:"userId"`
	Address   string         `json:"address,omitempty"`
	Location  LocationSample `json:"location"`
	Timestamp int64          `json:"timestamp"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Accuracy selects the provider sampling accuracy class.
type Accuracy string

const (
	AccuracyHigh     Accuracy = "high"
	AccuracyBalanced Accuracy = "balanced"
	AccuracyLow      Accuracy = "low"
)

// WatchOptions tunes a continuous sampling subscription.
type WatchOptions struct {
	Accuracy     Accuracy
	MinInterval  time.Duration
	MinDistanceM float64
}

// LocationProvider abstracts the permission-gated device location source.
type LocationProvider interface {
	// RequestPermission asks for foreground access; ErrPermissionDenied on refusal.
	RequestPermission(ctx context.Context) error
	// RequestBackgroundPermission is best-effort; denial must not fail sampling.
	RequestBackgroundPermission(ctx context.Context) error
	// Current returns one fix no older than maxAge.
	Current(ctx context.Context, maxAge time.Duration) (LocationSample, error)
	// Watch delivers samples to fn until the returned stop function is called.
	Watch(ctx context.Context, opts WatchOptions, fn func(LocationSample)) (stop func(), err error)
}

// RosterStore is the remote document store for the per-user roster.
// Member listing order follows creation time.
type RosterStore interface {
	SetSharing(ctx context.Context, uid string, sharing bool) error
	SetLiveLocation(ctx context.Context, uid string, sample LocationSample) error
	UserState(ctx context.Context, uid string) (sharing bool, live *LocationSample, err error)
	CreateMember(ctx context.Context, uid string, member FamilyMember) (FamilyMember, error)
	SetMemberSharing(ctx context.Context, uid, memberID string, enabled bool) error
	SetMemberLocation(ctx context.Context, uid, memberID string, sample LocationSample) error
	DeleteMember(ctx context.Context, uid, memberID string) error
	ListMembers(ctx context.Context, uid string) ([]FamilyMember, error)
	AppendAlert(ctx context.Context, uid string, alert EmergencyAlert) (EmergencyAlert, error)
}

// PresenceCache is the local key-value mirror surviving process restarts.
type PresenceCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Geocoder resolves a human-readable address. Optional collaborator;
// failures are non-fatal everywhere it is used.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, point GeoPoint) (string, error)
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
