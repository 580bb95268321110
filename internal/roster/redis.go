package roster

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/example/kinsync/internal/presence/domain"
)

const defaultKeyPrefix = "users:"

// RedisStore implements domain.RosterStore on Redis. Each user document
// and each roster member is a hash, so concurrent writers merge at field
// granularity (last-write-wins per field). Member listing order follows
// a creation-time zset index.
type RedisStore struct {
	client    redis.Cmdable
	keyPrefix string
	clock     domain.Clock
}

// NewRedisStore constructs the adapter.
func NewRedisStore(client redis.Cmdable, prefix string, clock domain.Clock) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &RedisStore{client: client, keyPrefix: prefix, clock: clock}
}

func (r *RedisStore) userKey(uid string) string   { return r.keyPrefix + uid }
func (r *RedisStore) indexKey(uid string) string  { return r.keyPrefix + uid + ":family" }
func (r *RedisStore) alertsKey(uid string) string { return r.keyPrefix + uid + ":alerts" }
func (r *RedisStore) memberKey(uid, id string) string {
	return r.keyPrefix + uid + ":family:" + id
}

// SetSharing persists the user's sharing preference.
func (r *RedisStore) SetSharing(ctx context.Context, uid string, sharing bool) error {
	if err := r.client.HSet(ctx, r.userKey(uid), "preferences.locationSharing", strconv.FormatBool(sharing)).Err(); err != nil {
		return fmt.Errorf("set sharing: %w", err)
	}
	return nil
}

// SetLiveLocation persists the user's own latest sample.
func (r *RedisStore) SetLiveLocation(ctx context.Context, uid string, sample domain.LocationSample) error {
	payload, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("marshal live location: %w", err)
	}
	if err := r.client.HSet(ctx, r.userKey(uid), "liveLocation", payload).Err(); err != nil {
		return fmt.Errorf("set live location: %w", err)
	}
	return nil
}

// UserState reads back the sharing preference and live location.
func (r *RedisStore) UserState(ctx context.Context, uid string) (bool, *domain.LocationSample, error) {
	fields, err := r.client.HGetAll(ctx, r.userKey(uid)).Result()
	if err != nil {
		return false, nil, fmt.Errorf("read user state: %w", err)
	}
	sharing, _ := strconv.ParseBool(fields["preferences.locationSharing"])
	var live *domain.LocationSample
	if raw, ok := fields["liveLocation"]; ok && raw != "" {
		var sample domain.LocationSample
		if err := json.Unmarshal([]byte(raw), &sample); err == nil {
			live = &sample
		}
	}
	return sharing, live, nil
}

// CreateMember stores a new roster entry, assigning its id and creation
// time, and returns the stored document.
func (r *RedisStore) CreateMember(ctx context.Context, uid string, member domain.FamilyMember) (domain.FamilyMember, error) {
	if member.ID == "" {
		member.ID = uuid.NewString()
	}
	if member.CreatedAt.IsZero() {
		member.CreatedAt = r.clock.Now()
	}
	fields, err := encodeMember(member)
	if err != nil {
		return domain.FamilyMember{}, err
	}
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.memberKey(uid, member.ID), fields)
	pipe.ZAdd(ctx, r.indexKey(uid), redis.Z{Score: float64(member.CreatedAt.UnixMilli()), Member: member.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.FamilyMember{}, fmt.Errorf("create member: %w", err)
	}
	return member, nil
}

// SetMemberSharing flips only the isLocationShared field.
func (r *RedisStore) SetMemberSharing(ctx context.Context, uid, memberID string, enabled bool) error {
	exists, err := r.client.Exists(ctx, r.memberKey(uid, memberID)).Result()
	if err != nil {
		return fmt.Errorf("check member: %w", err)
	}
	if exists == 0 {
		return domain.ErrMemberNotFound
	}
	if err := r.client.HSet(ctx, r.memberKey(uid, memberID), "isLocationShared", strconv.FormatBool(enabled)).Err(); err != nil {
		return fmt.Errorf("set member sharing: %w", err)
	}
	return nil
}

// SetMemberLocation merges an inbound location write for a member. The
// co-stored lastLocationUpdate is the sample timestamp, never the write
// time.
func (r *RedisStore) SetMemberLocation(ctx context.Context, uid, memberID string, sample domain.LocationSample) error {
	exists, err := r.client.Exists(ctx, r.memberKey(uid, memberID)).Result()
	if err != nil {
		return fmt.Errorf("check member: %w", err)
	}
	if exists == 0 {
		return domain.ErrMemberNotFound
	}
	payload, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("marshal member location: %w", err)
	}
	if err := r.client.HSet(ctx, r.memberKey(uid, memberID),
		"location", payload,
		"lastLocationUpdate", strconv.FormatInt(sample.Timestamp, 10),
	).Err(); err != nil {
		return fmt.Errorf("set member location: %w", err)
	}
	return nil
}

// DeleteMember removes the member document and its index entry.
func (r *RedisStore) DeleteMember(ctx context.Context, uid, memberID string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.memberKey(uid, memberID))
	pipe.ZRem(ctx, r.indexKey(uid), memberID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete member: %w", err)
	}
	return nil
}

// ListMembers returns the roster ordered by creation time.
func (r *RedisStore) ListMembers(ctx context.Context, uid string) ([]domain.FamilyMember, error) {
	ids, err := r.client.ZRange(ctx, r.indexKey(uid), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list member ids: %w", err)
	}
	members := make([]domain.FamilyMember, 0, len(ids))
	for _, id := range ids {
		fields, err := r.client.HGetAll(ctx, r.memberKey(uid, id)).Result()
		if err != nil {
			return nil, fmt.Errorf("read member %s: %w", id, err)
		}
		if len(fields) == 0 {
			continue
		}
		member, err := decodeMember(id, fields)
		if err != nil {
			return nil, err
		}
		members = append(members, member)
	}
	return members, nil
}

// AppendAlert stores an alert record with a server-assigned id and
// creation time and returns the stored record.
func (r *RedisStore) AppendAlert(ctx context.Context, uid string, alert domain.EmergencyAlert) (domain.EmergencyAlert, error) {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	alert.CreatedAt = r.clock.Now()
	payload, err := json.Marshal(alert)
	if err != nil {
		return domain.EmergencyAlert{}, fmt.Errorf("marshal alert: %w", err)
	}
	if err := r.client.ZAdd(ctx, r.alertsKey(uid), redis.Z{
		Score:  float64(alert.CreatedAt.UnixMilli()),
		Member: payload,
	}).Err(); err != nil {
		return domain.EmergencyAlert{}, fmt.Errorf("append alert: %w", err)
	}
	return alert, nil
}

// ListAlerts returns alerts ordered by creation time.
func (r *RedisStore) ListAlerts(ctx context.Context, uid string) ([]domain.EmergencyAlert, error) {
	raw, err := r.client.ZRange(ctx, r.alertsKey(uid), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	alerts := make([]domain.EmergencyAlert, 0, len(raw))
	for _, item := range raw {
		var alert domain.EmergencyAlert
		if err := json.Unmarshal([]byte(item), &alert); err != nil {
			return nil, fmt.Errorf("decode alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}

func encodeMember(member domain.FamilyMember) (map[string]any, error) {
	fields := map[string]any{
		"name":             member.Name,
		"phone":            member.Phone,
		"relation":         member.Relation,
		"avatar":           member.Avatar,
		"isLocationShared": strconv.FormatBool(member.IsLocationShared),
		"createdAt":        strconv.FormatInt(member.CreatedAt.UnixMilli(), 10),
	}
	if member.LastLocationUpdate != nil {
		fields["lastLocationUpdate"] = strconv.FormatInt(*member.LastLocationUpdate, 10)
	}
	if member.Location != nil {
		payload, err := json.Marshal(member.Location)
		if err != nil {
			return nil, fmt.Errorf("marshal member location: %w", err)
		}
		fields["location"] = payload
	}
	return fields, nil
}

func decodeMember(id string, fields map[string]string) (domain.FamilyMember, error) {
	member := domain.FamilyMember{
		ID:       id,
		Name:     fields["name"],
		Phone:    fields["phone"],
		Relation: fields["relation"],
		Avatar:   fields["avatar"],
	}
	member.IsLocationShared, _ = strconv.ParseBool(fields["isLocationShared"])
	if raw, ok := fields["createdAt"]; ok {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			member.CreatedAt = time.UnixMilli(ms).UTC()
		}
	}
	if raw, ok := fields["lastLocationUpdate"]; ok {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			member.LastLocationUpdate = &ms
		}
	}
	if raw, ok := fields["location"]; ok && raw != "" {
		var sample domain.LocationSample
		if err := json.Unmarshal([]byte(raw), &sample); err != nil {
			return domain.FamilyMember{}, fmt.Errorf("decode member %s location: %w", id, err)
		}
		member.Location = &sample
	}
	return member, nil
}
