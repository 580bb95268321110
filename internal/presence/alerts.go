package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/kinsync/internal/geo"
	"github.com/example/kinsync/internal/presence/domain"
)

// AlertDispatcher composes location-attached emergency alerts and writes
// them through the roster store's alert sub-collection. It works whether
// or not ambient sharing is active: the location comes from a one-shot
// read, not the sharing subscription.
type AlertDispatcher struct {
	sampler  *geo.Sampler
	store    domain.RosterStore
	geocoder domain.Geocoder
	conn     *nats.Conn
	clock    domain.Clock
	logger   *zap.Logger

	oneShotTimeout time.Duration
	oneShotMaxAge  time.Duration
}

// NewAlertDispatcher constructs a dispatcher. geocoder and conn may be
// nil; both are best-effort decorations.
func NewAlertDispatcher(sampler *geo.Sampler, store domain.RosterStore, geocoder domain.Geocoder, conn *nats.Conn, clock domain.Clock, logger *zap.Logger) *AlertDispatcher {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertDispatcher{
		sampler:        sampler,
		store:          store,
		geocoder:       geocoder,
		conn:           conn,
		clock:          clock,
		logger:         logger,
		oneShotTimeout: 10 * time.Second,
		oneShotMaxAge:  5 * time.Minute,
	}
}

// Dispatch obtains the current location, composes the alert record, and
// persists it with a server-assigned creation time. ErrNoLocation when
// no fix can be obtained.
func (d *AlertDispatcher) Dispatch(ctx context.Context, uid, alertType, message string) (domain.EmergencyAlert, error) {
	sample, err := d.sampler.Current(ctx, d.oneShotTimeout, d.oneShotMaxAge)
	if err != nil {
		alertsTotal.WithLabelValues("no_location").Inc()
		return domain.EmergencyAlert{}, fmt.Errorf("%w: %v", domain.ErrNoLocation, err)
	}

	alert := domain.EmergencyAlert{
		Type:      alertType,
		Message:   message,
		UserID:    uid,
		Location:  sample,
		Timestamp: d.clock.Now().UnixMilli(),
	}

	if d.geocoder != nil {
		if address, err := d.geocoder.ReverseGeocode(ctx, sample.Point()); err != nil {
			d.logger.Warn("alert address lookup failed", zap.Error(err))
		} else {
			alert.Address = address
		}
	}

	stored, err := d.store.AppendAlert(ctx, uid, alert)
	if err != nil {
		alertsTotal.WithLabelValues("store_failed").Inc()
		return domain.EmergencyAlert{}, fmt.Errorf("append alert: %w", err)
	}
	alertsTotal.WithLabelValues("sent").Inc()

	d.publish(stored)
	return stored, nil
}

func (d *AlertDispatcher) publish(alert domain.EmergencyAlert) {
	if d.conn == nil {
		return
	}
	payload, err := json.Marshal(alert)
	if err != nil {
		d.logger.Warn("marshal alert event", zap.Error(err))
		return
	}
	subject := "presence.alerts." + alert.UserID
	if err := d.conn.PublishMsg(&nats.Msg{Subject: subject, Data: payload, Header: map[string][]string{
		"x-alert-type": {alert.Type},
	}}); err != nil {
		d.logger.Warn("publish alert event", zap.String("subject", subject), zap.Error(err))
	}
}
