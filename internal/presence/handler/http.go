package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/kinsync/internal/geo"
	"github.com/example/kinsync/internal/presence"
	"github.com/example/kinsync/internal/presence/domain"
)

// HTTP maps the engine surface onto the presence REST API consumed by
// the presentation layer.
type HTTP struct {
	engine *presence.Engine
}

// New creates the handler.
func New(engine *presence.Engine) *HTTP {
	return &HTTP{engine: engine}
}

// Router builds the chi router.
func (h *HTTP) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/v1/sharing/start", h.startSharing)
	r.Post("/v1/sharing/stop", h.stopSharing)
	r.Get("/v1/sharing", h.sharingStatus)
	r.Get("/v1/location", h.currentLocation)
	r.Get("/v1/family", h.familyLocations)
	r.Get("/v1/family/snapshot", h.familySnapshot)
	r.Post("/v1/family", h.addMember)
	r.Delete("/v1/family/{memberID}", h.removeMember)
	r.Put("/v1/family/{memberID}/sharing", h.toggleMember)
	r.Post("/v1/alerts", h.sendAlert)
	return r
}

func (h *HTTP) startSharing(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.StartLocationSharing(r.Context()); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrPermissionDenied) {
			status = http.StatusForbidden
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"sharing": true})
}

func (h *HTTP) stopSharing(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.StopLocationSharing(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"sharing": false})
}

func (h *HTTP) sharingStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"sharing": h.engine.SharingStatus()})
}

func (h *HTTP) currentLocation(w http.ResponseWriter, r *http.Request) {
	sample, err := h.engine.CurrentLocation(r.Context())
	if err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, domain.ErrPermissionDenied) {
			status = http.StatusForbidden
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, sample)
}

// memberView decorates a roster entry with the presentation fields the
// map layer renders: freshness label, marker state, and distance from
// the caller's own last fix.
type memberView struct {
	domain.FamilyMember
	Freshness  string     `json:"freshness,omitempty"`
	Marker     geo.Marker `json:"marker,omitempty"`
	DistanceKm *float64   `json:"distanceKm,omitempty"`
}

func (h *HTTP) familyLocations(w http.ResponseWriter, r *http.Request) {
	members, err := h.engine.FamilyLocations(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, h.decorate(members))
}

func (h *HTTP) decorate(members map[string]domain.FamilyMember) map[string]memberView {
	now := time.Now().UTC()
	self := h.engine.LastKnownLocation()
	views := make(map[string]memberView, len(members))
	for id, member := range members {
		view := memberView{FamilyMember: member}
		if member.LastLocationUpdate != nil {
			last := time.UnixMilli(*member.LastLocationUpdate).UTC()
			view.Freshness = geo.FreshnessLabel(now, last)
			view.Marker = geo.MarkerState(now, last)
		}
		if member.Location != nil && self != nil {
			dist := geo.HaversineKm(self.Point(), member.Location.Point())
			view.DistanceKm = &dist
		}
		views[id] = view
	}
	return views
}

func (h *HTTP) familySnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.FamilyMembers())
}

type addMemberRequest struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Relation string `json:"relation"`
	Avatar   string `json:"avatar"`
}

func (h *HTTP) addMember(w http.ResponseWriter, r *http.Request) {
	var req addMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if req.Name == "" || req.Phone == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name and phone are required"})
		return
	}
	member, err := h.engine.AddFamilyMember(r.Context(), domain.NewMemberInput{
		Name:     req.Name,
		Phone:    req.Phone,
		Relation: req.Relation,
		Avatar:   req.Avatar,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, member)
}

func (h *HTTP) removeMember(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.RemoveFamilyMember(r.Context(), chi.URLParam(r, "memberID")); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *HTTP) toggleMember(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if err := h.engine.ToggleMemberSharing(r.Context(), chi.URLParam(r, "memberID"), req.Enabled); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": req.Enabled})
}

type alertRequest struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (h *HTTP) sendAlert(w http.ResponseWriter, r *http.Request) {
	var req alertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if req.Type == "" {
		req.Type = "emergency"
	}
	alert, err := h.engine.SendEmergencyAlert(r.Context(), req.Type, req.Message)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrNoLocation) {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, alert)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
