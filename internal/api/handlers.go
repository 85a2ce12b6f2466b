package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/biothread/vitalgate/internal/events"
	"github.com/biothread/vitalgate/internal/ledger"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	counts, err := s.ledger.CountByState(r.Context())
	if err != nil {
		s.logger.Error("failed to count ledger events", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to count ledger events")
		return
	}

	byState := make(map[string]int, len(counts))
	for state, n := range counts {
		byState[string(state)] = n
	}

	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Events:        byState,
	})
}

// handleListEvents handles GET /events with limit/offset paging.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveInt(r.URL.Query().Get("limit"), 25)
	if limit > 200 {
		limit = 200
	}
	offset := parsePositiveInt(r.URL.Query().Get("offset"), 0)

	list, err := s.ledger.List(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("failed to list events", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	resp := EventListResponse{
		Events: make([]EventSummary, 0, len(list)),
		Limit:  limit,
		Offset: offset,
	}
	for _, ev := range list {
		resp.Events = append(resp.Events, summarize(ev))
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleGetEvent handles GET /events/{id}.
func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ev, err := s.ledger.Get(r.Context(), id)
	if errors.Is(err, ledger.ErrEventNotFound) {
		s.writeError(w, http.StatusNotFound, "event not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to retrieve event", "id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve event")
		return
	}

	resp := EventDetailResponse{
		EventSummary: summarize(ev),
		RejectReason: ev.RejectReason,
		RawPayload:   string(ev.RawPayload),
	}
	if ev.VerifiedAt != nil {
		v := ev.VerifiedAt.Format(time.RFC3339Nano)
		resp.VerifiedAt = &v
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleLinkUser handles POST /users/link.
func (s *Server) handleLinkUser(w http.ResponseWriter, r *http.Request) {
	var req LinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.ExternalRef = strings.TrimSpace(req.ExternalRef)
	req.UserID = strings.TrimSpace(req.UserID)
	if req.ExternalRef == "" || req.UserID == "" {
		s.writeError(w, http.StatusBadRequest, "external_ref and user_id are required")
		return
	}

	if err := s.users.Link(r.Context(), req.ExternalRef, req.UserID); err != nil {
		s.logger.Error("failed to link user", "external_ref", req.ExternalRef, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to link user")
		return
	}

	s.hub.Publish(events.TypeUserLinked, map[string]string{
		"external_ref": req.ExternalRef,
		"user_id":      req.UserID,
	})
	s.logger.Info("user linked", "external_ref", req.ExternalRef, "user_id", req.UserID)

	respondJSON(w, http.StatusOK, LinkResponse{
		ExternalRef: req.ExternalRef,
		UserID:      req.UserID,
		Status:      "linked",
	})
}

// handleUnlinkUser handles DELETE /users/link/{ref}.
func (s *Server) handleUnlinkUser(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	if ref == "" {
		s.writeError(w, http.StatusBadRequest, "external ref is required")
		return
	}

	if err := s.users.Unlink(r.Context(), ref); err != nil {
		s.logger.Error("failed to unlink user", "external_ref", ref, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to unlink user")
		return
	}

	s.hub.Publish(events.TypeUserUnlinked, map[string]string{"external_ref": ref})

	respondJSON(w, http.StatusOK, LinkResponse{
		ExternalRef: ref,
		Status:      "unlinked",
	})
}

// handleWidgetSession handles POST /widget-session.
func (s *Server) handleWidgetSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		s.writeError(w, http.StatusServiceUnavailable, "aggregator not configured")
		return
	}

	var req WidgetSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		s.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	session, err := s.sessions.GenerateWidgetSession(r.Context(), req.UserID, req.Providers, req.SuccessURL, req.FailureURL)
	if err != nil {
		s.logger.Error("failed to generate widget session", "user_id", req.UserID, "error", err)
		s.writeError(w, http.StatusBadGateway, "failed to generate widget session")
		return
	}

	respondJSON(w, http.StatusOK, WidgetSessionResponse{
		URL:       session.URL,
		SessionID: session.SessionID,
		ExpiresIn: session.ExpiresIn,
	})
}

func summarize(ev *ledger.Event) EventSummary {
	out := EventSummary{
		ID:         ev.ID,
		DeliveryID: ev.DeliveryID,
		UserRef:    ev.UserRef,
		UserID:     ev.UserID,
		EventType:  ev.EventType,
		State:      string(ev.State),
		ReceivedAt: ev.ReceivedAt.Format(time.RFC3339Nano),
	}
	if ev.FinishedAt != nil {
		f := ev.FinishedAt.Format(time.RFC3339Nano)
		out.FinishedAt = &f
	}
	return out
}

func parsePositiveInt(v string, fallback int) int {
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

// respondJSON is a helper to write JSON responses.
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
