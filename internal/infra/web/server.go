package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"recurring-billing/internal/domain"
	"recurring-billing/internal/domain/model"
	"recurring-billing/internal/domain/ports/repository"
	"recurring-billing/internal/usecase"
)

// Server is the operator API: stop/reactivate/manual-charge entries,
// inspect a user's schedule chain, and run an off-cycle sweep.
type Server struct {
	proc      usecase.OutcomeProcessor
	schedules repository.ScheduleRepository
	charges   repository.ChargeRepository
	tiers     repository.TierRepository
	auth      *AuthManager
	sweep     func() // triggers one driver poll cycle
	log       *zerolog.Logger
}

func NewServer(
	proc usecase.OutcomeProcessor,
	schedules repository.ScheduleRepository,
	charges repository.ChargeRepository,
	tiers repository.TierRepository,
	auth *AuthManager,
	sweep func(),
	logger *zerolog.Logger,
) *Server {
	l := logger.With().Str("component", "AdminServer").Logger()
	return &Server{
		proc:      proc,
		schedules: schedules,
		charges:   charges,
		tiers:     tiers,
		auth:      auth,
		sweep:     sweep,
		log:       &l,
	}
}

func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.auth.Middleware)

		r.Route("/entries/{id}", func(r chi.Router) {
			r.Get("/", s.getEntry)
			r.Post("/stop", s.stopEntry)
			r.Post("/reactivate", s.reactivateEntry)
			r.Post("/charge", s.chargeEntry)
		})
		r.Get("/entries", s.listDue)
		r.Get("/users/{id}/schedule", s.userSchedule)
		r.Post("/charges/{id}/schedule", s.scheduleFirst)
		r.Post("/charges/{id}/refund", s.refundCharge)
		r.Get("/tiers", s.listTiers)
		r.Post("/sweep", s.runSweep)
	})

	return r
}

type entryResponse struct {
	ID                  string     `json:"id"`
	UserID              string     `json:"user_id"`
	Gateway             string     `json:"gateway"`
	TierID              string     `json:"tier_id"`
	ChargeAt            time.Time  `json:"charge_at"`
	Retries             int        `json:"retries"`
	State               string     `json:"state"`
	ResultCode          *string    `json:"result_code,omitempty"`
	ResultMessage       string     `json:"result_message,omitempty"`
	Note                string     `json:"note,omitempty"`
	OriginatingChargeID string     `json:"originating_charge_id"`
	ProducedChargeID    *string    `json:"produced_charge_id,omitempty"`
	TokenExpiresAt      *time.Time `json:"token_expires_at,omitempty"`
}

func toEntryResponse(e *model.ScheduleEntry) entryResponse {
	return entryResponse{
		ID:                  e.ID,
		UserID:              e.UserID,
		Gateway:             e.Gateway,
		TierID:              e.TierID,
		ChargeAt:            e.ChargeAt,
		Retries:             e.Retries,
		State:               string(e.State),
		ResultCode:          e.ResultCode,
		ResultMessage:       e.ResultMessage,
		Note:                e.Note,
		OriginatingChargeID: e.OriginatingChargeID,
		ProducedChargeID:    e.ProducedChargeID,
		TokenExpiresAt:      e.TokenExpiresAt,
	}
}

func (s *Server) getEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := s.schedules.FindByID(r.Context(), nil, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toEntryResponse(entry))
}

func (s *Server) stopEntry(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Actor string `json:"actor"` // "user" or "admin"
		Note  string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	actor := usecase.StopActor(body.Actor)
	if actor != usecase.StopActorUser && actor != usecase.StopActorAdmin {
		http.Error(w, "actor must be 'user' or 'admin'", http.StatusBadRequest)
		return
	}

	if err := s.proc.Stop(r.Context(), chi.URLParam(r, "id"), actor, body.Note); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) reactivateEntry(w http.ResponseWriter, r *http.Request) {
	if err := s.proc.Reactivate(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) chargeEntry(w http.ResponseWriter, r *http.Request) {
	charge, err := s.proc.ChargeToken(r.Context(), chi.URLParam(r, "id"))
	if err != nil && charge == nil {
		s.writeError(w, err)
		return
	}
	status := http.StatusOK
	if err != nil {
		// The attempt ran but failed; return the declined record.
		status = http.StatusBadGateway
	}
	s.writeJSON(w, status, map[string]interface{}{
		"charge_id": charge.ID,
		"status":    string(charge.Status),
		"amount":    charge.Amount,
		"currency":  charge.Currency,
	})
}

func (s *Server) listDue(w http.ResponseWriter, r *http.Request) {
	lookahead := time.Duration(0)
	if raw := r.URL.Query().Get("lookahead"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			http.Error(w, "bad lookahead duration", http.StatusBadRequest)
			return
		}
		lookahead = d
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "bad limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := s.schedules.ListChargeableNow(r.Context(), nil, time.Now(), lookahead, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryResponse(e))
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"items": out})
}

func (s *Server) userSchedule(w http.ResponseWriter, r *http.Request) {
	entries, err := s.schedules.ListByUser(r.Context(), nil, chi.URLParam(r, "id"))
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.writeError(w, err)
		return
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryResponse(e))
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"items": out})
}

func (s *Server) scheduleFirst(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TokenCID       string     `json:"token_cid"`
		TokenExpiresAt *time.Time `json:"token_expires_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	entry, err := s.proc.ScheduleFirst(r.Context(), chi.URLParam(r, "id"), body.TokenCID, body.TokenExpiresAt)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toEntryResponse(entry))
}

func (s *Server) refundCharge(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	charge, err := s.proc.Refund(r.Context(), chi.URLParam(r, "id"), body.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"charge_id": charge.ID,
		"status":    string(charge.Status),
	})
}

func (s *Server) listTiers(w http.ResponseWriter, r *http.Request) {
	tiers, err := s.tiers.ListAll(r.Context(), nil)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"items": tiers})
}

func (s *Server) runSweep(w http.ResponseWriter, r *http.Request) {
	if s.sweep == nil {
		http.Error(w, "sweep not wired", http.StatusServiceUnavailable)
		return
	}
	go s.sweep()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("response encoding failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrTerminalState),
		errors.Is(err, domain.ErrEntryNotStoppable),
		errors.Is(err, domain.ErrEntryNotReactivatable),
		errors.Is(err, domain.ErrDuplicateSchedule),
		errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, domain.ErrRefundUnsupported),
		errors.Is(err, domain.ErrFastCharge),
		errors.Is(err, domain.ErrTokenExpired):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrEntryClaimed):
		http.Error(w, "entry is being processed", http.StatusConflict)
	default:
		s.log.Error().Err(err).Msg("admin request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
