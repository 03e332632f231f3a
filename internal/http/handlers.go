package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/seat-holds/internal/domain"
	"github.com/robertarktes/seat-holds/internal/reservation"
)

const sseHeartbeat = 15 * time.Second

// Service is the seat protocol as the handlers use it.
type Service interface {
	SeedShow(ctx context.Context) (domain.Show, error)
	ListSeats(ctx context.Context, showID uuid.UUID) ([]domain.Seat, error)
	ListBookings(ctx context.Context, ref domain.SeatRef) ([]domain.Booking, error)
	PeekHold(ctx context.Context, ref domain.SeatRef) (string, bool, error)
	Hold(ctx context.Context, ref domain.SeatRef, user string) (reservation.HoldResult, error)
	Confirm(ctx context.Context, ref domain.SeatRef, user string) error
	Release(ctx context.Context, ref domain.SeatRef, user string) error
}

type Subscriber interface {
	Subscribe(showID uuid.UUID) (<-chan domain.ChangeEvent, func())
}

// ReadinessCheck is one dependency checked by /v1/readyz.
type ReadinessCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

type Handlers struct {
	svc    Service
	events Subscriber
	checks []ReadinessCheck
}

func NewHandlers(svc Service, events Subscriber, checks ...ReadinessCheck) *Handlers {
	return &Handlers{svc: svc, events: events, checks: checks}
}

type seatRequest struct {
	ShowID uuid.UUID `json:"show_id"`
	SeatID string    `json:"seat_id"`
	User   string    `json:"user"`
}

func (s seatRequest) ref() domain.SeatRef {
	return domain.SeatRef{ShowID: s.ShowID, SeatID: s.SeatID}
}

func decodeSeatRequest(w http.ResponseWriter, r *http.Request) (seatRequest, bool) {
	var req seatRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

func seatRefParam(r *http.Request) (domain.SeatRef, error) {
	showID, err := uuid.Parse(chi.URLParam(r, "showID"))
	if err != nil {
		return domain.SeatRef{}, domain.ErrInvalidInput
	}
	ref := domain.SeatRef{ShowID: showID, SeatID: chi.URLParam(r, "seatID")}
	return ref, ref.Validate()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps protocol errors to status codes. Store failures are logged
// with their cause and reported to the client without it.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		http.Error(w, "invalid input", http.StatusBadRequest)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrConflict):
		http.Error(w, "seat already held", http.StatusConflict)
	case errors.Is(err, domain.ErrNoActiveHold):
		http.Error(w, "no active hold", http.StatusConflict)
	default:
		LoggerFrom(r.Context()).WithError(err).Error("request failed")
		http.Error(w, "service unavailable, retry", http.StatusServiceUnavailable)
	}
}

func (h *Handlers) SeedShow(w http.ResponseWriter, r *http.Request) {
	show, err := h.svc.SeedShow(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"show_id": show.ID})
}

func (h *Handlers) ListSeats(w http.ResponseWriter, r *http.Request) {
	showID, err := uuid.Parse(chi.URLParam(r, "showID"))
	if err != nil {
		http.Error(w, "invalid show id", http.StatusBadRequest)
		return
	}
	seats, err := h.svc.ListSeats(r.Context(), showID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, seats)
}

func (h *Handlers) Hold(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSeatRequest(w, r)
	if !ok {
		return
	}
	res, err := h.svc.Hold(r.Context(), req.ref(), req.User)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"booking_id": res.Booking.ID,
		"expires_at": res.ExpiresAt.Format(time.RFC3339),
	})
}

func (h *Handlers) Confirm(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSeatRequest(w, r)
	if !ok {
		return
	}
	if err := h.svc.Confirm(r.Context(), req.ref(), req.User); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"show_id": req.ShowID,
		"seat_id": req.SeatID,
		"status":  domain.SeatBooked,
	})
}

func (h *Handlers) Release(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSeatRequest(w, r)
	if !ok {
		return
	}
	if err := h.svc.Release(r.Context(), req.ref(), req.User); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"show_id": req.ShowID,
		"seat_id": req.SeatID,
		"status":  domain.SeatAvailable,
	})
}

func (h *Handlers) PeekHold(w http.ResponseWriter, r *http.Request) {
	ref, err := seatRefParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	holder, held, err := h.svc.PeekHold(r.Context(), ref)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"held": held, "holder": holder})
}

func (h *Handlers) ListBookings(w http.ResponseWriter, r *http.Request) {
	ref, err := seatRefParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	bookings, err := h.svc.ListBookings(r.Context(), ref)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if bookings == nil {
		bookings = []domain.Booking{}
	}
	writeJSON(w, http.StatusOK, bookings)
}

// Events streams seat-update notifications for one show as server-sent
// events until the client goes away.
func (h *Handlers) Events(w http.ResponseWriter, r *http.Request) {
	showID, err := uuid.Parse(chi.URLParam(r, "showID"))
	if err != nil {
		http.Error(w, "invalid show id", http.StatusBadRequest)
		return
	}
	rc := http.NewResponseController(w)
	rc.SetWriteDeadline(time.Time{})

	events, cancel := h.events.Subscribe(showID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, _ := json.Marshal(ev)
			fmt.Fprintf(w, "event: seat-update\ndata: %s\n\n", data)
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for _, c := range h.checks {
		if err := c.Ping(ctx); err != nil {
			LoggerFrom(r.Context()).WithError(err).WithField("dependency", c.Name).Warn("readiness check failed")
			http.Error(w, c.Name+" unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}
