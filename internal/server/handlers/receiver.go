package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/avrlink/avrlink/internal/core"
	"github.com/avrlink/avrlink/internal/core/fetcher"
	"github.com/avrlink/avrlink/internal/core/receiver"
	"github.com/avrlink/avrlink/internal/core/state"
	"github.com/avrlink/avrlink/internal/core/store"
	apperrors "github.com/avrlink/avrlink/internal/errors"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 1000
)

// ReceiverAPI is the part of the receiver client exposed over HTTP.
type ReceiverAPI interface {
	State() state.Snapshot
	Info() *fetcher.DeviceInfo
	Healthy() bool
	Rates() []core.RateSnapshot
	Refresh(ctx context.Context) (*receiver.RefreshResult, error)
	SendCommand(ctx context.Context, cmd string) error
}

// EventJournal lists recently journaled realtime events.
type EventJournal interface {
	RecentEvents(ctx context.Context, limit int) ([]store.EventRecord, error)
}

// ReceiverHandler serves zone state, refresh and command endpoints.
type ReceiverHandler struct {
	api     ReceiverAPI
	journal EventJournal
}

// NewReceiverHandler returns a handler for api. journal may be nil.
func NewReceiverHandler(api ReceiverAPI, journal EventJournal) *ReceiverHandler {
	return &ReceiverHandler{api: api, journal: journal}
}

// CommandRequest is the body accepted by Commands.
type CommandRequest struct {
	Command  string   `json:"command,omitempty"`
	Commands []string `json:"commands,omitempty"`
}

// CommandResponse reports how many commands were sent.
type CommandResponse struct {
	Sent     int  `json:"sent"`
	Realtime bool `json:"realtime"`
}

// RefreshResponse wraps a refresh result.
type RefreshResponse struct {
	*receiver.RefreshResult
	Partial bool `json:"partial"`
}

// State returns the current zone snapshot.
func (h *ReceiverHandler) State(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.api.State())
}

// Info returns the identification result.
func (h *ReceiverHandler) Info(w http.ResponseWriter, r *http.Request) {
	info := h.api.Info()
	if info == nil {
		respondWithError(w, r, receiver.ErrNotSetup)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// Rates returns adaptive limiter snapshots.
func (h *ReceiverHandler) Rates(w http.ResponseWriter, r *http.Request) {
	rates := h.api.Rates()
	if rates == nil {
		rates = []core.RateSnapshot{}
	}
	writeJSON(w, http.StatusOK, rates)
}

// Refresh runs a reconciliation pass. Unresolved attributes are reported
// with partial=true rather than as an error.
func (h *ReceiverHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	result, err := h.api.Refresh(r.Context())
	if err != nil && !(core.IsProcessing(err) && result != nil) {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RefreshResponse{RefreshResult: result, Partial: err != nil})
}

// Commands sends one or more raw receiver commands.
func (h *ReceiverHandler) Commands(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10))
	if err := decoder.Decode(&req); err != nil {
		respondWithError(w, r, fmt.Errorf("%w: decode command body: %v", core.ErrInvalidArgument, err))
		return
	}

	commands := req.Commands
	if req.Command != "" {
		commands = append([]string{req.Command}, commands...)
	}
	if err := validateCommands(commands); err != nil {
		respondWithError(w, r, err)
		return
	}

	realtime := h.api.Healthy()
	for i, cmd := range commands {
		if err := h.api.SendCommand(r.Context(), cmd); err != nil {
			if i == 0 {
				respondWithError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, CommandResponse{Sent: i, Realtime: realtime})
			return
		}
	}
	writeJSON(w, http.StatusOK, CommandResponse{Sent: len(commands), Realtime: realtime})
}

// Events lists journaled realtime events, newest first.
func (h *ReceiverHandler) Events(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		respondWithError(w, r, apperrors.NewServiceUnavailableError("event journal is not enabled"))
		return
	}

	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondWithError(w, r, fmt.Errorf("%w: limit must be a positive integer", core.ErrInvalidArgument))
			return
		}
		limit = min(parsed, maxEventLimit)
	}

	events, err := h.journal.RecentEvents(r.Context(), limit)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func validateCommands(commands []string) error {
	if len(commands) == 0 {
		return fmt.Errorf("%w: at least one command is required", core.ErrInvalidArgument)
	}
	for _, cmd := range commands {
		trimmed := strings.TrimSpace(cmd)
		switch {
		case trimmed == "":
			return fmt.Errorf("%w: empty command", core.ErrInvalidArgument)
		case strings.ContainsAny(cmd, "\r\n"):
			return fmt.Errorf("%w: command %q contains a line break", core.ErrInvalidArgument, cmd)
		}
	}
	return nil
}

// RealtimeChecker reports the realtime channel as a health check.
type RealtimeChecker struct {
	Receiver interface{ Healthy() bool }
}

func (c RealtimeChecker) CheckHealth(ctx context.Context) error {
	if c.Receiver == nil || !c.Receiver.Healthy() {
		return errors.New("realtime channel is down")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}
