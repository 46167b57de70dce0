package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"cityhealth/queue-engine/internal/models"
	"cityhealth/queue-engine/internal/routing"
	"cityhealth/queue-engine/internal/store"

	"github.com/google/uuid"
)

type Handler struct {
	store store.EngineStore

	noShowGrace time.Duration
}

type Options struct {
	NoShowGrace time.Duration
}

func NewHandler(store store.EngineStore, options Options) *Handler {
	return &Handler{
		store:       store,
		noShowGrace: options.NoShowGrace,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/checkin", h.handleCheckIn)
	mux.HandleFunc("/api/stations", h.handleListStations)
	mux.HandleFunc("/api/stations/", h.handleStationSubpath)
	mux.HandleFunc("/api/tickets/", h.handleTicketSubpath)
	mux.HandleFunc("/api/sweep/no-shows", h.handleSweepNoShows)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type checkInRequest struct {
	AppointmentID string `json:"appointment_id"`
	EmployeeID    string `json:"employee_id"`
}

func (h *Handler) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req checkInRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	req.EmployeeID = strings.TrimSpace(req.EmployeeID)
	if req.AppointmentID == "" || req.EmployeeID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "appointment_id and employee_id are required")
		return
	}
	if !isValidUUID(req.AppointmentID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "appointment_id must be a UUID")
		return
	}

	ticket, err := h.store.CheckIn(r.Context(), store.CheckInInput{
		AppointmentID: req.AppointmentID,
		EmployeeID:    req.EmployeeID,
		CheckInAt:     time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	writeJSON(w, http.StatusCreated, ticket)
}

func (h *Handler) handleListStations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	facilityID := strings.TrimSpace(r.URL.Query().Get("facility_id"))
	stationType := strings.TrimSpace(r.URL.Query().Get("type"))
	if stationType != "" && !routing.ValidStationType(stationType) {
		writeError(w, http.StatusBadRequest, "invalid_request", "type must be a known station type")
		return
	}

	stations, err := h.store.ListStations(r.Context(), facilityID, stationType)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, stations)
}

func (h *Handler) handleStationSubpath(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/stations/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case len(parts) == 2 && parts[1] == "queue":
		h.handleStationQueue(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "actions" && parts[2] == "call-next":
		h.handleCallNext(w, r, parts[0])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleStationQueue(w http.ResponseWriter, r *http.Request, stationID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isValidUUID(stationID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "station_id must be a UUID")
		return
	}

	queue, err := h.store.StationQueue(r.Context(), stationID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, queue)
}

type callNextRequest struct {
	EmployeeID string `json:"employee_id"`
}

func (h *Handler) handleCallNext(w http.ResponseWriter, r *http.Request, stationID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isValidUUID(stationID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "station_id must be a UUID")
		return
	}

	var req callNextRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.EmployeeID = strings.TrimSpace(req.EmployeeID)
	if req.EmployeeID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "employee_id is required")
		return
	}

	ticket, err := h.store.CallNext(r.Context(), store.CallNextInput{
		StationID:  stationID,
		EmployeeID: req.EmployeeID,
		CalledAt:   time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, store.ErrQueueEmpty) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleTicketSubpath(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tickets/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	ticketID := parts[0]
	if !isValidUUID(ticketID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "ticket_id must be a UUID")
		return
	}

	switch {
	case len(parts) == 1:
		h.handleGetTicket(w, r, ticketID)
	case len(parts) == 2 && parts[1] == "history":
		h.handleTicketHistory(w, r, ticketID)
	case len(parts) == 3 && parts[1] == "actions":
		h.handleTicketAction(w, r, ticketID, parts[2])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetTicket(w http.ResponseWriter, r *http.Request, ticketID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ticket, err := h.store.GetTicket(r.Context(), ticketID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleTicketHistory(w http.ResponseWriter, r *http.Request, ticketID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	records, err := h.store.TicketHistory(r.Context(), ticketID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, records)
}

type ticketActionRequest struct {
	EmployeeID        string `json:"employee_id"`
	StationID         string `json:"station_id"`
	TargetStationType string `json:"target_station_type"`
	Reason            string `json:"reason"`
	Remarks           string `json:"remarks"`
}

func (h *Handler) handleTicketAction(w http.ResponseWriter, r *http.Request, ticketID, action string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req ticketActionRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.EmployeeID = strings.TrimSpace(req.EmployeeID)
	req.StationID = strings.TrimSpace(req.StationID)
	req.TargetStationType = strings.TrimSpace(req.TargetStationType)
	req.Reason = strings.TrimSpace(req.Reason)
	req.Remarks = strings.TrimSpace(req.Remarks)
	if req.EmployeeID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "employee_id is required")
		return
	}

	input := store.TicketActionInput{
		TicketID:          ticketID,
		StationID:         req.StationID,
		EmployeeID:        req.EmployeeID,
		TargetStationType: req.TargetStationType,
		Reason:            req.Reason,
		Remarks:           req.Remarks,
		OccurredAt:        time.Now().UTC(),
	}

	var op func(ctx context.Context, input store.TicketActionInput) (models.Ticket, bool, error)
	switch action {
	case "call":
		if req.StationID == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "station_id is required")
			return
		}
		if !isValidUUID(req.StationID) {
			writeError(w, http.StatusBadRequest, "invalid_request", "station_id must be a UUID")
			return
		}
		op = h.store.Call
	case "skip":
		op = h.store.Skip
	case "recall":
		op = h.store.Recall
	case "route":
		if req.TargetStationType == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "target_station_type is required")
			return
		}
		if !routing.ValidStationType(req.TargetStationType) {
			writeError(w, http.StatusBadRequest, "invalid_request", "target_station_type must be a known station type")
			return
		}
		op = h.store.Route
	case "complete":
		op = h.store.Complete
	case "cancel":
		op = h.store.Cancel
	case "no-show":
		op = h.store.NoShow
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}

	ticket, _, err := op(r.Context(), input)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

type sweepRequest struct {
	EmployeeID   string `json:"employee_id"`
	GraceMinutes int    `json:"grace_minutes"`
	BatchSize    int    `json:"batch_size"`
}

type sweepResponse struct {
	Swept int `json:"swept"`
}

func (h *Handler) handleSweepNoShows(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req sweepRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.EmployeeID = strings.TrimSpace(req.EmployeeID)
	if req.EmployeeID == "" {
		req.EmployeeID = "system"
	}
	if req.GraceMinutes < 0 || req.BatchSize < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "grace_minutes and batch_size must not be negative")
		return
	}

	grace := h.noShowGrace
	if req.GraceMinutes > 0 {
		grace = time.Duration(req.GraceMinutes) * time.Minute
	}

	swept, err := h.store.SweepNoShows(r.Context(), store.SweepInput{
		EmployeeID: req.EmployeeID,
		Grace:      grace,
		BatchSize:  req.BatchSize,
		Now:        time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, sweepResponse{Swept: swept})
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrStationNotFound):
		return http.StatusNotFound, "station_not_found", "station not found"
	case errors.Is(err, store.ErrInvalidAppointment):
		return http.StatusUnprocessableEntity, "invalid_appointment", "appointment does not exist or is not open for check-in"
	case errors.Is(err, store.ErrDuplicateCheckIn):
		return http.StatusConflict, "duplicate_check_in", "patient already has a live ticket for this appointment"
	case errors.Is(err, store.ErrNoActiveStation):
		return http.StatusConflict, "no_active_station", "no active station of the required type"
	case errors.Is(err, store.ErrWrongStation):
		return http.StatusConflict, "wrong_station", "ticket belongs to a different station"
	case errors.Is(err, store.ErrNotWaiting):
		return http.StatusConflict, "not_waiting", "ticket is not waiting"
	case errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition", "ticket state does not allow this action"
	case errors.Is(err, store.ErrConcurrentModification):
		return http.StatusConflict, "concurrent_modification", "another operator updated this ticket; refresh the queue and retry"
	case errors.Is(err, store.ErrSequenceOverflow):
		return http.StatusConflict, "sequence_overflow", "ticket numbers for this period are exhausted"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
