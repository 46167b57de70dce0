package store

import (
	"context"
	"time"

	"cityhealth/queue-engine/internal/models"
)

type CheckInInput struct {
	AppointmentID string
	EmployeeID    string
	CheckInAt     time.Time
}

type CallNextInput struct {
	StationID  string
	EmployeeID string
	CalledAt   time.Time
}

type TicketActionInput struct {
	TicketID          string
	StationID         string
	EmployeeID        string
	TargetStationType string
	Reason            string
	Remarks           string
	OccurredAt        time.Time
}

type SweepInput struct {
	EmployeeID string
	Grace      time.Duration
	BatchSize  int
	Now        time.Time
}

// QueueEntry is a ticket enriched with the display fields station operators
// see on their queue panel.
type QueueEntry struct {
	models.Ticket
	PatientName string `json:"patient_name"`
	Service     string `json:"service"`
}

// StationQueue is the read projection for one station: recomputed on every
// read, never stored.
type StationQueue struct {
	Station        models.Station `json:"station"`
	ForwardTargets []string       `json:"forward_targets,omitempty"`
	Waiting        []QueueEntry   `json:"waiting"`
	InProgress     []QueueEntry   `json:"in_progress"`
	Skipped        []QueueEntry   `json:"skipped"`
	DoneToday      []QueueEntry   `json:"done_today"`
}

// EngineStore is the persistence-backed routing engine. Every mutating
// method runs as one transaction covering the ticket mutation, the visit
// update where applicable, and exactly one audit record; the returned bool
// reports whether the call mutated state (false for an idempotent replay).
type EngineStore interface {
	CheckIn(ctx context.Context, input CheckInInput) (models.Ticket, error)
	Call(ctx context.Context, input TicketActionInput) (models.Ticket, bool, error)
	CallNext(ctx context.Context, input CallNextInput) (models.Ticket, error)
	Skip(ctx context.Context, input TicketActionInput) (models.Ticket, bool, error)
	Recall(ctx context.Context, input TicketActionInput) (models.Ticket, bool, error)
	Route(ctx context.Context, input TicketActionInput) (models.Ticket, bool, error)
	Complete(ctx context.Context, input TicketActionInput) (models.Ticket, bool, error)
	Cancel(ctx context.Context, input TicketActionInput) (models.Ticket, bool, error)
	NoShow(ctx context.Context, input TicketActionInput) (models.Ticket, bool, error)
	SweepNoShows(ctx context.Context, input SweepInput) (int, error)

	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	StationQueue(ctx context.Context, stationID string) (StationQueue, error)
	TicketHistory(ctx context.Context, ticketID string) ([]AuditRecord, error)
	ListStations(ctx context.Context, facilityID, stationType string) ([]models.Station, error)
}
