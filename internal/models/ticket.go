package models

import "time"

type Ticket struct {
	TicketID      string    `json:"ticket_id"`
	TicketCode    string    `json:"ticket_code"`
	VisitID       string    `json:"visit_id"`
	AppointmentID string    `json:"appointment_id"`
	PatientID     string    `json:"patient_id"`
	StationID     string    `json:"station_id"`
	Priority      string    `json:"priority"`
	Status        string    `json:"status"`
	Remarks       string    `json:"remarks,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

const (
	StatusWaiting    = "waiting"
	StatusInProgress = "in_progress"
	StatusDone       = "done"
	StatusSkipped    = "skipped"
	StatusCancelled  = "cancelled"
	StatusNoShow     = "no_show"
)

const (
	PriorityNormal    = "normal"
	PriorityPriority  = "priority"
	PriorityEmergency = "emergency"
)

// PriorityWeight orders queue rows: emergency ahead of priority ahead of
// normal. Ties break on original check-in time, never on recall time.
func PriorityWeight(priority string) int {
	switch priority {
	case PriorityEmergency:
		return 2
	case PriorityPriority:
		return 1
	default:
		return 0
	}
}

// Terminal reports whether a ticket status can no longer change.
func Terminal(status string) bool {
	switch status {
	case StatusDone, StatusCancelled, StatusNoShow:
		return true
	default:
		return false
	}
}
