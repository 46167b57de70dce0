package models

import "time"

type Visit struct {
	VisitID       string    `json:"visit_id"`
	PatientID     string    `json:"patient_id"`
	AppointmentID string    `json:"appointment_id"`
	FacilityID    string    `json:"facility_id"`
	VisitDate     time.Time `json:"visit_date"`
	Status        string    `json:"status"`
}

const (
	VisitOngoing   = "ongoing"
	VisitCompleted = "completed"
	VisitCancelled = "cancelled"
	VisitNoShow    = "no_show"
)
