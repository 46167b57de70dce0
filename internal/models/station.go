package models

type Station struct {
	StationID   string `json:"station_id"`
	FacilityID  string `json:"facility_id"`
	StationType string `json:"station_type"`
	Name        string `json:"name"`
	Active      bool   `json:"active"`
}

const (
	StationTriage       = "triage"
	StationConsultation = "consultation"
	StationLab          = "lab"
	StationPharmacy     = "pharmacy"
	StationBilling      = "billing"
	StationDocument     = "document"
)
