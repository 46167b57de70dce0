package routing

import "cityhealth/queue-engine/internal/models"

// forwardMap is the configured station adjacency: each routing station type
// lists the station types it may hand a ticket to. Pharmacy and document are
// end points and never appear as sources.
var forwardMap = map[string][]string{
	models.StationTriage:       {models.StationConsultation},
	models.StationConsultation: {models.StationLab, models.StationPharmacy, models.StationBilling, models.StationDocument},
	models.StationLab:          {models.StationConsultation, models.StationBilling, models.StationPharmacy},
	models.StationBilling:      {models.StationPharmacy, models.StationDocument, models.StationLab},
}

func ValidStationType(stationType string) bool {
	switch stationType {
	case models.StationTriage, models.StationConsultation, models.StationLab,
		models.StationPharmacy, models.StationBilling, models.StationDocument:
		return true
	default:
		return false
	}
}

// EndPoint reports whether completing at this station type terminates the
// visit.
func EndPoint(stationType string) bool {
	return stationType == models.StationPharmacy || stationType == models.StationDocument
}

// CanRoute reports whether a ticket in progress at a station of type from may
// be forwarded to a station of type to.
func CanRoute(from, to string) bool {
	for _, target := range forwardMap[from] {
		if target == to {
			return true
		}
	}
	return false
}

// ForwardTargets returns the configured forward targets for a station type,
// nil for end-point stations.
func ForwardTargets(from string) []string {
	targets := forwardMap[from]
	if len(targets) == 0 {
		return nil
	}
	out := make([]string, len(targets))
	copy(out, targets)
	return out
}
