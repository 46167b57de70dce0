package store

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// AuditRecord is one append-only row per ticket transition. Records for a
// ticket form a hash chain: each row commits to its predecessor, so any
// retroactive edit or deletion breaks verification.
type AuditRecord struct {
	TicketID       string    `json:"ticket_id"`
	Seq            int       `json:"seq"`
	Action         string    `json:"action"`
	PriorStatus    string    `json:"prior_status"`
	NewStatus      string    `json:"new_status"`
	PriorStationID *string   `json:"prior_station_id,omitempty"`
	NewStationID   *string   `json:"new_station_id,omitempty"`
	EmployeeID     string    `json:"employee_id"`
	Remarks        string    `json:"remarks,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	PrevHash       string    `json:"prev_hash"`
	Hash           string    `json:"hash"`
}

func ComputeAuditHash(prevHash string, record AuditRecord) string {
	raw := fmt.Sprintf("%s|%s|%d|%s|%s|%s|%s|%s|%s|%s|%s",
		prevHash,
		record.TicketID,
		record.Seq,
		record.Action,
		record.PriorStatus,
		record.NewStatus,
		stationOrEmpty(record.PriorStationID),
		stationOrEmpty(record.NewStationID),
		record.EmployeeID,
		record.Remarks,
		record.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// VerifyChain walks a ticket's audit records in sequence order and reports
// the first record whose hash or linkage does not hold.
func VerifyChain(records []AuditRecord) error {
	prev := ""
	for i, record := range records {
		if record.Seq != i+1 {
			return fmt.Errorf("audit chain for %s: gap at seq %d", record.TicketID, record.Seq)
		}
		if record.PrevHash != prev {
			return fmt.Errorf("audit chain for %s: broken link at seq %d", record.TicketID, record.Seq)
		}
		if ComputeAuditHash(prev, record) != record.Hash {
			return fmt.Errorf("audit chain for %s: hash mismatch at seq %d", record.TicketID, record.Seq)
		}
		prev = record.Hash
	}
	return nil
}

func stationOrEmpty(stationID *string) string {
	if stationID == nil {
		return ""
	}
	return *stationID
}
