package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cityhealth/queue-engine/internal/models"
	"cityhealth/queue-engine/internal/queuecode"
	"cityhealth/queue-engine/internal/routing"
	"cityhealth/queue-engine/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

const ticketColumns = "ticket_id, ticket_code, visit_id, appointment_id, patient_id, station_id, priority, status, remarks, created_at, updated_at"

// priorityOrder sorts emergency ahead of priority ahead of normal; ties break
// on the original check-in time. Recalled tickets keep their created_at, so
// they resume their original position.
const priorityOrder = `
	CASE priority WHEN 'emergency' THEN 2 WHEN 'priority' THEN 1 ELSE 0 END DESC,
	created_at ASC
`

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) CheckIn(ctx context.Context, input store.CheckInInput) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	checkInAt := input.CheckInAt
	if checkInAt.IsZero() {
		checkInAt = time.Now().UTC()
	}

	var patientID, facilityID, apptStatus string
	var firstStationType sql.NullString
	var emergency, senior, pwd bool
	row := tx.QueryRow(ctx, `
		SELECT a.patient_id, a.facility_id, a.status, a.first_station_type, a.emergency, p.senior, p.pwd
		FROM appointments a
		JOIN patients p ON p.patient_id = a.patient_id
		WHERE a.appointment_id = $1
		FOR UPDATE OF a
	`, input.AppointmentID)
	if err = row.Scan(&patientID, &facilityID, &apptStatus, &firstStationType, &emergency, &senior, &pwd); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrInvalidAppointment
		}
		return models.Ticket{}, err
	}
	switch apptStatus {
	case "scheduled":
	case "checked_in":
		return models.Ticket{}, store.ErrDuplicateCheckIn
	default:
		return models.Ticket{}, store.ErrInvalidAppointment
	}

	priority := models.PriorityNormal
	if senior || pwd {
		priority = models.PriorityPriority
	}
	if emergency {
		priority = models.PriorityEmergency
	}

	stationType := models.StationTriage
	if firstStationType.Valid && firstStationType.String != "" {
		stationType = firstStationType.String
	}
	station, err := activeStationByType(ctx, tx, facilityID, stationType)
	if err != nil {
		return models.Ticket{}, err
	}

	seq, err := nextCodeSequence(ctx, tx, facilityID, checkInAt)
	if err != nil {
		return models.Ticket{}, err
	}
	code, err := queuecode.Generate(checkInAt, seq-1)
	if err != nil {
		return models.Ticket{}, store.ErrSequenceOverflow
	}

	visitID := uuid.NewString()
	_, err = tx.Exec(ctx, `
		INSERT INTO visits (visit_id, patient_id, appointment_id, facility_id, visit_date, status)
		VALUES ($1, $2, $3, $4, $5, 'ongoing')
	`, visitID, patientID, input.AppointmentID, facilityID, checkInAt.Format("2006-01-02"))
	if err != nil {
		if isUniqueViolation(err) {
			err = store.ErrDuplicateCheckIn
		}
		return models.Ticket{}, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE appointments SET status = 'checked_in' WHERE appointment_id = $1
	`, input.AppointmentID)
	if err != nil {
		return models.Ticket{}, err
	}

	var ticket models.Ticket
	row = tx.QueryRow(ctx, `
		INSERT INTO queue_tickets (
			ticket_id, ticket_code, visit_id, appointment_id, patient_id,
			station_id, priority, status, remarks, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, '', $9, $9)
		RETURNING `+ticketColumns+`
	`, uuid.NewString(), code, visitID, input.AppointmentID, patientID, station.StationID, priority, models.StatusWaiting, checkInAt)
	if err = scanTicket(row, &ticket); err != nil {
		if isUniqueViolation(err) {
			err = store.ErrDuplicateCheckIn
		}
		return models.Ticket{}, err
	}

	if err = insertAudit(ctx, tx, store.AuditRecord{
		TicketID:     ticket.TicketID,
		Action:       routing.ActionCheckin,
		PriorStatus:  "",
		NewStatus:    ticket.Status,
		NewStationID: &station.StationID,
		EmployeeID:   input.EmployeeID,
		CreatedAt:    checkInAt,
	}); err != nil {
		return models.Ticket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) Call(ctx context.Context, input store.TicketActionInput) (models.Ticket, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	var ticket models.Ticket
	row := tx.QueryRow(ctx, `
		UPDATE queue_tickets
		SET status = $1, updated_at = $2
		WHERE ticket_id = $3 AND station_id = $4 AND status = $5
		RETURNING `+ticketColumns+`
	`, models.StatusInProgress, occurredAt, input.TicketID, input.StationID, models.StatusWaiting)
	if err = scanTicket(row, &ticket); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = classifyCallFailure(ctx, tx, input)
		}
		return models.Ticket{}, false, err
	}

	if err = insertAudit(ctx, tx, store.AuditRecord{
		TicketID:       ticket.TicketID,
		Action:         routing.ActionCall,
		PriorStatus:    models.StatusWaiting,
		NewStatus:      ticket.Status,
		PriorStationID: &ticket.StationID,
		NewStationID:   &ticket.StationID,
		EmployeeID:     input.EmployeeID,
		CreatedAt:      occurredAt,
	}); err != nil {
		return models.Ticket{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func classifyCallFailure(ctx context.Context, tx pgx.Tx, input store.TicketActionInput) error {
	current, err := getTicketTx(ctx, tx, input.TicketID)
	if err != nil {
		return err
	}
	if current.StationID != input.StationID {
		return store.ErrWrongStation
	}
	if current.Status != models.StatusWaiting {
		return store.ErrNotWaiting
	}
	return store.ErrConcurrentModification
}

// CallNext picks the single head-of-queue ticket for a station and
// transitions it atomically. The select-and-lock runs inside one statement
// with FOR UPDATE SKIP LOCKED, so two operators pressing "call next"
// concurrently never receive the same ticket.
func (s *Store) CallNext(ctx context.Context, input store.CallNextInput) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = stationByID(ctx, tx, input.StationID); err != nil {
		return models.Ticket{}, err
	}

	calledAt := input.CalledAt
	if calledAt.IsZero() {
		calledAt = time.Now().UTC()
	}

	var ticket models.Ticket
	row := tx.QueryRow(ctx, `
		WITH next_ticket AS (
			SELECT ticket_id
			FROM queue_tickets
			WHERE station_id = $1 AND status = $2
			ORDER BY `+priorityOrder+`
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE queue_tickets
		SET status = $3, updated_at = $4
		FROM next_ticket
		WHERE queue_tickets.ticket_id = next_ticket.ticket_id
		RETURNING `+qualifiedTicketColumns("queue_tickets"),
		input.StationID, models.StatusWaiting, models.StatusInProgress, calledAt)
	if err = scanTicket(row, &ticket); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrQueueEmpty
		}
		return models.Ticket{}, err
	}

	if err = insertAudit(ctx, tx, store.AuditRecord{
		TicketID:       ticket.TicketID,
		Action:         routing.ActionCall,
		PriorStatus:    models.StatusWaiting,
		NewStatus:      ticket.Status,
		PriorStationID: &ticket.StationID,
		NewStationID:   &ticket.StationID,
		EmployeeID:     input.EmployeeID,
		CreatedAt:      calledAt,
	}); err != nil {
		return models.Ticket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) Skip(ctx context.Context, input store.TicketActionInput) (models.Ticket, bool, error) {
	return s.applyTransition(ctx, input, routing.ActionSkip, models.StatusSkipped, "")
}

func (s *Store) Recall(ctx context.Context, input store.TicketActionInput) (models.Ticket, bool, error) {
	return s.applyTransition(ctx, input, routing.ActionRecall, models.StatusWaiting, "")
}

func (s *Store) Cancel(ctx context.Context, input store.TicketActionInput) (models.Ticket, bool, error) {
	return s.applyTransition(ctx, input, routing.ActionCancel, models.StatusCancelled, models.VisitCancelled)
}

func (s *Store) NoShow(ctx context.Context, input store.TicketActionInput) (models.Ticket, bool, error) {
	return s.applyTransition(ctx, input, routing.ActionNoShow, models.StatusNoShow, models.VisitNoShow)
}

// applyTransition performs a guarded single-ticket status change and, for
// terminal transitions, closes the visit in the same transaction.
func (s *Store) applyTransition(ctx context.Context, input store.TicketActionInput, action, toStatus, visitStatus string) (models.Ticket, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	current, err := lockTicket(ctx, tx, input.TicketID)
	if err != nil {
		return models.Ticket{}, false, err
	}
	if !routing.ValidTransition(action, current.Status) {
		err = store.ErrInvalidTransition
		return models.Ticket{}, false, err
	}

	var ticket models.Ticket
	row := tx.QueryRow(ctx, `
		UPDATE queue_tickets
		SET status = $1, updated_at = $2
		WHERE ticket_id = $3 AND status = $4
		RETURNING `+ticketColumns+`
	`, toStatus, occurredAt, input.TicketID, current.Status)
	if err = scanTicket(row, &ticket); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrConcurrentModification
		}
		return models.Ticket{}, false, err
	}

	if visitStatus != "" {
		if err = closeVisit(ctx, tx, ticket.VisitID, visitStatus); err != nil {
			return models.Ticket{}, false, err
		}
	}

	remarks := input.Reason
	if remarks == "" {
		remarks = input.Remarks
	}
	if err = insertAudit(ctx, tx, store.AuditRecord{
		TicketID:       ticket.TicketID,
		Action:         action,
		PriorStatus:    current.Status,
		NewStatus:      ticket.Status,
		PriorStationID: &ticket.StationID,
		NewStationID:   &ticket.StationID,
		EmployeeID:     input.EmployeeID,
		Remarks:        remarks,
		CreatedAt:      occurredAt,
	}); err != nil {
		return models.Ticket{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

// Route forwards the in-progress ticket to an active station of the target
// type. The same row mutates: station and status change, ticket id and code
// never do. Replaying a route the ticket already took is a successful no-op.
func (s *Store) Route(ctx context.Context, input store.TicketActionInput) (models.Ticket, bool, error) {
	if !routing.ValidStationType(input.TargetStationType) {
		return models.Ticket{}, false, store.ErrInvalidTransition
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	current, currentStation, err := lockTicketWithStation(ctx, tx, input.TicketID)
	if err != nil {
		return models.Ticket{}, false, err
	}

	// Double-submitted route: the ticket already waits at a station of the
	// target type. Return it unchanged, no second audit record.
	if current.Status == models.StatusWaiting && currentStation.StationType == input.TargetStationType {
		if err = tx.Commit(ctx); err != nil {
			return models.Ticket{}, false, err
		}
		return current, false, nil
	}

	if current.Status != models.StatusInProgress {
		err = store.ErrInvalidTransition
		return models.Ticket{}, false, err
	}
	if !routing.CanRoute(currentStation.StationType, input.TargetStationType) {
		err = store.ErrInvalidTransition
		return models.Ticket{}, false, err
	}

	target, err := activeStationByType(ctx, tx, currentStation.FacilityID, input.TargetStationType)
	if err != nil {
		return models.Ticket{}, false, err
	}

	var ticket models.Ticket
	row := tx.QueryRow(ctx, `
		UPDATE queue_tickets
		SET station_id = $1,
			status = $2,
			remarks = CASE WHEN $3 = '' THEN remarks
				WHEN remarks = '' THEN $3
				ELSE remarks || '; ' || $3 END,
			updated_at = $4
		WHERE ticket_id = $5 AND status = $6
		RETURNING `+ticketColumns+`
	`, target.StationID, models.StatusWaiting, input.Remarks, occurredAt, input.TicketID, models.StatusInProgress)
	if err = scanTicket(row, &ticket); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrConcurrentModification
		}
		return models.Ticket{}, false, err
	}

	if err = insertAudit(ctx, tx, store.AuditRecord{
		TicketID:       ticket.TicketID,
		Action:         routing.ActionRoute,
		PriorStatus:    models.StatusInProgress,
		NewStatus:      ticket.Status,
		PriorStationID: &currentStation.StationID,
		NewStationID:   &target.StationID,
		EmployeeID:     input.EmployeeID,
		Remarks:        input.Remarks,
		CreatedAt:      occurredAt,
	}); err != nil {
		return models.Ticket{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

// Complete finishes the visit at an end-point station. A second complete on
// a done ticket is a successful no-op with no extra audit record.
func (s *Store) Complete(ctx context.Context, input store.TicketActionInput) (models.Ticket, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	current, currentStation, err := lockTicketWithStation(ctx, tx, input.TicketID)
	if err != nil {
		return models.Ticket{}, false, err
	}

	if current.Status == models.StatusDone {
		if err = tx.Commit(ctx); err != nil {
			return models.Ticket{}, false, err
		}
		return current, false, nil
	}

	if current.Status != models.StatusInProgress || !routing.EndPoint(currentStation.StationType) {
		err = store.ErrInvalidTransition
		return models.Ticket{}, false, err
	}

	var ticket models.Ticket
	row := tx.QueryRow(ctx, `
		UPDATE queue_tickets
		SET status = $1,
			remarks = CASE WHEN $2 = '' THEN remarks
				WHEN remarks = '' THEN $2
				ELSE remarks || '; ' || $2 END,
			updated_at = $3
		WHERE ticket_id = $4 AND status = $5
		RETURNING `+ticketColumns+`
	`, models.StatusDone, input.Remarks, occurredAt, input.TicketID, models.StatusInProgress)
	if err = scanTicket(row, &ticket); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrConcurrentModification
		}
		return models.Ticket{}, false, err
	}

	if err = closeVisit(ctx, tx, ticket.VisitID, models.VisitCompleted); err != nil {
		return models.Ticket{}, false, err
	}

	if err = insertAudit(ctx, tx, store.AuditRecord{
		TicketID:       ticket.TicketID,
		Action:         routing.ActionComplete,
		PriorStatus:    models.StatusInProgress,
		NewStatus:      ticket.Status,
		PriorStationID: &currentStation.StationID,
		NewStationID:   &currentStation.StationID,
		EmployeeID:     input.EmployeeID,
		Remarks:        input.Remarks,
		CreatedAt:      occurredAt,
	}); err != nil {
		return models.Ticket{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

// SweepNoShows marks tickets waiting longer than the grace period as no-show
// and closes their visits. Invoked explicitly; every swept ticket takes the
// row lock and gets its own audit record.
func (s *Store) SweepNoShows(ctx context.Context, input store.SweepInput) (int, error) {
	if input.Grace <= 0 {
		return 0, nil
	}
	batchSize := input.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	now := input.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	cutoff := now.Add(-input.Grace)
	rows, err := tx.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM queue_tickets
		WHERE status = $1 AND updated_at <= $2
		ORDER BY updated_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $3
	`, models.StatusWaiting, cutoff, batchSize)
	if err != nil {
		return 0, err
	}
	stale, err := collectTickets(rows)
	if err != nil {
		return 0, err
	}

	for _, ticket := range stale {
		if _, err = tx.Exec(ctx, `
			UPDATE queue_tickets SET status = $1, updated_at = $2 WHERE ticket_id = $3
		`, models.StatusNoShow, now, ticket.TicketID); err != nil {
			return 0, err
		}
		if err = closeVisit(ctx, tx, ticket.VisitID, models.VisitNoShow); err != nil {
			return 0, err
		}
		stationID := ticket.StationID
		if err = insertAudit(ctx, tx, store.AuditRecord{
			TicketID:       ticket.TicketID,
			Action:         routing.ActionNoShow,
			PriorStatus:    ticket.Status,
			NewStatus:      models.StatusNoShow,
			PriorStationID: &stationID,
			NewStationID:   &stationID,
			EmployeeID:     input.EmployeeID,
			Remarks:        "no-show sweep",
			CreatedAt:      now,
		}); err != nil {
			return 0, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(stale), nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	var ticket models.Ticket
	row := s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+` FROM queue_tickets WHERE ticket_id = $1
	`, ticketID)
	if err := scanTicket(row, &ticket); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

// StationQueue derives the four operator lists for one station. Pure read:
// ordering is recomputed here on every call, never stored on the row.
func (s *Store) StationQueue(ctx context.Context, stationID string) (store.StationQueue, error) {
	var station models.Station
	row := s.pool.QueryRow(ctx, `
		SELECT station_id, facility_id, station_type, name, active
		FROM stations
		WHERE station_id = $1
	`, stationID)
	if err := row.Scan(&station.StationID, &station.FacilityID, &station.StationType, &station.Name, &station.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.StationQueue{}, store.ErrStationNotFound
		}
		return store.StationQueue{}, err
	}

	queue := store.StationQueue{
		Station:        station,
		ForwardTargets: routing.ForwardTargets(station.StationType),
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+qualifiedTicketColumns("t")+`, p.full_name, a.service
		FROM queue_tickets t
		JOIN patients p ON p.patient_id = t.patient_id
		JOIN appointments a ON a.appointment_id = t.appointment_id
		WHERE t.station_id = $1 AND t.status IN ($2, $3, $4)
		ORDER BY
			CASE t.priority WHEN 'emergency' THEN 2 WHEN 'priority' THEN 1 ELSE 0 END DESC,
			t.created_at ASC
	`, stationID, models.StatusWaiting, models.StatusInProgress, models.StatusSkipped)
	if err != nil {
		return store.StationQueue{}, err
	}
	entries, err := collectEntries(rows)
	if err != nil {
		return store.StationQueue{}, err
	}
	for _, entry := range entries {
		switch entry.Status {
		case models.StatusWaiting:
			queue.Waiting = append(queue.Waiting, entry)
		case models.StatusInProgress:
			queue.InProgress = append(queue.InProgress, entry)
		case models.StatusSkipped:
			queue.Skipped = append(queue.Skipped, entry)
		}
	}

	// Served today: tickets this station routed onward or completed, read
	// back from the audit trail.
	rows, err = s.pool.Query(ctx, `
		SELECT DISTINCT ON (t.ticket_id) `+qualifiedTicketColumns("t")+`, p.full_name, a.service
		FROM audit_records ar
		JOIN queue_tickets t ON t.ticket_id = ar.ticket_id
		JOIN patients p ON p.patient_id = t.patient_id
		JOIN appointments a ON a.appointment_id = t.appointment_id
		WHERE ar.created_at >= date_trunc('day', now())
			AND ((ar.action = 'route' AND ar.prior_station_id = $1)
				OR (ar.action = 'complete' AND ar.new_station_id = $1))
		ORDER BY t.ticket_id, ar.created_at DESC
	`, stationID)
	if err != nil {
		return store.StationQueue{}, err
	}
	queue.DoneToday, err = collectEntries(rows)
	if err != nil {
		return store.StationQueue{}, err
	}

	return queue, nil
}

func (s *Store) TicketHistory(ctx context.Context, ticketID string) ([]store.AuditRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ticket_id, seq, action, prior_status, new_status,
			prior_station_id, new_station_id, employee_id, remarks, created_at, prev_hash, hash
		FROM audit_records
		WHERE ticket_id = $1
		ORDER BY seq ASC
	`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []store.AuditRecord
	for rows.Next() {
		var record store.AuditRecord
		var priorStation, newStation sql.NullString
		if err := rows.Scan(&record.TicketID, &record.Seq, &record.Action, &record.PriorStatus, &record.NewStatus,
			&priorStation, &newStation, &record.EmployeeID, &record.Remarks, &record.CreatedAt, &record.PrevHash, &record.Hash); err != nil {
			return nil, err
		}
		record.PriorStationID = nullStringPtr(priorStation)
		record.NewStationID = nullStringPtr(newStation)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		if _, err := s.GetTicket(ctx, ticketID); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func (s *Store) ListStations(ctx context.Context, facilityID, stationType string) ([]models.Station, error) {
	query := `
		SELECT station_id, facility_id, station_type, name, active
		FROM stations
		WHERE active = TRUE
	`
	args := []interface{}{}
	if facilityID != "" {
		args = append(args, facilityID)
		query += fmt.Sprintf(" AND facility_id = $%d", len(args))
	}
	if stationType != "" {
		args = append(args, stationType)
		query += fmt.Sprintf(" AND station_type = $%d", len(args))
	}
	query += " ORDER BY station_type ASC, name ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stations []models.Station
	for rows.Next() {
		var station models.Station
		if err := rows.Scan(&station.StationID, &station.FacilityID, &station.StationType, &station.Name, &station.Active); err != nil {
			return nil, err
		}
		stations = append(stations, station)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stations, nil
}

func stationByID(ctx context.Context, tx pgx.Tx, stationID string) (models.Station, error) {
	var station models.Station
	row := tx.QueryRow(ctx, `
		SELECT station_id, facility_id, station_type, name, active
		FROM stations
		WHERE station_id = $1
	`, stationID)
	if err := row.Scan(&station.StationID, &station.FacilityID, &station.StationType, &station.Name, &station.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Station{}, store.ErrStationNotFound
		}
		return models.Station{}, err
	}
	return station, nil
}

func activeStationByType(ctx context.Context, tx pgx.Tx, facilityID, stationType string) (models.Station, error) {
	var station models.Station
	row := tx.QueryRow(ctx, `
		SELECT station_id, facility_id, station_type, name, active
		FROM stations
		WHERE facility_id = $1 AND station_type = $2 AND active = TRUE
		ORDER BY name ASC
		LIMIT 1
	`, facilityID, stationType)
	if err := row.Scan(&station.StationID, &station.FacilityID, &station.StationType, &station.Name, &station.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Station{}, store.ErrNoActiveStation
		}
		return models.Station{}, err
	}
	return station, nil
}

// nextCodeSequence bumps the per-facility counter for the half-day hour
// period the check-in falls into. The row upsert serializes concurrent
// check-ins on the same period.
func nextCodeSequence(ctx context.Context, tx pgx.Tx, facilityID string, at time.Time) (int, error) {
	var next int
	row := tx.QueryRow(ctx, `
		INSERT INTO ticket_sequences (facility_id, period_date, period_key, next_number)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (facility_id, period_date, period_key)
		DO UPDATE SET next_number = ticket_sequences.next_number + 1
		RETURNING next_number
	`, facilityID, at.Format("2006-01-02"), queuecode.PeriodKey(at))
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func closeVisit(ctx context.Context, tx pgx.Tx, visitID, status string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE visits SET status = $1 WHERE visit_id = $2 AND status = 'ongoing'
	`, status, visitID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrConcurrentModification
	}
	return nil
}

// insertAudit appends one hash-chained record inside the caller's
// transaction. The advisory lock serializes chain extension per ticket.
func insertAudit(ctx context.Context, tx pgx.Tx, record store.AuditRecord) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, record.TicketID); err != nil {
		return err
	}

	var lastSeq int
	var prevHash sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT seq, hash
		FROM audit_records
		WHERE ticket_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, record.TicketID)
	if err := row.Scan(&lastSeq, &prevHash); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	record.Seq = lastSeq + 1
	record.PrevHash = ""
	if prevHash.Valid {
		record.PrevHash = prevHash.String
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	// timestamptz keeps microseconds; hash what the database will store.
	record.CreatedAt = record.CreatedAt.UTC().Truncate(time.Microsecond)
	record.Hash = store.ComputeAuditHash(record.PrevHash, record)

	_, err := tx.Exec(ctx, `
		INSERT INTO audit_records (
			ticket_id, seq, action, prior_status, new_status,
			prior_station_id, new_station_id, employee_id, remarks, created_at, prev_hash, hash
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, record.TicketID, record.Seq, record.Action, record.PriorStatus, record.NewStatus,
		nullIfNilString(record.PriorStationID), nullIfNilString(record.NewStationID),
		record.EmployeeID, record.Remarks, record.CreatedAt, record.PrevHash, record.Hash)
	return err
}

func getTicketTx(ctx context.Context, tx pgx.Tx, ticketID string) (models.Ticket, error) {
	var ticket models.Ticket
	row := tx.QueryRow(ctx, `
		SELECT `+ticketColumns+` FROM queue_tickets WHERE ticket_id = $1
	`, ticketID)
	if err := scanTicket(row, &ticket); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func lockTicket(ctx context.Context, tx pgx.Tx, ticketID string) (models.Ticket, error) {
	var ticket models.Ticket
	row := tx.QueryRow(ctx, `
		SELECT `+ticketColumns+` FROM queue_tickets WHERE ticket_id = $1 FOR UPDATE
	`, ticketID)
	if err := scanTicket(row, &ticket); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func lockTicketWithStation(ctx context.Context, tx pgx.Tx, ticketID string) (models.Ticket, models.Station, error) {
	ticket, err := lockTicket(ctx, tx, ticketID)
	if err != nil {
		return models.Ticket{}, models.Station{}, err
	}
	station, err := stationByID(ctx, tx, ticket.StationID)
	if err != nil {
		return models.Ticket{}, models.Station{}, err
	}
	return ticket, station, nil
}

type ticketRow interface {
	Scan(dest ...any) error
}

func scanTicket(row ticketRow, ticket *models.Ticket) error {
	return row.Scan(&ticket.TicketID, &ticket.TicketCode, &ticket.VisitID, &ticket.AppointmentID,
		&ticket.PatientID, &ticket.StationID, &ticket.Priority, &ticket.Status,
		&ticket.Remarks, &ticket.CreatedAt, &ticket.UpdatedAt)
}

func collectTickets(rows pgx.Rows) ([]models.Ticket, error) {
	defer rows.Close()
	var tickets []models.Ticket
	for rows.Next() {
		var ticket models.Ticket
		if err := scanTicket(rows, &ticket); err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

func collectEntries(rows pgx.Rows) ([]store.QueueEntry, error) {
	defer rows.Close()
	var entries []store.QueueEntry
	for rows.Next() {
		var entry store.QueueEntry
		if err := rows.Scan(&entry.TicketID, &entry.TicketCode, &entry.VisitID, &entry.AppointmentID,
			&entry.PatientID, &entry.StationID, &entry.Priority, &entry.Status,
			&entry.Remarks, &entry.CreatedAt, &entry.UpdatedAt,
			&entry.PatientName, &entry.Service); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func qualifiedTicketColumns(alias string) string {
	return alias + ".ticket_id, " + alias + ".ticket_code, " + alias + ".visit_id, " + alias + ".appointment_id, " +
		alias + ".patient_id, " + alias + ".station_id, " + alias + ".priority, " + alias + ".status, " +
		alias + ".remarks, " + alias + ".created_at, " + alias + ".updated_at"
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullIfNilString(value *string) interface{} {
	if value == nil {
		return nil
	}
	return *value
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}
