package postgres

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"cityhealth/queue-engine/internal/models"
	"cityhealth/queue-engine/internal/routing"
	"cityhealth/queue-engine/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestCheckInThroughComplete(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	facilityID := uuid.NewString()
	stations := seedStations(t, ctx, pool, facilityID)
	patientID := seedPatient(t, ctx, pool, "Maria Santos", false, false)
	apptID := seedAppointment(t, ctx, pool, patientID, facilityID, false, "")

	ticket, err := st.CheckIn(ctx, store.CheckInInput{
		AppointmentID: apptID,
		EmployeeID:    "clerk-1",
		CheckInAt:     time.Date(2026, 8, 31, 8, 15, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("check in: %v", err)
	}
	if ticket.TicketCode != "08A-001" {
		t.Fatalf("expected code 08A-001, got %s", ticket.TicketCode)
	}
	if ticket.StationID != stations[models.StationTriage] {
		t.Fatalf("expected ticket at triage")
	}

	// triage: call next, route to consultation
	called, err := st.CallNext(ctx, store.CallNextInput{StationID: stations[models.StationTriage], EmployeeID: "nurse-1"})
	if err != nil {
		t.Fatalf("call next at triage: %v", err)
	}
	if called.TicketID != ticket.TicketID {
		t.Fatalf("expected same ticket from call next")
	}
	if _, _, err := st.Route(ctx, store.TicketActionInput{
		TicketID:          ticket.TicketID,
		EmployeeID:        "nurse-1",
		TargetStationType: models.StationConsultation,
	}); err != nil {
		t.Fatalf("route to consultation: %v", err)
	}

	// consultation: call next, route to pharmacy
	if _, err := st.CallNext(ctx, store.CallNextInput{StationID: stations[models.StationConsultation], EmployeeID: "doc-1"}); err != nil {
		t.Fatalf("call next at consultation: %v", err)
	}
	if _, _, err := st.Route(ctx, store.TicketActionInput{
		TicketID:          ticket.TicketID,
		EmployeeID:        "doc-1",
		TargetStationType: models.StationPharmacy,
	}); err != nil {
		t.Fatalf("route to pharmacy: %v", err)
	}

	// pharmacy: call next, complete
	if _, err := st.CallNext(ctx, store.CallNextInput{StationID: stations[models.StationPharmacy], EmployeeID: "pharm-1"}); err != nil {
		t.Fatalf("call next at pharmacy: %v", err)
	}
	final, mutated, err := st.Complete(ctx, store.TicketActionInput{TicketID: ticket.TicketID, EmployeeID: "pharm-1"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !mutated {
		t.Fatalf("expected complete to mutate the ticket")
	}
	if final.Status != models.StatusDone {
		t.Fatalf("expected done, got %s", final.Status)
	}
	if final.TicketID != ticket.TicketID || final.TicketCode != ticket.TicketCode {
		t.Fatalf("ticket identity changed during routing")
	}

	var ticketCount int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM queue_tickets WHERE visit_id = $1`, ticket.VisitID).Scan(&ticketCount); err != nil {
		t.Fatalf("count tickets: %v", err)
	}
	if ticketCount != 1 {
		t.Fatalf("expected 1 ticket row for the visit, got %d", ticketCount)
	}

	history, err := st.TicketHistory(ctx, ticket.TicketID)
	if err != nil {
		t.Fatalf("ticket history: %v", err)
	}
	wantActions := []string{
		routing.ActionCheckin, routing.ActionCall, routing.ActionRoute,
		routing.ActionCall, routing.ActionRoute, routing.ActionCall, routing.ActionComplete,
	}
	if len(history) != len(wantActions) {
		t.Fatalf("expected %d audit records, got %d", len(wantActions), len(history))
	}
	for i, record := range history {
		if record.Action != wantActions[i] {
			t.Fatalf("record %d: expected action %s, got %s", i, wantActions[i], record.Action)
		}
	}
	if err := store.VerifyChain(history); err != nil {
		t.Fatalf("audit chain broken: %v", err)
	}

	var visitStatus string
	if err := pool.QueryRow(ctx, `SELECT status FROM visits WHERE visit_id = $1`, ticket.VisitID).Scan(&visitStatus); err != nil {
		t.Fatalf("read visit: %v", err)
	}
	if visitStatus != models.VisitCompleted {
		t.Fatalf("expected visit completed, got %s", visitStatus)
	}
}

func TestCallNextConcurrency(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	facilityID := uuid.NewString()
	stations := seedStations(t, ctx, pool, facilityID)
	triage := stations[models.StationTriage]

	for i := 0; i < 2; i++ {
		patientID := seedPatient(t, ctx, pool, "Patient", false, false)
		apptID := seedAppointment(t, ctx, pool, patientID, facilityID, false, "")
		if _, err := st.CheckIn(ctx, store.CheckInInput{AppointmentID: apptID, EmployeeID: "clerk-1"}); err != nil {
			t.Fatalf("check in: %v", err)
		}
	}

	var wg sync.WaitGroup
	results := make(chan callResult, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticket, err := st.CallNext(ctx, store.CallNextInput{StationID: triage, EmployeeID: "nurse-1"})
			results <- callResult{ticketID: ticket.TicketID, err: err}
		}()
	}
	wg.Wait()
	close(results)

	var ids []string
	for result := range results {
		if result.err != nil {
			t.Fatalf("call next error: %v", result.err)
		}
		ids = append(ids, result.ticketID)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 tickets, got %d", len(ids))
	}
	if ids[0] == ids[1] {
		t.Fatalf("expected distinct tickets, got %s", ids[0])
	}
}

func TestDuplicateCheckIn(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	facilityID := uuid.NewString()
	seedStations(t, ctx, pool, facilityID)
	patientID := seedPatient(t, ctx, pool, "Jose Cruz", false, false)
	apptID := seedAppointment(t, ctx, pool, patientID, facilityID, false, "")

	if _, err := st.CheckIn(ctx, store.CheckInInput{AppointmentID: apptID, EmployeeID: "clerk-1"}); err != nil {
		t.Fatalf("first check in: %v", err)
	}
	_, err := st.CheckIn(ctx, store.CheckInInput{AppointmentID: apptID, EmployeeID: "clerk-2"})
	if !errors.Is(err, store.ErrDuplicateCheckIn) {
		t.Fatalf("expected ErrDuplicateCheckIn, got %v", err)
	}
}

func TestCompleteIdempotent(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	facilityID := uuid.NewString()
	stations := seedStations(t, ctx, pool, facilityID)
	patientID := seedPatient(t, ctx, pool, "Ana Reyes", false, false)
	apptID := seedAppointment(t, ctx, pool, patientID, facilityID, false, models.StationPharmacy)

	ticket, err := st.CheckIn(ctx, store.CheckInInput{AppointmentID: apptID, EmployeeID: "clerk-1"})
	if err != nil {
		t.Fatalf("check in: %v", err)
	}
	if ticket.StationID != stations[models.StationPharmacy] {
		t.Fatalf("expected first station pharmacy")
	}
	if _, err := st.CallNext(ctx, store.CallNextInput{StationID: stations[models.StationPharmacy], EmployeeID: "pharm-1"}); err != nil {
		t.Fatalf("call next: %v", err)
	}

	if _, mutated, err := st.Complete(ctx, store.TicketActionInput{TicketID: ticket.TicketID, EmployeeID: "pharm-1"}); err != nil || !mutated {
		t.Fatalf("first complete: mutated=%v err=%v", mutated, err)
	}
	replay, mutated, err := st.Complete(ctx, store.TicketActionInput{TicketID: ticket.TicketID, EmployeeID: "pharm-1"})
	if err != nil {
		t.Fatalf("second complete: %v", err)
	}
	if mutated {
		t.Fatalf("expected replay to be a no-op")
	}
	if replay.Status != models.StatusDone {
		t.Fatalf("expected done, got %s", replay.Status)
	}

	history, err := st.TicketHistory(ctx, ticket.TicketID)
	if err != nil {
		t.Fatalf("ticket history: %v", err)
	}
	completes := 0
	for _, record := range history {
		if record.Action == routing.ActionComplete {
			completes++
		}
	}
	if completes != 1 {
		t.Fatalf("expected 1 complete record, got %d", completes)
	}
}

func TestPriorityOrdering(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	facilityID := uuid.NewString()
	stations := seedStations(t, ctx, pool, facilityID)
	triage := stations[models.StationTriage]

	base := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	normal1 := checkInPatient(t, ctx, st, pool, facilityID, false, false, false, base)
	normal2 := checkInPatient(t, ctx, st, pool, facilityID, false, false, false, base.Add(time.Minute))
	emergency := checkInPatient(t, ctx, st, pool, facilityID, false, false, true, base.Add(2*time.Minute))

	want := []string{emergency.TicketID, normal1.TicketID, normal2.TicketID}
	for i, wantID := range want {
		called, err := st.CallNext(ctx, store.CallNextInput{StationID: triage, EmployeeID: "nurse-1"})
		if err != nil {
			t.Fatalf("call next %d: %v", i, err)
		}
		if called.TicketID != wantID {
			t.Fatalf("call next %d: expected %s, got %s", i, wantID, called.TicketID)
		}
		if _, _, err := st.Route(ctx, store.TicketActionInput{
			TicketID:          called.TicketID,
			EmployeeID:        "nurse-1",
			TargetStationType: models.StationConsultation,
		}); err != nil {
			t.Fatalf("route %d: %v", i, err)
		}
	}

	if _, err := st.CallNext(ctx, store.CallNextInput{StationID: triage, EmployeeID: "nurse-1"}); !errors.Is(err, store.ErrQueueEmpty) {
		t.Fatalf("expected ErrQueueEmpty, got %v", err)
	}
}

func TestSkipRecallKeepsPosition(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	facilityID := uuid.NewString()
	stations := seedStations(t, ctx, pool, facilityID)
	triage := stations[models.StationTriage]

	base := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	first := checkInPatient(t, ctx, st, pool, facilityID, false, false, false, base)
	second := checkInPatient(t, ctx, st, pool, facilityID, false, false, false, base.Add(time.Minute))

	if _, _, err := st.Skip(ctx, store.TicketActionInput{TicketID: first.TicketID, StationID: triage, EmployeeID: "nurse-1", Reason: "stepped out"}); err != nil {
		t.Fatalf("skip: %v", err)
	}
	if _, _, err := st.Recall(ctx, store.TicketActionInput{TicketID: first.TicketID, StationID: triage, EmployeeID: "nurse-1"}); err != nil {
		t.Fatalf("recall: %v", err)
	}

	// Recall keeps the original check-in time, so the first ticket is still
	// ahead of the second.
	called, err := st.CallNext(ctx, store.CallNextInput{StationID: triage, EmployeeID: "nurse-1"})
	if err != nil {
		t.Fatalf("call next: %v", err)
	}
	if called.TicketID != first.TicketID {
		t.Fatalf("expected recalled ticket first, got %s (second is %s)", called.TicketID, second.TicketID)
	}
}

func TestSequenceOverflow(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	facilityID := uuid.NewString()
	seedStations(t, ctx, pool, facilityID)
	patientID := seedPatient(t, ctx, pool, "Overflow", false, false)
	apptID := seedAppointment(t, ctx, pool, patientID, facilityID, false, "")

	checkInAt := time.Date(2026, 8, 31, 14, 0, 0, 0, time.UTC)
	if _, err := pool.Exec(ctx, `
		INSERT INTO ticket_sequences (facility_id, period_date, period_key, next_number)
		VALUES ($1, $2, '02P', 999)
	`, facilityID, checkInAt.Format("2006-01-02")); err != nil {
		t.Fatalf("seed sequence: %v", err)
	}

	_, err := st.CheckIn(ctx, store.CheckInInput{AppointmentID: apptID, EmployeeID: "clerk-1", CheckInAt: checkInAt})
	if !errors.Is(err, store.ErrSequenceOverflow) {
		t.Fatalf("expected ErrSequenceOverflow, got %v", err)
	}
}

func TestCallWrongStation(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	facilityID := uuid.NewString()
	stations := seedStations(t, ctx, pool, facilityID)
	ticket := checkInPatient(t, ctx, st, pool, facilityID, false, false, false, time.Time{})

	_, _, err := st.Call(ctx, store.TicketActionInput{TicketID: ticket.TicketID, StationID: stations[models.StationLab], EmployeeID: "tech-1"})
	if !errors.Is(err, store.ErrWrongStation) {
		t.Fatalf("expected ErrWrongStation, got %v", err)
	}
}

func TestSweepNoShows(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	facilityID := uuid.NewString()
	seedStations(t, ctx, pool, facilityID)
	base := time.Date(2026, 8, 31, 8, 0, 0, 0, time.UTC)
	stale := checkInPatient(t, ctx, st, pool, facilityID, false, false, false, base)
	fresh := checkInPatient(t, ctx, st, pool, facilityID, false, false, false, base.Add(50*time.Minute))

	swept, err := st.SweepNoShows(ctx, store.SweepInput{
		EmployeeID: "system",
		Grace:      30 * time.Minute,
		Now:        base.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 1 {
		t.Fatalf("expected 1 swept ticket, got %d", swept)
	}

	got, err := st.GetTicket(ctx, stale.TicketID)
	if err != nil {
		t.Fatalf("get stale ticket: %v", err)
	}
	if got.Status != models.StatusNoShow {
		t.Fatalf("expected no_show, got %s", got.Status)
	}
	got, err = st.GetTicket(ctx, fresh.TicketID)
	if err != nil {
		t.Fatalf("get fresh ticket: %v", err)
	}
	if got.Status != models.StatusWaiting {
		t.Fatalf("expected fresh ticket untouched, got %s", got.Status)
	}
}

type callResult struct {
	ticketID string
	err      error
}

func setupTestStore(t *testing.T, ctx context.Context) (*Store, *pgxpool.Pool, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := createSchema(ctx, dsn, schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	pool, err := newPoolWithSchema(ctx, dsn, schema)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	st := NewStore(pool)
	cleanup := func() {
		pool.Close()
		_ = dropSchema(context.Background(), dsn, schema)
	}
	return st, pool, cleanup
}

func createSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "CREATE SCHEMA "+schema)
	return err
}

func dropSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "DROP SCHEMA "+schema+" CASCADE")
	return err
}

func newPoolWithSchema(ctx context.Context, dsn, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	return pgxpool.NewWithConfig(ctx, cfg)
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	dir := filepath.Join("..", "..", "..", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	for _, name := range files {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(content)) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			return err
		}
	}
	return nil
}

func seedStations(t *testing.T, ctx context.Context, pool *pgxpool.Pool, facilityID string) map[string]string {
	t.Helper()
	stations := make(map[string]string)
	for _, stationType := range []string{
		models.StationTriage, models.StationConsultation, models.StationLab,
		models.StationPharmacy, models.StationBilling, models.StationDocument,
	} {
		id := uuid.NewString()
		if _, err := pool.Exec(ctx, `
			INSERT INTO stations (station_id, facility_id, station_type, name, active)
			VALUES ($1, $2, $3, $4, TRUE)
		`, id, facilityID, stationType, strings.ToUpper(stationType[:1])+stationType[1:]+" 1"); err != nil {
			t.Fatalf("insert station %s: %v", stationType, err)
		}
		stations[stationType] = id
	}
	return stations
}

func seedPatient(t *testing.T, ctx context.Context, pool *pgxpool.Pool, name string, senior, pwd bool) string {
	t.Helper()
	id := uuid.NewString()
	if _, err := pool.Exec(ctx, `
		INSERT INTO patients (patient_id, full_name, senior, pwd) VALUES ($1, $2, $3, $4)
	`, id, name, senior, pwd); err != nil {
		t.Fatalf("insert patient: %v", err)
	}
	return id
}

func seedAppointment(t *testing.T, ctx context.Context, pool *pgxpool.Pool, patientID, facilityID string, emergency bool, firstStation string) string {
	t.Helper()
	id := uuid.NewString()
	var first interface{}
	if firstStation != "" {
		first = firstStation
	}
	if _, err := pool.Exec(ctx, `
		INSERT INTO appointments (appointment_id, patient_id, facility_id, service, status, first_station_type, emergency)
		VALUES ($1, $2, $3, 'General Consultation', 'scheduled', $4, $5)
	`, id, patientID, facilityID, first, emergency); err != nil {
		t.Fatalf("insert appointment: %v", err)
	}
	return id
}

func checkInPatient(t *testing.T, ctx context.Context, st *Store, pool *pgxpool.Pool, facilityID string, senior, pwd, emergency bool, at time.Time) models.Ticket {
	t.Helper()
	patientID := seedPatient(t, ctx, pool, "Patient", senior, pwd)
	apptID := seedAppointment(t, ctx, pool, patientID, facilityID, emergency, "")
	ticket, err := st.CheckIn(ctx, store.CheckInInput{AppointmentID: apptID, EmployeeID: "clerk-1", CheckInAt: at})
	if err != nil {
		t.Fatalf("check in: %v", err)
	}
	return ticket
}
