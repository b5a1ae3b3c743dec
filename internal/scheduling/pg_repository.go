package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	q    pgQuerier
	pool *pgxpool.Pool // nil when the repository is bound to a transaction
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{q: pool, pool: pool}
}

func (r *PgRepository) InTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	if r.pool == nil {
		// Already inside a transaction; run against the same one.
		return fn(ctx, r)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &PgRepository{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Scan helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanTherapist(row pgx.Row) (*Therapist, error) {
	var t Therapist
	err := row.Scan(&t.ID, &t.Name, &t.Specialty, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTherapistNotFound
		}
		return nil, err
	}
	return &t, nil
}

const appointmentColumns = `id, patient_id, therapist_id, date, time_of_day, status,
	duration_minutes, type, notes,
	is_recurring, recurring_frequency, recurring_count, parent_appointment_id,
	created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a    Appointment
		freq *string
	)
	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.TherapistID,
		&a.Date,
		&a.TimeOfDay,
		&a.Status,
		&a.DurationMinutes,
		&a.Type,
		&a.Notes,
		&a.IsRecurring,
		&freq,
		&a.RecurringCount,
		&a.ParentID,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	if freq != nil {
		f := Frequency(*freq)
		a.RecurringFrequency = &f
	}
	a.Date = Date(a.Date)
	return &a, nil
}

const invoiceColumns = `id, number, patient_id, therapist_id, appointment_id,
	amount, tax_rate, total_amount, status, issue_date, due_date, notes, covers_series,
	created_at, updated_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(
		&inv.ID,
		&inv.Number,
		&inv.PatientID,
		&inv.TherapistID,
		&inv.AppointmentID,
		&inv.Amount,
		&inv.TaxRate,
		&inv.TotalAmount,
		&inv.Status,
		&inv.IssueDate,
		&inv.DueDate,
		&inv.Notes,
		&inv.CoversSeries,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	return &inv, nil
}

const paymentColumns = `id, therapist_id, invoice_id, amount, payment_date, method, reference, notes, created_at`

func scanPayment(row pgx.Row) (*TherapistPayment, error) {
	var p TherapistPayment
	err := row.Scan(
		&p.ID,
		&p.TherapistID,
		&p.InvoiceID,
		&p.Amount,
		&p.PaymentDate,
		&p.Method,
		&p.Reference,
		&p.Notes,
		&p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetTherapistByID(ctx context.Context, id uuid.UUID) (*Therapist, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, name, specialty, created_at, updated_at
		FROM therapists
		WHERE id = $1
	`, id)
	return scanTherapist(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) FindAppointmentAtSlot(ctx context.Context, therapistID uuid.UUID, date time.Time, timeOfDay string) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE therapist_id = $1 AND date = $2 AND time_of_day = $3
		LIMIT 1
	`, therapistID, Date(date), timeOfDay)
	return scanAppointment(row)
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) error {
	var freq *string
	if a.RecurringFrequency != nil {
		f := string(*a.RecurringFrequency)
		freq = &f
	}

	_, err := r.q.Exec(ctx, `
		INSERT INTO appointments (
			id, patient_id, therapist_id, date, time_of_day, status,
			duration_minutes, type, notes,
			is_recurring, recurring_frequency, recurring_count, parent_appointment_id,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, a.ID, a.PatientID, a.TherapistID, a.Date, a.TimeOfDay, a.Status,
		a.DurationMinutes, a.Type, a.Notes,
		a.IsRecurring, freq, a.RecurringCount, a.ParentID,
		a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, status AppointmentStatus) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns+`
	`, id, status)
	return scanAppointment(row)
}

func (r *PgRepository) FindChildren(ctx context.Context, parentID uuid.UUID) ([]Appointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE parent_appointment_id = $1
		ORDER BY date, time_of_day
	`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (r *PgRepository) CountChildrenByStatus(ctx context.Context, parentID uuid.UUID, status AppointmentStatus) (int, error) {
	var n int
	err := r.q.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE parent_appointment_id = $1 AND status = $2
	`, parentID, status).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *PgRepository) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return mapSettledConflict(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY date DESC, time_of_day DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (r *PgRepository) GetInvoiceByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE id = $1
	`, id)
	return scanInvoice(row)
}

func (r *PgRepository) FindInvoiceByAppointmentID(ctx context.Context, appointmentID uuid.UUID) (*Invoice, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE appointment_id = $1
	`, appointmentID)
	return scanInvoice(row)
}

func (r *PgRepository) CreateInvoice(ctx context.Context, inv *Invoice) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO invoices (
			id, number, patient_id, therapist_id, appointment_id,
			amount, tax_rate, total_amount, status, issue_date, due_date, notes, covers_series,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, inv.ID, inv.Number, inv.PatientID, inv.TherapistID, inv.AppointmentID,
		inv.Amount, inv.TaxRate, inv.TotalAmount, inv.Status, inv.IssueDate, inv.DueDate,
		inv.Notes, inv.CoversSeries, inv.CreatedAt, inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}
	return nil
}

func (r *PgRepository) UpdateInvoice(ctx context.Context, id uuid.UUID, patch InvoicePatch) (*Invoice, error) {
	var status *string
	if patch.Status != nil {
		st := string(*patch.Status)
		status = &st
	}

	row := r.q.QueryRow(ctx, `
		UPDATE invoices
		SET amount       = COALESCE($2, amount),
		    total_amount = COALESCE($3, total_amount),
		    status       = COALESCE($4, status),
		    notes        = COALESCE($5, notes),
		    updated_at   = now()
		WHERE id = $1
		RETURNING `+invoiceColumns+`
	`, id, patch.Amount, patch.TotalAmount, status, patch.Notes)
	return scanInvoice(row)
}

func (r *PgRepository) DeleteInvoice(ctx context.Context, id uuid.UUID) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM invoices WHERE id = $1`, id)
	if err != nil {
		return mapSettledConflict(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

func (r *PgRepository) FindPaymentByInvoiceID(ctx context.Context, invoiceID uuid.UUID) (*TherapistPayment, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM therapist_payments
		WHERE invoice_id = $1
	`, invoiceID)
	return scanPayment(row)
}

func (r *PgRepository) CreatePayment(ctx context.Context, p *TherapistPayment) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO therapist_payments (
			id, therapist_id, invoice_id, amount, payment_date, method, reference, notes, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, p.ID, p.TherapistID, p.InvoiceID, p.Amount, p.PaymentDate, p.Method, p.Reference, p.Notes, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *PgRepository) UpdatePayment(ctx context.Context, id uuid.UUID, patch PaymentPatch) (*TherapistPayment, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE therapist_payments
		SET amount = COALESCE($2, amount)
		WHERE id = $1
		RETURNING `+paymentColumns+`
	`, id, patch.Amount)
	return scanPayment(row)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev AuditEvent) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO audit_events (event_type, appointment_id, invoice_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.EventType, ev.AppointmentID, ev.InvoiceID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// mapSettledConflict turns a foreign-key conflict that references the
// payments table into the already-settled refusal, so a dangling payment can
// never surface as a generic persistence error.
func mapSettledConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		if strings.Contains(pgErr.ConstraintName, "payment") || strings.Contains(pgErr.TableName, "payment") {
			return ErrAlreadySettled
		}
	}
	return err
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
