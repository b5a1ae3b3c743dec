package scheduling

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Therapist struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Appointment is a single session on a therapist's calendar. A recurring
// series is one parent row (ParentID nil, RecurringCount set) plus one row per
// remaining occurrence, each pointing back at the parent.
type Appointment struct {
	ID          uuid.UUID
	PatientID   uuid.UUID
	TherapistID uuid.UUID
	Date        time.Time // calendar date, midnight UTC
	TimeOfDay   string    // "HH:MM", local clinic time
	Status      AppointmentStatus

	DurationMinutes int
	Type            *string
	Notes           *string

	IsRecurring        bool
	RecurringFrequency *Frequency
	RecurringCount     *int // total sessions, set only on the parent
	ParentID           *uuid.UUID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsSeriesParent reports whether the appointment anchors a recurring series.
func (a *Appointment) IsSeriesParent() bool {
	return a.IsRecurring && a.ParentID == nil
}

func (a *Appointment) IsSeriesChild() bool {
	return a.ParentID != nil
}

// Invoice optionally covers a whole series: a grouped invoice is anchored to
// the parent appointment and its amount tracks the active session count.
type Invoice struct {
	ID            uuid.UUID
	Number        string
	PatientID     uuid.UUID
	TherapistID   uuid.UUID
	AppointmentID uuid.UUID // anchor appointment
	Amount        decimal.Decimal
	TaxRate       decimal.Decimal
	TotalAmount   decimal.Decimal
	Status        InvoiceStatus
	IssueDate     time.Time
	DueDate       time.Time
	Notes         string
	CoversSeries  bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TherapistPayment settles exactly one invoice. At most one payment may exist
// per invoice; once present it blocks deletion of the invoice and of the
// appointments behind it.
type TherapistPayment struct {
	ID          uuid.UUID
	TherapistID uuid.UUID
	InvoiceID   uuid.UUID
	Amount      decimal.Decimal
	PaymentDate time.Time
	Method      string
	Reference   *string
	Notes       *string
	CreatedAt   time.Time
}

type AuditEvent struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	InvoiceID     *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// InvoicePatch lists the only invoice fields status cascades and amount
// reconciliation are allowed to touch.
type InvoicePatch struct {
	Amount      *decimal.Decimal
	TotalAmount *decimal.Decimal
	Status      *InvoiceStatus
	Notes       *string
}

// PaymentPatch exists for the single case where a payment may change after
// creation: correcting its amount when a paid grouped invoice shrinks.
type PaymentPatch struct {
	Amount *decimal.Decimal
}

// AppointmentDetail is an Appointment hydrated with its related rows.
type AppointmentDetail struct {
	Appointment
	Patient   *Patient
	Therapist *Therapist
	Invoice   *Invoice
}

// Date normalizes t to a bare calendar date (midnight UTC).
func Date(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
