package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrTherapistNotFound   = errors.New("therapist not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrInvoiceNotFound     = errors.New("invoice not found")
	ErrPaymentNotFound     = errors.New("payment not found")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetTherapistByID(ctx context.Context, id uuid.UUID) (*Therapist, error)

	// Appointments and series linkage
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// FindAppointmentAtSlot matches any status; a cancelled appointment still
	// occupies its slot.
	FindAppointmentAtSlot(ctx context.Context, therapistID uuid.UUID, date time.Time, timeOfDay string) (*Appointment, error)
	CreateAppointment(ctx context.Context, a *Appointment) error
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, status AppointmentStatus) (*Appointment, error)
	FindChildren(ctx context.Context, parentID uuid.UUID) ([]Appointment, error)
	CountChildrenByStatus(ctx context.Context, parentID uuid.UUID, status AppointmentStatus) (int, error)
	DeleteAppointment(ctx context.Context, id uuid.UUID) error
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)

	// Invoices
	GetInvoiceByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	FindInvoiceByAppointmentID(ctx context.Context, appointmentID uuid.UUID) (*Invoice, error)
	CreateInvoice(ctx context.Context, inv *Invoice) error
	UpdateInvoice(ctx context.Context, id uuid.UUID, patch InvoicePatch) (*Invoice, error)
	DeleteInvoice(ctx context.Context, id uuid.UUID) error

	// Therapist payments
	FindPaymentByInvoiceID(ctx context.Context, invoiceID uuid.UUID) (*TherapistPayment, error)
	CreatePayment(ctx context.Context, p *TherapistPayment) error
	UpdatePayment(ctx context.Context, id uuid.UUID, patch PaymentPatch) (*TherapistPayment, error)

	// Audit trail
	InsertEvent(ctx context.Context, ev AuditEvent) error

	// InTx runs fn against a repository bound to a single transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(ctx context.Context, r Repository) error) error
}
