package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemRepository is the in-memory Repository used by tests and local tooling.
// InTx snapshots the whole store and restores it when the closure fails, so
// all-or-nothing semantics hold without a database.
type MemRepository struct {
	mu sync.Mutex

	patients     map[uuid.UUID]Patient
	therapists   map[uuid.UUID]Therapist
	appointments map[uuid.UUID]Appointment
	invoices     map[uuid.UUID]Invoice
	payments     map[uuid.UUID]TherapistPayment
	events       []AuditEvent

	nextEventID int64
}

func NewMemRepository() *MemRepository {
	return &MemRepository{
		patients:     make(map[uuid.UUID]Patient),
		therapists:   make(map[uuid.UUID]Therapist),
		appointments: make(map[uuid.UUID]Appointment),
		invoices:     make(map[uuid.UUID]Invoice),
		payments:     make(map[uuid.UUID]TherapistPayment),
	}
}

// PutPatient and PutTherapist seed reference rows outside the service flow.

func (m *MemRepository) PutPatient(p Patient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patients[p.ID] = p
}

func (m *MemRepository) PutTherapist(t Therapist) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.therapists[t.ID] = t
}

// Events returns a copy of the audit trail.
func (m *MemRepository) Events() []AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AuditEvent, len(m.events))
	copy(out, m.events)
	return out
}

func (m *MemRepository) InTx(ctx context.Context, fn func(ctx context.Context, r Repository) error) error {
	m.mu.Lock()
	snap := m.snapshot()
	m.mu.Unlock()

	if err := fn(ctx, m); err != nil {
		m.mu.Lock()
		m.restore(snap)
		m.mu.Unlock()
		return err
	}
	return nil
}

type memSnapshot struct {
	appointments map[uuid.UUID]Appointment
	invoices     map[uuid.UUID]Invoice
	payments     map[uuid.UUID]TherapistPayment
	events       []AuditEvent
	nextEventID  int64
}

func (m *MemRepository) snapshot() memSnapshot {
	return memSnapshot{
		appointments: cloneMap(m.appointments),
		invoices:     cloneMap(m.invoices),
		payments:     cloneMap(m.payments),
		events:       append([]AuditEvent(nil), m.events...),
		nextEventID:  m.nextEventID,
	}
}

func (m *MemRepository) restore(s memSnapshot) {
	m.appointments = s.appointments
	m.invoices = s.invoices
	m.payments = s.payments
	m.events = s.events
	m.nextEventID = s.nextEventID
}

func cloneMap[V any](in map[uuid.UUID]V) map[uuid.UUID]V {
	out := make(map[uuid.UUID]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (m *MemRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.patients[id]; ok {
		return &p, nil
	}
	return nil, ErrPatientNotFound
}

func (m *MemRepository) GetTherapistByID(ctx context.Context, id uuid.UUID) (*Therapist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.therapists[id]; ok {
		return &t, nil
	}
	return nil, ErrTherapistNotFound
}

func (m *MemRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.appointments[id]; ok {
		return &a, nil
	}
	return nil, ErrAppointmentNotFound
}

func (m *MemRepository) FindAppointmentAtSlot(ctx context.Context, therapistID uuid.UUID, date time.Time, timeOfDay string) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	day := Date(date)
	for _, a := range m.appointments {
		if a.TherapistID == therapistID && a.Date.Equal(day) && a.TimeOfDay == timeOfDay {
			found := a
			return &found, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (m *MemRepository) CreateAppointment(ctx context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appointments[a.ID] = *a
	return nil
}

func (m *MemRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, status AppointmentStatus) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	a.Status = status
	a.UpdatedAt = time.Now()
	m.appointments[id] = a
	return &a, nil
}

func (m *MemRepository) FindChildren(ctx context.Context, parentID uuid.UUID) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Appointment
	for _, a := range m.appointments {
		if a.ParentID != nil && *a.ParentID == parentID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].TimeOfDay < out[j].TimeOfDay
	})
	return out, nil
}

func (m *MemRepository) CountChildrenByStatus(ctx context.Context, parentID uuid.UUID, status AppointmentStatus) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.appointments {
		if a.ParentID != nil && *a.ParentID == parentID && a.Status == status {
			n++
		}
	}
	return n, nil
}

func (m *MemRepository) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.appointments[id]; !ok {
		return ErrAppointmentNotFound
	}
	delete(m.appointments, id)
	return nil
}

func (m *MemRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []Appointment
	for _, a := range m.appointments {
		if a.PatientID == patientID {
			all = append(all, a)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].Date.Equal(all[j].Date) {
			return all[i].Date.After(all[j].Date)
		}
		return all[i].TimeOfDay > all[j].TimeOfDay
	})
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (m *MemRepository) GetInvoiceByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inv, ok := m.invoices[id]; ok {
		return &inv, nil
	}
	return nil, ErrInvoiceNotFound
}

func (m *MemRepository) FindInvoiceByAppointmentID(ctx context.Context, appointmentID uuid.UUID) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invoices {
		if inv.AppointmentID == appointmentID {
			found := inv
			return &found, nil
		}
	}
	return nil, ErrInvoiceNotFound
}

func (m *MemRepository) CreateInvoice(ctx context.Context, inv *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invoices[inv.ID] = *inv
	return nil
}

func (m *MemRepository) UpdateInvoice(ctx context.Context, id uuid.UUID, patch InvoicePatch) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	if patch.Amount != nil {
		inv.Amount = *patch.Amount
	}
	if patch.TotalAmount != nil {
		inv.TotalAmount = *patch.TotalAmount
	}
	if patch.Status != nil {
		inv.Status = *patch.Status
	}
	if patch.Notes != nil {
		inv.Notes = *patch.Notes
	}
	inv.UpdatedAt = time.Now()
	m.invoices[id] = inv
	return &inv, nil
}

func (m *MemRepository) DeleteInvoice(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.invoices[id]; !ok {
		return ErrInvoiceNotFound
	}
	// Mirror the FK guard: an invoice with a payment cannot be removed.
	for _, p := range m.payments {
		if p.InvoiceID == id {
			return ErrAlreadySettled
		}
	}
	delete(m.invoices, id)
	return nil
}

func (m *MemRepository) FindPaymentByInvoiceID(ctx context.Context, invoiceID uuid.UUID) (*TherapistPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.InvoiceID == invoiceID {
			found := p
			return &found, nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (m *MemRepository) CreatePayment(ctx context.Context, p *TherapistPayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[p.ID] = *p
	return nil
}

func (m *MemRepository) UpdatePayment(ctx context.Context, id uuid.UUID, patch PaymentPatch) (*TherapistPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	if patch.Amount != nil {
		p.Amount = *patch.Amount
	}
	m.payments[id] = p
	return &p, nil
}

func (m *MemRepository) InsertEvent(ctx context.Context, ev AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextEventID++
	ev.ID = m.nextEventID
	m.events = append(m.events, ev)
	return nil
}
