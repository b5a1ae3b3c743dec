package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/clinicdesk/clinic-scheduling/internal/config"
	redisclient "github.com/clinicdesk/clinic-scheduling/internal/redis"
)

const (
	EventAppointmentCreated = "APPOINTMENT_CREATED"
	EventSeriesCreated      = "SERIES_CREATED"
	EventStatusCascaded     = "STATUS_CASCADED"
	EventInvoiceGenerated   = "INVOICE_GENERATED"
	EventInvoiceReconciled  = "INVOICE_RECONCILED"
	EventPaymentAdjusted    = "PAYMENT_ADJUSTED"
	EventPaymentRecorded    = "PAYMENT_RECORDED"
	EventAppointmentDeleted = "APPOINTMENT_DELETED"
	EventSeriesDeleted      = "SERIES_DELETED"
	EventDeleteBlocked      = "DELETE_BLOCKED"
)

var (
	// ErrSlotBusy means another request holds the lock for the same slot or
	// calendar right now.
	ErrSlotBusy = errors.New("slot is currently being booked, please retry")
	// ErrAlreadySettled blocks deletion or destructive edits once a therapist
	// payment exists against the invoice.
	ErrAlreadySettled = errors.New("already settled with therapist")
	// ErrScopeRequired is returned when cancelling a series member without
	// saying whether the whole series or just the one occurrence is meant.
	ErrScopeRequired = errors.New("cancellation scope required for recurring appointment")
	// ErrInvariantViolation marks defensive checks that should be unreachable
	// through the public operations.
	ErrInvariantViolation = errors.New("recurring series invariant violated")
	// ErrPaymentExists enforces at most one payment per invoice.
	ErrPaymentExists = errors.New("invoice already has a payment")
	// ErrSeriesTooShort rejects recurring series of fewer than two sessions.
	ErrSeriesTooShort = errors.New("a recurring series needs at least 2 sessions")
)

// SlotConflict identifies the appointment already occupying a slot.
type SlotConflict struct {
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	PatientName   string
}

// SlotConflictError aborts a booking; during series creation it names the
// first occurrence that could not be placed.
type SlotConflictError struct {
	Date      time.Time
	TimeOfDay string
	Conflict  SlotConflict
}

func (e *SlotConflictError) Error() string {
	return fmt.Sprintf("slot %s %s is already taken by %s",
		e.Date.Format("2006-01-02"), e.TimeOfDay, e.Conflict.PatientName)
}

// CancelScope disambiguates what a cancellation on a series member covers.
type CancelScope string

const (
	ScopeUnspecified CancelScope = ""
	ScopeOne         CancelScope = "one"
	ScopeSeries      CancelScope = "series"
	ScopeFromDate    CancelScope = "from_date"
)

// NewAppointment is the input for creating a single appointment or the base
// of a recurring series.
type NewAppointment struct {
	PatientID       uuid.UUID
	TherapistID     uuid.UUID
	Date            time.Time
	TimeOfDay       string
	Status          AppointmentStatus // defaults to pending
	DurationMinutes int
	Type            *string
	Notes           *string
}

type NewPayment struct {
	Amount      *decimal.Decimal // defaults to the invoice total
	PaymentDate *time.Time
	Method      string
	Reference   *string
	Notes       *string
}

// StatusResult reports what a status change did: either the updated row, or
// the rows a series cancellation removed.
type StatusResult struct {
	Appointment *Appointment
	Series      *SeriesDeletion
}

type Service struct {
	repo   Repository
	locker redisclient.Locker
	cfg    config.Config
	log    *zap.Logger
	now    func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, log *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		locker: locker,
		cfg:    cfg,
		log:    log,
		now:    time.Now,
	}
}

// CheckAvailability reports whether the exact (therapist, date, time) slot is
// free. A nil conflict means available. Any status occupies its slot,
// cancelled included; callers relying on cancelled slots being reusable must
// delete the row instead.
func (s *Service) CheckAvailability(ctx context.Context, therapistID uuid.UUID, date time.Time, timeOfDay string) (*SlotConflict, error) {
	occupant, err := s.repo.FindAppointmentAtSlot(ctx, therapistID, Date(date), timeOfDay)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("check availability: %w", err)
	}

	conflict := &SlotConflict{
		AppointmentID: occupant.ID,
		PatientID:     occupant.PatientID,
	}
	if p, err := s.repo.GetPatientByID(ctx, occupant.PatientID); err == nil {
		conflict.PatientName = p.Name
	}
	return conflict, nil
}

// CreateAppointment books a single slot. The availability check and the
// insert run under a per-slot lock so two concurrent requests cannot both
// land on the same slot.
func (s *Service) CreateAppointment(ctx context.Context, in NewAppointment) (*Appointment, error) {
	if err := s.validateInput(ctx, in); err != nil {
		return nil, err
	}
	status, err := initialStatus(in.Status)
	if err != nil {
		return nil, err
	}

	var created *Appointment

	err = s.locker.WithLock(ctx, slotLockKey(in.TherapistID, in.Date, in.TimeOfDay), func(lockCtx context.Context) error {
		conflict, err := s.CheckAvailability(lockCtx, in.TherapistID, in.Date, in.TimeOfDay)
		if err != nil {
			return err
		}
		if conflict != nil {
			return &SlotConflictError{Date: Date(in.Date), TimeOfDay: in.TimeOfDay, Conflict: *conflict}
		}

		appt := s.newAppointmentRow(in, status)
		if err := s.repo.CreateAppointment(lockCtx, appt); err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}
		created = appt

		if status == StatusConfirmed {
			if _, err := s.generateInvoice(lockCtx, s.repo, appt); err != nil {
				return err
			}
		}

		s.logEvent(lockCtx, s.repo, EventAppointmentCreated, &appt.ID, nil, map[string]any{
			"therapist_id": in.TherapistID.String(),
			"date":         Date(in.Date).Format("2006-01-02"),
			"time":         in.TimeOfDay,
		})
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBusy
		}
		return nil, err
	}

	return created, nil
}

// CreateSeries books a whole recurring series as one logical operation.
// Every occurrence after the first is checked for conflicts before anything
// is written; a single conflict aborts the whole batch. The writes run inside
// one transaction, under a lock on the therapist's calendar.
//
// The first slot is assumed already checked by the caller. That pre-condition
// is a known race window in the original flow; the calendar lock narrows it
// but the first-slot check is still not repeated here.
func (s *Service) CreateSeries(ctx context.Context, in NewAppointment, freq Frequency, count int, groupInvoices bool) (*Appointment, error) {
	if !freq.Valid() {
		return nil, fmt.Errorf("invalid recurring frequency %q", freq)
	}
	if count < 2 {
		return nil, ErrSeriesTooShort
	}
	if err := s.validateInput(ctx, in); err != nil {
		return nil, err
	}
	status, err := initialStatus(in.Status)
	if err != nil {
		return nil, err
	}

	occurrences := ExpandSeries(in.Date, in.TimeOfDay, freq, count)

	var parent *Appointment

	err = s.locker.WithLock(ctx, calendarLockKey(in.TherapistID), func(lockCtx context.Context) error {
		for _, occ := range occurrences[1:] {
			conflict, err := s.CheckAvailability(lockCtx, in.TherapistID, occ.Date, occ.TimeOfDay)
			if err != nil {
				return err
			}
			if conflict != nil {
				return &SlotConflictError{Date: occ.Date, TimeOfDay: occ.TimeOfDay, Conflict: *conflict}
			}
		}

		return s.repo.InTx(lockCtx, func(txCtx context.Context, r Repository) error {
			f := freq
			c := count

			p := s.newAppointmentRow(in, status)
			p.Date = occurrences[0].Date
			p.IsRecurring = true
			p.RecurringFrequency = &f
			p.RecurringCount = &c
			if err := r.CreateAppointment(txCtx, p); err != nil {
				return fmt.Errorf("create series parent: %w", err)
			}

			// Children are inserted sequentially in date order; invoice
			// generation is suppressed for all of them.
			for _, occ := range occurrences[1:] {
				child := s.newAppointmentRow(in, status)
				child.Date = occ.Date
				child.IsRecurring = true
				child.RecurringFrequency = &f
				pid := p.ID
				child.ParentID = &pid
				if err := r.CreateAppointment(txCtx, child); err != nil {
					return fmt.Errorf("create series member: %w", err)
				}
			}

			if status == StatusConfirmed {
				inv := s.buildInvoice(p)
				inv.Notes = seriesNotes(occurrences, freq)
				if groupInvoices {
					total := s.cfg.SessionPrice.Mul(decimal.NewFromInt(int64(count))).Round(2)
					inv.CoversSeries = true
					inv.Amount = total
					inv.TotalAmount = total
				}
				if err := r.CreateInvoice(txCtx, inv); err != nil {
					return fmt.Errorf("create series invoice: %w", err)
				}
			}

			s.logEvent(txCtx, r, EventSeriesCreated, &p.ID, nil, map[string]any{
				"frequency":      string(freq),
				"count":          count,
				"group_invoices": groupInvoices,
			})

			parent = p
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBusy
		}
		return nil, err
	}

	return parent, nil
}

// ChangeStatus applies a status transition. Cancellations on series members
// require an explicit scope; the orchestrator never decides silently whether
// one occurrence or the whole series is meant. Confirm/complete on a series
// parent cascades to every child.
func (s *Service) ChangeStatus(ctx context.Context, id uuid.UUID, newStatus AppointmentStatus, scope CancelScope) (*StatusResult, error) {
	if !newStatus.Valid() {
		return nil, fmt.Errorf("invalid appointment status %q", newStatus)
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	if newStatus == StatusCancelled {
		switch {
		case appt.IsSeriesParent():
			switch scope {
			case ScopeOne:
				updated, err := s.CancelOne(ctx, id)
				if err != nil {
					return nil, err
				}
				return &StatusResult{Appointment: updated}, nil
			case ScopeSeries:
				res, err := s.CancelSeries(ctx, id)
				if err != nil {
					return nil, err
				}
				return &StatusResult{Series: res}, nil
			default:
				return nil, ErrScopeRequired
			}
		case appt.IsSeriesChild():
			switch scope {
			case ScopeOne:
				updated, err := s.CancelOne(ctx, id)
				if err != nil {
					return nil, err
				}
				return &StatusResult{Appointment: updated}, nil
			case ScopeFromDate:
				res, err := s.CancelSeriesFromDate(ctx, id)
				if err != nil {
					return nil, err
				}
				return &StatusResult{Series: res}, nil
			default:
				return nil, ErrScopeRequired
			}
		default:
			updated, err := s.CancelOne(ctx, id)
			if err != nil {
				return nil, err
			}
			return &StatusResult{Appointment: updated}, nil
		}
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, id, newStatus)
	if err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}

	if appt.IsSeriesParent() {
		children, err := s.repo.FindChildren(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load series members: %w", err)
		}
		for _, child := range children {
			if _, err := s.repo.UpdateAppointmentStatus(ctx, child.ID, newStatus); err != nil {
				return nil, fmt.Errorf("cascade status to member %s: %w", child.ID, err)
			}
		}
		s.logEvent(ctx, s.repo, EventStatusCascaded, &id, nil, map[string]any{
			"status":  string(newStatus),
			"members": len(children),
		})
	}

	if err := s.syncInvoice(ctx, s.repo, updated, newStatus); err != nil {
		return nil, err
	}

	return &StatusResult{Appointment: updated}, nil
}

// CancelOne cancels a single occurrence, leaving the rest of its series
// untouched. Cancelling a child of a grouped series shrinks the shared
// invoice to the remaining active sessions.
func (s *Service) CancelOne(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, id, StatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	if appt.IsSeriesChild() {
		if err := s.reconcileSeriesInvoice(ctx, s.repo, *appt.ParentID); err != nil {
			return nil, err
		}
	} else {
		if err := s.syncInvoice(ctx, s.repo, updated, StatusCancelled); err != nil {
			return nil, err
		}
	}

	return updated, nil
}

// CancelSeries removes the parent and every child outright, subject to the
// deletion guard's payment checks. This matches the original behavior where
// cancelling a series deletes the rows rather than flagging them.
func (s *Service) CancelSeries(ctx context.Context, parentID uuid.UUID) (*SeriesDeletion, error) {
	return s.DeleteSeries(ctx, parentID)
}

// CancelSeriesFromDate removes the triggering child and every same-series
// member whose date is on or after its date, each through the deletion guard.
func (s *Service) CancelSeriesFromDate(ctx context.Context, id uuid.UUID) (*SeriesDeletion, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if appt.IsSeriesParent() {
		// From the first occurrence onward is the whole series.
		return s.DeleteSeries(ctx, id)
	}
	if appt.ParentID == nil {
		return nil, fmt.Errorf("%w: appointment %s is not part of a series", ErrInvariantViolation, id)
	}

	parentID := *appt.ParentID
	res := &SeriesDeletion{ParentID: parentID}

	err = s.repo.InTx(ctx, func(txCtx context.Context, r Repository) error {
		children, err := r.FindChildren(txCtx, parentID)
		if err != nil {
			return fmt.Errorf("load series members: %w", err)
		}
		for i := range children {
			child := &children[i]
			if child.Date.Before(appt.Date) {
				continue
			}
			deleted, err := s.removeSeriesMember(txCtx, r, child)
			if err != nil {
				return err
			}
			if deleted {
				res.DeletedIDs = append(res.DeletedIDs, child.ID)
			} else {
				res.SkippedIDs = append(res.SkippedIDs, child.ID)
			}
		}
		s.logEvent(txCtx, r, EventSeriesDeleted, &parentID, nil, map[string]any{
			"from_date": appt.Date.Format("2006-01-02"),
			"deleted":   len(res.DeletedIDs),
			"skipped":   len(res.SkippedIDs),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// RecordPayment settles an invoice with the therapist: marks it paid and
// creates the single payment allowed against it.
func (s *Service) RecordPayment(ctx context.Context, invoiceID uuid.UUID, in NewPayment) (*TherapistPayment, error) {
	inv, err := s.repo.GetInvoiceByID(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("load invoice: %w", err)
	}

	// Uniqueness is a lookup-before-insert rule, backed by the DB constraint.
	if _, err := s.repo.FindPaymentByInvoiceID(ctx, invoiceID); err == nil {
		return nil, ErrPaymentExists
	} else if !errors.Is(err, ErrPaymentNotFound) {
		return nil, fmt.Errorf("check existing payment: %w", err)
	}

	amount := inv.TotalAmount
	if in.Amount != nil {
		amount = in.Amount.Round(2)
	}
	paymentDate := Date(s.now())
	if in.PaymentDate != nil {
		paymentDate = Date(*in.PaymentDate)
	}
	method := in.Method
	if method == "" {
		method = "bank_transfer"
	}

	payment := &TherapistPayment{
		ID:          uuid.New(),
		TherapistID: inv.TherapistID,
		InvoiceID:   invoiceID,
		Amount:      amount,
		PaymentDate: paymentDate,
		Method:      method,
		Reference:   in.Reference,
		Notes:       in.Notes,
		CreatedAt:   s.now(),
	}

	err = s.repo.InTx(ctx, func(txCtx context.Context, r Repository) error {
		if err := r.CreatePayment(txCtx, payment); err != nil {
			return fmt.Errorf("create payment: %w", err)
		}
		paid := InvoicePaid
		if _, err := r.UpdateInvoice(txCtx, invoiceID, InvoicePatch{Status: &paid}); err != nil {
			return fmt.Errorf("mark invoice paid: %w", err)
		}
		s.logEvent(txCtx, r, EventPaymentRecorded, nil, &invoiceID, map[string]any{
			"amount": amount.StringFixed(2),
			"method": method,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return payment, nil
}

// GetAppointment retrieves an appointment hydrated with its patient,
// therapist and resolved invoice.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}

	detail := &AppointmentDetail{Appointment: *appt}

	if p, err := s.repo.GetPatientByID(ctx, appt.PatientID); err == nil {
		detail.Patient = p
	}
	if t, err := s.repo.GetTherapistByID(ctx, appt.TherapistID); err == nil {
		detail.Therapist = t
	}
	inv, err := s.resolveInvoice(ctx, s.repo, appt)
	if err != nil {
		return nil, err
	}
	detail.Invoice = inv

	return detail, nil
}

// ListAppointmentsByPatient retrieves appointments for a specific patient.
func (s *Service) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}

	appointments, err := s.repo.ListAppointmentsByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appointments, nil
}

// syncInvoice applies the status-to-invoice-status mapping after a
// non-cancellation transition (plus invoice cancellation from CancelOne).
// Children never drive the shared invoice; paid invoices are immutable here.
func (s *Service) syncInvoice(ctx context.Context, r Repository, appt *Appointment, st AppointmentStatus) error {
	if appt.IsSeriesChild() {
		return nil
	}

	inv, err := s.resolveInvoice(ctx, r, appt)
	if err != nil {
		return err
	}

	if inv == nil {
		if st == StatusConfirmed || st == StatusPending {
			_, err := s.generateInvoice(ctx, r, appt)
			return err
		}
		return nil
	}

	if inv.Status == InvoicePaid {
		return nil
	}

	var target InvoiceStatus
	switch st {
	case StatusPending:
		target = InvoicePending
	case StatusCompleted:
		target = InvoiceToBePaid
	case StatusCancelled:
		target = InvoiceCancelled
	default:
		return nil
	}
	if target == inv.Status {
		return nil
	}

	if _, err := r.UpdateInvoice(ctx, inv.ID, InvoicePatch{Status: &target}); err != nil {
		return fmt.Errorf("update invoice status: %w", err)
	}
	return nil
}

// resolveInvoice finds the invoice an appointment answers to: a child's
// invoice is its parent's, everything else anchors its own. Nil means no
// invoice exists yet.
func (s *Service) resolveInvoice(ctx context.Context, r Repository, appt *Appointment) (*Invoice, error) {
	anchorID := appt.ID
	if appt.ParentID != nil {
		anchorID = *appt.ParentID
	}
	inv, err := r.FindInvoiceByAppointmentID(ctx, anchorID)
	if errors.Is(err, ErrInvoiceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve invoice: %w", err)
	}
	return inv, nil
}

func (s *Service) validateInput(ctx context.Context, in NewAppointment) error {
	if _, err := time.Parse("15:04", in.TimeOfDay); err != nil {
		return fmt.Errorf("invalid time of day %q, want HH:MM", in.TimeOfDay)
	}
	if _, err := s.repo.GetPatientByID(ctx, in.PatientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return err
		}
		return fmt.Errorf("load patient: %w", err)
	}
	if _, err := s.repo.GetTherapistByID(ctx, in.TherapistID); err != nil {
		if errors.Is(err, ErrTherapistNotFound) {
			return err
		}
		return fmt.Errorf("load therapist: %w", err)
	}
	return nil
}

func initialStatus(st AppointmentStatus) (AppointmentStatus, error) {
	if st == "" {
		return StatusPending, nil
	}
	if !st.Valid() {
		return "", fmt.Errorf("invalid appointment status %q", st)
	}
	return st, nil
}

func (s *Service) newAppointmentRow(in NewAppointment, status AppointmentStatus) *Appointment {
	now := s.now()
	return &Appointment{
		ID:              uuid.New(),
		PatientID:       in.PatientID,
		TherapistID:     in.TherapistID,
		Date:            Date(in.Date),
		TimeOfDay:       in.TimeOfDay,
		Status:          status,
		DurationMinutes: in.DurationMinutes,
		Type:            in.Type,
		Notes:           in.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func slotLockKey(therapistID uuid.UUID, date time.Time, timeOfDay string) string {
	return fmt.Sprintf("lock:slot:%s:%s:%s", therapistID, Date(date).Format("2006-01-02"), timeOfDay)
}

func calendarLockKey(therapistID uuid.UUID) string {
	return fmt.Sprintf("lock:calendar:%s", therapistID)
}

func (s *Service) logEvent(ctx context.Context, r Repository, eventType string, appointmentID, invoiceID *uuid.UUID, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("marshal event payload", zap.String("event", eventType), zap.Error(err))
		data = nil
	}

	ev := AuditEvent{
		EventType:     eventType,
		AppointmentID: appointmentID,
		InvoiceID:     invoiceID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := r.InsertEvent(ctx, ev); err != nil {
		s.log.Warn("insert audit event", zap.String("event", eventType), zap.Error(err))
	}
}
