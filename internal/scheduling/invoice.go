package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// buildInvoice produces the standard per-session invoice for an appointment:
// flat session price, no tax, due a configured number of days after issue.
func (s *Service) buildInvoice(appt *Appointment) *Invoice {
	now := s.now()
	today := Date(now)
	price := s.cfg.SessionPrice.Round(2)

	return &Invoice{
		ID:            uuid.New(),
		Number:        invoiceNumber(today.Year(), appt.ID),
		PatientID:     appt.PatientID,
		TherapistID:   appt.TherapistID,
		AppointmentID: appt.ID,
		Amount:        price,
		TaxRate:       decimal.Zero,
		TotalAmount:   price,
		Status:        InvoicePending,
		IssueDate:     today,
		DueDate:       today.AddDate(0, 0, s.cfg.InvoiceDueDays),
		Notes:         sessionNote(appt),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// generateInvoice creates the appointment's invoice unless one already
// exists. Series children never get their own invoice.
func (s *Service) generateInvoice(ctx context.Context, r Repository, appt *Appointment) (*Invoice, error) {
	if appt.IsSeriesChild() {
		return nil, fmt.Errorf("%w: series member %s cannot anchor its own invoice", ErrInvariantViolation, appt.ID)
	}

	existing, err := r.FindInvoiceByAppointmentID(ctx, appt.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrInvoiceNotFound) {
		return nil, fmt.Errorf("find invoice: %w", err)
	}

	inv := s.buildInvoice(appt)
	if err := r.CreateInvoice(ctx, inv); err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}

	s.logEvent(ctx, r, EventInvoiceGenerated, &appt.ID, &inv.ID, map[string]any{
		"number": inv.Number,
		"amount": inv.TotalAmount.StringFixed(2),
	})
	return inv, nil
}

// reconcileSeriesInvoice recomputes a grouped invoice after a series member
// was cancelled or removed: amount becomes unit price times the remaining
// active sessions. A paid invoice keeps its paid status but its amount, and
// the amount of the payment made against it, follow the shrink. This is the
// one exception to payments being immutable once created.
func (s *Service) reconcileSeriesInvoice(ctx context.Context, r Repository, parentID uuid.UUID) error {
	parent, err := r.GetAppointmentByID(ctx, parentID)
	if errors.Is(err, ErrAppointmentNotFound) {
		// Orphaned member, nothing left to reconcile against.
		return nil
	}
	if err != nil {
		return fmt.Errorf("load series parent: %w", err)
	}

	inv, err := r.FindInvoiceByAppointmentID(ctx, parentID)
	if errors.Is(err, ErrInvoiceNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load series invoice: %w", err)
	}
	if !inv.CoversSeries {
		// Ungrouped series bill per single session; nothing tracks the count.
		return nil
	}

	active, err := s.activeSeriesSessions(ctx, r, parent)
	if err != nil {
		return err
	}

	amount := s.cfg.SessionPrice.Mul(decimal.NewFromInt(int64(active))).Round(2)
	if amount.Equal(inv.Amount) {
		return nil
	}

	if _, err := r.UpdateInvoice(ctx, inv.ID, InvoicePatch{Amount: &amount, TotalAmount: &amount}); err != nil {
		return fmt.Errorf("shrink series invoice: %w", err)
	}
	s.logEvent(ctx, r, EventInvoiceReconciled, &parentID, &inv.ID, map[string]any{
		"active_sessions": active,
		"amount":          amount.StringFixed(2),
	})

	payment, err := r.FindPaymentByInvoiceID(ctx, inv.ID)
	if errors.Is(err, ErrPaymentNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load series payment: %w", err)
	}

	if _, err := r.UpdatePayment(ctx, payment.ID, PaymentPatch{Amount: &amount}); err != nil {
		return fmt.Errorf("adjust payment amount: %w", err)
	}
	s.logEvent(ctx, r, EventPaymentAdjusted, &parentID, &inv.ID, map[string]any{
		"amount": amount.StringFixed(2),
	})
	return nil
}

// activeSeriesSessions counts the non-cancelled members still present in a
// series, the parent included.
func (s *Service) activeSeriesSessions(ctx context.Context, r Repository, parent *Appointment) (int, error) {
	children, err := r.FindChildren(ctx, parent.ID)
	if err != nil {
		return 0, fmt.Errorf("load series members: %w", err)
	}
	cancelled, err := r.CountChildrenByStatus(ctx, parent.ID, StatusCancelled)
	if err != nil {
		return 0, fmt.Errorf("count cancelled members: %w", err)
	}

	active := len(children) - cancelled
	if parent.Status != StatusCancelled {
		active++
	}
	return active, nil
}

// invoiceNumber is deterministic from the issue year and the anchor
// appointment id.
func invoiceNumber(year int, appointmentID uuid.UUID) string {
	compact := strings.ToUpper(strings.ReplaceAll(appointmentID.String(), "-", ""))
	return fmt.Sprintf("INV-%d-%s", year, compact[:8])
}

func sessionNote(appt *Appointment) string {
	return fmt.Sprintf("Session on %s at %s", appt.Date.Format("2006-01-02"), appt.TimeOfDay)
}

func seriesNotes(occurrences []Occurrence, freq Frequency) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Recurring series (%s), %d sessions:", freq.Label(), len(occurrences))
	for _, occ := range occurrences {
		fmt.Fprintf(&b, "\n- %s at %s", occ.Date.Format("2006-01-02"), occ.TimeOfDay)
	}
	return b.String()
}
