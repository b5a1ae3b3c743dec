package scheduling

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// SeriesDeletion reports the partial-success outcome of removing a series:
// payment-protected members are skipped and left intact while the rest go.
type SeriesDeletion struct {
	ParentID      uuid.UUID
	DeletedIDs    []uuid.UUID
	SkippedIDs    []uuid.UUID
	ParentDeleted bool
}

// DeleteAppointment removes one appointment. The settled check is absolute:
// if a therapist payment exists against the appointment's own invoice the
// whole operation refuses before anything is touched. A payment-protected
// parent therefore refuses outright here; DeleteSeries is the partial-success
// path.
func (s *Service) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load appointment: %w", err)
	}

	if appt.IsSeriesParent() {
		settled, err := s.invoiceSettled(ctx, s.repo, id)
		if err != nil {
			return err
		}
		if settled {
			return ErrAlreadySettled
		}
		_, err = s.DeleteSeries(ctx, id)
		return err
	}

	if appt.IsSeriesChild() {
		var deleted bool
		err := s.repo.InTx(ctx, func(txCtx context.Context, r Repository) error {
			var err error
			deleted, err = s.removeSeriesMember(txCtx, r, appt)
			return err
		})
		if err != nil {
			return err
		}
		if !deleted {
			return ErrAlreadySettled
		}
		return nil
	}

	return s.deleteStandalone(ctx, appt)
}

// DeleteSeries removes a whole series with partial success: every child is
// judged independently, payment-protected children survive, and the parent
// row and its invoice only go when the parent itself is unprotected.
func (s *Service) DeleteSeries(ctx context.Context, parentID uuid.UUID) (*SeriesDeletion, error) {
	parent, err := s.repo.GetAppointmentByID(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("load series parent: %w", err)
	}
	if !parent.IsSeriesParent() {
		return nil, fmt.Errorf("%w: appointment %s is not a series parent", ErrInvariantViolation, parentID)
	}

	res := &SeriesDeletion{ParentID: parentID}

	err = s.repo.InTx(ctx, func(txCtx context.Context, r Repository) error {
		parentSettled, err := s.invoiceSettled(txCtx, r, parentID)
		if err != nil {
			return err
		}

		children, err := r.FindChildren(txCtx, parentID)
		if err != nil {
			return fmt.Errorf("load series members: %w", err)
		}
		for i := range children {
			child := &children[i]
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

		if parentSettled {
			s.logEvent(txCtx, r, EventDeleteBlocked, &parentID, nil, map[string]any{
				"reason": "already settled with therapist",
			})
			return nil
		}

		if err := s.removeOwnInvoice(txCtx, r, parentID); err != nil {
			return err
		}
		if err := r.DeleteAppointment(txCtx, parentID); err != nil {
			return fmt.Errorf("delete series parent: %w", err)
		}
		res.ParentDeleted = true

		s.logEvent(txCtx, r, EventSeriesDeleted, &parentID, nil, map[string]any{
			"deleted": len(res.DeletedIDs) + 1,
			"skipped": len(res.SkippedIDs),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// removeSeriesMember deletes one child through the guard. A child whose own
// invoice is settled is left intact (false). A child under a grouped parent
// invoice, paid or not, is removed and the shared invoice shrunk to the
// remaining active sessions: deleting one occurrence of a paid grouped series
// means shrinking the paid invoice, never deleting and ignoring.
func (s *Service) removeSeriesMember(ctx context.Context, r Repository, child *Appointment) (bool, error) {
	own, err := r.FindInvoiceByAppointmentID(ctx, child.ID)
	if err != nil && !errors.Is(err, ErrInvoiceNotFound) {
		return false, fmt.Errorf("load member invoice: %w", err)
	}
	if own != nil {
		if settled, err := s.paymentExists(ctx, r, own.ID); err != nil {
			return false, err
		} else if settled {
			return false, nil
		}
		if err := r.DeleteInvoice(ctx, own.ID); err != nil {
			if errors.Is(err, ErrAlreadySettled) {
				return false, nil
			}
			return false, fmt.Errorf("delete member invoice: %w", err)
		}
	}

	if err := r.DeleteAppointment(ctx, child.ID); err != nil {
		if errors.Is(err, ErrAlreadySettled) {
			return false, nil
		}
		return false, fmt.Errorf("delete series member: %w", err)
	}

	if child.ParentID != nil {
		if err := s.reconcileSeriesInvoice(ctx, r, *child.ParentID); err != nil {
			return false, err
		}
	}

	return true, nil
}

func (s *Service) deleteStandalone(ctx context.Context, appt *Appointment) error {
	inv, err := s.repo.FindInvoiceByAppointmentID(ctx, appt.ID)
	if err != nil && !errors.Is(err, ErrInvoiceNotFound) {
		return fmt.Errorf("load invoice: %w", err)
	}

	if inv != nil {
		settled, err := s.paymentExists(ctx, s.repo, inv.ID)
		if err != nil {
			return err
		}
		if settled {
			return ErrAlreadySettled
		}
	}

	return s.repo.InTx(ctx, func(txCtx context.Context, r Repository) error {
		if inv != nil {
			if err := r.DeleteInvoice(txCtx, inv.ID); err != nil {
				return fmt.Errorf("delete invoice: %w", err)
			}
		}
		if err := r.DeleteAppointment(txCtx, appt.ID); err != nil {
			return fmt.Errorf("delete appointment: %w", err)
		}
		s.logEvent(txCtx, r, EventAppointmentDeleted, &appt.ID, nil, nil)
		return nil
	})
}

func (s *Service) removeOwnInvoice(ctx context.Context, r Repository, appointmentID uuid.UUID) error {
	inv, err := r.FindInvoiceByAppointmentID(ctx, appointmentID)
	if errors.Is(err, ErrInvoiceNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load invoice: %w", err)
	}
	if err := r.DeleteInvoice(ctx, inv.ID); err != nil {
		return fmt.Errorf("delete invoice: %w", err)
	}
	return nil
}

// invoiceSettled reports whether the appointment's own anchored invoice has a
// payment against it.
func (s *Service) invoiceSettled(ctx context.Context, r Repository, appointmentID uuid.UUID) (bool, error) {
	inv, err := r.FindInvoiceByAppointmentID(ctx, appointmentID)
	if errors.Is(err, ErrInvoiceNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load invoice: %w", err)
	}
	return s.paymentExists(ctx, r, inv.ID)
}

func (s *Service) paymentExists(ctx context.Context, r Repository, invoiceID uuid.UUID) (bool, error) {
	_, err := r.FindPaymentByInvoiceID(ctx, invoiceID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrPaymentNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("load payment: %w", err)
}
