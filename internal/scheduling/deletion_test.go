package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeleteAppointment(t *testing.T) {
	ctx := context.Background()
	monday := day(2025, time.June, 9)

	t.Run("unpaid standalone goes with its invoice", func(t *testing.T) {
		env := newTestEnv(t)

		appt, err := env.svc.CreateAppointment(ctx, env.input(monday, "10:00", StatusConfirmed))
		require.NoError(t, err)
		inv, err := env.repo.FindInvoiceByAppointmentID(ctx, appt.ID)
		require.NoError(t, err)

		require.NoError(t, env.svc.DeleteAppointment(ctx, appt.ID))

		_, err = env.repo.GetAppointmentByID(ctx, appt.ID)
		assert.ErrorIs(t, err, ErrAppointmentNotFound)
		_, err = env.repo.GetInvoiceByID(ctx, inv.ID)
		assert.ErrorIs(t, err, ErrInvoiceNotFound)

		// The slot is free again.
		conflict, err := env.svc.CheckAvailability(ctx, env.therapist.ID, monday, "10:00")
		require.NoError(t, err)
		assert.Nil(t, conflict)
	})

	t.Run("settled standalone is refused untouched", func(t *testing.T) {
		env := newTestEnv(t)

		appt, err := env.svc.CreateAppointment(ctx, env.input(monday, "10:00", StatusConfirmed))
		require.NoError(t, err)
		inv, err := env.repo.FindInvoiceByAppointmentID(ctx, appt.ID)
		require.NoError(t, err)
		_, err = env.svc.RecordPayment(ctx, inv.ID, NewPayment{})
		require.NoError(t, err)

		err = env.svc.DeleteAppointment(ctx, appt.ID)
		assert.ErrorIs(t, err, ErrAlreadySettled)

		_, err = env.repo.GetAppointmentByID(ctx, appt.ID)
		assert.NoError(t, err)
		_, err = env.repo.GetInvoiceByID(ctx, inv.ID)
		assert.NoError(t, err)
	})

	t.Run("settled series parent refuses before touching any member", func(t *testing.T) {
		env := newTestEnv(t)

		parent, err := env.svc.CreateSeries(ctx, env.input(monday, "10:00", StatusConfirmed), FrequencyWeekly, 4, true)
		require.NoError(t, err)
		inv, err := env.repo.FindInvoiceByAppointmentID(ctx, parent.ID)
		require.NoError(t, err)
		_, err = env.svc.RecordPayment(ctx, inv.ID, NewPayment{})
		require.NoError(t, err)

		err = env.svc.DeleteAppointment(ctx, parent.ID)
		assert.ErrorIs(t, err, ErrAlreadySettled)

		children, err := env.repo.FindChildren(ctx, parent.ID)
		require.NoError(t, err)
		assert.Len(t, children, 3)

		// The paid amount is untouched too.
		payment, err := env.repo.FindPaymentByInvoiceID(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, "200.00", payment.Amount.StringFixed(2))
	})

	t.Run("deleting a member of a paid grouped series shrinks the invoice", func(t *testing.T) {
		env := newTestEnv(t)

		parent, err := env.svc.CreateSeries(ctx, env.input(monday, "10:00", StatusConfirmed), FrequencyWeekly, 4, true)
		require.NoError(t, err)
		inv, err := env.repo.FindInvoiceByAppointmentID(ctx, parent.ID)
		require.NoError(t, err)
		_, err = env.svc.RecordPayment(ctx, inv.ID, NewPayment{})
		require.NoError(t, err)

		children, err := env.repo.FindChildren(ctx, parent.ID)
		require.NoError(t, err)

		require.NoError(t, env.svc.DeleteAppointment(ctx, children[0].ID))

		_, err = env.repo.GetAppointmentByID(ctx, children[0].ID)
		assert.ErrorIs(t, err, ErrAppointmentNotFound)

		inv, err = env.repo.GetInvoiceByID(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, "150.00", inv.TotalAmount.StringFixed(2))
		assert.Equal(t, InvoicePaid, inv.Status)

		payment, err := env.repo.FindPaymentByInvoiceID(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, "150.00", payment.Amount.StringFixed(2))
	})
}

func TestDeleteSeries(t *testing.T) {
	ctx := context.Background()
	monday := day(2025, time.June, 9)

	t.Run("unpaid series disappears entirely", func(t *testing.T) {
		env := newTestEnv(t)

		parent, err := env.svc.CreateSeries(ctx, env.input(monday, "10:00", StatusConfirmed), FrequencyWeekly, 4, true)
		require.NoError(t, err)
		inv, err := env.repo.FindInvoiceByAppointmentID(ctx, parent.ID)
		require.NoError(t, err)
		children, err := env.repo.FindChildren(ctx, parent.ID)
		require.NoError(t, err)

		res, err := env.svc.DeleteSeries(ctx, parent.ID)
		require.NoError(t, err)
		assert.True(t, res.ParentDeleted)
		assert.Len(t, res.DeletedIDs, 3)
		assert.Empty(t, res.SkippedIDs)

		_, err = env.repo.GetAppointmentByID(ctx, parent.ID)
		assert.ErrorIs(t, err, ErrAppointmentNotFound)
		for i := range children {
			_, err = env.repo.GetAppointmentByID(ctx, children[i].ID)
			assert.ErrorIs(t, err, ErrAppointmentNotFound)
		}
		_, err = env.repo.GetInvoiceByID(ctx, inv.ID)
		assert.ErrorIs(t, err, ErrInvoiceNotFound)
	})

	t.Run("paid parent survives while its members go", func(t *testing.T) {
		env := newTestEnv(t)

		parent, err := env.svc.CreateSeries(ctx, env.input(monday, "10:00", StatusConfirmed), FrequencyWeekly, 4, true)
		require.NoError(t, err)
		inv, err := env.repo.FindInvoiceByAppointmentID(ctx, parent.ID)
		require.NoError(t, err)
		_, err = env.svc.RecordPayment(ctx, inv.ID, NewPayment{})
		require.NoError(t, err)

		res, err := env.svc.DeleteSeries(ctx, parent.ID)
		require.NoError(t, err)
		assert.False(t, res.ParentDeleted)
		assert.Len(t, res.DeletedIDs, 3)

		_, err = env.repo.GetAppointmentByID(ctx, parent.ID)
		assert.NoError(t, err)

		// Only the parent's own session remains billed.
		inv, err = env.repo.GetInvoiceByID(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, "50.00", inv.TotalAmount.StringFixed(2))
		payment, err := env.repo.FindPaymentByInvoiceID(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, "50.00", payment.Amount.StringFixed(2))
	})

	t.Run("only a parent qualifies", func(t *testing.T) {
		env := newTestEnv(t)

		appt, err := env.svc.CreateAppointment(ctx, env.input(monday, "10:00", StatusConfirmed))
		require.NoError(t, err)

		_, err = env.svc.DeleteSeries(ctx, appt.ID)
		assert.ErrorIs(t, err, ErrInvariantViolation)
	})
}

func TestCancelSeriesFromDate(t *testing.T) {
	ctx := context.Background()
	monday := day(2025, time.June, 9)
	env := newTestEnv(t)

	parent, err := env.svc.CreateSeries(ctx, env.input(monday, "10:00", StatusConfirmed), FrequencyWeekly, 4, true)
	require.NoError(t, err)
	children, err := env.repo.FindChildren(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, children, 3)

	// Cancel from the middle child onward: it and the later one go, the
	// earlier child and the parent stay.
	res, err := env.svc.ChangeStatus(ctx, children[1].ID, StatusCancelled, ScopeFromDate)
	require.NoError(t, err)
	require.NotNil(t, res.Series)
	assert.Len(t, res.Series.DeletedIDs, 2)

	remaining, err := env.repo.FindChildren(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, children[0].ID, remaining[0].ID)

	_, err = env.repo.GetAppointmentByID(ctx, parent.ID)
	assert.NoError(t, err)

	inv, err := env.repo.FindInvoiceByAppointmentID(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, "100.00", inv.TotalAmount.StringFixed(2))
}
