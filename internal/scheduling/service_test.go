package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clinicdesk/clinic-scheduling/internal/config"
	redisclient "github.com/clinicdesk/clinic-scheduling/internal/redis"
)

type testEnv struct {
	svc       *Service
	repo      *MemRepository
	patient   Patient
	therapist Therapist
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo := NewMemRepository()
	cfg := config.Config{
		SessionPrice:   decimal.RequireFromString("50.00"),
		InvoiceDueDays: 30,
	}
	svc := NewService(repo, redisclient.NoopLocker{}, cfg, zap.NewNop())
	svc.now = func() time.Time {
		return time.Date(2025, time.June, 2, 9, 0, 0, 0, time.UTC)
	}

	patient := Patient{ID: uuid.New(), Name: "Marie Dupont"}
	therapist := Therapist{ID: uuid.New(), Name: "Sophie Laurent"}
	repo.PutPatient(patient)
	repo.PutTherapist(therapist)

	return &testEnv{svc: svc, repo: repo, patient: patient, therapist: therapist}
}

func (e *testEnv) input(d time.Time, timeOfDay string, status AppointmentStatus) NewAppointment {
	return NewAppointment{
		PatientID:   e.patient.ID,
		TherapistID: e.therapist.ID,
		Date:        d,
		TimeOfDay:   timeOfDay,
		Status:      status,
	}
}

func TestCreateAppointment(t *testing.T) {
	ctx := context.Background()
	monday := day(2025, time.June, 9)

	t.Run("confirmed booking generates an invoice", func(t *testing.T) {
		env := newTestEnv(t)

		appt, err := env.svc.CreateAppointment(ctx, env.input(monday, "10:00", StatusConfirmed))
		require.NoError(t, err)
		assert.Equal(t, StatusConfirmed, appt.Status)
		assert.False(t, appt.IsRecurring)

		inv, err := env.repo.FindInvoiceByAppointmentID(ctx, appt.ID)
		require.NoError(t, err)
		assert.Equal(t, "50.00", inv.TotalAmount.StringFixed(2))
		assert.Equal(t, InvoicePending, inv.Status)
		assert.False(t, inv.CoversSeries)
		assert.Contains(t, inv.Number, "INV-2025-")
		assert.Equal(t, day(2025, time.July, 2), inv.DueDate)
	})

	t.Run("pending booking has no invoice", func(t *testing.T) {
		env := newTestEnv(t)

		appt, err := env.svc.CreateAppointment(ctx, env.input(monday, "10:00", ""))
		require.NoError(t, err)
		assert.Equal(t, StatusPending, appt.Status)

		_, err = env.repo.FindInvoiceByAppointmentID(ctx, appt.ID)
		assert.ErrorIs(t, err, ErrInvoiceNotFound)
	})

	t.Run("occupied slot is refused with the occupant's name", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.svc.CreateAppointment(ctx, env.input(monday, "10:00", StatusConfirmed))
		require.NoError(t, err)

		_, err = env.svc.CreateAppointment(ctx, env.input(monday, "10:00", StatusConfirmed))
		var conflict *SlotConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, "Marie Dupont", conflict.Conflict.PatientName)
	})

	t.Run("bad time of day", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.svc.CreateAppointment(ctx, env.input(monday, "25:99", StatusConfirmed))
		assert.Error(t, err)
	})

	t.Run("unknown patient", func(t *testing.T) {
		env := newTestEnv(t)

		in := env.input(monday, "10:00", StatusConfirmed)
		in.PatientID = uuid.New()
		_, err := env.svc.CreateAppointment(ctx, in)
		assert.ErrorIs(t, err, ErrPatientNotFound)
	})
}

func TestCheckAvailability(t *testing.T) {
	ctx := context.Background()
	monday := day(2025, time.June, 9)
	env := newTestEnv(t)

	conflict, err := env.svc.CheckAvailability(ctx, env.therapist.ID, monday, "10:00")
	require.NoError(t, err)
	assert.Nil(t, conflict)

	appt, err := env.svc.CreateAppointment(ctx, env.input(monday, "10:00", StatusConfirmed))
	require.NoError(t, err)

	conflict, err = env.svc.CheckAvailability(ctx, env.therapist.ID, monday, "10:00")
	require.NoError(t, err)
	require.NotNil(t, conflict)
	assert.Equal(t, appt.ID, conflict.AppointmentID)

	// Cancelling does not free the slot; only deletion does.
	_, err = env.svc.ChangeStatus(ctx, appt.ID, StatusCancelled, ScopeUnspecified)
	require.NoError(t, err)

	conflict, err = env.svc.CheckAvailability(ctx, env.therapist.ID, monday, "10:00")
	require.NoError(t, err)
	assert.NotNil(t, conflict)
}

func TestCreateSeries(t *testing.T) {
	ctx := context.Background()
	monday := day(2025, time.June, 9)

	t.Run("grouped series bills all sessions on one invoice", func(t *testing.T) {
		env := newTestEnv(t)

		parent, err := env.svc.CreateSeries(ctx, env.input(monday, "10:00", StatusConfirmed), FrequencyWeekly, 4, true)
		require.NoError(t, err)
		assert.True(t, parent.IsSeriesParent())
		require.NotNil(t, parent.RecurringCount)
		assert.Equal(t, 4, *parent.RecurringCount)

		children, err := env.repo.FindChildren(ctx, parent.ID)
		require.NoError(t, err)
		require.Len(t, children, 3)
		for i := range children {
			assert.Equal(t, parent.ID, *children[i].ParentID)
			assert.Equal(t, StatusConfirmed, children[i].Status)
		}
		assert.Equal(t, day(2025, time.June, 16), children[0].Date)
		assert.Equal(t, day(2025, time.June, 30), children[2].Date)

		inv, err := env.repo.FindInvoiceByAppointmentID(ctx, parent.ID)
		require.NoError(t, err)
		assert.True(t, inv.CoversSeries)
		assert.Equal(t, "200.00", inv.TotalAmount.StringFixed(2))
		assert.Contains(t, inv.Notes, "4 sessions")

		// No child carries its own invoice.
		for i := range children {
			_, err := env.repo.FindInvoiceByAppointmentID(ctx, children[i].ID)
			assert.ErrorIs(t, err, ErrInvoiceNotFound)
		}
	})

	t.Run("ungrouped series bills a single session", func(t *testing.T) {
		env := newTestEnv(t)

		parent, err := env.svc.CreateSeries(ctx, env.input(monday, "10:00", StatusConfirmed), FrequencyWeekly, 4, false)
		require.NoError(t, err)

		inv, err := env.repo.FindInvoiceByAppointmentID(ctx, parent.ID)
		require.NoError(t, err)
		assert.False(t, inv.CoversSeries)
		assert.Equal(t, "50.00", inv.TotalAmount.StringFixed(2))
	})

	t.Run("pending series has no invoice yet", func(t *testing.T) {
		env := newTestEnv(t)

		parent, err := env.svc.CreateSeries(ctx, env.input(monday, "10:00", StatusPending), FrequencyWeekly, 3, true)
		require.NoError(t, err)

		_, err = env.repo.FindInvoiceByAppointmentID(ctx, parent.ID)
		assert.ErrorIs(t, err, ErrInvoiceNotFound)
	})

	t.Run("a single conflicting occurrence aborts the whole series", func(t *testing.T) {
		env := newTestEnv(t)

		other := Patient{ID: uuid.New(), Name: "Paul Martin"}
		env.repo.PutPatient(other)

		blocker := env.input(monday.AddDate(0, 0, 14), "10:00", StatusConfirmed)
		blocker.PatientID = other.ID
		_, err := env.svc.CreateAppointment(ctx, blocker)
		require.NoError(t, err)

		_, err = env.svc.CreateSeries(ctx, env.input(monday, "10:00", StatusConfirmed), FrequencyWeekly, 4, true)
		var conflict *SlotConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, day(2025, time.June, 23), conflict.Date)
		assert.Equal(t, "Paul Martin", conflict.Conflict.PatientName)

		// Nothing was written, the base slot included.
		_, err = env.repo.FindAppointmentAtSlot(ctx, env.therapist.ID, monday, "10:00")
		assert.ErrorIs(t, err, ErrAppointmentNotFound)
	})

	t.Run("series shorter than two sessions is refused", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.svc.CreateSeries(ctx, env.input(monday, "10:00", StatusConfirmed), FrequencyWeekly, 1, true)
		assert.ErrorIs(t, err, ErrSeriesTooShort)
	})
}

func TestChangeStatus(t *testing.T) {
	ctx := context.Background()
	monday := day(2025, time.June, 9)

	t.Run("cancelling a series member needs a scope", func(t *testing.T) {
		env := newTestEnv(t)

		parent, err := env.svc.CreateSeries(ctx, env.input(monday, "10:00", StatusConfirmed), FrequencyWeekly, 3, true)
		require.NoError(t, err)
		children, err := env.repo.FindChildren(ctx, parent.ID)
		require.NoError(t, err)

		_, err = env.svc.ChangeStatus(ctx, parent.ID, StatusCancelled, ScopeUnspecified)
		assert.ErrorIs(t, err, ErrScopeRequired)

		_, err = env.svc.ChangeStatus(ctx, children[0].ID, StatusCancelled, ScopeUnspecified)
		assert.ErrorIs(t, err, ErrScopeRequired)
	})

	t.Run("confirming a parent cascades and generates the invoice", func(t *testing.T) {
		env := newTestEnv(t)

		parent, err := env.svc.CreateSeries(ctx, env.input(monday, "10:00", StatusPending), FrequencyWeekly, 3, true)
		require.NoError(t, err)

		res, err := env.svc.ChangeStatus(ctx, parent.ID, StatusConfirmed, ScopeUnspecified)
		require.NoError(t, err)
		assert.Equal(t, StatusConfirmed, res.Appointment.Status)

		children, err := env.repo.FindChildren(ctx, parent.ID)
		require.NoError(t, err)
		for i := range children {
			assert.Equal(t, StatusConfirmed, children[i].Status)
		}

		// A late confirmation yields a per-session invoice; grouping only
		// happens at series creation time.
		inv, err := env.repo.FindInvoiceByAppointmentID(ctx, parent.ID)
		require.NoError(t, err)
		assert.False(t, inv.CoversSeries)
		assert.Equal(t, "50.00", inv.TotalAmount.StringFixed(2))
	})

	t.Run("cancelling one member shrinks the grouped invoice", func(t *testing.T) {
		env := newTestEnv(t)

		parent, err := env.svc.CreateSeries(ctx, env.input(monday, "10:00", StatusConfirmed), FrequencyWeekly, 4, true)
		require.NoError(t, err)
		children, err := env.repo.FindChildren(ctx, parent.ID)
		require.NoError(t, err)

		res, err := env.svc.ChangeStatus(ctx, children[1].ID, StatusCancelled, ScopeOne)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, res.Appointment.Status)

		inv, err := env.repo.FindInvoiceByAppointmentID(ctx, parent.ID)
		require.NoError(t, err)
		assert.Equal(t, "150.00", inv.TotalAmount.StringFixed(2))
	})

	t.Run("shrinking a paid invoice adjusts its payment", func(t *testing.T) {
		env := newTestEnv(t)

		parent, err := env.svc.CreateSeries(ctx, env.input(monday, "10:00", StatusConfirmed), FrequencyWeekly, 4, true)
		require.NoError(t, err)
		inv, err := env.repo.FindInvoiceByAppointmentID(ctx, parent.ID)
		require.NoError(t, err)

		_, err = env.svc.RecordPayment(ctx, inv.ID, NewPayment{})
		require.NoError(t, err)

		children, err := env.repo.FindChildren(ctx, parent.ID)
		require.NoError(t, err)
		_, err = env.svc.ChangeStatus(ctx, children[0].ID, StatusCancelled, ScopeOne)
		require.NoError(t, err)

		inv, err = env.repo.GetInvoiceByID(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, "150.00", inv.TotalAmount.StringFixed(2))
		assert.Equal(t, InvoicePaid, inv.Status)

		payment, err := env.repo.FindPaymentByInvoiceID(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, "150.00", payment.Amount.StringFixed(2))
	})

	t.Run("completion moves the invoice to to_be_paid", func(t *testing.T) {
		env := newTestEnv(t)

		appt, err := env.svc.CreateAppointment(ctx, env.input(monday, "10:00", StatusConfirmed))
		require.NoError(t, err)

		_, err = env.svc.ChangeStatus(ctx, appt.ID, StatusCompleted, ScopeUnspecified)
		require.NoError(t, err)

		inv, err := env.repo.FindInvoiceByAppointmentID(ctx, appt.ID)
		require.NoError(t, err)
		assert.Equal(t, InvoiceToBePaid, inv.Status)
	})

	t.Run("a paid invoice never changes status again", func(t *testing.T) {
		env := newTestEnv(t)

		appt, err := env.svc.CreateAppointment(ctx, env.input(monday, "10:00", StatusConfirmed))
		require.NoError(t, err)
		inv, err := env.repo.FindInvoiceByAppointmentID(ctx, appt.ID)
		require.NoError(t, err)

		_, err = env.svc.RecordPayment(ctx, inv.ID, NewPayment{})
		require.NoError(t, err)

		_, err = env.svc.ChangeStatus(ctx, appt.ID, StatusCompleted, ScopeUnspecified)
		require.NoError(t, err)

		inv, err = env.repo.GetInvoiceByID(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, InvoicePaid, inv.Status)
	})
}

func TestRecordPayment(t *testing.T) {
	ctx := context.Background()
	monday := day(2025, time.June, 9)

	t.Run("defaults to the invoice total and marks it paid", func(t *testing.T) {
		env := newTestEnv(t)

		appt, err := env.svc.CreateAppointment(ctx, env.input(monday, "10:00", StatusConfirmed))
		require.NoError(t, err)
		inv, err := env.repo.FindInvoiceByAppointmentID(ctx, appt.ID)
		require.NoError(t, err)

		payment, err := env.svc.RecordPayment(ctx, inv.ID, NewPayment{})
		require.NoError(t, err)
		assert.Equal(t, "50.00", payment.Amount.StringFixed(2))
		assert.Equal(t, "bank_transfer", payment.Method)
		assert.Equal(t, env.therapist.ID, payment.TherapistID)

		inv, err = env.repo.GetInvoiceByID(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, InvoicePaid, inv.Status)
	})

	t.Run("one payment per invoice", func(t *testing.T) {
		env := newTestEnv(t)

		appt, err := env.svc.CreateAppointment(ctx, env.input(monday, "10:00", StatusConfirmed))
		require.NoError(t, err)
		inv, err := env.repo.FindInvoiceByAppointmentID(ctx, appt.ID)
		require.NoError(t, err)

		_, err = env.svc.RecordPayment(ctx, inv.ID, NewPayment{})
		require.NoError(t, err)

		_, err = env.svc.RecordPayment(ctx, inv.ID, NewPayment{})
		assert.ErrorIs(t, err, ErrPaymentExists)
	})

	t.Run("unknown invoice", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.svc.RecordPayment(ctx, uuid.New(), NewPayment{})
		assert.True(t, errors.Is(err, ErrInvoiceNotFound))
	})
}

func TestGetAppointment(t *testing.T) {
	ctx := context.Background()
	monday := day(2025, time.June, 9)
	env := newTestEnv(t)

	parent, err := env.svc.CreateSeries(ctx, env.input(monday, "10:00", StatusConfirmed), FrequencyWeekly, 3, true)
	require.NoError(t, err)
	children, err := env.repo.FindChildren(ctx, parent.ID)
	require.NoError(t, err)

	// A child answers to its parent's grouped invoice.
	detail, err := env.svc.GetAppointment(ctx, children[0].ID)
	require.NoError(t, err)
	require.NotNil(t, detail.Invoice)
	assert.Equal(t, parent.ID, detail.Invoice.AppointmentID)
	require.NotNil(t, detail.Patient)
	assert.Equal(t, "Marie Dupont", detail.Patient.Name)
	require.NotNil(t, detail.Therapist)
	assert.Equal(t, "Sophie Laurent", detail.Therapist.Name)
}
