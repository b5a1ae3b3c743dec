package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinic-scheduling/internal/scheduling"
)

type CreateAppointmentRequest struct {
	PatientID       string  `json:"patient_id"`
	TherapistID     string  `json:"therapist_id"`
	Date            string  `json:"date"` // YYYY-MM-DD
	Time            string  `json:"time"` // HH:MM
	Status          string  `json:"status,omitempty"`
	DurationMinutes int     `json:"duration_minutes,omitempty"`
	Type            *string `json:"type,omitempty"`
	Notes           *string `json:"notes,omitempty"`
}

type CreateSeriesRequest struct {
	CreateAppointmentRequest
	Frequency     string `json:"frequency"`
	Count         int    `json:"count"`
	GroupInvoices bool   `json:"group_invoices"`
}

type ChangeStatusRequest struct {
	Status string `json:"status"`
	Scope  string `json:"scope,omitempty"` // one | series | from_date
}

type RecordPaymentRequest struct {
	Amount    *string `json:"amount,omitempty"`
	Date      *string `json:"date,omitempty"`
	Method    string  `json:"method,omitempty"`
	Reference *string `json:"reference,omitempty"`
	Notes     *string `json:"notes,omitempty"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID  `json:"id"`
	PatientID          uuid.UUID  `json:"patient_id"`
	TherapistID        uuid.UUID  `json:"therapist_id"`
	Date               string     `json:"date"`
	Time               string     `json:"time"`
	Status             string     `json:"status"`
	IsRecurring        bool       `json:"is_recurring"`
	RecurringFrequency *string    `json:"recurring_frequency,omitempty"`
	RecurringCount     *int       `json:"recurring_count,omitempty"`
	ParentID           *uuid.UUID `json:"parent_appointment_id,omitempty"`
}

type InvoiceResponse struct {
	ID           uuid.UUID `json:"id"`
	Number       string    `json:"number"`
	Amount       string    `json:"amount"`
	TotalAmount  string    `json:"total_amount"`
	Status       string    `json:"status"`
	IssueDate    string    `json:"issue_date"`
	DueDate      string    `json:"due_date"`
	CoversSeries bool      `json:"covers_series"`
	Notes        string    `json:"notes,omitempty"`
}

type AppointmentDetailResponse struct {
	AppointmentResponse
	PatientName   string           `json:"patient_name,omitempty"`
	TherapistName string           `json:"therapist_name,omitempty"`
	Invoice       *InvoiceResponse `json:"invoice,omitempty"`
}

type AvailabilityResponse struct {
	Available bool              `json:"available"`
	Conflict  *ConflictResponse `json:"conflict,omitempty"`
}

type ConflictResponse struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	PatientID     uuid.UUID `json:"patient_id"`
	PatientName   string    `json:"patient_name"`
}

type PaymentResponse struct {
	ID          uuid.UUID `json:"id"`
	InvoiceID   uuid.UUID `json:"invoice_id"`
	TherapistID uuid.UUID `json:"therapist_id"`
	Amount      string    `json:"amount"`
	PaymentDate string    `json:"payment_date"`
	Method      string    `json:"method"`
}

type SeriesDeletionResponse struct {
	ParentID      uuid.UUID   `json:"parent_appointment_id"`
	DeletedIDs    []uuid.UUID `json:"deleted_ids"`
	SkippedIDs    []uuid.UUID `json:"skipped_ids,omitempty"`
	ParentDeleted bool        `json:"parent_deleted"`
}

type StatusChangeResponse struct {
	Appointment *AppointmentResponse    `json:"appointment,omitempty"`
	Series      *SeriesDeletionResponse `json:"series,omitempty"`
}

type DeleteResponse struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *scheduling.Appointment) AppointmentResponse {
	resp := AppointmentResponse{
		ID:             a.ID,
		PatientID:      a.PatientID,
		TherapistID:    a.TherapistID,
		Date:           a.Date.Format("2006-01-02"),
		Time:           a.TimeOfDay,
		Status:         string(a.Status),
		IsRecurring:    a.IsRecurring,
		RecurringCount: a.RecurringCount,
		ParentID:       a.ParentID,
	}
	if a.RecurringFrequency != nil {
		f := string(*a.RecurringFrequency)
		resp.RecurringFrequency = &f
	}
	return resp
}

func toInvoiceResponse(inv *scheduling.Invoice) *InvoiceResponse {
	if inv == nil {
		return nil
	}
	return &InvoiceResponse{
		ID:           inv.ID,
		Number:       inv.Number,
		Amount:       inv.Amount.StringFixed(2),
		TotalAmount:  inv.TotalAmount.StringFixed(2),
		Status:       string(inv.Status),
		IssueDate:    inv.IssueDate.Format("2006-01-02"),
		DueDate:      inv.DueDate.Format("2006-01-02"),
		CoversSeries: inv.CoversSeries,
		Notes:        inv.Notes,
	}
}

func toSeriesDeletionResponse(res *scheduling.SeriesDeletion) *SeriesDeletionResponse {
	if res == nil {
		return nil
	}
	return &SeriesDeletionResponse{
		ParentID:      res.ParentID,
		DeletedIDs:    res.DeletedIDs,
		SkippedIDs:    res.SkippedIDs,
		ParentDeleted: res.ParentDeleted,
	}
}

func parseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}
