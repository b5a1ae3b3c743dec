package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	redisclient "github.com/clinicdesk/clinic-scheduling/internal/redis"
	"github.com/clinicdesk/clinic-scheduling/internal/scheduling"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

func checkAvailabilityHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		therapistID, err := uuid.Parse(r.URL.Query().Get("therapist_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_therapist_id", "therapist_id must be a valid UUID")
			return
		}
		date, err := parseDate(r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		timeOfDay := r.URL.Query().Get("time")

		conflict, err := svc.CheckAvailability(r.Context(), therapistID, date, timeOfDay)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		resp := AvailabilityResponse{Available: conflict == nil}
		if conflict != nil {
			resp.Conflict = &ConflictResponse{
				AppointmentID: conflict.AppointmentID,
				PatientID:     conflict.PatientID,
				PatientName:   conflict.PatientName,
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func createAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		in, ok := newAppointmentInput(w, req)
		if !ok {
			return
		}

		appt, err := svc.CreateAppointment(r.Context(), in)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func createSeriesHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateSeriesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		in, ok := newAppointmentInput(w, req.CreateAppointmentRequest)
		if !ok {
			return
		}

		freq, err := scheduling.ParseFrequency(req.Frequency)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_frequency", err.Error())
			return
		}

		parent, err := svc.CreateSeries(r.Context(), in, freq, req.Count, req.GroupInvoices)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(parent))
	}
}

func getAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		detail, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := AppointmentDetailResponse{
			AppointmentResponse: toAppointmentResponse(&detail.Appointment),
			Invoice:             toInvoiceResponse(detail.Invoice),
		}
		if detail.Patient != nil {
			resp.PatientName = detail.Patient.Name
		}
		if detail.Therapist != nil {
			resp.TherapistName = detail.Therapist.Name
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func listAppointmentsHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "id must be a valid UUID")
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		appts, err := svc.ListAppointmentsByPatient(r.Context(), patientID, limit, offset)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		out := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			out = append(out, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func changeStatusHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req ChangeStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		status, err := scheduling.ParseAppointmentStatus(req.Status)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
			return
		}

		result, err := svc.ChangeStatus(r.Context(), id, status, scheduling.CancelScope(req.Scope))
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := StatusChangeResponse{Series: toSeriesDeletionResponse(result.Series)}
		if result.Appointment != nil {
			a := toAppointmentResponse(result.Appointment)
			resp.Appointment = &a
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func deleteAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		if err := svc.DeleteAppointment(r.Context(), id); err != nil {
			if errors.Is(err, scheduling.ErrAlreadySettled) {
				writeJSON(w, http.StatusConflict, DeleteResponse{Success: false, Reason: err.Error()})
				return
			}
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, DeleteResponse{Success: true})
	}
}

func deleteSeriesHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		res, err := svc.DeleteSeries(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toSeriesDeletionResponse(res))
	}
}

func recordPaymentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		invoiceID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_invoice_id", "id must be a valid UUID")
			return
		}

		var req RecordPaymentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		in := scheduling.NewPayment{
			Method:    req.Method,
			Reference: req.Reference,
			Notes:     req.Notes,
		}
		if req.Amount != nil {
			amount, err := decimal.NewFromString(*req.Amount)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_amount", "amount must be a decimal string")
				return
			}
			in.Amount = &amount
		}
		if req.Date != nil {
			date, err := parseDate(*req.Date)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
				return
			}
			in.PaymentDate = &date
		}

		payment, err := svc.RecordPayment(r.Context(), invoiceID, in)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, PaymentResponse{
			ID:          payment.ID,
			InvoiceID:   payment.InvoiceID,
			TherapistID: payment.TherapistID,
			Amount:      payment.Amount.StringFixed(2),
			PaymentDate: payment.PaymentDate.Format("2006-01-02"),
			Method:      payment.Method,
		})
	}
}

func newAppointmentInput(w http.ResponseWriter, req CreateAppointmentRequest) (scheduling.NewAppointment, bool) {
	var in scheduling.NewAppointment

	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
		return in, false
	}
	therapistID, err := uuid.Parse(req.TherapistID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_therapist_id", "therapist_id must be a valid UUID")
		return in, false
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return in, false
	}

	var status scheduling.AppointmentStatus
	if req.Status != "" {
		status, err = scheduling.ParseAppointmentStatus(req.Status)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
			return in, false
		}
	}

	in = scheduling.NewAppointment{
		PatientID:       patientID,
		TherapistID:     therapistID,
		Date:            date,
		TimeOfDay:       req.Time,
		Status:          status,
		DurationMinutes: req.DurationMinutes,
		Type:            req.Type,
		Notes:           req.Notes,
	}
	return in, true
}

func handleServiceError(w http.ResponseWriter, err error) {
	var conflict *scheduling.SlotConflictError

	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "slot_conflict", Details: conflict.Error()})
	case errors.Is(err, scheduling.ErrPatientNotFound),
		errors.Is(err, scheduling.ErrTherapistNotFound),
		errors.Is(err, scheduling.ErrAppointmentNotFound),
		errors.Is(err, scheduling.ErrInvoiceNotFound),
		errors.Is(err, scheduling.ErrPaymentNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, scheduling.ErrScopeRequired):
		writeError(w, http.StatusUnprocessableEntity, "scope_required", err.Error())
	case errors.Is(err, scheduling.ErrAlreadySettled):
		writeError(w, http.StatusConflict, "already_settled", err.Error())
	case errors.Is(err, scheduling.ErrPaymentExists):
		writeError(w, http.StatusConflict, "payment_exists", err.Error())
	case errors.Is(err, scheduling.ErrSeriesTooShort):
		writeError(w, http.StatusBadRequest, "series_too_short", err.Error())
	case errors.Is(err, scheduling.ErrSlotBusy),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "slot_busy", "slot is currently being booked, please retry shortly")
	case errors.Is(err, scheduling.ErrInvariantViolation):
		writeError(w, http.StatusConflict, "invariant_violation", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
