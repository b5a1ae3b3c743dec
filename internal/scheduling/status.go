package scheduling

import (
	"fmt"
	"strings"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

type InvoiceStatus string

const (
	InvoicePending   InvoiceStatus = "pending"
	InvoiceToBePaid  InvoiceStatus = "to_be_paid"
	InvoicePaid      InvoiceStatus = "paid"
	InvoiceCancelled InvoiceStatus = "cancelled"
)

type Frequency string

const (
	FrequencyWeekly   Frequency = "weekly"
	FrequencyBiweekly Frequency = "biweekly"
	FrequencyMonthly  Frequency = "monthly"
	FrequencyYearly   Frequency = "yearly"
)

// Legacy records mix locale spellings with the canonical ones. The aliases are
// normalized here, at the boundary; nothing past the parsers compares against
// a locale literal.
var appointmentStatusAliases = map[string]AppointmentStatus{
	"pending":    StatusPending,
	"en attente": StatusPending,
	"confirmed":  StatusConfirmed,
	"confirmé":   StatusConfirmed,
	"confirme":   StatusConfirmed,
	"completed":  StatusCompleted,
	"terminé":    StatusCompleted,
	"termine":    StatusCompleted,
	"effectué":   StatusCompleted,
	"cancelled":  StatusCancelled,
	"canceled":   StatusCancelled,
	"annulé":     StatusCancelled,
	"annule":     StatusCancelled,
}

var invoiceStatusAliases = map[string]InvoiceStatus{
	"pending":    InvoicePending,
	"en attente": InvoicePending,
	"to_be_paid": InvoiceToBePaid,
	"to be paid": InvoiceToBePaid,
	"à payer":    InvoiceToBePaid,
	"a payer":    InvoiceToBePaid,
	"paid":       InvoicePaid,
	"payée":      InvoicePaid,
	"payee":      InvoicePaid,
	"payé":       InvoicePaid,
	"cancelled":  InvoiceCancelled,
	"canceled":   InvoiceCancelled,
	"annulée":    InvoiceCancelled,
	"annulee":    InvoiceCancelled,
	"annulé":     InvoiceCancelled,
}

var frequencyAliases = map[string]Frequency{
	"weekly":        FrequencyWeekly,
	"hebdomadaire":  FrequencyWeekly,
	"biweekly":      FrequencyBiweekly,
	"bimensuel":     FrequencyBiweekly,
	"monthly":       FrequencyMonthly,
	"mensuel":       FrequencyMonthly,
	"yearly":        FrequencyYearly,
	"annuel":        FrequencyYearly,
}

func ParseAppointmentStatus(s string) (AppointmentStatus, error) {
	if st, ok := appointmentStatusAliases[normalize(s)]; ok {
		return st, nil
	}
	return "", fmt.Errorf("unknown appointment status %q", s)
}

func ParseInvoiceStatus(s string) (InvoiceStatus, error) {
	if st, ok := invoiceStatusAliases[normalize(s)]; ok {
		return st, nil
	}
	return "", fmt.Errorf("unknown invoice status %q", s)
}

func ParseFrequency(s string) (Frequency, error) {
	if f, ok := frequencyAliases[normalize(s)]; ok {
		return f, nil
	}
	return "", fmt.Errorf("unknown recurring frequency %q", s)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly, FrequencyYearly:
		return true
	}
	return false
}

// Label is the human form used in grouped invoice notes.
func (f Frequency) Label() string {
	switch f {
	case FrequencyWeekly:
		return "weekly"
	case FrequencyBiweekly:
		return "every two weeks"
	case FrequencyMonthly:
		return "monthly"
	case FrequencyYearly:
		return "yearly"
	}
	return string(f)
}
