package metrics

import "github.com/prometheus/client_golang/prometheus"

// Webhook outcomes.
const (
	OutcomeProcessed        = "processed"
	OutcomeDuplicate        = "duplicate"
	OutcomeSignatureInvalid = "signature_invalid"
	OutcomeNotFound         = "not_found"
	OutcomeError            = "error"
)

// Allocation outcomes.
const (
	AllocationSucceeded         = "allocated"
	AllocationInsufficientStock = "insufficient_stock"
)

// PaymentMetrics tracks the reconciliation and fulfillment pipeline.
type PaymentMetrics struct {
	webhooks       *prometheus.CounterVec
	credits        *prometheus.CounterVec
	amountMismatch prometheus.Counter
	allocations    *prometheus.CounterVec
}

// NewPaymentMetrics registers the payment metrics on the provided registerer.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "codevault_payment_webhooks_total",
		Help: "Payment gateway callbacks by outcome.",
	}, []string{"outcome"})
	credits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "codevault_balance_credits_total",
		Help: "Ledger entries that credited a balance, by source.",
	}, []string{"source"})
	mismatch := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "codevault_payment_amount_mismatch_total",
		Help: "Callbacks whose reported amount differed from the invoiced amount.",
	})
	allocations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "codevault_credential_allocations_total",
		Help: "Order allocation attempts by outcome.",
	}, []string{"outcome"})
	reg.MustRegister(webhooks, credits, mismatch, allocations)
	return &PaymentMetrics{
		webhooks:       webhooks,
		credits:        credits,
		amountMismatch: mismatch,
		allocations:    allocations,
	}
}

// IncWebhook counts a processed callback.
func (p *PaymentMetrics) IncWebhook(outcome string) {
	if p == nil || p.webhooks == nil {
		return
	}
	p.webhooks.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncCredit counts a balance credit. Source is "webhook" or "poll".
func (p *PaymentMetrics) IncCredit(source string) {
	if p == nil || p.credits == nil {
		return
	}
	p.credits.WithLabelValues(normalizeLabel(source)).Inc()
}

// IncAmountMismatch counts a reported/expected amount discrepancy.
func (p *PaymentMetrics) IncAmountMismatch() {
	if p == nil || p.amountMismatch == nil {
		return
	}
	p.amountMismatch.Inc()
}

// IncAllocation counts an allocation attempt.
func (p *PaymentMetrics) IncAllocation(outcome string) {
	if p == nil || p.allocations == nil {
		return
	}
	p.allocations.WithLabelValues(normalizeLabel(outcome)).Inc()
}
