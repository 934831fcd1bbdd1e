package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type MetricsCollector struct {
	purchaseSuccess      *prometheus.CounterVec
	purchaseFailed       *prometheus.CounterVec
	reuses               *prometheus.CounterVec
	codeReceived         *prometheus.CounterVec
	cancellations        *prometheus.CounterVec
	verificationResults  *prometheus.CounterVec
	verificationDuration *prometheus.HistogramVec
	smsWaitDuration      *prometheus.HistogramVec
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		purchaseSuccess: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "simflow_purchase_success_total",
				Help: "Total number of successful phone number purchases",
			},
			[]string{"country", "service"},
		),
		purchaseFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "simflow_purchase_failed_total",
				Help: "Total number of failed phone number purchases",
			},
			[]string{"country", "service"},
		),
		reuses: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "simflow_number_reuses_total",
				Help: "Total number of ledger reuses that avoided a purchase",
			},
			[]string{"service"},
		),
		codeReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "simflow_code_received_total",
				Help: "Total number of SMS codes received",
			},
			[]string{"service", "via"},
		),
		cancellations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "simflow_cancellations_total",
				Help: "Total number of activations released back to the provider",
			},
			[]string{"service"},
		),
		verificationResults: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "simflow_verification_results_total",
				Help: "Verification run outcomes",
			},
			[]string{"service", "result"},
		),
		verificationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "simflow_verification_duration_seconds",
				Help:    "Duration of full verification runs",
				Buckets: prometheus.ExponentialBuckets(5, 2, 8),
			},
			[]string{"service", "result"},
		),
		smsWaitDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "simflow_sms_wait_duration_seconds",
				Help:    "Time from number submission to code receipt",
				Buckets: prometheus.LinearBuckets(10, 20, 10),
			},
			[]string{"service"},
		),
	}
}

func (m *MetricsCollector) IncrementPurchaseSuccess(country, service string) {
	if m == nil {
		return
	}
	m.purchaseSuccess.WithLabelValues(country, service).Inc()
}

func (m *MetricsCollector) IncrementPurchaseFailed(country, service string) {
	if m == nil {
		return
	}
	m.purchaseFailed.WithLabelValues(country, service).Inc()
}

func (m *MetricsCollector) IncrementReuse(service string) {
	if m == nil {
		return
	}
	m.reuses.WithLabelValues(service).Inc()
}

func (m *MetricsCollector) IncrementCodeReceived(service, via string) {
	if m == nil {
		return
	}
	m.codeReceived.WithLabelValues(service, via).Inc()
}

func (m *MetricsCollector) IncrementCancellation(service string) {
	if m == nil {
		return
	}
	m.cancellations.WithLabelValues(service).Inc()
}

func (m *MetricsCollector) RecordVerificationResult(service, result string, seconds float64) {
	if m == nil {
		return
	}
	m.verificationResults.WithLabelValues(service, result).Inc()
	m.verificationDuration.WithLabelValues(service, result).Observe(seconds)
}

func (m *MetricsCollector) RecordSMSWait(service string, seconds float64) {
	if m == nil {
		return
	}
	m.smsWaitDuration.WithLabelValues(service).Observe(seconds)
}
