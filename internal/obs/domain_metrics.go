package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// OrderCreateTotal counts order creation attempts by plan and result.
	OrderCreateTotal *prometheus.CounterVec
	// PaymentVerifyTotal counts payment confirmation outcomes.
	PaymentVerifyTotal *prometheus.CounterVec
	// PaymentFailureReports counts gateway-reported payment failures.
	PaymentFailureReports prometheus.Counter
	// PersistFailureTotal tracks durable writes that were sacrificed to keep
	// the payment flow available. Each increment is an order that exists at
	// the gateway but may be missing or stale locally.
	PersistFailureTotal *prometheus.CounterVec
	// ReconcileTotal counts reconciliation outcomes for stuck orders.
	ReconcileTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		OrderCreateTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_create_total",
			Help:      "Count of order creation attempts by plan and result.",
		}, []string{"plan", "result"})
		PaymentVerifyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_verify_total",
			Help:      "Count of payment confirmation outcomes.",
		}, []string{"result"})
		PaymentFailureReports = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_failure_reports_total",
			Help:      "Count of gateway-reported payment failures.",
		})
		PersistFailureTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_persist_failures_total",
			Help:      "Durable writes dropped on the availability-over-consistency path.",
		}, []string{"op"})
		ReconcileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_reconcile_total",
			Help:      "Count of reconciliation outcomes for stuck pending orders.",
		}, []string{"outcome"})

		mustRegisterCollector(reg, OrderCreateTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				OrderCreateTotal = v
			}
		})
		mustRegisterCollector(reg, PaymentVerifyTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentVerifyTotal = v
			}
		})
		mustRegisterCollector(reg, PaymentFailureReports, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				PaymentFailureReports = v
			}
		})
		mustRegisterCollector(reg, PersistFailureTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PersistFailureTotal = v
			}
		})
		mustRegisterCollector(reg, ReconcileTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				ReconcileTotal = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
