package httpx

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	CheckoutTotal   *prometheus.CounterVec
	RedemptionTotal *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CheckoutTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pickup",
			Name:      "checkout_total",
			Help:      "Checkout attempts by outcome.",
		}, []string{"outcome"}),
		RedemptionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pickup",
			Name:      "redemption_total",
			Help:      "Redemption attempts by credential and outcome.",
		}, []string{"credential", "outcome"}),
	}
	reg.MustRegister(m.CheckoutTotal, m.RedemptionTotal)
	return m
}
