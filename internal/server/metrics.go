package server

import (
	"net/http"

	"nftmint/internal/minting"
	"nftmint/internal/stats"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors. It is created before
// the controller so the controller hooks can feed it.
type Metrics struct {
	registry         *prometheus.Registry
	intentsTotal     *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
	signalsTotal     *prometheus.CounterVec
	refreshTotal     *prometheus.CounterVec
	inFlight         prometheus.Gauge
	supplyMinted     prometheus.Gauge
	supplyMax        prometheus.Gauge
	streamClients    prometheus.Gauge
}

func NewMetrics() *Metrics {
	intents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nftmint_intents_total",
		Help: "User intents received, by intent and result",
	}, []string{"intent", "result"})

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nftmint_mint_transitions_total",
		Help: "Mint status transitions, by target status and failure reason",
	}, []string{"status", "reason"})

	signals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nftmint_settle_signals_total",
		Help: "Which signal settled a mint attempt",
	}, []string{"signal"})

	refresh := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nftmint_stats_refresh_total",
		Help: "Supply stats refreshes, by result",
	}, []string{"result"})

	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nftmint_mint_in_flight",
		Help: "1 while a mint is submitting or pending confirmation",
	})

	minted := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nftmint_supply_minted",
		Help: "Tokens minted so far, as last read",
	})

	maxSupply := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nftmint_supply_max",
		Help: "Collection size, as last read",
	})

	clients := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nftmint_stream_clients",
		Help: "Connected snapshot stream clients",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(intents, transitions, signals, refresh, inFlight, minted, maxSupply, clients)

	return &Metrics{
		registry:         r,
		intentsTotal:     intents,
		transitionsTotal: transitions,
		signalsTotal:     signals,
		refreshTotal:     refresh,
		inFlight:         inFlight,
		supplyMinted:     minted,
		supplyMax:        maxSupply,
		streamClients:    clients,
	}
}

func (m *Metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) incIntent(intent, result string) {
	m.intentsTotal.WithLabelValues(intent, result).Inc()
}

// ObserveTransition is a minting transition hook.
func (m *Metrics) ObserveTransition(t minting.Transition) {
	m.transitionsTotal.WithLabelValues(t.To.String(), t.Reason.String()).Inc()
	if t.To.InFlight() {
		m.inFlight.Set(1)
	} else {
		m.inFlight.Set(0)
	}
	if t.Signal != minting.SignalNone {
		m.signalsTotal.WithLabelValues(t.Signal.String()).Inc()
	}
}

// ObserveRefresh is a stats refresh hook.
func (m *Metrics) ObserveRefresh(s stats.Stats, err error) {
	if err != nil {
		m.refreshTotal.WithLabelValues("failed").Inc()
		return
	}
	m.refreshTotal.WithLabelValues("ok").Inc()
	m.supplyMinted.Set(float64(s.Minted))
	m.supplyMax.Set(float64(s.Max))
}
