// Package metrics exports fulfillment progress as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Standard-Labs/real-intent/pkg/lead/fill"
	"github.com/Standard-Labs/real-intent/pkg/lead/validate"
)

var _ fill.Observer = (*Recorder)(nil)

// Recorder implements fill.Observer on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	TiersStarted      *prometheus.CounterVec
	TierDeficit       prometheus.Histogram
	TierAccepted      *prometheus.CounterVec
	EnrichRequested   prometheus.Counter
	EnrichReturned    prometheus.Counter
	EnrichBatches     prometheus.Counter
	ValidatorRemoved  *prometheus.CounterVec
	ValidatorInput    *prometheus.CounterVec
	CheckerRetries    *prometheus.CounterVec
	FulfillmentsTotal *prometheus.CounterVec
}

func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		TiersStarted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "leadfill_tiers_started_total",
			Help: "Validation tiers started, by tier",
		}, []string{"tier"}),
		TierDeficit: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "leadfill_tier_deficit",
			Help:    "Leads still missing when a tier starts",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		TierAccepted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "leadfill_tier_accepted_total",
			Help: "Leads accepted, by the tier that accepted them",
		}, []string{"tier"}),
		EnrichRequested: f.NewCounter(prometheus.CounterOpts{
			Name: "leadfill_enrich_requested_total",
			Help: "Identifiers sent for enrichment",
		}),
		EnrichReturned: f.NewCounter(prometheus.CounterOpts{
			Name: "leadfill_enrich_returned_total",
			Help: "Enriched records returned",
		}),
		EnrichBatches: f.NewCounter(prometheus.CounterOpts{
			Name: "leadfill_enrich_batches_total",
			Help: "Enrichment calls made",
		}),
		ValidatorRemoved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "leadfill_validator_removed_total",
			Help: "Records removed, by validator",
		}, []string{"validator"}),
		ValidatorInput: f.NewCounterVec(prometheus.CounterOpts{
			Name: "leadfill_validator_input_total",
			Help: "Records passed to each validator",
		}, []string{"validator"}),
		CheckerRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "leadfill_checker_retries_total",
			Help: "Transient contact checker failures retried, by checker",
		}, []string{"checker"}),
		FulfillmentsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "leadfill_fulfillments_total",
			Help: "Fulfillment requests, by outcome (met, short, error)",
		}, []string{"outcome"}),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) TierStarted(tier validate.Tier, deficit int) {
	r.TiersStarted.WithLabelValues(tierLabel(tier)).Inc()
	r.TierDeficit.Observe(float64(deficit))
}

func (r *Recorder) BatchEnriched(requested, returned int) {
	r.EnrichBatches.Inc()
	r.EnrichRequested.Add(float64(requested))
	r.EnrichReturned.Add(float64(returned))
}

func (r *Recorder) ValidatorApplied(name string, in, out int) {
	r.ValidatorInput.WithLabelValues(name).Add(float64(in))
	if removed := in - out; removed > 0 {
		r.ValidatorRemoved.WithLabelValues(name).Add(float64(removed))
	}
}

func (r *Recorder) TierFinished(tier validate.Tier, accepted int) {
	r.TierAccepted.WithLabelValues(tierLabel(tier)).Add(float64(accepted))
}

// CheckerRetry counts one retried checker call.
func (r *Recorder) CheckerRetry(checker string) {
	r.CheckerRetries.WithLabelValues(checker).Inc()
}

// Fulfilled records the outcome of one request.
func (r *Recorder) Fulfilled(target, got int, err error) {
	outcome := "met"
	switch {
	case err != nil:
		outcome = "error"
	case got < target:
		outcome = "short"
	}
	r.FulfillmentsTotal.WithLabelValues(outcome).Inc()
}

func tierLabel(t validate.Tier) string {
	return strconv.Itoa(int(t))
}
