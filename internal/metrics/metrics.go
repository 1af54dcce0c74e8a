package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	PacketsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowsentry_packets_total", Help: "packets ingested"})
	IngressDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowsentry_ingress_drops_total", Help: "packets dropped on a full ingress queue"})
	StorageDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowsentry_storage_drops_total", Help: "flow updates dropped after retry exhaustion"})
	StorageRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowsentry_storage_retries_total", Help: "retried storage commits"})
	ActiveFlows = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flowsentry_active_flows", Help: "flow aggregates held in memory"})
	AlertsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flowsentry_alerts_total", Help: "alerts emitted"}, []string{"source"})
	ProviderFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flowsentry_provider_failures_total", Help: "enrichment provider failures and timeouts"}, []string{"provider"})
	ScoredFlows = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flowsentry_scored_flows_total", Help: "flows scored by the anomaly model"}, []string{"result"})
	RuleReloads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flowsentry_rule_reloads_total", Help: "rule set reload attempts"}, []string{"status"})
)

func init() {
	prometheus.MustRegister(PacketsTotal, IngressDrops, StorageDrops, StorageRetries,
		ActiveFlows, AlertsTotal, ProviderFailures, ScoredFlows, RuleReloads)
}

// Serve exposes /metrics on addr. It blocks, so call it in a goroutine.
func Serve(addr string, log *zap.SugaredLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warnw("metrics server stopped", "err", err)
	}
}
