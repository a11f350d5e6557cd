package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mlm-network/internal/utils"
)

var (
	CreditsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mlm_ledger_credits_total",
			Help: "Number of ledger credits by transaction type",
		},
		[]string{"type"},
	)

	CreditedAmount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mlm_ledger_credited_amount_total",
			Help: "Sum of credited amounts by transaction type",
		},
		[]string{"type"},
	)

	DebitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mlm_ledger_debits_total",
			Help: "Number of ledger debits by transaction type",
		},
		[]string{"type"},
	)

	MatrixCompletions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mlm_matrix_level_completions_total",
			Help: "Matrix levels completed, by level",
		},
		[]string{"level"},
	)

	RankPromotions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mlm_rank_promotions_total",
			Help: "Rank achievements awarded, by rank",
		},
		[]string{"rank"},
	)

	Retries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mlm_concurrent_modification_retries_total",
			Help: "Member updates retried after a lock or version conflict",
		},
	)

	SkippedHops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mlm_commission_skipped_hops_total",
			Help: "Upline hops skipped because the member record was missing",
		},
	)

	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mlm_batch_duration_seconds",
			Help:    "Duration of scheduled batch jobs",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)
)

// Handler serves the default registry to clients inside allowedCIDRs only.
func Handler(allowedCIDRs []string) http.Handler {
	next := promhttp.Handler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !utils.IsAllowedIP(host, allowedCIDRs) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
