/*

Prometheus instrumentation for the vault engine.

  - cvm_operations_total{result}      — lifecycle outcomes (started|completed|forced|rejected)
  - cvm_requests_total{kind,result}   — deposit/withdraw request flow
  - cvm_valuation_updates_total{asset}— valuation ledger writes
  - cvm_total_shares                  — outstanding shares (whole shares)
  - cvm_vault_value_usd               — last computed total vault value
  - cvm_epoch_loss_usd                — cumulative loss in the current epoch

Registered in init() and served at /metrics by the web server.

*/

package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	mtxOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cvm_operations_total",
			Help: "Operation lifecycle outcomes",
		},
		[]string{"result"},
	)

	mtxRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cvm_requests_total",
			Help: "Deposit/withdraw request flow",
		},
		[]string{"kind", "result"},
	)

	mtxValuationUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cvm_valuation_updates_total",
			Help: "Valuation ledger writes",
		},
		[]string{"asset"},
	)

	gaugeTotalShares = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cvm_total_shares",
			Help: "Outstanding vault shares",
		},
	)

	gaugeVaultValue = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cvm_vault_value_usd",
			Help: "Total vault value in USD",
		},
	)

	gaugeEpochLoss = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cvm_epoch_loss_usd",
			Help: "Cumulative loss in the current epoch",
		},
	)
)

func init() {
	prometheus.MustRegister(
		mtxOperations,
		mtxRequests,
		mtxValuationUpdates,
		gaugeTotalShares,
		gaugeVaultValue,
		gaugeEpochLoss,
	)
}

// IncOperation counts one lifecycle outcome.
func IncOperation(result string) {
	mtxOperations.WithLabelValues(result).Inc()
}

// IncRequest counts one request-flow event.
func IncRequest(kind, result string) {
	mtxRequests.WithLabelValues(kind, result).Inc()
}

// IncValuationUpdate counts one valuation ledger write.
func IncValuationUpdate(asset string) {
	mtxValuationUpdates.WithLabelValues(asset).Inc()
}

// SetVaultGauges publishes the latest aggregate figures.
func SetVaultGauges(totalShares, vaultValueUSD, epochLossUSD float64) {
	gaugeTotalShares.Set(totalShares)
	gaugeVaultValue.Set(vaultValueUSD)
	gaugeEpochLoss.Set(epochLossUSD)
}
