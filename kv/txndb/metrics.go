package txndb

import "github.com/prometheus/client_golang/prometheus"

var (
	operationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "txndb",
			Name:      "operation_total",
			Help:      "Counter of database operations.",
		}, []string{"type"})

	operationErrorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "txndb",
			Name:      "operation_error_total",
			Help:      "Counter of failed database operations.",
		}, []string{"type"})

	columnFamilyHandleGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "txndb",
			Name:      "column_family_handles",
			Help:      "Number of open column family handles.",
		})

	transactionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "txndb",
			Name:      "transaction_total",
			Help:      "Counter of finished transactions.",
		}, []string{"result"})
)

func init() {
	prometheus.MustRegister(operationCounter)
	prometheus.MustRegister(operationErrorCounter)
	prometheus.MustRegister(columnFamilyHandleGauge)
	prometheus.MustRegister(transactionCounter)
}

// observe counts one operation and returns err unchanged.
func observe(op string, err error) error {
	operationCounter.WithLabelValues(op).Inc()
	if err != nil {
		operationErrorCounter.WithLabelValues(op).Inc()
	}
	return err
}
