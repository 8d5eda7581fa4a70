package engine

import "github.com/prometheus/client_golang/prometheus"

// metricsSet is the Prometheus instrumentation for component L. Each
// open DB gets its own set, labelled db=<name>. The set is registered
// only with OpenOptions.Registerer when one is given; with a nil
// Registerer it is kept up to date but registered nowhere.
//
// Grounded on github.com/prometheus/client_golang, a direct dependency
// of bitmark-inc-bitmarkd, promoted here from that repo's indirect
// observability usage to a component this spec explicitly calls for
// (§2 component L, SPEC_FULL.md).
type metricsSet struct {
	updateSeq      prometheus.Gauge
	docCount       prometheus.Gauge
	queueDepth     prometheus.Gauge
	bulkWriteDocs  prometheus.Counter
	bulkWriteSecs  prometheus.Histogram
	compactions    prometheus.Counter
}

func newMetricsSet(reg prometheus.Registerer, name string) *metricsSet {
	labels := prometheus.Labels{"db": name}

	m := &metricsSet{
		updateSeq: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scaup_update_seq", Help: "Current update sequence.", ConstLabels: labels,
		}),
		docCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scaup_doc_count", Help: "Number of documents whose winning revision is not deleted.", ConstLabels: labels,
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scaup_queue_depth", Help: "Number of operations currently queued.", ConstLabels: labels,
		}),
		bulkWriteDocs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scaup_bulk_write_docs_total", Help: "Documents accepted by bulk_write.", ConstLabels: labels,
		}),
		bulkWriteSecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "scaup_bulk_write_duration_seconds", Help: "bulk_write latency.", ConstLabels: labels,
		}),
		compactions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scaup_compactions_total", Help: "Compaction runs performed.", ConstLabels: labels,
		}),
	}

	if reg != nil {
		reg.MustRegister(m.updateSeq, m.docCount, m.queueDepth, m.bulkWriteDocs, m.bulkWriteSecs, m.compactions)
	}

	return m
}
