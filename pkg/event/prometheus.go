package event

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusSink counts events on a Prometheus registry. Byte-carrying events
// additionally feed per-direction byte counters so dashboards can graph
// transfer volume without parsing logs.
type PrometheusSink struct {
	events        *prometheus.CounterVec
	downloadBytes prometheus.Counter
	uploadBytes   prometheus.Counter
	migratedBytes *prometheus.CounterVec
}

// NewPrometheusSink registers the tidestore event metrics on reg.
// Returns nil when reg is nil; a nil sink is a safe no-op.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	if reg == nil {
		return nil
	}

	return &PrometheusSink{
		events: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tidestore_events_total",
				Help: "Total core events by name",
			},
			[]string{"event"},
		),
		downloadBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "tidestore_download_bytes_total",
				Help: "Total bytes served to download clients",
			},
		),
		uploadBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "tidestore_upload_bytes_total",
				Help: "Total bytes accepted from upload clients",
			},
		),
		migratedBytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tidestore_migrated_bytes_total",
				Help: "Total bytes moved between storage tiers",
			},
			[]string{"target_tier"},
		),
	}
}

// Emit implements Sink.
func (p *PrometheusSink) Emit(name string, kv ...any) {
	if p == nil {
		return
	}
	p.events.WithLabelValues(name).Inc()

	switch name {
	case DownloadServed:
		if n, ok := kvInt64(kv, "bytes"); ok {
			p.downloadBytes.Add(float64(n))
		}
	case UploadChunk:
		if n, ok := kvInt64(kv, "size"); ok {
			p.uploadBytes.Add(float64(n))
		}
	case TierMigrated:
		if n, ok := kvInt64(kv, "size"); ok {
			if tier, ok := kvString(kv, "target_tier"); ok {
				p.migratedBytes.WithLabelValues(tier).Add(float64(n))
			}
		}
	}
}

func kvInt64(kv []any, key string) (int64, bool) {
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok && k == key {
			switch v := kv[i+1].(type) {
			case int64:
				return v, true
			case int:
				return int64(v), true
			}
		}
	}
	return 0, false
}

func kvString(kv []any, key string) (string, bool) {
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok && k == key {
			if v, ok := kv[i+1].(string); ok {
				return v, true
			}
		}
	}
	return "", false
}
