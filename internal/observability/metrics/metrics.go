package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)

	KeysUpsertedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keys_upserted_total",
			Help: "Public key upserts by outcome.",
		},
		[]string{"service", "result"},
	)

	KeyCacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "key_cache_lookups_total",
			Help: "Active key cache lookups by outcome.",
		},
		[]string{"service", "result"},
	)

	MessagesStoredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_stored_total",
			Help: "Total number of stored messages.",
		},
		[]string{"service", "chat_type"},
	)

	MessagesCiphertextBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "messages_ciphertext_bytes",
			Help:    "Ciphertext sizes for stored messages.",
			Buckets: prometheus.ExponentialBuckets(64, 2, 10),
		},
		[]string{"service", "chat_type"},
	)

	MessageHistoryFetchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "message_history_fetched_total",
			Help: "Total number of history fetch operations.",
		},
		[]string{"service", "result"},
	)

	AttachmentsUploadedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attachments_uploaded_total",
			Help: "Uploaded attachments by category.",
		},
		[]string{"service", "category"},
	)

	AuthenticationAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Bearer token validations by method and result.",
		},
		[]string{"service", "method", "result"},
	)
)

var registerOnce sync.Once

// MustRegister curries the service label into every collector and registers
// them with the default registry. Only the first call has any effect.
func MustRegister(serviceName string) {
	registerOnce.Do(func() { mustRegister(serviceName) })
}

func mustRegister(serviceName string) {
	labels := prometheus.Labels{"service": serviceName}
	HTTPRequestsTotal = HTTPRequestsTotal.MustCurryWith(labels)
	HTTPRequestDurationSeconds = HTTPRequestDurationSeconds.MustCurryWith(labels).(*prometheus.HistogramVec)
	KeysUpsertedTotal = KeysUpsertedTotal.MustCurryWith(labels)
	KeyCacheLookupsTotal = KeyCacheLookupsTotal.MustCurryWith(labels)
	MessagesStoredTotal = MessagesStoredTotal.MustCurryWith(labels)
	MessagesCiphertextBytes = MessagesCiphertextBytes.MustCurryWith(labels).(*prometheus.HistogramVec)
	MessageHistoryFetchedTotal = MessageHistoryFetchedTotal.MustCurryWith(labels)
	AttachmentsUploadedTotal = AttachmentsUploadedTotal.MustCurryWith(labels)
	AuthenticationAttemptsTotal = AuthenticationAttemptsTotal.MustCurryWith(labels)

	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		KeysUpsertedTotal,
		KeyCacheLookupsTotal,
		MessagesStoredTotal,
		MessagesCiphertextBytes,
		MessageHistoryFetchedTotal,
		AttachmentsUploadedTotal,
		AuthenticationAttemptsTotal,
	)
}
