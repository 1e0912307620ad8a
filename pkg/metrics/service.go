package metrics

import "time"

// ServiceMetrics groups the counters recorded by the analysis pipeline,
// the conversation store and the realtime hub.
type ServiceMetrics struct {
	registry *MetricsRegistry

	AnalysesTotal        *Counter
	AnalysisFailures     *Counter
	AnalysisDuration     *Histogram
	ConversationsCreated *Counter
	ConversationsUpdated *Counter
	ConversationsDeleted *Counter
	RetentionDeleted     *Counter
	RealtimeConnections  *Gauge
	RealtimeMessages     *Counter
	EventsPublished      *Counter
	EventPublishFailures *Counter
}

// NewServiceMetrics registers the service metrics on registry (the default registry when nil).
func NewServiceMetrics(registry *MetricsRegistry) *ServiceMetrics {
	if registry == nil {
		registry = GetRegistry()
	}

	return &ServiceMetrics{
		registry:             registry,
		AnalysesTotal:        registry.NewCounter("analyses_total", "Total number of text analyses", nil),
		AnalysisFailures:     registry.NewCounter("analysis_failures_total", "Text analyses that failed", nil),
		AnalysisDuration:     registry.NewHistogram("analysis_duration_seconds", "Text analysis duration in seconds", []float64{0.0001, 0.001, 0.01, 0.1, 1}, nil),
		ConversationsCreated: registry.NewCounter("conversations_created_total", "Conversations stored", nil),
		ConversationsUpdated: registry.NewCounter("conversations_updated_total", "Conversations re-analyzed and updated", nil),
		ConversationsDeleted: registry.NewCounter("conversations_deleted_total", "Conversations deleted through the API", nil),
		RetentionDeleted:     registry.NewCounter("retention_deleted_total", "Conversations removed by the retention sweep", nil),
		RealtimeConnections:  registry.NewGauge("realtime_connections", "Open realtime connections", nil),
		RealtimeMessages:     registry.NewCounter("realtime_messages_total", "Realtime events received", nil),
		EventsPublished:      registry.NewCounter("events_published_total", "Conversation events published", nil),
		EventPublishFailures: registry.NewCounter("event_publish_failures_total", "Conversation events that failed to publish", nil),
	}
}

// RecordAnalysis records one analysis call.
func (m *ServiceMetrics) RecordAnalysis(start time.Time, err error) {
	if m == nil {
		return
	}
	m.AnalysesTotal.Inc()
	m.AnalysisDuration.ObserveDuration(start)
	if err != nil {
		m.AnalysisFailures.Inc()
	}
}
