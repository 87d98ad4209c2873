package domain

import "time"

// MetricKind enumerates duration observations produced by transitions.
type MetricKind string

const (
	MetricTimeToFirstResponse               MetricKind = "TIME_TO_FIRST_RESPONSE"
	MetricTimeToResponse                    MetricKind = "TIME_TO_RESPONSE"
	MetricTimeToClose                       MetricKind = "TIME_TO_CLOSE"
	MetricTimeToFirstResponseDuringCoverage MetricKind = "TIME_TO_FIRST_RESPONSE_DURING_COVERAGE"
	MetricTimeToResponseDuringCoverage      MetricKind = "TIME_TO_RESPONSE_DURING_COVERAGE"
	MetricTimeToCloseDuringCoverage         MetricKind = "TIME_TO_CLOSE_DURING_COVERAGE"
)

// MetricObservation is one immutable duration measurement.
type MetricObservation struct {
	ID             string
	ConversationID string
	Kind           MetricKind
	Seconds        float64
	ObservedOn     time.Time
}
