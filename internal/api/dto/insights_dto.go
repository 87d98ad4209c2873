package dto

import "github.com/spec-kit/conversation-service/internal/service"

// InsightsResponse wraps a rollup report.
type InsightsResponse struct {
	TimeZone string                  `json:"time_zone"`
	Buckets  []service.DayBucket     `json:"buckets"`
	Summary  service.InsightsSummary `json:"summary"`
}

// FromReport maps a rollup report to the response shape.
func FromReport(report *service.InsightsReport) InsightsResponse {
	return InsightsResponse{
		TimeZone: report.TimeZone,
		Buckets:  report.Buckets,
		Summary:  report.Summary,
	}
}

// SetThresholdRequest updates a room's SLA override.
type SetThresholdRequest struct {
	WarningSeconds  *int64 `json:"warning_seconds,omitempty"`
	DeadlineSeconds *int64 `json:"deadline_seconds,omitempty"`
}
