package models

import "time"

// SystemMetrics is a JSON friendly summary of the process counters.
type SystemMetrics struct {
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	SchedulesGenerated       uint64    `json:"schedules_generated"`
	EpisodesScheduled        uint64    `json:"episodes_scheduled"`
	ExportsCompleted         uint64    `json:"exports_completed"`
	ExportsFailed            uint64    `json:"exports_failed"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
