package core

import "time"

// RateSnapshot captures the adaptive limiter state of one destination.
type RateSnapshot struct {
	Destination string    `json:"destination"`
	Rate        float64   `json:"rate"`
	LatencyAvg  float64   `json:"latency_avg_seconds"`
	Samples     int64     `json:"samples"`
	UpdatedAt   time.Time `json:"updated_at"`
}
