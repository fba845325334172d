package mqtt

import (
	"encoding/json"
	"strconv"
)

// Stats is the telemetry snapshot published on each tick.
type Stats struct {
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Turns         int             `json:"turns"`
	TurnsByStatus map[string]int  `json:"turns_by_status"`
	TurnsByRoute  map[string]int  `json:"turns_by_route"`
	LatencyP50Ms  float64         `json:"latency_p50_ms"`
	LatencyP95Ms  float64         `json:"latency_p95_ms"`
	TokensToday   int64           `json:"tokens_today"`
	Background    BackgroundStats `json:"background"`
	Providers     map[string]bool `json:"providers_ready,omitempty"`
}

// BackgroundStats counts detached jobs.
type BackgroundStats struct {
	InFlight  int64 `json:"in_flight"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}

// StatsSource produces the current snapshot.
type StatsSource func() Stats

// stateMessages maps topic suffixes to payloads for one snapshot. The
// full snapshot goes to "stats"; scalar fields get their own topics.
func stateMessages(s Stats) (map[string][]byte, error) {
	full, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return map[string][]byte{
		"stats":          full,
		"version":        []byte(s.Version),
		"uptime_seconds": []byte(strconv.FormatInt(s.UptimeSeconds, 10)),
		"turns":          []byte(strconv.Itoa(s.Turns)),
		"tokens_today":   []byte(strconv.FormatInt(s.TokensToday, 10)),
		"latency_p95_ms": []byte(strconv.FormatFloat(s.LatencyP95Ms, 'f', -1, 64)),
	}, nil
}
