package models

import "time"

// Heartbeat is the coordinator's periodic liveness message.
type Heartbeat struct {
	ClientID    string    `json:"client_id"`
	Timestamp   time.Time `json:"timestamp"`
	Status      string    `json:"status"`
	Connected   bool      `json:"connected"`
	DroneCount  int       `json:"drone_count"`
	CPUUsage    *float64  `json:"cpu_usage,omitempty"`
	MemoryUsage *float64  `json:"memory_usage,omitempty"`
}
