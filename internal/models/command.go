package models

import (
	"encoding/json"
	"time"
)

// Command is an instruction a drone understands.
type Command string

const (
	CommandMove          Command = "move"
	CommandPause         Command = "pause"
	CommandResume        Command = "resume"
	CommandReturn        Command = "return"
	CommandDive          Command = "dive"
	CommandSurface       Command = "surface"
	CommandScan          Command = "scan"
	CommandEmergencyStop Command = "emergency_stop"
)

// Commands lists every known command.
var Commands = []Command{
	CommandMove, CommandPause, CommandResume, CommandReturn,
	CommandDive, CommandSurface, CommandScan, CommandEmergencyStop,
}

// CommandParams carries free-form command arguments, e.g. {"target": {"lat": 1, "lng": 2}} or {"depth": 120}.
type CommandParams map[string]interface{}

// CommandEnvelope is the payload published on a drone's command topic.
type CommandEnvelope struct {
	DroneID   string        `json:"droneId"`
	Command   Command       `json:"command"`
	Params    CommandParams `json:"params,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// CommandResponse is the outcome of a dispatch attempt, or an acknowledgment
// received from a drone on its response topic.
// A successful response from SendCommand means the broker accepted the command, not that the drone executed it.
type CommandResponse struct {
	Success   bool      `json:"success"`
	DroneID   string    `json:"droneId"`
	Command   Command   `json:"command"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Code      string    `json:"code,omitempty"`
	Errors    []string  `json:"errors,omitempty"`
}

// ValidationResult lists every reason a command was refused, in check order.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// Number normalizes a decoded JSON value to float64.
func Number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
