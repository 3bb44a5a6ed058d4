package models

import "time"

// DroneStatus is the remotely reported operating state of a drone.
// The coordinator does not enforce transitions between statuses; the drone is authoritative.
type DroneStatus string

const (
	DroneStatusIdle      DroneStatus = "idle"
	DroneStatusActive    DroneStatus = "active"
	DroneStatusPaused    DroneStatus = "paused"
	DroneStatusReturning DroneStatus = "returning"
	DroneStatusError     DroneStatus = "error"
	DroneStatusOffline   DroneStatus = "offline"
)

// Valid reports whether s is one of the known statuses.
func (s DroneStatus) Valid() bool {
	switch s {
	case DroneStatusIdle, DroneStatusActive, DroneStatusPaused,
		DroneStatusReturning, DroneStatusError, DroneStatusOffline:
		return true
	}
	return false
}

// Position is a geographic fix with depth below the surface in meters.
type Position struct {
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Depth float64 `json:"depth"`
}

// Drone is the last known state of a remote unit.
type Drone struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Status      DroneStatus `json:"status"`
	Position    *Position   `json:"position,omitempty"`
	Battery     float64     `json:"battery"`
	Signal      float64     `json:"signal"`
	Temperature *float64    `json:"temperature,omitempty"`
	LastUpdate  time.Time   `json:"lastUpdate"`
	Mission     string      `json:"mission,omitempty"`
	Errors      []string    `json:"errors,omitempty"`
}

// Clone returns a deep copy so callers never share pointers with the registry.
func (d Drone) Clone() Drone {
	c := d
	if d.Position != nil {
		p := *d.Position
		c.Position = &p
	}
	if d.Temperature != nil {
		t := *d.Temperature
		c.Temperature = &t
	}
	if d.Errors != nil {
		c.Errors = append([]string(nil), d.Errors...)
	}
	return c
}

// DroneUpdate is an inbound status message. Nil fields were absent from the payload
// and leave the stored value untouched when merged.
type DroneUpdate struct {
	ID          string       `json:"id"`
	Name        *string      `json:"name,omitempty"`
	Status      *DroneStatus `json:"status,omitempty"`
	Position    *Position    `json:"position,omitempty"`
	NMEA        *string      `json:"nmea,omitempty"`
	Battery     *float64     `json:"battery,omitempty"`
	Signal      *float64     `json:"signal,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
	Mission     *string      `json:"mission,omitempty"`
	Errors      []string     `json:"errors,omitempty"`
}

// ApplyTo shallow-merges the update over d and returns the result.
func (u DroneUpdate) ApplyTo(d Drone) Drone {
	d.ID = u.ID
	if u.Name != nil {
		d.Name = *u.Name
	}
	if u.Status != nil {
		d.Status = *u.Status
	}
	if u.Position != nil {
		p := *u.Position
		d.Position = &p
	}
	if u.Battery != nil {
		d.Battery = *u.Battery
	}
	if u.Signal != nil {
		d.Signal = *u.Signal
	}
	if u.Temperature != nil {
		t := *u.Temperature
		d.Temperature = &t
	}
	if u.Mission != nil {
		d.Mission = *u.Mission
	}
	if u.Errors != nil {
		d.Errors = append([]string(nil), u.Errors...)
	}
	return d
}
