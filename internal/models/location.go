package models

import (
	"time"
)

// BasePosition is the support vessel's fix, published so returning drones know where home is.
type BasePosition struct {
	Timestamp time.Time `json:"timestamp"`
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lng"`
	Accuracy  float64   `json:"accuracy"`
}
