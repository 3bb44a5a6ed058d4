package location

// Location represents a geographical fix
type Location struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64 // HDOP for GGA fixes, zero when the sentence carries none
}
