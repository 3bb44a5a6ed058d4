package location

import (
	"errors"
	"fmt"
	"strings"

	"github.com/adrianmo/go-nmea"
)

// ErrNoFix is returned for well-formed sentences that do not carry a usable position.
var ErrNoFix = errors.New("sentence carries no position fix")

// ParseSentence extracts a fix from a GGA or RMC sentence from any talker (GP, GN, ...).
func ParseSentence(line string) (Location, error) {
	sentence, err := nmea.Parse(strings.TrimSpace(line))
	if err != nil {
		return Location{}, fmt.Errorf("parse nmea: %w", err)
	}

	switch s := sentence.(type) {
	case nmea.GGA:
		if s.FixQuality == nmea.Invalid {
			return Location{}, ErrNoFix
		}
		return Location{Latitude: s.Latitude, Longitude: s.Longitude, Accuracy: s.HDOP}, nil
	case nmea.RMC:
		if s.Validity != nmea.ValidRMC {
			return Location{}, ErrNoFix
		}
		return Location{Latitude: s.Latitude, Longitude: s.Longitude}, nil
	default:
		return Location{}, fmt.Errorf("unsupported sentence type %s", sentence.DataType())
	}
}
