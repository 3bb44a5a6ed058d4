// Package validation decides whether a command may be dispatched to a drone
// given the drone's last known state. It performs no I/O and reads no clock.
package validation

import (
	"fmt"
	"math"

	"github.com/tidewatch/drone-coordinator/internal/constants"
	"github.com/tidewatch/drone-coordinator/internal/models"
	"github.com/tidewatch/drone-coordinator/internal/utils"
)

var knownCommands = utils.SliceToSet(models.Commands)

// Validate checks command against drone. A nil drone means the id is unknown and
// yields a single not-found error. Every other failing check is reported, in order.
func Validate(drone *models.Drone, command models.Command, params models.CommandParams) models.ValidationResult {
	if drone == nil {
		return models.ValidationResult{Valid: false, Errors: []string{constants.ErrMsgDroneNotFound}}
	}

	errs := []string{}

	if _, ok := knownCommands[command]; !ok {
		errs = append(errs, fmt.Sprintf("%s: %s", constants.ErrMsgUnknownCommand, command))
	}

	switch drone.Status {
	case models.DroneStatusOffline:
		errs = append(errs, constants.ErrMsgDroneOffline)
	case models.DroneStatusError:
		errs = append(errs, constants.ErrMsgDroneError)
	}

	recall := command == models.CommandReturn || command == models.CommandEmergencyStop
	if drone.Battery < constants.MinBatteryLevel && !recall {
		errs = append(errs, constants.ErrMsgLowBattery)
	}
	if drone.Signal < constants.MinSignalStrength && !recall {
		errs = append(errs, constants.ErrMsgWeakSignal)
	}

	switch command {
	case models.CommandMove:
		errs = append(errs, validateMove(params)...)
	case models.CommandDive:
		errs = append(errs, validateDive(drone, params)...)
	}

	return models.ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

func validateMove(params models.CommandParams) []string {
	target, ok := params["target"]
	if !ok || target == nil {
		return []string{constants.ErrMsgMissingTarget}
	}
	if !ValidPosition(target) {
		return []string{constants.ErrMsgInvalidTarget}
	}
	return nil
}

func validateDive(drone *models.Drone, params models.CommandParams) []string {
	depth := 0.0
	if raw, ok := params["depth"]; ok && raw != nil {
		d, ok := models.Number(raw)
		if !ok {
			return []string{constants.ErrMsgInvalidDepth}
		}
		depth = d
	}

	if !finite(depth) || depth < 0 || depth > constants.MaxDepth {
		return []string{constants.ErrMsgInvalidDepth}
	}

	if drone.Position != nil && drone.Position.Depth >= constants.SafeDepthThreshold && depth > drone.Position.Depth {
		return []string{constants.ErrMsgUnsafeDepth}
	}
	return nil
}

// ValidPosition reports whether v is an object with numeric lat in [-90,90] and lng in [-180,180].
func ValidPosition(v interface{}) bool {
	var lat, lng interface{}
	switch p := v.(type) {
	case map[string]interface{}:
		lat, lng = p["lat"], p["lng"]
	case models.CommandParams:
		lat, lng = p["lat"], p["lng"]
	case models.Position:
		lat, lng = p.Lat, p.Lng
	case *models.Position:
		if p == nil {
			return false
		}
		lat, lng = p.Lat, p.Lng
	default:
		return false
	}

	la, ok := models.Number(lat)
	if !ok || !finite(la) || la < constants.MinLatitude || la > constants.MaxLatitude {
		return false
	}
	ln, ok := models.Number(lng)
	if !ok || !finite(ln) || ln < constants.MinLongitude || ln > constants.MaxLongitude {
		return false
	}
	return true
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
