package constants

import "time"

const (
	// DefaultPublishTimeout bounds how long SendCommand waits for the broker to acknowledge a publish.
	DefaultPublishTimeout = 10 * time.Second

	// CommandQOS is the MQTT QoS used for outbound commands (at least once).
	CommandQOS = 1
)

// Operating envelope checked before a command is dispatched.
const (
	// MinBatteryLevel is the battery percentage below which only return and emergency_stop are allowed.
	MinBatteryLevel = 10.0
	// MinSignalStrength is the signal percentage below which only return and emergency_stop are allowed.
	MinSignalStrength = 20.0
	// MaxDepth is the deepest dive target accepted, in meters.
	MaxDepth = 500.0
	// SafeDepthThreshold is the depth from which further descent is refused.
	SafeDepthThreshold = 400.0

	MinLatitude  = -90.0
	MaxLatitude  = 90.0
	MinLongitude = -180.0
	MaxLongitude = 180.0
)

// Validation messages surfaced to operators.
const (
	ErrMsgDroneNotFound   = "Drone not found or offline"
	ErrMsgDroneOffline    = "Drone is offline"
	ErrMsgDroneError      = "Drone is in error state"
	ErrMsgLowBattery      = "Battery too low for this operation (use 'return' command)"
	ErrMsgWeakSignal      = "Signal too weak for this operation (use 'return' or 'emergency_stop')"
	ErrMsgMissingTarget   = "Move command requires target position"
	ErrMsgInvalidTarget   = "Invalid target position"
	ErrMsgInvalidDepth    = "Dive depth must be between 0 and 500 meters"
	ErrMsgUnsafeDepth     = "Exceeds maximum safe depth"
	ErrMsgUnknownCommand  = "Unknown command"
	ErrMsgNotConnected    = "Not connected to MQTT broker"
	ErrMsgPublishTimeout  = "Timed out waiting for broker acknowledgment"
	MsgCommandDispatched  = "Command sent"
	MsgValidationRejected = "Command rejected"
)

// Response codes attached to failed CommandResponses.
const (
	CodeValidationFailed = "validation_failed"
	CodeNotConnected     = "not_connected"
	CodePublishFailed    = "publish_failed"
	CodeTimeout          = "timeout"
)
