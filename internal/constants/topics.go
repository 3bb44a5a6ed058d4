package constants

// Topic layout: {prefix}/{droneID}/{suffix}.
const (
	DefaultTopicPrefix = "drones"

	TopicStatus   = "status"
	TopicResponse = "response"
	TopicCommand  = "command"

	// Coordinator-owned topics live under the prefix with a reserved segment.
	TopicHeartbeat    = "coordinator/heartbeat"
	TopicBasePosition = "base/position"
)

// StatusAlive is reported in every coordinator heartbeat.
const StatusAlive = "alive"
