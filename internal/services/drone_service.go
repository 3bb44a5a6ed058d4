package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"

	"github.com/tidewatch/drone-coordinator/internal/constants"
	"github.com/tidewatch/drone-coordinator/internal/models"
	"github.com/tidewatch/drone-coordinator/internal/utils"
	"github.com/tidewatch/drone-coordinator/internal/validation"
	"github.com/tidewatch/drone-coordinator/pkg/location"
	"github.com/tidewatch/drone-coordinator/pkg/mqtt"
)

// ErrInvalidPayload marks an inbound status message that failed schema checks.
var ErrInvalidPayload = errors.New("invalid status payload")

// Listener receives the full drone list after every registry change.
// Listeners run on the ingesting goroutine and must not mutate the registry.
type Listener func(drones []models.Drone)

// DroneService owns the drone registry. It validates and publishes commands,
// ingests status and acknowledgment messages, and fans registry changes out to listeners.
type DroneService struct {
	// Configuration Fields
	topicPrefix    string
	publishTimeout time.Duration

	// Dependencies
	mqttClient mqtt.MQTTClient
	logger     zerolog.Logger

	// Internal state management
	drones      cmap.ConcurrentMap[string, models.Drone]
	ingestMu    sync.Mutex // orders registry mutations with their notifications
	listeners   map[string]Listener
	listenersMu sync.RWMutex
	connected   atomic.Bool
	running     atomic.Bool

	now func() time.Time
}

// NewDroneService initializes a DroneService publishing under topicPrefix.
func NewDroneService(topicPrefix string, publishTimeout time.Duration, mqttClient mqtt.MQTTClient, logger zerolog.Logger) *DroneService {
	if topicPrefix == "" {
		topicPrefix = constants.DefaultTopicPrefix
	}
	if publishTimeout <= 0 {
		publishTimeout = constants.DefaultPublishTimeout
	}

	return &DroneService{
		topicPrefix:    strings.Trim(topicPrefix, "/"),
		publishTimeout: publishTimeout,
		mqttClient:     mqttClient,
		logger:         logger,
		drones:         cmap.New[models.Drone](),
		listeners:      make(map[string]Listener),
		now:            time.Now,
	}
}

// Start marks the service as running. Topic subscriptions are made by HandleConnect
// whenever the broker connection comes up.
func (ds *DroneService) Start() error {
	if !ds.running.CompareAndSwap(false, true) {
		ds.logger.Warn().Msg("DroneService is already running")
		return errors.New("drone service is already running")
	}

	ds.logger.Info().Str("prefix", ds.topicPrefix).Bool("connected", ds.IsConnected()).Msg("DroneService started")
	return nil
}

// Stop unsubscribes from the drone topics.
func (ds *DroneService) Stop() error {
	if !ds.running.CompareAndSwap(true, false) {
		ds.logger.Warn().Msg("DroneService is not running")
		return errors.New("drone service is not running")
	}

	if !ds.IsConnected() {
		ds.logger.Info().Msg("DroneService stopped")
		return nil
	}

	topics := ds.wildcardTopics()
	token := ds.mqttClient.Unsubscribe(topics...)
	token.Wait()
	if err := token.Error(); err != nil {
		ds.logger.Error().Err(err).Strs("topics", topics).Msg("Failed to unsubscribe from drone topics")
		return err
	}

	ds.logger.Info().Msg("DroneService stopped")
	return nil
}

// HandleConnect is invoked after every (re)connection to the broker.
func (ds *DroneService) HandleConnect() {
	ds.connected.Store(true)

	for _, topic := range ds.wildcardTopics() {
		token := ds.mqttClient.Subscribe(topic, constants.CommandQOS, ds.HandleMessage)
		token.Wait()
		if err := token.Error(); err != nil {
			ds.logger.Error().Err(err).Str("topic", topic).Msg("Failed to subscribe to drone topic")
			continue
		}
		ds.logger.Info().Str("topic", topic).Msg("Subscribed to drone topic")
	}
}

// HandleConnectionLost is invoked when the broker connection drops.
func (ds *DroneService) HandleConnectionLost(err error) {
	ds.connected.Store(false)
	ds.logger.Warn().Err(err).Msg("Drone transport disconnected, commands will be refused until reconnect")
}

// IsConnected reports whether commands can currently be published.
func (ds *DroneService) IsConnected() bool {
	return ds.connected.Load()
}

func (ds *DroneService) wildcardTopics() []string {
	return []string{
		utils.JoinTopic(ds.topicPrefix, "+", constants.TopicStatus),
		utils.JoinTopic(ds.topicPrefix, "+", constants.TopicResponse),
	}
}

// ValidateCommand checks command against the drone's last known state.
func (ds *DroneService) ValidateCommand(droneID string, command models.Command, params models.CommandParams) models.ValidationResult {
	drone, ok := ds.drones.Get(droneID)
	if !ok {
		return validation.Validate(nil, command, params)
	}
	return validation.Validate(&drone, command, params)
}

// SendCommand validates and publishes a command. A successful response means the
// broker accepted the message; execution is reported separately on the drone's
// response and status topics. The wait for the broker is bounded by ctx and the
// configured publish timeout.
func (ds *DroneService) SendCommand(ctx context.Context, droneID string, command models.Command, params models.CommandParams) models.CommandResponse {
	result := ds.ValidateCommand(droneID, command, params)
	if !result.Valid {
		ds.logger.Info().Str("drone_id", droneID).Str("command", string(command)).Strs("errors", result.Errors).Msg("Command rejected by validation")
		resp := ds.failure(droneID, command, constants.CodeValidationFailed, strings.Join(result.Errors, "; "))
		resp.Errors = result.Errors
		return resp
	}

	if !ds.IsConnected() {
		ds.logger.Warn().Str("drone_id", droneID).Str("command", string(command)).Msg("Command refused, transport not connected")
		return ds.failure(droneID, command, constants.CodeNotConnected, constants.ErrMsgNotConnected)
	}

	envelope := models.CommandEnvelope{
		DroneID:   droneID,
		Command:   command,
		Params:    params,
		Timestamp: ds.now(),
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		ds.logger.Error().Err(err).Str("drone_id", droneID).Msg("Failed to serialize command envelope")
		return ds.failure(droneID, command, constants.CodePublishFailed, err.Error())
	}

	topic := utils.JoinTopic(ds.topicPrefix, droneID, constants.TopicCommand)
	ctx, cancel := context.WithTimeout(ctx, ds.publishTimeout)
	defer cancel()

	token := ds.mqttClient.Publish(topic, constants.CommandQOS, false, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			ds.logger.Error().Err(err).Str("topic", topic).Msg("Failed to publish command")
			return ds.failure(droneID, command, constants.CodePublishFailed, err.Error())
		}
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			ds.logger.Error().Str("topic", topic).Dur("timeout", ds.publishTimeout).Msg("Command publish timed out")
			return ds.failure(droneID, command, constants.CodeTimeout, constants.ErrMsgPublishTimeout)
		}
		ds.logger.Warn().Str("topic", topic).Msg("Command publish cancelled")
		return ds.failure(droneID, command, constants.CodePublishFailed, ctx.Err().Error())
	}

	ds.logger.Info().Str("topic", topic).Str("command", string(command)).Msg("Command dispatched")
	return models.CommandResponse{
		Success:   true,
		DroneID:   droneID,
		Command:   command,
		Message:   constants.MsgCommandDispatched,
		Timestamp: ds.now(),
	}
}

func (ds *DroneService) failure(droneID string, command models.Command, code, message string) models.CommandResponse {
	return models.CommandResponse{
		Success:   false,
		DroneID:   droneID,
		Command:   command,
		Message:   message,
		Timestamp: ds.now(),
		Code:      code,
	}
}

// HandleMessage processes messages arriving on the status and response topics.
// Malformed messages are logged and dropped.
func (ds *DroneService) HandleMessage(_ MQTT.Client, msg MQTT.Message) {
	defer func() {
		if r := recover(); r != nil {
			ds.logger.Error().Interface("panic", r).Str("topic", msg.Topic()).Msg("Recovered while handling drone message")
		}
	}()

	droneID, kind, ok := ds.parseTopic(msg.Topic())
	if !ok {
		ds.logger.Warn().Str("topic", msg.Topic()).Msg("Ignoring message on unexpected topic")
		return
	}

	switch kind {
	case constants.TopicStatus:
		if err := ds.ingestStatus(droneID, msg.Payload()); err != nil {
			ds.logger.Warn().Err(err).Str("drone_id", droneID).Msg("Discarding drone status message")
		}
	case constants.TopicResponse:
		ds.handleResponse(droneID, msg.Payload())
	default:
		ds.logger.Debug().Str("topic", msg.Topic()).Msg("Ignoring message kind")
	}
}

// parseTopic splits {prefix}/{droneID}/{kind}.
func (ds *DroneService) parseTopic(topic string) (droneID, kind string, ok bool) {
	rest, found := strings.CutPrefix(topic, ds.topicPrefix+"/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// decodeStatus parses a status payload and rejects values outside the record's schema.
func decodeStatus(droneID string, payload []byte) (models.DroneUpdate, *location.Location, error) {
	var update models.DroneUpdate
	if err := json.Unmarshal(payload, &update); err != nil {
		return update, nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	if update.ID == "" {
		update.ID = droneID
	} else if update.ID != droneID {
		return update, nil, fmt.Errorf("%w: id %q does not match topic", ErrInvalidPayload, update.ID)
	}
	if update.Status != nil && !update.Status.Valid() {
		return update, nil, fmt.Errorf("%w: unknown status %q", ErrInvalidPayload, *update.Status)
	}
	if update.Battery != nil && (*update.Battery < 0 || *update.Battery > 100) {
		return update, nil, fmt.Errorf("%w: battery %v out of range", ErrInvalidPayload, *update.Battery)
	}
	if update.Signal != nil && (*update.Signal < 0 || *update.Signal > 100) {
		return update, nil, fmt.Errorf("%w: signal %v out of range", ErrInvalidPayload, *update.Signal)
	}
	if update.Position != nil {
		if update.Position.Depth < 0 {
			return update, nil, fmt.Errorf("%w: negative depth %v", ErrInvalidPayload, update.Position.Depth)
		}
		if !validation.ValidPosition(update.Position) {
			return update, nil, fmt.Errorf("%w: position out of range", ErrInvalidPayload)
		}
	}

	var fix *location.Location
	if update.NMEA != nil && update.Position == nil {
		loc, err := location.ParseSentence(*update.NMEA)
		if err != nil {
			return update, nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		fix = &loc
	}
	return update, fix, nil
}

func (ds *DroneService) ingestStatus(droneID string, payload []byte) error {
	update, fix, err := decodeStatus(droneID, payload)
	if err != nil {
		return err
	}

	ds.ingestMu.Lock()
	defer ds.ingestMu.Unlock()

	ds.drones.Upsert(update.ID, models.Drone{}, func(exist bool, current models.Drone, _ models.Drone) models.Drone {
		if !exist {
			// A drone first seen without a status is not commandable until it reports one.
			current = models.Drone{Status: models.DroneStatusOffline}
		}
		if fix != nil {
			depth := 0.0
			if current.Position != nil {
				depth = current.Position.Depth
			}
			update.Position = &models.Position{Lat: fix.Latitude, Lng: fix.Longitude, Depth: depth}
		}
		next := update.ApplyTo(current)
		next.LastUpdate = ds.refreshed(current.LastUpdate)
		return next
	})

	ds.logger.Debug().Str("drone_id", update.ID).Msg("Drone status updated")
	ds.notify()
	return nil
}

// refreshed returns the current time, never earlier than prev.
func (ds *DroneService) refreshed(prev time.Time) time.Time {
	now := ds.now()
	if now.Before(prev) {
		return prev
	}
	return now
}

func (ds *DroneService) handleResponse(droneID string, payload []byte) {
	var resp models.CommandResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		ds.logger.Warn().Err(err).Str("drone_id", droneID).Msg("Discarding malformed command response")
		return
	}
	if resp.DroneID == "" {
		resp.DroneID = droneID
	}

	if !resp.Success {
		ds.logger.Warn().
			Str("drone_id", resp.DroneID).
			Str("command", string(resp.Command)).
			Str("message", resp.Message).
			Msg("Drone reported command failure")
		return
	}

	ds.logger.Info().
		Str("drone_id", resp.DroneID).
		Str("command", string(resp.Command)).
		Str("message", resp.Message).
		Msg("Drone acknowledged command")
}

// Subscribe registers listener and returns a function that removes it.
func (ds *DroneService) Subscribe(listener Listener) func() {
	id := uuid.NewString()

	ds.listenersMu.Lock()
	ds.listeners[id] = listener
	ds.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			ds.listenersMu.Lock()
			delete(ds.listeners, id)
			ds.listenersMu.Unlock()
		})
	}
}

// notify delivers the current list to every listener. Callers hold ingestMu.
func (ds *DroneService) notify() {
	ds.listenersMu.RLock()
	listeners := make(map[string]Listener, len(ds.listeners))
	for id, l := range ds.listeners {
		listeners[id] = l
	}
	ds.listenersMu.RUnlock()

	if len(listeners) == 0 {
		return
	}

	snapshot := ds.GetDrones()
	for id, l := range listeners {
		drones := make([]models.Drone, len(snapshot))
		for i, d := range snapshot {
			drones[i] = d.Clone()
		}
		ds.deliver(id, l, drones)
	}
}

func (ds *DroneService) deliver(id string, l Listener, drones []models.Drone) {
	defer func() {
		if r := recover(); r != nil {
			ds.logger.Error().Interface("panic", r).Str("listener_id", id).Msg("Drone listener panicked")
		}
	}()
	l(drones)
}

// RegisterMockDevice inserts or replaces a drone record directly, for seeding and tests.
func (ds *DroneService) RegisterMockDevice(drone models.Drone) {
	ds.ingestMu.Lock()
	defer ds.ingestMu.Unlock()

	d := drone.Clone()
	d.LastUpdate = ds.now()
	ds.drones.Set(d.ID, d)

	ds.logger.Debug().Str("drone_id", d.ID).Msg("Drone registered")
	ds.notify()
}

// Clear removes every drone and notifies listeners with the empty list.
func (ds *DroneService) Clear() {
	ds.ingestMu.Lock()
	defer ds.ingestMu.Unlock()

	ds.drones.Clear()
	ds.logger.Info().Msg("Drone registry cleared")
	ds.notify()
}

// GetDrones returns copies of all records ordered by id.
func (ds *DroneService) GetDrones() []models.Drone {
	items := ds.drones.Items()
	drones := make([]models.Drone, 0, len(items))
	for _, d := range items {
		drones = append(drones, d.Clone())
	}
	sort.Slice(drones, func(i, j int) bool { return drones[i].ID < drones[j].ID })
	return drones
}

// GetDrone returns a copy of one record.
func (ds *DroneService) GetDrone(id string) (models.Drone, bool) {
	d, ok := ds.drones.Get(id)
	if !ok {
		return models.Drone{}, false
	}
	return d.Clone(), true
}

// DroneCount returns the number of known drones.
func (ds *DroneService) DroneCount() int {
	return ds.drones.Count()
}
