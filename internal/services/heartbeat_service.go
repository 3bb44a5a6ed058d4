package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tidewatch/drone-coordinator/internal/constants"
	"github.com/tidewatch/drone-coordinator/internal/models"
	"github.com/tidewatch/drone-coordinator/pkg/hoststats"
	"github.com/tidewatch/drone-coordinator/pkg/mqtt"
)

// FleetStatus is what the heartbeat reports about the coordinator.
type FleetStatus interface {
	IsConnected() bool
	DroneCount() int
}

// HeartbeatService manages periodic heartbeat messages.
type HeartbeatService struct {
	PubTopic   string
	ClientID   string
	Interval   time.Duration
	QOS        int
	Fleet      FleetStatus
	MqttClient mqtt.MQTTClient
	Sampler    hoststats.Sampler
	Logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHeartbeatService initializes a new HeartbeatService.
func NewHeartbeatService(pubTopic, clientID string, interval time.Duration, qos int, fleet FleetStatus,
	mqttClient mqtt.MQTTClient, sampler hoststats.Sampler, logger zerolog.Logger) *HeartbeatService {

	return &HeartbeatService{
		PubTopic:   pubTopic,
		ClientID:   clientID,
		Interval:   interval,
		QOS:        qos,
		Fleet:      fleet,
		MqttClient: mqttClient,
		Sampler:    sampler,
		Logger:     logger,
	}
}

// Start launches the heartbeat loop in a separate goroutine.
func (h *HeartbeatService) Start() error {
	if h.ctx != nil {
		h.Logger.Warn().Msg("HeartbeatService is already running")
		return errors.New("heartbeat service is already running")
	}

	h.ctx, h.cancel = context.WithCancel(context.Background())

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.runHeartbeatLoop()
	}()

	h.Logger.Info().Str("topic", h.PubTopic).Dur("interval", h.Interval).Msg("HeartbeatService started successfully")
	return nil
}

// Stop gracefully stops the heartbeat service.
func (h *HeartbeatService) Stop() error {
	if h.ctx == nil {
		h.Logger.Warn().Msg("HeartbeatService is not running")
		return errors.New("heartbeat service is not running")
	}

	h.cancel()
	h.wg.Wait()

	h.ctx = nil
	h.cancel = nil

	h.Logger.Info().Msg("HeartbeatService stopped successfully")
	return nil
}

// runHeartbeatLoop continuously sends heartbeat messages at the specified interval.
func (h *HeartbeatService) runHeartbeatLoop() {
	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := h.publishHeartbeat(h.ctx); err != nil {
				h.Logger.Error().Err(err).Msg("Failed to publish heartbeat message")
			}

		case <-h.ctx.Done():
			h.Logger.Info().Msg("HeartbeatService stopping gracefully")
			return
		}
	}
}

func (h *HeartbeatService) publishHeartbeat(ctx context.Context) error {
	if !h.Fleet.IsConnected() {
		h.Logger.Debug().Msg("Skipping heartbeat while disconnected")
		return nil
	}

	heartbeat := models.Heartbeat{
		ClientID:   h.ClientID,
		Timestamp:  time.Now(),
		Status:     constants.StatusAlive,
		Connected:  true,
		DroneCount: h.Fleet.DroneCount(),
	}
	if h.Sampler != nil {
		heartbeat.CPUUsage = h.Sampler.CPUPercent(ctx)
		heartbeat.MemoryUsage = h.Sampler.MemoryPercent(ctx)
	}

	payload, err := json.Marshal(heartbeat)
	if err != nil {
		return err
	}

	token := h.MqttClient.Publish(h.PubTopic, byte(h.QOS), false, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	h.Logger.Debug().Int("drones", heartbeat.DroneCount).Msg("Heartbeat published successfully")
	return nil
}
