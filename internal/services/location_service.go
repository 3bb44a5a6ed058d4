package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tidewatch/drone-coordinator/internal/models"
	"github.com/tidewatch/drone-coordinator/pkg/location"
	"github.com/tidewatch/drone-coordinator/pkg/mqtt"
)

// BaseStationService publishes the support vessel's GPS fix so returning drones know where home is.
type BaseStationService struct {
	// Configuration fields
	topic    string
	interval time.Duration
	qos      int

	// Dependencies
	mqttClient       mqtt.MQTTClient
	logger           zerolog.Logger
	locationProvider location.Provider

	// Internal state management
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	last    *models.BasePosition
	running bool
}

// NewBaseStationService creates a new BaseStationService instance with the provided configuration.
func NewBaseStationService(topic string, interval time.Duration, qos int,
	mqttClient mqtt.MQTTClient, logger zerolog.Logger, locationProvider location.Provider) *BaseStationService {
	return &BaseStationService{
		topic:            topic,
		interval:         interval,
		qos:              qos,
		mqttClient:       mqttClient,
		logger:           logger,
		locationProvider: locationProvider,
	}
}

// Start begins polling the provider and publishing fixes.
func (b *BaseStationService) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		b.logger.Warn().Msg("BaseStationService is already running")
		return errors.New("base station service is already running")
	}

	b.ctx, b.cancel = context.WithCancel(context.Background())
	b.running = true

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := b.publishCurrentPosition(b.ctx); err != nil {
					b.logger.Error().Err(err).Msg("Failed to publish base position")
				}
			case <-b.ctx.Done():
				b.logger.Info().Msg("BaseStationService is stopping")
				return
			}
		}
	}()

	b.logger.Info().
		Str("topic", b.topic).
		Dur("interval", b.interval).
		Int("qos", b.qos).
		Msg("BaseStationService started")
	return nil
}

// Stop halts polling and closes the provider.
func (b *BaseStationService) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		b.logger.Warn().Msg("BaseStationService is not running")
		return errors.New("base station service is not running")
	}
	b.running = false
	b.cancel()
	b.mu.Unlock()

	b.wg.Wait()

	if err := b.locationProvider.Close(); err != nil {
		b.logger.Error().Err(err).Msg("Failed to close location provider")
		return err
	}

	b.logger.Info().Msg("BaseStationService stopped")
	return nil
}

// LastPosition returns the most recent fix, if any.
func (b *BaseStationService) LastPosition() (models.BasePosition, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.last == nil {
		return models.BasePosition{}, false
	}
	return *b.last, true
}

// publishCurrentPosition reads one fix and publishes it retained, so drones that
// connect later still receive the latest home position.
func (b *BaseStationService) publishCurrentPosition(ctx context.Context) error {
	fix, err := b.locationProvider.GetLocation()
	if err != nil {
		return err
	}

	position := models.BasePosition{
		Timestamp: time.Now(),
		Latitude:  fix.Latitude,
		Longitude: fix.Longitude,
		Accuracy:  fix.Accuracy,
	}

	b.mu.Lock()
	b.last = &position
	b.mu.Unlock()

	payload, err := json.Marshal(position)
	if err != nil {
		return err
	}

	token := b.mqttClient.Publish(b.topic, byte(b.qos), true, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	b.logger.Debug().
		Float64("lat", position.Latitude).
		Float64("lng", position.Longitude).
		Str("topic", b.topic).
		Msg("Base position published")
	return nil
}
