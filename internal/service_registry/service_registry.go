package service_registry

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tidewatch/drone-coordinator/internal/assistant"
	"github.com/tidewatch/drone-coordinator/internal/constants"
	"github.com/tidewatch/drone-coordinator/internal/gateway"
	"github.com/tidewatch/drone-coordinator/internal/services"
	"github.com/tidewatch/drone-coordinator/internal/utils"
	"github.com/tidewatch/drone-coordinator/pkg/hoststats"
	"github.com/tidewatch/drone-coordinator/pkg/location"
	"github.com/tidewatch/drone-coordinator/pkg/mqtt"
)

// Service is the interface for all plug-in services
type Service interface {
	Start() error
	Stop() error
}

// ServiceRegistry manages the lifecycle of various services in the system.
type ServiceRegistry struct {
	services     map[string]Service // Stores registered services
	serviceKeys  []string           // Maintains order of service registration
	mqttClient   mqtt.MQTTClient
	droneService *services.DroneService
	Logger       zerolog.Logger
}

// NewServiceRegistry initializes a new service registry with dependencies.
func NewServiceRegistry(mqttClient mqtt.MQTTClient, droneService *services.DroneService, logger zerolog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		services:     make(map[string]Service),
		mqttClient:   mqttClient,
		droneService: droneService,
		Logger:       logger,
	}
}

// RegisterService adds a new service to the registry.
func (sr *ServiceRegistry) RegisterService(name string, svc Service) {
	if _, exists := sr.services[name]; exists {
		sr.Logger.Warn().Msgf("Service %s is already registered", name)
		return
	}
	sr.services[name] = svc
	sr.serviceKeys = append(sr.serviceKeys, name)
	sr.Logger.Info().Msgf("Registered service: %s", name)
}

// Names returns registered service names in start order.
func (sr *ServiceRegistry) Names() []string {
	return append([]string(nil), sr.serviceKeys...)
}

// StartServices initiates all registered services in order.
// If a service fails to start, it stops already started services.
func (sr *ServiceRegistry) StartServices() error {
	startedServices := []string{}

	for _, name := range sr.serviceKeys {
		svc := sr.services[name]
		sr.Logger.Info().Msgf("Starting service: %s", name)
		if err := svc.Start(); err != nil {
			sr.Logger.Error().Err(err).Msgf("Failed to start service: %s", name)

			// Stop already started services before returning
			sr.Logger.Warn().Msg("Stopping already started services due to startup failure...")
			for i := len(startedServices) - 1; i >= 0; i-- {
				_ = sr.services[startedServices[i]].Stop()
			}
			return fmt.Errorf("start %s: %w", name, err)
		}
		startedServices = append(startedServices, name)
	}

	return nil
}

// StopServices stops all services in reverse order.
func (sr *ServiceRegistry) StopServices() error {
	var stopErrors []error
	for i := len(sr.serviceKeys) - 1; i >= 0; i-- {
		name := sr.serviceKeys[i]
		if err := sr.services[name].Stop(); err != nil {
			stopErrors = append(stopErrors, fmt.Errorf("failed to stop %s: %w", name, err))
		}
	}
	if len(stopErrors) > 0 {
		for _, e := range stopErrors {
			sr.Logger.Error().Err(e).Msg("Service stop failure")
		}
		return errors.Join(stopErrors...)
	}
	return nil
}

// RegisterServices initializes and registers enabled services based on configuration.
// The coordinator is always registered first so the other services can rely on it.
func (sr *ServiceRegistry) RegisterServices(config *utils.Config) error {
	var baseStation *services.BaseStationService

	// Ordered service definitions with inline constructors
	servicesInOrder := []struct {
		name        string
		enabled     bool
		constructor func() (Service, error)
	}{
		{
			name:    "coordinator",
			enabled: true,
			constructor: func() (Service, error) {
				return sr.droneService, nil
			},
		},
		{
			name:    "heartbeat",
			enabled: config.Services.Heartbeat.Enabled,
			constructor: func() (Service, error) {
				return services.NewHeartbeatService(
					utils.JoinTopic(config.TopicPrefix, constants.TopicHeartbeat),
					config.MQTT.ClientID,
					config.Services.Heartbeat.Interval,
					config.Services.Heartbeat.QOS,
					sr.droneService,
					sr.mqttClient,
					hoststats.NewHostSampler(sr.Logger),
					sr.Logger,
				), nil
			},
		},
		{
			name:    "base_station",
			enabled: config.Services.BaseStation.Enabled,
			constructor: func() (Service, error) {
				provider := location.NewDeviceSensorProvider(
					config.Services.BaseStation.GPSDevicePort,
					config.Services.BaseStation.GPSDeviceBaudRate,
				)
				baseStation = services.NewBaseStationService(
					utils.JoinTopic(config.TopicPrefix, constants.TopicBasePosition),
					config.Services.BaseStation.Interval,
					config.Services.BaseStation.QOS,
					sr.mqttClient,
					sr.Logger,
					provider,
				)
				return baseStation, nil
			},
		},
		{
			name:    "gateway",
			enabled: config.Services.Gateway.Enabled,
			constructor: func() (Service, error) {
				gw := gateway.NewServer(config.Services.Gateway.Addr, sr.droneService, sr.Logger)
				if baseStation != nil {
					gw.SetBaseStation(baseStation)
				}
				return gw, nil
			},
		},
		{
			name:    "assistant",
			enabled: config.Services.Assistant.Enabled,
			constructor: func() (Service, error) {
				return assistant.NewServer(
					config.Services.Assistant.Addr,
					config.Services.Assistant.BaseURL,
					sr.droneService,
					sr.Logger,
				), nil
			},
		},
	}

	// Register services in the predefined order
	registeredServices := []string{}
	for _, svc := range servicesInOrder {
		if svc.enabled {
			serviceInstance, err := svc.constructor()
			if err != nil {
				sr.Logger.Error().Err(err).Msgf("Failed to create %s service", svc.name)
				return err
			}
			sr.RegisterService(svc.name, serviceInstance)
			registeredServices = append(registeredServices, svc.name)
		}
	}

	sr.Logger.Info().Msgf("Registered services in order: %v", registeredServices)
	return nil
}
