package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tidewatch/drone-coordinator/internal/models"
	"github.com/tidewatch/drone-coordinator/internal/service_registry"
	"github.com/tidewatch/drone-coordinator/internal/services"
	"github.com/tidewatch/drone-coordinator/internal/utils"
	"github.com/tidewatch/drone-coordinator/pkg/file"
	"github.com/tidewatch/drone-coordinator/pkg/mqtt"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	flag.Parse()

	// Set up structured logging with JSON output
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	// Initialize file operations handler
	fileClient := file.NewFileService()

	// Load configuration from file
	config, err := utils.LoadConfig(*configPath, fileClient)
	if err != nil {
		logger.Fatal().Err(err).Str("path", *configPath).Msg("Failed to load configuration")
	}

	logger = configureLogger(config)

	// Generate a unique MQTT Client ID by appending a UUID
	config.MQTT.ClientID = config.MQTT.ClientID + "-" + uuid.New().String()
	logger.Info().Msgf("Using MQTT Client ID: %s", config.MQTT.ClientID)

	mqttClient := mqtt.NewMqttService(fileClient, logger)
	droneService := services.NewDroneService(
		config.TopicPrefix,
		config.Services.Coordinator.PublishTimeout,
		mqttClient,
		logger,
	)

	seedDrones(config.SeedFile, fileClient, droneService, logger)

	// Initialize the shared MQTT connection; subscriptions follow every (re)connect
	err = mqttClient.Initialize(mqtt.Options{
		Broker:               config.MQTT.Broker,
		ClientID:             config.MQTT.ClientID,
		Username:             config.MQTT.Username,
		Password:             config.MQTT.Password,
		CACertificate:        config.MQTT.CACertificate,
		ConnectRetryInterval: config.MQTT.ConnectRetryInterval,
		KeepAlive:            config.MQTT.KeepAlive,
		OnConnect:            droneService.HandleConnect,
		OnConnectionLost:     droneService.HandleConnectionLost,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize MQTT connection")
	}

	// Create a new service registry to manage services
	serviceRegistry := service_registry.NewServiceRegistry(mqttClient, droneService, logger)

	// Register all services based on the configuration
	if err := serviceRegistry.RegisterServices(config); err != nil {
		logger.Fatal().Err(err).Msg("Failed to register services")
	}

	// Start all registered services in the registry
	if err := serviceRegistry.StartServices(); err != nil {
		mqttClient.Disconnect(250)
		logger.Fatal().Err(err).Msg("Failed to start services")
	}
	logger.Info().Strs("services", serviceRegistry.Names()).Msg("All services started successfully")

	// Handle graceful shutdown
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	logger.Info().Msg("Shutting down gracefully...")
	if err := serviceRegistry.StopServices(); err != nil {
		logger.Error().Err(err).Msg("Some services did not stop cleanly")
	}
	mqttClient.Disconnect(250)
}

func configureLogger(config *utils.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(config.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if config.Log.Pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// seedDrones registers the drones listed in path, if any.
func seedDrones(path string, fileClient file.FileOperations, droneService *services.DroneService, logger zerolog.Logger) {
	if path == "" {
		return
	}

	exists, err := fileClient.IsFileExists(path)
	if err != nil || !exists {
		logger.Warn().Err(err).Str("path", path).Msg("Seed file not found, starting with an empty fleet")
		return
	}

	var drones []models.Drone
	if err := fileClient.ReadJsonFile(path, &drones); err != nil {
		logger.Error().Err(err).Str("path", path).Msg("Failed to read seed file")
		return
	}

	for _, d := range drones {
		if d.ID == "" {
			logger.Warn().Str("path", path).Msg("Skipping seed drone without id")
			continue
		}
		droneService.RegisterMockDevice(d)
	}
	logger.Info().Int("count", droneService.DroneCount()).Str("path", path).Msg("Seeded drone registry")
}
