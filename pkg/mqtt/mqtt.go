package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/tidewatch/drone-coordinator/pkg/file"
)

// MQTTClient defines the interface for an MQTT client.
type MQTTClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
	Disconnect(quiesce uint)
}

// Options configures the broker connection.
type Options struct {
	Broker               string
	ClientID             string
	Username             string
	Password             string
	CACertificate        string // path to a PEM bundle; empty disables TLS
	ConnectRetryInterval time.Duration
	KeepAlive            time.Duration

	// OnConnect runs after every successful (re)connection.
	OnConnect func()
	// OnConnectionLost runs when an established connection drops.
	OnConnectionLost func(err error)
}

// MqttService provides methods for MQTT operations.
type MqttService struct {
	client     mqtt.Client
	fileClient file.FileOperations
	logger     zerolog.Logger
}

// NewMqttService creates a new MqttService instance.
func NewMqttService(fileClient file.FileOperations, logger zerolog.Logger) *MqttService {
	return &MqttService{
		fileClient: fileClient,
		logger:     logger,
	}
}

// Initialize builds the client and starts connecting in the background. The
// client keeps retrying on opts.ConnectRetryInterval until the broker accepts it,
// and reconnects automatically after a drop.
func (s *MqttService) Initialize(opts Options) error {
	if opts.Broker == "" {
		return errors.New("mqtt broker address is required")
	}

	clientOpts := mqtt.NewClientOptions()
	clientOpts.AddBroker(opts.Broker)
	clientOpts.SetClientID(opts.ClientID)
	clientOpts.SetUsername(opts.Username)
	clientOpts.SetPassword(opts.Password)
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetConnectRetry(true)
	clientOpts.SetCleanSession(true)
	if opts.ConnectRetryInterval > 0 {
		clientOpts.SetConnectRetryInterval(opts.ConnectRetryInterval)
	}
	if opts.KeepAlive > 0 {
		clientOpts.SetKeepAlive(opts.KeepAlive)
	}

	if opts.CACertificate != "" {
		tlsConfig, err := s.tlsConfig(opts.CACertificate)
		if err != nil {
			return err
		}
		clientOpts.SetTLSConfig(tlsConfig)
	}

	clientOpts.SetOnConnectHandler(func(mqtt.Client) {
		s.logger.Info().Str("broker", opts.Broker).Msg("Connected to MQTT broker")
		if opts.OnConnect != nil {
			opts.OnConnect()
		}
	})
	clientOpts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.logger.Error().Err(err).Str("broker", opts.Broker).Msg("MQTT connection lost")
		if opts.OnConnectionLost != nil {
			opts.OnConnectionLost(err)
		}
	})
	clientOpts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		s.logger.Warn().Str("broker", opts.Broker).Msg("Reconnecting to MQTT broker")
	})

	s.client = mqtt.NewClient(clientOpts)

	token := s.client.Connect()
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			s.logger.Error().Err(err).Str("broker", opts.Broker).Msg("Failed to connect to MQTT broker")
		}
	}()

	s.logger.Info().Str("broker", opts.Broker).Str("client_id", opts.ClientID).Msg("MQTT client initialized")
	return nil
}

func (s *MqttService) tlsConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := s.fileClient.ReadFileRaw(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, errors.New("failed to append CA certificate")
	}
	return &tls.Config{
		RootCAs:    caCertPool,
		MinVersion: tls.VersionTLS12,
	}, nil
}

// Publish sends a message to the specified topic.
func (s *MqttService) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	return s.client.Publish(topic, qos, retained, payload)
}

// Subscribe subscribes to the specified topic with a message handler.
func (s *MqttService) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	return s.client.Subscribe(topic, qos, callback)
}

// Unsubscribe unsubscribes from the specified topics.
func (s *MqttService) Unsubscribe(topics ...string) mqtt.Token {
	return s.client.Unsubscribe(topics...)
}

// Disconnect gracefully disconnects the MQTT client.
func (s *MqttService) Disconnect(quiesce uint) {
	if s.client != nil {
		s.client.Disconnect(quiesce)
	}
}
