package mqtt

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultKeepAlive      = 60 * time.Second
	maxReconnectInterval  = 30 * time.Second
)

// Client owns the broker connection. Alerts go out through a Publisher built
// on GetNativeClient.
type Client struct {
	client mqtt.Client
	logger *zap.SugaredLogger
}

// ClientConfig holds MQTT client configuration. Zero durations use the
// package defaults.
type ClientConfig struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
	AutoReconnect  bool
}

// NewClient connects to the broker, waiting at most ConnectTimeout
func NewClient(config ClientConfig, logger *zap.SugaredLogger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	opts := newClientOptions(config, logger)
	client := mqtt.NewClient(opts)

	token := client.Connect()
	if !token.WaitTimeout(opts.ConnectTimeout) {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: timed out after %s", config.Broker, opts.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	logger.Infow("MQTT Client: Connected", "broker", config.Broker, "client_id", config.ClientID,
		"auto_reconnect", opts.AutoReconnect)
	return &Client{client: client, logger: logger}, nil
}

func newClientOptions(config ClientConfig, logger *zap.SugaredLogger) *mqtt.ClientOptions {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = defaultConnectTimeout
	}
	if config.KeepAlive <= 0 {
		config.KeepAlive = defaultKeepAlive
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(config.ClientID)
	opts.SetUsername(config.Username)
	opts.SetPassword(config.Password)
	opts.SetConnectTimeout(config.ConnectTimeout)
	opts.SetKeepAlive(config.KeepAlive)
	opts.SetPingTimeout(config.KeepAlive / 6)
	opts.SetAutoReconnect(config.AutoReconnect)
	opts.SetMaxReconnectInterval(maxReconnectInterval)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("MQTT Client: Connection established")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warnw("MQTT Client: Connection lost", "error", err, "reconnecting", config.AutoReconnect)
	})
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		logger.Info("MQTT Client: Reconnecting")
	})
	return opts
}

// GetNativeClient returns the underlying paho client for the Publisher
func (c *Client) GetNativeClient() mqtt.Client {
	return c.client
}

// Close waits briefly for in-flight publishes, then disconnects
func (c *Client) Close() {
	c.client.Disconnect(250)
	c.logger.Info("MQTT Client: Disconnected")
}
