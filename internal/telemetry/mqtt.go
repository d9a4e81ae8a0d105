// Package telemetry publishes relay activity to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/ragol/internal/config"
	"github.com/energizer-project/ragol/internal/events"
	"github.com/energizer-project/ragol/internal/util"
)

// Topic suffixes, appended to the configured prefix.
const (
	TopicRelayStatus   = "relay/status"
	TopicSessionOpened = "session/opened"
	TopicSessionClosed = "session/closed"
	TopicFrames        = "frames"
	TopicDecodeErrors  = "errors/decode"
	TopicHealth        = "health"
)

const statusInterval = time.Minute

// StatusFunc reports relay state for the periodic status message.
type StatusFunc func() any

// MQTTHandler forwards bus events to MQTT as JSON.
type MQTTHandler struct {
	cfg      config.MQTTConfig
	bus      *events.Bus
	client   mqtt.Client
	status   StatusFunc
	dataPath string
	metadata map[string]any
	logger   zerolog.Logger
}

// NewMQTTHandler builds a handler from cfg. status may be nil; dataPath
// selects the volume whose free space is reported.
func NewMQTTHandler(cfg config.MQTTConfig, bus *events.Bus, status StatusFunc, dataPath string) (*MQTTHandler, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	h := &MQTTHandler{
		cfg:      cfg,
		bus:      bus,
		status:   status,
		dataPath: dataPath,
		metadata: map[string]any{
			"hostname":   sysInfo.Hostname,
			"os":         sysInfo.OS,
			"cpu_model":  sysInfo.CPUModel,
			"memory_mb":  sysInfo.TotalMemory,
			"go_version": sysInfo.GoVersion,
		},
		logger: log.With().Str("component", "mqtt").Logger(),
	}

	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port))

	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("ragol-%s", sysInfo.Hostname))
	}
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)

	if cfg.UseTLS {
		tlsConfig, err := buildTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		h.logger.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		h.logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	h.client = mqtt.NewClient(opts)
	return h, nil
}

func buildTLSConfig(cfg config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}

// Start connects, subscribes to the bus and publishes status until ctx is
// cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()
	defer h.unsubscribeEvents()

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	h.publishStatus("online")
	for {
		select {
		case <-ctx.Done():
			h.publishStatus("offline")
			h.client.Disconnect(5000)
			h.logger.Info().Msg("MQTT disconnected")
			return nil
		case <-ticker.C:
			h.publishStatus("online")
		}
	}
}

var handledEvents = []events.Type{
	events.SessionOpened,
	events.SessionClosed,
	events.FrameCaptured,
	events.DecodeFailed,
	events.HealthAlert,
}

func (h *MQTTHandler) subscribeEvents() {
	for _, t := range handledEvents {
		h.bus.Subscribe(t, "mqtt", h.onEvent)
	}
}

func (h *MQTTHandler) unsubscribeEvents() {
	for _, t := range handledEvents {
		h.bus.Unsubscribe(t, "mqtt")
	}
}

func (h *MQTTHandler) onEvent(_ context.Context, e events.Event) error {
	topic, payload, ok := h.messageFor(e)
	if !ok {
		return nil
	}
	h.publish(topic, payload)
	return nil
}

// messageFor maps a bus event to a topic and payload. Frame bodies are never
// published, only their summaries.
func (h *MQTTHandler) messageFor(e events.Event) (string, map[string]any, bool) {
	out := map[string]any{"session": e.Session}

	switch p := e.Payload.(type) {
	case events.SessionPayload:
		out["client"] = p.Client
		out["upstream"] = p.Upstream
		out["variant"] = p.Variant
		if e.Type == events.SessionClosed {
			out["frames"] = p.Frames
			out["bytes"] = p.Bytes
			if p.Err != "" {
				out["error"] = p.Err
			}
			return h.topic(TopicSessionClosed), out, true
		}
		return h.topic(TopicSessionOpened), out, true

	case events.FramePayload:
		out["direction"] = p.Direction
		out["size"] = p.Size
		out["summary"] = p.Summary
		return h.topic(TopicFrames + "/" + p.Summary.Name), out, true

	case events.DecodeFailedPayload:
		out["direction"] = p.Direction
		out["code"] = p.Code
		out["error"] = p.Err
		return h.topic(TopicDecodeErrors), out, true

	case events.HealthPayload:
		delete(out, "session")
		out["level"] = p.Level
		out["message"] = p.Message
		return h.topic(TopicHealth + "/" + p.Check), out, true
	}
	return "", nil, false
}

func (h *MQTTHandler) topic(suffix string) string {
	if h.cfg.TopicPrefix == "" {
		return suffix
	}
	return h.cfg.TopicPrefix + "/" + suffix
}

func (h *MQTTHandler) publishStatus(state string) {
	payload := map[string]any{
		"state": state,
		"usage": util.GetResourceUsage(h.dataPath),
	}
	if h.status != nil {
		payload["relay"] = h.status()
	}
	h.publish(h.topic(TopicRelayStatus), payload)
}

// publish sends payload, merged with host metadata, at QoS 1.
func (h *MQTTHandler) publish(topic string, payload any) {
	if !h.client.IsConnected() {
		return
	}

	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		h.logger.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, 1, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			h.logger.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

func (h *MQTTHandler) buildMessage(payload any) map[string]any {
	m := make(map[string]any, len(h.metadata)+2)
	for k, v := range h.metadata {
		m[k] = v
	}
	m["payload"] = payload
	m["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return m
}
