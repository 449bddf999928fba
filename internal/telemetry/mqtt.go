// Package telemetry mirrors lobby link events and a periodic heartbeat to
// an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/lobbylink/internal/config"
	"github.com/energizer-project/lobbylink/internal/events"
	"github.com/energizer-project/lobbylink/internal/lobby"
	"github.com/energizer-project/lobbylink/internal/util"
)

// Topic suffixes under the configured prefix.
const (
	TopicLinkEvents = "link/events"
	TopicLinkStatus = "link/status"
	TopicAdmin      = "admin"
)

// StatusSource reports the link state for heartbeats.
type StatusSource interface {
	Status() lobby.Status
}

// MQTTHandler manages the MQTT connection and publishes telemetry.
type MQTTHandler struct {
	cfg      config.MQTTConfig
	eventBus *events.EventBus
	link     StatusSource
	client   mqtt.Client
	now      func() time.Time

	// Included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a new MQTT telemetry handler.
func NewMQTTHandler(cfg config.MQTTConfig, eventBus *events.EventBus, link StatusSource, version string) (*MQTTHandler, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	handler := &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		link:     link,
		now:      time.Now,
		metadata: map[string]interface{}{
			"hostname":    sysInfo.Hostname,
			"platform":    sysInfo.Platform,
			"app_version": version,
		},
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
		opts.SetClientID(fmt.Sprintf("lobbylink-%s", sysInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)

	if cfg.UseTLS {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
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
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	handler.client = mqtt.NewClient(opts)
	return handler, nil
}

// Start connects to the broker, mirrors events and sends heartbeats until
// ctx is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	log.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	types := append([]events.EventType{events.EventAddressChanged}, events.LinkEventTypes...)
	h.eventBus.SubscribeMany(types, "mqtt", h.onEvent)

	interval := time.Duration(h.cfg.HeartbeatSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	h.publishHeartbeat()
	for {
		select {
		case <-ctx.Done():
			h.PublishShutdown()
			h.client.Disconnect(5000)
			log.Info().Msg("MQTT disconnected")
			return nil
		case <-ticker.C:
			h.publishHeartbeat()
		}
	}
}

func (h *MQTTHandler) topic(suffix string) string {
	prefix := strings.TrimSuffix(h.cfg.TopicPrefix, "/")
	if prefix == "" {
		return suffix
	}
	return prefix + "/" + suffix
}

// publish sends a JSON message to an MQTT topic.
func (h *MQTTHandler) publish(suffix string, payload interface{}) {
	if !h.client.IsConnected() {
		return
	}

	topic := h.topic(suffix)
	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, 1, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the payload.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+2)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = h.now().UTC().Format(time.RFC3339)
	return msg
}

func (h *MQTTHandler) onEvent(_ context.Context, event events.Event) error {
	h.publish(TopicLinkEvents, eventMessage(event))
	return nil
}

func eventMessage(event events.Event) map[string]interface{} {
	return map[string]interface{}{
		"event":   string(event.Type),
		"source":  event.Source,
		"at":      event.Timestamp.UTC().Format(time.RFC3339Nano),
		"payload": event.Payload,
	}
}

func (h *MQTTHandler) heartbeat() map[string]interface{} {
	msg := map[string]interface{}{
		"resources": util.GetResourceUsage(),
	}
	if h.link != nil {
		msg["link"] = h.link.Status()
	}
	return msg
}

func (h *MQTTHandler) publishHeartbeat() {
	h.publish(TopicLinkStatus, h.heartbeat())
}

// PublishShutdown tells subscribers this process is going away.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(TopicAdmin, map[string]interface{}{
		"event": "shutdown",
	})
}
