// Package telemetry publishes lobby statistics and lifecycle events to
// an MQTT broker for external monitoring.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/Cheyans/server/internal/config"
	"github.com/Cheyans/server/internal/events"
	"github.com/Cheyans/server/internal/game"
	"github.com/Cheyans/server/internal/matchmaker"
	"github.com/Cheyans/server/internal/player"
	"github.com/Cheyans/server/internal/util"
)

// MQTT topics
const (
	TopicLobbyStatus = "lobby/status"
	TopicLobbyEvents = "lobby/events"
)

// Publisher manages the MQTT connection and publishes telemetry.
type Publisher struct {
	cfg      *config.Config
	bus      *events.Bus
	players  *player.Registry
	games    *game.Registry
	mm       *matchmaker.Matchmaker
	client   mqtt.Client
	metadata map[string]interface{}
}

// NewPublisher creates an MQTT telemetry publisher.
func NewPublisher(cfg *config.Config, bus *events.Bus, players *player.Registry,
	games *game.Registry, mm *matchmaker.Matchmaker) (*Publisher, error) {

	mqttCfg := cfg.MQTT
	if !mqttCfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	metadata := map[string]interface{}{
		"hostname":  sysInfo.Hostname,
		"os":        sysInfo.OS,
		"cpu_model": sysInfo.CPUModel,
		"cpu_cores": sysInfo.CPUCores,
		"memory_mb": sysInfo.TotalMemory,
	}

	p := &Publisher{
		cfg:      cfg,
		bus:      bus,
		players:  players,
		games:    games,
		mm:       mm,
		metadata: metadata,
	}

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if mqttCfg.UseTLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, mqttCfg.BrokerURL, mqttCfg.Port))

	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("lobby-%s", sysInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if mqttCfg.UseTLS {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		if mqttCfg.CertFile != "" && mqttCfg.KeyFile != "" {
			cert, err := tls.LoadX509KeyPair(mqttCfg.CertFile, mqttCfg.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	p.client = mqtt.NewClient(opts)
	return p, nil
}

// Start connects to the broker, subscribes to lobby events, and
// publishes periodic status snapshots until the context is cancelled.
// Blocking; run in its own goroutine.
func (p *Publisher) Start(ctx context.Context) error {
	log.Info().
		Str("broker", p.cfg.MQTT.BrokerURL).
		Int("port", p.cfg.MQTT.Port).
		Msg("connecting to MQTT broker")

	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("MQTT connection timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("MQTT connection failed: %w", err)
	}

	for _, eventType := range []events.EventType{
		events.EventPlayerLogin, events.EventPlayerLogout,
		events.EventGameHosted, events.EventGameEnded, events.EventMatchMade,
	} {
		p.bus.Subscribe(eventType, "telemetry", p.handleEvent)
	}

	interval := time.Duration(p.cfg.Timers.TelemetryInterval) * time.Second
	if interval < time.Second {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.publishStatus()
	for {
		select {
		case <-ctx.Done():
			p.client.Disconnect(250)
			log.Info().Msg("MQTT publisher stopped")
			return nil
		case <-ticker.C:
			p.publishStatus()
		}
	}
}

func (p *Publisher) handleEvent(ctx context.Context, event events.Event) error {
	p.publish(TopicLobbyEvents, map[string]interface{}{
		"event":   string(event.Type),
		"source":  event.Source,
		"payload": event.Payload,
	})
	return nil
}

func (p *Publisher) publishStatus() {
	status := map[string]interface{}{
		"players":      p.players.Count(),
		"games":        p.games.Count(),
		"ladder_queue": p.mm.QueueLen(),
		"timestamp":    time.Now().Unix(),
		"metadata":     p.metadata,
	}

	if cpuUsage, err := util.GetCPUUsage(); err == nil {
		status["cpu_percent"] = cpuUsage
	}
	if memUsage, err := util.GetMemoryUsage(); err == nil {
		status["memory_percent"] = memUsage.UsedPercent
	}

	p.publish(TopicLobbyStatus, status)
}

func (p *Publisher) publish(topic string, payload interface{}) {
	if !p.client.IsConnected() {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal telemetry payload")
		return
	}

	token := p.client.Publish(topic, 0, false, data)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			log.Debug().Err(err).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}
