// Package telemetry publishes Transfer Engine progress events to an
// MQTT broker, mirroring monitor/monitor.go's optional MQTT publishing
// of frame events. Disabled by default; enabled only when a broker host
// is configured, exactly like the teacher's -mqtt-host flag group.
package telemetry

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"serialarq/transfer"
)

// Config mirrors monitor/monitor.go's -mqtt-host/-mqtt-port/-mqtt-user/
// -mqtt-pass/-mqtt-tls/-mqtt-topic flag group.
type Config struct {
	Host  string
	Port  int
	User  string
	Pass  string
	TLS   bool
	Topic string
}

// Enabled reports whether every MQTT parameter required to connect has
// been supplied, matching the teacher's all-or-nothing validation.
func (c Config) Enabled() bool {
	return c.Host != "" && c.Port != 0 && c.Topic != ""
}

// Publisher publishes transfer.Event values as JSON to a configured MQTT
// topic. It implements transfer.ProgressReporter.
type Publisher struct {
	client mqtt.Client
	topic  string
}

// NewPublisher connects to the broker described by cfg and returns a
// Publisher. Callers should check cfg.Enabled() before calling this, as
// the teacher's monitor does before constructing its mqtt.Client.
func NewPublisher(cfg Config) (*Publisher, error) {
	opts := mqtt.NewClientOptions()
	addr := fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)
	if cfg.TLS {
		addr = fmt.Sprintf("ssl://%s:%d", cfg.Host, cfg.Port)
		opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.AddBroker(addr)
	opts.SetUsername(cfg.User)
	opts.SetPassword(cfg.Pass)
	opts.SetClientID(fmt.Sprintf("serialarq-%d", time.Now().UnixNano()))

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("telemetry: mqtt connect: %w", token.Error())
	}
	return &Publisher{client: client, topic: cfg.Topic}, nil
}

// Report publishes e as JSON to the configured topic, best-effort: a
// marshal or publish failure is silently ignored and nothing is logged.
func (p *Publisher) Report(e transfer.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		return
	}
	token := p.client.Publish(p.topic, 0, false, payload)
	token.Wait()
}

// Close disconnects from the broker, waiting up to 250ms to flush.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
