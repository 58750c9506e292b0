// Package mqttpub is the thin indirection over the MQTT client the Session
// Manager calls to deliver decoded telemetry. It owns reconnection and
// retry; the core only ever sees a single Publish call and treats its
// errors as non-fatal.
package mqttpub

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Config is the subset of the proxy's configuration the publisher needs.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Publisher wraps a paho MQTT client. QoS 0, no retain, matching the
// adapter's "0/no-retain is sufficient" contract.
type Publisher struct {
	client mqtt.Client
}

// New connects to the broker and returns a ready Publisher. Connection
// failure is not fatal to the caller's process; callers that want a
// best-effort start should tolerate a non-nil error and keep retrying via
// auto-reconnect once a client exists. Here we surface the initial-connect
// error so main can log it and continue running in degraded mode (frames
// still get forwarded/simulated; only publishing is impaired).
func New(cfg Config) (*Publisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port))
	opts.SetClientID("enverproxy-" + uuid.New().String())

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info("mqtt: connected to broker")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warnf("mqtt: connection lost: %v", err)
	})
	opts.SetReconnectingHandler(func(client mqtt.Client, opts *mqtt.ClientOptions) {
		log.Info("mqtt: reconnecting...")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	var err error
	if token.WaitTimeout(10 * time.Second) {
		err = token.Error()
	} else {
		err = fmt.Errorf("mqtt: connect timed out")
	}

	return &Publisher{client: client}, err
}

// Publish delivers payload to topic at QoS 0, without retain. It does not
// block on broker acknowledgement; the paho client's internal queue and
// auto-reconnect handle delivery.
func (p *Publisher) Publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt: publish to %s timed out", topic)
	}
	return token.Error()
}

// Close disconnects the underlying client, waiting up to 250ms for
// in-flight work to drain.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
