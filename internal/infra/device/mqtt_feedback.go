package device

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"medicine_reminder_bot/internal/domain/notification"
	"medicine_reminder_bot/internal/infra/metrics"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

const publishTimeout = 10 * time.Second

// Publisher is the part of mqtt.Client used here.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type speakCommand struct {
	Text   string    `json:"text"`
	Urgent bool      `json:"urgent"`
	At     time.Time `json:"at"`
}

type vibrateCommand struct {
	PatternMs []int64   `json:"patternMs"`
	At        time.Time `json:"at"`
}

// Feedback sends speech and vibration commands to the care-recipient's
// device over MQTT. Publishing never waits for the broker; delivery
// failures are logged when the token completes.
type Feedback struct {
	publisher Publisher
	prefix    string
	logger    *logrus.Entry
	now       func() time.Time
	inflight  sync.WaitGroup
}

func NewFeedback(publisher Publisher, topicPrefix string, logger *logrus.Entry) *Feedback {
	return &Feedback{publisher: publisher, prefix: topicPrefix, logger: logger, now: time.Now}
}

func (f *Feedback) Speak(_ context.Context, text string, urgent bool) error {
	return f.publish(f.prefix+"/speak", speakCommand{Text: text, Urgent: urgent, At: f.now()})
}

func (f *Feedback) Vibrate(_ context.Context, pattern []time.Duration) error {
	ms := make([]int64, len(pattern))
	for i, d := range pattern {
		ms[i] = d.Milliseconds()
	}
	return f.publish(f.prefix+"/vibrate", vibrateCommand{PatternMs: ms, At: f.now()})
}

func (f *Feedback) publish(topic string, cmd any) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to encode device command: %w", err)
	}
	token := f.publisher.Publish(topic, 1, false, payload)

	f.inflight.Add(1)
	go func() {
		defer f.inflight.Done()
		log := f.logger.WithField("topic", topic)
		if !token.WaitTimeout(publishTimeout) {
			metrics.IncSideEffectFailure("device")
			log.Warn("Device command not confirmed by broker in time")
			return
		}
		if err := token.Error(); err != nil {
			metrics.IncSideEffectFailure("device")
			log.WithError(err).Warn("Failed to publish device command")
		}
	}()
	return nil
}

// Flush waits for outstanding publishes to complete or time out.
func (f *Feedback) Flush() {
	f.inflight.Wait()
}

var (
	_ notification.Announcer = (*Feedback)(nil)
	_ notification.Vibrator  = (*Feedback)(nil)
)

// ClientOptions configures the broker connection.
type ClientOptions struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// NewClient connects to the broker with auto-reconnect enabled.
func NewClient(opts ClientOptions) (mqtt.Client, error) {
	o := mqtt.NewClientOptions()
	o.AddBroker(opts.Broker)
	o.SetClientID(opts.ClientID)
	if opts.Username != "" {
		o.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		o.SetPassword(opts.Password)
	}
	o.SetAutoReconnect(true)
	o.SetCleanSession(true)
	o.SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(o)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return client, nil
}
