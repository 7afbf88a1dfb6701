package dispatch

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"wakelisten/internal/domain"
)

const defaultSubject = "wakelisten.commands"

// Settings configures the NATS connection used for command delivery.
type Settings struct {
	URLs     []string
	Subject  string
	User     string
	Password string
	Token    string
}

// Publisher is the part of a NATS connection the dispatcher needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// CommandMessage is published for every captured command.
type CommandMessage struct {
	ActivationID string    `json:"activation_id"`
	Seq          int       `json:"seq"`
	Command      string    `json:"command"`
	CapturedAt   time.Time `json:"captured_at"`
}

// WakeMessage is published when the wake word arms the session.
type WakeMessage struct {
	Transcript string    `json:"transcript"`
	DetectedAt time.Time `json:"detected_at"`
}

// Dispatcher forwards captured commands to NATS. It only reacts to wake and
// command events; every other session event is ignored.
type Dispatcher struct {
	pub     Publisher
	subject string
	log     logrus.FieldLogger
	now     func() time.Time
}

func NewDispatcher(pub Publisher, subject string, log logrus.FieldLogger) *Dispatcher {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = defaultSubject
	}
	return &Dispatcher{
		pub:     pub,
		subject: subject,
		log:     log.WithFields(logrus.Fields{"component": "dispatch", "subject": subject}),
		now:     time.Now,
	}
}

// Connect dials NATS and returns a dispatcher plus a function that drains
// the connection.
func Connect(cfg Settings, log logrus.FieldLogger) (*Dispatcher, func(), error) {
	urls := make([]string, 0, len(cfg.URLs))
	for _, u := range cfg.URLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return nil, nil, errors.New("no NATS url configured")
	}

	opts := []nats.Option{
		nats.Name("wakelisten"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("address", nc.ConnectedAddr()).Info("reconnected to NATS")
		}),
	}
	switch {
	case cfg.Token != "":
		opts = append(opts, nats.Token(cfg.Token))
	case cfg.User != "":
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	nc, err := nats.Connect(strings.Join(urls, ","), opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}

	log.WithFields(logrus.Fields{
		"version": nc.ConnectedServerVersion(),
		"address": nc.ConnectedAddr(),
	}).Info("successfully connected to NATS server")

	closeFn := func() {
		if err := nc.Drain(); err != nil {
			nc.Close()
		}
	}
	return NewDispatcher(nc, cfg.Subject, log), closeFn, nil
}

func (d *Dispatcher) CommandCaptured(entry domain.CommandEntry) {
	d.publish(d.subject, CommandMessage{
		ActivationID: entry.ActivationID,
		Seq:          entry.Seq,
		Command:      entry.Text,
		CapturedAt:   entry.CapturedAt,
	})
}

func (d *Dispatcher) WakeDetected(transcript string) {
	d.publish(d.subject+".wake", WakeMessage{Transcript: transcript, DetectedAt: d.now()})
}

func (d *Dispatcher) SessionStateChanged(domain.SessionState, domain.SessionStateReason) {}

func (d *Dispatcher) PartialTranscript(string) {}

func (d *Dispatcher) LifecycleChanged(string) {}

func (d *Dispatcher) SessionError(domain.ErrorCode, string) {}

func (d *Dispatcher) publish(subject string, message any) {
	payload, err := json.Marshal(message)
	if err != nil {
		d.log.WithError(err).Error("failed to encode dispatch message")
		return
	}
	if err := d.pub.Publish(subject, payload); err != nil {
		d.log.WithError(err).WithField("target", subject).Warn("failed to publish to NATS")
	}
}
