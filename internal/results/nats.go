package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Config holds the NATS connection settings.
type Config struct {
	Servers        []string
	Subject        string
	Username       string
	Password       string
	Token          string
	ConnectTimeout time.Duration
}

// NATS publishes summaries as JSON on a NATS subject.
type NATS struct {
	conn    *nats.Conn
	subject string
	log     *slog.Logger
}

var _ Publisher = (*NATS)(nil)

// Connect dials the configured servers.
func Connect(cfg Config, log *slog.Logger) (*NATS, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("results: no NATS servers configured")
	}
	if log == nil {
		log = slog.Default()
	}
	subject := cfg.Subject
	if subject == "" {
		subject = DefaultSubject
	}

	options := []nats.Option{nats.Name("tasmi")}
	if cfg.ConnectTimeout > 0 {
		options = append(options, nats.Timeout(cfg.ConnectTimeout))
	}
	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("results: connect to nats: %w", err)
	}
	log.Info("connected to NATS", "servers", url, "subject", subject)
	return &NATS{conn: conn, subject: subject, log: log}, nil
}

// Publish implements [Publisher]. Delivery is fire-and-forget; the call only
// fails when the message cannot be queued.
func (p *NATS) Publish(_ context.Context, s Summary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("results: encode summary: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("results: publish: %w", err)
	}
	return nil
}

// Ping reports whether the connection is up.
func (p *NATS) Ping(context.Context) error {
	if st := p.conn.Status(); st != nats.CONNECTED {
		return fmt.Errorf("results: nats connection is %s", st)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATS) Close() error {
	p.log.Info("closing NATS connection")
	err := p.conn.Drain()
	if errors.Is(err, nats.ErrConnectionClosed) {
		err = nil
	}
	return err
}
