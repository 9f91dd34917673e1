// Package bus publishes MedScribe events to NATS so other services can follow
// a session: every notification and every persisted snapshot.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/MrWong99/medscribe/internal/notify"
	"github.com/MrWong99/medscribe/internal/persist"
)

// DefaultSubjectPrefix is used when Config.SubjectPrefix is empty.
const DefaultSubjectPrefix = "medscribe"

// Config configures the NATS connection.
type Config struct {
	// Servers is a list of NATS URLs.
	Servers []string

	// SubjectPrefix is prepended to every subject.
	SubjectPrefix string

	// ConnectTimeout bounds the initial connection. Default: 2s.
	ConnectTimeout time.Duration

	// Token authenticates with the server, if set.
	Token string
}

// publisher is the subset of *nats.Conn used for publishing.
type publisher interface {
	Publish(subject string, data []byte) error
}

// Publisher sends events to NATS.
type Publisher struct {
	conn   *nats.Conn
	pub    publisher
	prefix string
	log    *slog.Logger
}

var _ notify.Notifier = (*Publisher)(nil)

// Connect dials the configured servers.
func Connect(ctx context.Context, cfg Config, log *slog.Logger) (*Publisher, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("bus: no NATS servers configured")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 2 * time.Second
	}
	if deadline, ok := ctx.Deadline(); ok {
		cfg.ConnectTimeout = min(cfg.ConnectTimeout, time.Until(deadline))
	}

	options := []nats.Option{
		nats.Name("medscribe"),
		nats.Timeout(cfg.ConnectTimeout),
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("bus: connect to nats: %w", err)
	}
	log.Info("bus: connected to NATS", "servers", url)

	p := newPublisher(conn, cfg.SubjectPrefix, log)
	p.conn = conn
	return p, nil
}

func newPublisher(pub publisher, prefix string, log *slog.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Publisher{pub: pub, prefix: prefix, log: log}
}

// Subject returns the full subject for an event kind.
func (p *Publisher) Subject(kind string) string { return p.prefix + "." + kind }

// Notify publishes n on "<prefix>.notifications". Failures are logged.
func (p *Publisher) Notify(_ context.Context, n notify.Notification) {
	if err := p.publish("notifications", n); err != nil {
		p.log.Warn("bus: publish notification failed", "title", n.Title, "error", err)
	}
}

// PublishSnapshot publishes s on "<prefix>.snapshots".
func (p *Publisher) PublishSnapshot(_ context.Context, s persist.Snapshot) error {
	return p.publish("snapshots", s)
}

func (p *Publisher) publish(kind string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("bus: encode %s: %w", kind, err)
	}
	if err := p.pub.Publish(p.Subject(kind), data); err != nil {
		return fmt.Errorf("bus: publish %s: %w", kind, err)
	}
	return nil
}

// Healthy reports whether the connection is up.
func (p *Publisher) Healthy() bool {
	return p != nil && p.conn != nil && p.conn.Status() == nats.CONNECTED
}

// Check implements a readiness check.
func (p *Publisher) Check(context.Context) error {
	if !p.Healthy() {
		return errors.New("bus: not connected")
	}
	return nil
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.log.Info("bus: closing NATS connection")
	_ = p.conn.Drain()
	p.conn.Close()
}

// MirrorStore wraps a [persist.Store] and publishes every successfully saved
// snapshot.
type MirrorStore struct {
	persist.Store
	pub *Publisher
}

var _ persist.Store = (*MirrorStore)(nil)

// Mirror returns store wrapped so saves are also published by pub.
func Mirror(store persist.Store, pub *Publisher) *MirrorStore {
	return &MirrorStore{Store: store, pub: pub}
}

// Save stores s and then publishes it. A publish failure is logged, not
// returned.
func (m *MirrorStore) Save(ctx context.Context, s persist.Snapshot) error {
	if err := m.Store.Save(ctx, s); err != nil {
		return err
	}
	if err := m.pub.PublishSnapshot(ctx, s); err != nil {
		m.pub.log.Warn("bus: publish snapshot failed", "session_id", s.SessionID, "error", err)
	}
	return nil
}
