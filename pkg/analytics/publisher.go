// Package analytics is the engine's write-through to the external
// analytics database. The engine treats it as an opaque sink: writes are
// fire-and-forget through a bounded queue drained by a background worker,
// and a full queue drops the write rather than blocking a store mutation.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/niva-app/agenda-engine/internal/models"
)

// IngestSummary reports what a batch ingest handed to the sink.
type IngestSummary struct {
	Processed  int `json:"processed"`
	Contacts   int `json:"contacts"`
	Attendance int `json:"attendance"`
}

// FrequentContact is one row of the frequent-contacts query.
type FrequentContact struct {
	Email        string     `json:"email"`
	Name         string     `json:"name,omitempty"`
	MeetingCount int        `json:"meeting_count"`
	LastMeeting  *time.Time `json:"last_meeting,omitempty"`
}

// ContactMeeting is one row of the per-contact meeting history.
type ContactMeeting struct {
	EventID string    `json:"event_id"`
	Title   string    `json:"title"`
	Start   time.Time `json:"start"`
}

// CoAttendee is one row of the co-attendee query.
type CoAttendee struct {
	Email string `json:"email"`
	Count int    `json:"count"`
}

// Config holds publisher configuration.
type Config struct {
	URL            string        `yaml:"url"`
	SubjectPrefix  string        `yaml:"subject_prefix"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	ReconnectWait  time.Duration `yaml:"reconnect_wait"`
	MaxReconnects  int           `yaml:"max_reconnects"`
	// QueueSize bounds the write-through queue; a full queue drops
	// writes with a warning.
	QueueSize int `yaml:"queue_size"`
}

// DefaultConfig returns a default publisher configuration.
func DefaultConfig() *Config {
	return &Config{
		URL:            nats.DefaultURL,
		SubjectPrefix:  "agenda.analytics",
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: 3 * time.Second,
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  10,
		QueueSize:      256,
	}
}

type envelope struct {
	subject string
	payload []byte
}

// Publisher is the NATS-backed sink. It satisfies the narrow sink
// interfaces declared by the contact and calendar stores.
type Publisher struct {
	conn   *nats.Conn
	config *Config
	logger *slog.Logger

	queue        chan envelope
	shutdownChan chan struct{}
	wg           sync.WaitGroup
	closeOnce    sync.Once
}

// NewPublisher connects to NATS and starts the queue worker.
func NewPublisher(config *Config, logger *slog.Logger) (*Publisher, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	options := []nats.Option{
		nats.Timeout(config.ConnectTimeout),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("analytics sink disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("analytics sink reconnected", "url", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(config.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to analytics sink at %s: %w", config.URL, err)
	}

	p := &Publisher{
		conn:         conn,
		config:       config,
		logger:       logger,
		queue:        make(chan envelope, config.QueueSize),
		shutdownChan: make(chan struct{}),
	}
	p.wg.Add(1)
	go p.drain()

	logger.Info("analytics sink connected",
		"url", config.URL,
		"subject_prefix", config.SubjectPrefix,
		"queue_size", config.QueueSize)
	return p, nil
}

// drain publishes queued envelopes until shutdown.
func (p *Publisher) drain() {
	defer p.wg.Done()
	for {
		select {
		case <-p.shutdownChan:
			// Flush whatever is still queued before exiting.
			for {
				select {
				case env := <-p.queue:
					p.publish(env)
				default:
					return
				}
			}
		case env := <-p.queue:
			p.publish(env)
		}
	}
}

func (p *Publisher) publish(env envelope) {
	if err := p.conn.Publish(env.subject, env.payload); err != nil {
		p.logger.Warn("analytics publish failed", "subject", env.subject, "error", err)
	}
}

// enqueue hands a payload to the worker, dropping it when the queue is
// full.
func (p *Publisher) enqueue(subject string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal analytics payload: %w", err)
	}
	select {
	case p.queue <- envelope{subject: p.config.SubjectPrefix + "." + subject, payload: payload}:
	default:
		p.logger.Warn("analytics queue full, dropping write", "subject", subject)
	}
	return nil
}

// Publish queues an arbitrary payload on an absolute subject, outside the
// sink's prefix. Used by the daemon for brief delivery.
func (p *Publisher) Publish(ctx context.Context, subject string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	select {
	case p.queue <- envelope{subject: subject, payload: payload}:
	default:
		p.logger.Warn("analytics queue full, dropping publish", "subject", subject)
	}
	return nil
}

// UpsertContact queues a contact upsert.
func (p *Publisher) UpsertContact(ctx context.Context, c *models.Contact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.enqueue("contacts.upsert", c)
}

// IngestEvent queues a single event ingest.
func (p *Publisher) IngestEvent(ctx context.Context, e *models.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.enqueue("events.ingest", e)
}

// IngestEvents queues a batch of events and summarizes what was handed
// over: processed events, distinct attendee contacts, and total
// attendance entries.
func (p *Publisher) IngestEvents(ctx context.Context, events []*models.Event) (*IngestSummary, error) {
	summary := &IngestSummary{}
	seen := make(map[string]bool)
	for _, e := range events {
		if err := p.IngestEvent(ctx, e); err != nil {
			return summary, err
		}
		summary.Processed++
		for _, att := range e.Attendees {
			summary.Attendance++
			if !seen[att.Email] {
				seen[att.Email] = true
				summary.Contacts++
			}
		}
	}
	return summary, nil
}

// FrequentContacts asks the analytics service for its most-met contacts.
func (p *Publisher) FrequentContacts(ctx context.Context, limit int) ([]FrequentContact, error) {
	var out []FrequentContact
	err := p.request(ctx, "contacts.frequent", map[string]int{"limit": limit}, &out)
	return out, err
}

// ContactMeetings asks for the meeting history of a single contact.
func (p *Publisher) ContactMeetings(ctx context.Context, email string) ([]ContactMeeting, error) {
	var out []ContactMeeting
	err := p.request(ctx, "contacts.meetings", map[string]string{"email": email}, &out)
	return out, err
}

// CoAttendees asks who most often shares meetings with the contact.
func (p *Publisher) CoAttendees(ctx context.Context, email string) ([]CoAttendee, error) {
	var out []CoAttendee
	err := p.request(ctx, "contacts.coattendees", map[string]string{"email": email}, &out)
	return out, err
}

// request performs a request-reply round trip against the sink.
func (p *Publisher) request(ctx context.Context, subject string, req, resp any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal analytics request: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, p.config.RequestTimeout)
	defer cancel()
	msg, err := p.conn.RequestWithContext(ctx, p.config.SubjectPrefix+"."+subject, payload)
	if err != nil {
		return fmt.Errorf("analytics request %s failed: %w", subject, err)
	}
	if err := json.Unmarshal(msg.Data, resp); err != nil {
		return fmt.Errorf("failed to decode analytics response for %s: %w", subject, err)
	}
	return nil
}

// IsHealthy checks the sink connection.
func (p *Publisher) IsHealthy() error {
	if p.conn == nil || p.conn.IsClosed() {
		return fmt.Errorf("analytics sink connection is closed")
	}
	if !p.conn.IsConnected() {
		return fmt.Errorf("analytics sink is not connected")
	}
	return nil
}

// Close stops the worker, flushes pending messages and closes the
// connection.
func (p *Publisher) Close() error {
	p.closeOnce.Do(func() {
		close(p.shutdownChan)
		p.wg.Wait()
		if p.conn != nil && !p.conn.IsClosed() {
			if err := p.conn.FlushTimeout(5 * time.Second); err != nil {
				p.logger.Warn("failed to flush analytics sink on close", "error", err)
			}
			p.conn.Close()
		}
		p.logger.Info("analytics sink closed")
	})
	return nil
}
