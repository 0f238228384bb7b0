// internal/event/nats.go
// Package event publishes import notifications to NATS JetStream so other
// services (search indexers, audit) can react to new media.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectImageImported is the subject and event type of ImageImported.
const SubjectImageImported = "imageapi.image.imported"

const streamName = "IMAGEAPI_IMAGES"

// ImageImported is emitted after an import has been stored and recorded.
type ImageImported struct {
	RecordID      string `json:"recordId"`
	Provider      string `json:"provider"`
	OriginalID    string `json:"originalId"`
	AssetID       string `json:"assetId"`
	AssetURL      string `json:"assetUrl"`
	MimeType      string `json:"mime"`
	Size          int64  `json:"size"`
	CorrelationID string `json:"-"`
}

// Publisher sends import events.
type Publisher interface {
	PublishImageImported(ctx context.Context, evt ImageImported) error
	Close() error
}

// noop is used when NATS is not configured or unreachable.
type noop struct{}

func (n *noop) Close() error { return nil }

func (n *noop) PublishImageImported(ctx context.Context, evt ImageImported) error { return nil }

// NewNoop returns a Publisher that drops every event.
func NewNoop() Publisher { return &noop{} }

// natsPub is the NATS JetStream implementation of Publisher.
type natsPub struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

// NewPublisher connects to url and ensures the image stream exists. An empty
// url or any connection failure yields the no-op publisher.
func NewPublisher(url string) Publisher {
	if url == "" {
		return &noop{}
	}

	nc, err := nats.Connect(url, nats.Name("imageapid"), nats.Timeout(5*time.Second))
	if err != nil {
		slog.Warn("NATS connect failed, using noop publisher", "error", err)
		return &noop{}
	}

	js, err := nc.JetStream()
	if err != nil {
		slog.Warn("NATS JetStream context creation failed, using noop publisher", "error", err)
		nc.Close()
		return &noop{}
	}

	if err := initStream(js); err != nil {
		slog.Warn("NATS stream initialization failed, using noop publisher", "error", err)
		nc.Close()
		return &noop{}
	}

	return &natsPub{nc: nc, js: js}
}

// initStream creates the image event stream when it does not exist yet.
func initStream(js nats.JetStreamContext) error {
	if _, err := js.StreamInfo(streamName); err == nil {
		return nil
	}
	_, err := js.AddStream(&nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{"imageapi.image.*"},
		Retention: nats.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Discard:   nats.DiscardOld,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create %s stream: %w", streamName, err)
	}
	return nil
}

// EventEnvelope wraps every published payload.
type EventEnvelope struct {
	Type          string      `json:"type"`
	Version       string      `json:"version"`
	OccurredAt    time.Time   `json:"occurredAt"`
	CorrelationID string      `json:"correlationId"`
	Payload       interface{} `json:"payload"`
}

// Envelope builds the envelope published for evt.
func Envelope(evt ImageImported) EventEnvelope {
	return EventEnvelope{
		Type:          SubjectImageImported,
		Version:       "1.0.0",
		OccurredAt:    time.Now().UTC(),
		CorrelationID: evt.CorrelationID,
		Payload:       evt,
	}
}

func (p *natsPub) Close() error {
	if p.nc != nil {
		return p.nc.Drain()
	}
	return nil
}

// PublishImageImported publishes evt, using the ledger record id as the
// JetStream message id so broker-side redelivery is deduplicated.
func (p *natsPub) PublishImageImported(ctx context.Context, evt ImageImported) error {
	b, err := json.Marshal(Envelope(evt))
	if err != nil {
		return err
	}

	_, err = p.js.Publish(SubjectImageImported, b, nats.Context(ctx), nats.MsgId(evt.RecordID))
	return err
}
