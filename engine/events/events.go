// Package events publishes collection change notifications over NATS.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/llm4vc/backend/pkg/natsutil"
)

// Subjects.
const (
	SubjectDocumentsAdded    = "llm4vc.collection.added"
	SubjectCollectionCleared = "llm4vc.collection.cleared"
	SubjectCSVLoaded         = "llm4vc.csv.loaded"
	SubjectAll               = "llm4vc.>"
)

// DocumentsAdded is published after documents are written through the API.
type DocumentsAdded struct {
	Collection string    `json:"collection"`
	Count      int       `json:"count"`
	At         time.Time `json:"at"`
}

// CollectionCleared is published after a collection is dropped.
type CollectionCleared struct {
	Collection string    `json:"collection"`
	At         time.Time `json:"at"`
}

// CSVLoaded is published after a CSV file has been ingested.
type CSVLoaded struct {
	Collection string    `json:"collection"`
	Filename   string    `json:"filename"`
	Count      int       `json:"count"`
	Columns    []string  `json:"columns"`
	At         time.Time `json:"at"`
}

// Publisher sends an event to a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, event any) error
}

// Nop discards every event. It is used when NATS is not configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) error { return nil }

// NATS publishes JSON events on a NATS connection.
type NATS struct {
	nc natsutil.MsgPublisher
}

// NewNATS wraps an existing connection (or anything that can publish messages).
func NewNATS(nc natsutil.MsgPublisher) *NATS {
	return &NATS{nc: nc}
}

// Publish serialises event as JSON onto subject.
func (p *NATS) Publish(ctx context.Context, subject string, event any) error {
	if err := natsutil.Publish(ctx, p.nc, subject, event); err != nil {
		return fmt.Errorf("events: publish %s: %w", subject, err)
	}
	return nil
}

// Connect returns a NATS publisher for url, or Nop when url is empty. The
// returned close function is always safe to call.
func Connect(url, name string) (Publisher, *nats.Conn, func(), error) {
	if url == "" {
		return Nop{}, nil, func() {}, nil
	}
	nc, err := nats.Connect(url, nats.Name(name), nats.MaxReconnects(-1))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("events: connect %s: %w", url, err)
	}
	return NewNATS(nc), nc, func() { nc.Drain() }, nil
}
