// Package natsutil publishes and consumes JSON events over NATS, carrying
// the OpenTelemetry trace context in message headers.
package natsutil

import (
	"context"
	"encoding/json"
	"maps"
	"slices"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// headerCarrier exposes nats.Header as an OTel TextMapCarrier.
type headerCarrier nats.Header

func (h headerCarrier) Get(key string) string { return nats.Header(h).Get(key) }
func (h headerCarrier) Set(key, val string) { nats.Header(h).Set(key, val) }
func (h headerCarrier) Keys() []string { return slices.Collect(maps.Keys(h)) }

// MsgPublisher is satisfied by *nats.Conn.
type MsgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// Publish encodes v as JSON onto subject with the trace context of ctx.
func Publish[T any](ctx context.Context, nc MsgPublisher, subject string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	msg := &nats.Msg{Subject: subject, Data: data, Header: nats.Header{}}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier(msg.Header))
	return nc.PublishMsg(msg)
}

// Handler receives a decoded event and the subject it arrived on. ctx
// carries the publisher's trace context.
type Handler[T any] func(ctx context.Context, subject string, v T)

// Subscribe delivers every JSON message on subject (wildcards allowed) to
// handler. Messages that do not decode as T are dropped.
func Subscribe[T any](nc *nats.Conn, subject string, handler Handler[T]) (*nats.Subscription, error) {
	return nc.Subscribe(subject, decode(handler))
}

func decode[T any](handler Handler[T]) nats.MsgHandler {
	return func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), headerCarrier(msg.Header))
		handler(ctx, msg.Subject, v)
	}
}
