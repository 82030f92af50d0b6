package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capture struct {
	msgs []*nats.Msg
	err  error
}

func (c *capture) PublishMsg(m *nats.Msg) error {
	c.msgs = append(c.msgs, m)
	return c.err
}

func TestNATSPublish(t *testing.T) {
	c := &capture{}
	p := NewNATS(c)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	err := p.Publish(context.Background(), SubjectCSVLoaded, CSVLoaded{
		Collection: "welcome_collection",
		Filename:   "contacts.csv",
		Count:      2,
		Columns:    []string{"name", "email"},
		At:         at,
	})
	require.NoError(t, err)
	require.Len(t, c.msgs, 1)
	assert.Equal(t, "llm4vc.csv.loaded", c.msgs[0].Subject)
	assert.JSONEq(t, `{"collection":"welcome_collection","filename":"contacts.csv","count":2,"columns":["name","email"],"at":"2026-01-02T03:04:05Z"}`, string(c.msgs[0].Data))
}

func TestNATSPublishError(t *testing.T) {
	p := NewNATS(&capture{err: errors.New("closed")})
	err := p.Publish(context.Background(), SubjectCollectionCleared, CollectionCleared{Collection: "c"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), SubjectCollectionCleared)
}

func TestConnectWithoutURLIsNop(t *testing.T) {
	p, nc, closeFn, err := Connect("", "test")
	require.NoError(t, err)
	assert.Nil(t, nc)
	assert.IsType(t, Nop{}, p)
	assert.NoError(t, p.Publish(context.Background(), SubjectDocumentsAdded, DocumentsAdded{}))
	closeFn()
}
