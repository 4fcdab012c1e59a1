package publisher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/maxpert/tailpub/record"
	"github.com/maxpert/tailpub/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type strictValidator struct{}

func (strictValidator) ValidateTopic(topic string) error {
	if len(topic) > 10 {
		return errors.New("topic too long for test broker")
	}
	return nil
}

func newTestPublisher(t *testing.T, snk *mockSink, tweak func(*PublisherConfig)) *Publisher {
	t.Helper()
	d := newTestDispatcher(t, snk, nil)
	config := PublisherConfig{
		Source:      "/var/log/app.log",
		Submitter:   d,
		Transformer: &mockTransformer{},
		HeaderKey:   "source",
		HeaderIndex: 0,
	}
	if tweak != nil {
		tweak(&config)
	}
	p, err := NewPublisher(config)
	require.NoError(t, err)
	return p
}

func mapLine(line string) record.Record {
	m := record.NewMapper(",", []string{"user", "action"}, true)
	m.Now = func() time.Time { return time.UnixMilli(1700000000000) }
	return m.Map([]byte(line))
}

func TestNewPublisher_Validation(t *testing.T) {
	_, err := NewPublisher(PublisherConfig{})
	assert.Error(t, err)

	_, err = NewPublisher(PublisherConfig{Submitter: &Dispatcher{}, Transformer: &mockTransformer{}})
	assert.Error(t, err, "header key is required")

	_, err = NewPublisher(PublisherConfig{Submitter: &Dispatcher{}, Transformer: &mockTransformer{}, HeaderKey: "k", HeaderIndex: -1})
	assert.Error(t, err)
}

func TestPublisher_PublishesEncodedRecordWithHeader(t *testing.T) {
	snk := &mockSink{}
	p := newTestPublisher(t, snk, nil)

	delivery, err := p.Publish(context.Background(), "events.login", mapLine("alice,login"), 12).Get()
	require.NoError(t, err)
	assert.Equal(t, "events.login", delivery.Topic)

	published := snk.getPublished()
	require.Len(t, published, 1)
	msg := published[0]
	assert.Equal(t, "events.login", msg.Topic)
	assert.JSONEq(t, `{"user":"alice","action":"login","timestamp":1700000000000}`, string(msg.Value))
	assert.Equal(t, map[string]string{"source": "alice"}, msg.Headers)
	assert.Equal(t, "/var/log/app.log", msg.Source)
	assert.Equal(t, int64(12), msg.Offset)
	assert.Nil(t, msg.Key)
}

func TestPublisher_OmitsHeaderForMissingToken(t *testing.T) {
	snk := &mockSink{}
	p := newTestPublisher(t, snk, func(c *PublisherConfig) { c.HeaderIndex = 5 })

	_, err := p.Publish(context.Background(), "events.login", mapLine("alice,login"), 12).Get()
	require.NoError(t, err)

	published := snk.getPublished()
	require.Len(t, published, 1)
	assert.Empty(t, published[0].Headers)
}

func TestPublisher_PartitionKey(t *testing.T) {
	snk := &mockSink{}
	p := newTestPublisher(t, snk, func(c *PublisherConfig) { c.KeyField = "user" })

	_, err := p.Publish(context.Background(), "events.login", mapLine("bob,logout"), 11).Get()
	require.NoError(t, err)

	published := snk.getPublished()
	require.Len(t, published, 1)
	assert.Equal(t, []byte("bob"), published[0].Key)
}

func TestPublisher_InvalidChannel(t *testing.T) {
	snk := &mockSink{}
	p := newTestPublisher(t, snk, nil)

	_, err := p.Publish(context.Background(), "events.", mapLine("charlie"), 8).Get()
	require.Error(t, err)

	var routingErr *RoutingError
	require.ErrorAs(t, err, &routingErr)
	assert.Equal(t, "events.", routingErr.Channel)
	assert.ErrorIs(t, err, router.ErrInvalidChannel)
	assert.Equal(t, 0, snk.callCount())
}

func TestPublisher_SinkTopicValidator(t *testing.T) {
	snk := &mockSink{}
	p := newTestPublisher(t, snk, func(c *PublisherConfig) { c.Validator = strictValidator{} })

	_, err := p.Publish(context.Background(), "events.login.eu", mapLine("alice,login"), 12).Get()
	var routingErr *RoutingError
	require.ErrorAs(t, err, &routingErr)

	_, err = p.Publish(context.Background(), "events.a", mapLine("alice,login"), 12).Get()
	assert.NoError(t, err)
}

func TestPublisher_EncodeFailureIsPermanent(t *testing.T) {
	snk := &mockSink{}
	p := newTestPublisher(t, snk, func(c *PublisherConfig) {
		c.Transformer = &mockTransformer{err: errors.New("boom")}
	})

	_, err := p.Publish(context.Background(), "events.login", mapLine("alice,login"), 12).Get()
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}
