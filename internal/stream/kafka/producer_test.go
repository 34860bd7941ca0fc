package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestNewProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer(ProducerConfig{})
	assert.Error(t, err)
}

func TestNewProducerConfiguresWriter(t *testing.T) {
	p, err := NewProducer(ProducerConfig{Brokers: []string{"localhost:9092"}, RequireAll: true})
	require.NoError(t, err)

	w, ok := p.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, kafka.RequireAll, w.RequiredAcks)
	assert.Empty(t, w.Topic)
	assert.IsType(t, &kafka.Hash{}, w.Balancer)
}

func TestProducerSend(t *testing.T) {
	fw := &fakeWriter{}
	p := &Producer{writer: fw}

	require.NoError(t, p.Send(context.Background(), "ticks.rate", []byte("BTCJPY"), []byte(`{}`)))
	require.Len(t, fw.msgs, 1)
	assert.Equal(t, "ticks.rate", fw.msgs[0].Topic)
	assert.Equal(t, []byte("BTCJPY"), fw.msgs[0].Key)

	require.NoError(t, p.Close())
	assert.True(t, fw.closed)
}

func TestProducerSendWrapsError(t *testing.T) {
	boom := errors.New("broker down")
	p := &Producer{writer: &fakeWriter{err: boom}}
	err := p.Send(context.Background(), "t", nil, nil)
	assert.ErrorIs(t, err, boom)
}
