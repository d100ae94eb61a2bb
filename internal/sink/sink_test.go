package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatmap/internal/config"
	"threatmap/internal/events"
	"threatmap/internal/model"
	"threatmap/internal/pipeline"
)

var (
	_ pipeline.Consumer = (*Log)(nil)
	_ pipeline.Consumer = (*Recent)(nil)
	_ pipeline.Consumer = (*Kafka)(nil)
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

func addrBatch(status model.BatchStatus, addrs ...string) model.Batch {
	return model.Batch{
		ID:        "batch-1",
		Source:    "reputation",
		Kind:      model.KindAddresses,
		Status:    status,
		FetchedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Addresses: addrs,
	}
}

func TestKafkaPublishesOKBatches(t *testing.T) {
	w := &fakeWriter{}
	k := newKafka(w, "topic", nil)
	require.NoError(t, k.Push(context.Background(), addrBatch(model.StatusOK, "1.1.1.1")))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte("batch-1"), w.msgs[0].Key)

	var decoded model.Batch
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, []string{"1.1.1.1"}, decoded.Addresses)
	assert.Equal(t, "reputation", decoded.Source)

	require.NoError(t, k.Close())
	assert.True(t, w.closed)
}

func TestKafkaSkipsFailedUnchangedAndEmpty(t *testing.T) {
	w := &fakeWriter{}
	k := newKafka(w, "topic", nil)
	require.NoError(t, k.Push(context.Background(), addrBatch(model.StatusFailed)))
	require.NoError(t, k.Push(context.Background(), addrBatch(model.StatusUnchanged)))
	require.NoError(t, k.Push(context.Background(), addrBatch(model.StatusOK)))
	assert.Empty(t, w.msgs)
}

func TestKafkaReturnsWriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	k := newKafka(w, "topic", nil)
	assert.Error(t, k.Push(context.Background(), addrBatch(model.StatusOK, "1.1.1.1")))
}

func TestNewKafkaValidates(t *testing.T) {
	_, err := NewKafka(config.KafkaConfig{Topic: "t"}, nil)
	assert.Error(t, err)
	_, err = NewKafka(config.KafkaConfig{Brokers: []string{"localhost:9092"}}, nil)
	assert.Error(t, err)
}

func TestLogSinkLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	l := NewLog(logger)
	require.NoError(t, l.Push(context.Background(), addrBatch(model.StatusOK, "1.1.1.1")))
	require.NoError(t, l.Push(context.Background(), addrBatch(model.StatusUnchanged)))
	b := addrBatch(model.StatusFailed)
	b.Error = "timeout"
	require.NoError(t, l.Push(context.Background(), b))

	out := buf.String()
	assert.Contains(t, out, `"msg":"batch received"`)
	assert.Contains(t, out, `"msg":"batch failed"`)
	assert.Contains(t, out, `"err":"timeout"`)
	assert.NotContains(t, out, "batch unchanged")

	assert.NoError(t, NewLog(nil).Push(context.Background(), b))
}

func TestRecentSinkFeedsStore(t *testing.T) {
	store := events.NewStore(10)
	r := NewRecent(store)
	require.NoError(t, r.Push(context.Background(), addrBatch(model.StatusOK, "9.9.9.9")))
	addrs, _ := store.Addresses()
	assert.Equal(t, []string{"9.9.9.9"}, addrs)
}
