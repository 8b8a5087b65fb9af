package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"example.com/casework/internal/engine"
)

type stubReader struct {
	messages  []kafka.Message
	committed []kafka.Message
	commitErr error
}

func (r *stubReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.messages) == 0 {
		return kafka.Message{}, context.Canceled
	}
	msg := r.messages[0]
	r.messages = r.messages[1:]
	return msg, nil
}

func (r *stubReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	if r.commitErr != nil {
		return r.commitErr
	}
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *stubReader) Close() error { return nil }

type stubDeliverer struct {
	delivered []engine.Message
	err       error
}

func (d *stubDeliverer) Deliver(_ context.Context, m engine.Message) error {
	if d.err != nil {
		return d.err
	}
	d.delivered = append(d.delivered, m)
	return nil
}

type testWriter struct {
	t *testing.T
}

func (tw testWriter) Write(p []byte) (int, error) {
	tw.t.Log(string(p))
	return len(p), nil
}

func encode(t *testing.T, m engine.Message) []byte {
	t.Helper()
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	return raw
}

func newTestProcessor(t *testing.T, reader Reader, deliverer Deliverer) *Processor {
	t.Helper()
	return NewProcessor(reader, deliverer, WithLogger(log.New(testWriter{t}, "", 0)))
}

func TestProcessorDeliversAndCommits(t *testing.T) {
	notification := engine.Message{
		Kind:     engine.MessageEmail,
		CaseID:   "case-1",
		Template: "TPL_CREATED",
		To:       "clerk@example.gov",
		Subject:  "Case case-1 update",
		Body:     "received",
	}
	reader := &stubReader{messages: []kafka.Message{
		{Topic: TopicEmail, Offset: 7, Value: encode(t, notification)},
	}}
	deliverer := &stubDeliverer{}

	err := newTestProcessor(t, reader, deliverer).Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)

	require.Len(t, deliverer.delivered, 1)
	require.Equal(t, notification, deliverer.delivered[0])
	require.Len(t, reader.committed, 1)
	require.Equal(t, int64(7), reader.committed[0].Offset)
}

func TestProcessorCommitsUndecodableRecords(t *testing.T) {
	reader := &stubReader{messages: []kafka.Message{
		{Topic: TopicEmail, Offset: 3, Value: []byte("{not json")},
	}}
	deliverer := &stubDeliverer{}

	err := newTestProcessor(t, reader, deliverer).Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)

	require.Empty(t, deliverer.delivered, "poison pills are never delivered")
	require.Len(t, reader.committed, 1, "poison pills are committed so the partition advances")
}

func TestProcessorLeavesOffsetUncommittedOnDeliveryFailure(t *testing.T) {
	reader := &stubReader{messages: []kafka.Message{
		{Topic: TopicSMS, Offset: 5, Value: encode(t, engine.Message{Kind: engine.MessageSMS, CaseID: "case-1"})},
	}}
	deliverer := &stubDeliverer{err: errors.New("gateway down")}

	err := newTestProcessor(t, reader, deliverer).Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)

	require.Empty(t, reader.committed, "a failed delivery must be retried")
}

func TestProcessorStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reader := &stubReader{messages: []kafka.Message{
		{Topic: TopicEmail, Value: encode(t, engine.Message{CaseID: "case-1"})},
	}}
	deliverer := &stubDeliverer{}

	err := newTestProcessor(t, reader, deliverer).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, deliverer.delivered)
}
