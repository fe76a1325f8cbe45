package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vantagehq/eventcore/internal/queue"
)

// fakeQueue captures enqueues for assertions. failNext makes the next
// Enqueue call return an error.
type fakeQueue struct {
	mu       sync.Mutex
	enqueued []fakeEnqueue
	failNext error
	block    chan struct{}
}

type fakeEnqueue struct {
	Queue   string
	Name    string
	Event   Event
	Options queue.Options
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{}
}

func (f *fakeQueue) Enqueue(ctx context.Context, q, name string, payload []byte, opts queue.Options) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}

	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return err
	}
	f.enqueued = append(f.enqueued, fakeEnqueue{Queue: q, Name: name, Event: event, Options: opts})
	return nil
}

func (f *fakeQueue) RegisterHandler(_, _ string, _ queue.Handler)        {}
func (f *fakeQueue) OnPermanentFailure(_ string, _ queue.FailureHandler) {}
func (f *fakeQueue) Pause(_ string)                                      {}
func (f *fakeQueue) Resume(_ string)                                     {}
func (f *fakeQueue) Drain(_ string)                                      {}
func (f *fakeQueue) Counts(_ string) queue.Counts                        { return queue.Counts{} }

func (f *fakeQueue) all() []fakeEnqueue {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]fakeEnqueue, len(f.enqueued))
	copy(out, f.enqueued)
	return out
}

func TestPublisher_Publish(t *testing.T) {
	fq := newFakeQueue()
	p := NewPublisher(fq, PublisherConfig{})
	ctx := context.Background()

	published, err := p.Publish(ctx, "acme", "order.created", map[string]any{"total": 99.5}, PublishOptions{
		Source: "orders-api",
	})
	require.NoError(t, err)
	require.NotEmpty(t, published.ID)
	require.Equal(t, StatusProcessing, published.Status)
	require.Equal(t, "acme", published.TenantID)
	require.Equal(t, "order.created", published.Type)
	require.Equal(t, "orders-api", published.Source)
	require.NotZero(t, published.Timestamp)
	require.Equal(t, 3, published.MaxAttempts)

	enqueued := fq.all()
	require.Len(t, enqueued, 1)
	require.Equal(t, EventsQueue, enqueued[0].Queue)
	require.Equal(t, EventJobName, enqueued[0].Name)
	require.Equal(t, published.ID, enqueued[0].Options.JobID, "event id is the default dedup key")
}

func TestPublisher_PublishEnqueueFailure(t *testing.T) {
	fq := newFakeQueue()
	fq.failNext = errors.New("queue unavailable")
	p := NewPublisher(fq, PublisherConfig{})

	published, err := p.Publish(context.Background(), "acme", "order.created", nil, PublishOptions{})
	require.Error(t, err)
	require.Equal(t, StatusFailed, published.Status)
	require.Contains(t, published.LastError, "queue unavailable")

	// The failure is still visible in the status buffer.
	buffered, ok := p.GetStatus(published.ID)
	require.True(t, ok)
	require.Equal(t, StatusFailed, buffered.Status)
}

func TestPublisher_DeduplicationID(t *testing.T) {
	fq := newFakeQueue()
	p := NewPublisher(fq, PublisherConfig{})
	ctx := context.Background()

	_, err := p.Publish(ctx, "acme", "invoice.paid", nil, PublishOptions{DeduplicationID: "invoice-42"})
	require.NoError(t, err)

	enqueued := fq.all()
	require.Equal(t, "invoice-42", enqueued[0].Options.JobID)
}

func TestPublisher_PublishBatchSharedCorrelation(t *testing.T) {
	fq := newFakeQueue()
	p := NewPublisher(fq, PublisherConfig{})

	results, err := p.PublishBatch(context.Background(), "acme", []PublishItem{
		{Type: "order.created"},
		{Type: "order.updated"},
		{Type: "order.shipped", Options: PublishOptions{CorrelationID: "custom"}},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	require.NotEmpty(t, results[0].CorrelationID)
	require.Equal(t, results[0].CorrelationID, results[1].CorrelationID)
	require.Equal(t, "custom", results[2].CorrelationID, "per-item correlation id wins")
}

func TestPublisher_PublishBatchStopsAtFirstFailure(t *testing.T) {
	fq := newFakeQueue()
	p := NewPublisher(fq, PublisherConfig{})

	results, err := p.PublishBatch(context.Background(), "acme", []PublishItem{
		{Type: "a"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)

	fq.failNext = errors.New("down")
	results, err = p.PublishBatch(context.Background(), "acme", []PublishItem{
		{Type: "b"},
		{Type: "c"},
	})
	require.Error(t, err)
	require.Empty(t, results, "failure on the first item returns no results")
}

func TestPublisher_PublishChainCausation(t *testing.T) {
	fq := newFakeQueue()
	p := NewPublisher(fq, PublisherConfig{})

	results, err := p.PublishChain(context.Background(), "acme", []PublishItem{
		{Type: "order.created"},
		{Type: "invoice.created"},
		{Type: "invoice.paid"},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	require.Empty(t, results[0].CausationID, "chain head has no cause")
	require.Equal(t, results[0].ID, results[1].CausationID)
	require.Equal(t, results[1].ID, results[2].CausationID)

	correlation := results[0].CorrelationID
	require.NotEmpty(t, correlation)
	for _, r := range results {
		require.Equal(t, correlation, r.CorrelationID)
	}
}

func TestPublisher_StatusBufferEviction(t *testing.T) {
	fq := newFakeQueue()
	p := NewPublisher(fq, PublisherConfig{StatusBufferSize: 2})
	ctx := context.Background()

	first, err := p.Publish(ctx, "acme", "a", nil, PublishOptions{})
	require.NoError(t, err)
	second, err := p.Publish(ctx, "acme", "b", nil, PublishOptions{})
	require.NoError(t, err)
	third, err := p.Publish(ctx, "acme", "c", nil, PublishOptions{})
	require.NoError(t, err)

	_, ok := p.GetStatus(first.ID)
	require.False(t, ok, "oldest entry evicted past capacity")
	_, ok = p.GetStatus(second.ID)
	require.True(t, ok)
	_, ok = p.GetStatus(third.ID)
	require.True(t, ok)
}

func TestPublisher_GetStatusReturnsCopy(t *testing.T) {
	fq := newFakeQueue()
	p := NewPublisher(fq, PublisherConfig{})

	published, err := p.Publish(context.Background(), "acme", "a", nil, PublishOptions{})
	require.NoError(t, err)

	got, ok := p.GetStatus(published.ID)
	require.True(t, ok)
	got.Status = StatusDeadLetter

	again, ok := p.GetStatus(published.ID)
	require.True(t, ok)
	require.Equal(t, StatusProcessing, again.Status)
}
