package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BatFabn/WarehouseContainerManager/internal/metrics"
)

type fakeSubscriber struct {
	id      string
	mu      sync.Mutex
	got     [][]byte
	sendErr error
	closed  bool
}

func (f *fakeSubscriber) ID() string { return f.id }

func (f *fakeSubscriber) Send(ctx context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.got = append(f.got, payload)
	return nil
}

func (f *fakeSubscriber) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSubscriber) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.got))
	for _, p := range f.got {
		out = append(out, string(p))
	}
	return out
}

func newRegistry() (*Registry, *metrics.Metrics) {
	m := metrics.NewUnregistered()
	return New(zap.NewNop(), m), m
}

func TestAddRemove(t *testing.T) {
	r, m := newRegistry()
	a := &fakeSubscriber{id: "a"}

	require.NoError(t, r.Add(a))
	assert.ErrorIs(t, r.Add(a), ErrSubscriberExists)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Subscribers))

	assert.True(t, r.Remove("a"))
	assert.False(t, r.Remove("a"))
	assert.Zero(t, r.Len())
	assert.Zero(t, testutil.ToFloat64(m.Subscribers))
}

func TestBroadcastDropsFailedSubscriberAfterSweep(t *testing.T) {
	r, m := newRegistry()
	ctx := context.Background()
	a := &fakeSubscriber{id: "a"}
	b := &fakeSubscriber{id: "b", sendErr: errors.New("broken pipe")}
	c := &fakeSubscriber{id: "c"}
	for _, s := range []*fakeSubscriber{a, b, c} {
		require.NoError(t, r.Add(s))
	}

	res := r.Broadcast(ctx, []byte("m1"))
	assert.Equal(t, 2, res.Delivered)
	assert.Equal(t, []string{"b"}, res.Failed)
	assert.True(t, b.closed)
	assert.Equal(t, 2, r.Len())

	res = r.Broadcast(ctx, []byte("m2"))
	assert.Equal(t, 2, res.Delivered)
	assert.Empty(t, res.Failed)

	assert.Equal(t, []string{"m1", "m2"}, a.received())
	assert.Equal(t, []string{"m1", "m2"}, c.received())
	assert.Empty(t, b.received())

	assert.Equal(t, float64(4), testutil.ToFloat64(m.Deliveries))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DeliveryErrors))
}

func TestBroadcastWithoutSubscribers(t *testing.T) {
	r, _ := newRegistry()
	res := r.Broadcast(context.Background(), []byte("m1"))
	assert.Zero(t, res.Delivered)
	assert.Empty(t, res.Failed)
}

func TestBroadcastPreservesOrderPerSubscriber(t *testing.T) {
	r, _ := newRegistry()
	ctx := context.Background()
	subs := []*fakeSubscriber{{id: "a"}, {id: "b"}, {id: "c"}}
	for _, s := range subs {
		require.NoError(t, r.Add(s))
	}

	var want []string
	for i := 0; i < 50; i++ {
		msg := string(rune('A' + i%26))
		want = append(want, msg)
		r.Broadcast(ctx, []byte(msg))
	}

	for _, s := range subs {
		assert.Equal(t, want, s.received(), s.id)
	}
}

func TestCloseClosesSubscribers(t *testing.T) {
	r, _ := newRegistry()
	a := &fakeSubscriber{id: "a"}
	require.NoError(t, r.Add(a))

	r.Close()
	r.Close()

	assert.True(t, a.closed)
	assert.Zero(t, r.Len())
	assert.ErrorIs(t, r.Add(&fakeSubscriber{id: "b"}), ErrRegistryClosed)
}

func TestConcurrentAddDuringBroadcast(t *testing.T) {
	r, _ := newRegistry()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = r.Add(&fakeSubscriber{id: string(rune('a' + i))})
		}(i)
		go func() {
			defer wg.Done()
			r.Broadcast(ctx, []byte("x"))
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, r.Len())
}
