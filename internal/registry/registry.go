package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/BatFabn/WarehouseContainerManager/internal/metrics"
)

var (
	// ErrDelivery wraps a failed send to one subscriber
	ErrDelivery = errors.New("subscriber delivery failed")

	ErrRegistryClosed   = errors.New("registry is closed")
	ErrSubscriberExists = errors.New("subscriber already registered")
)

// Subscriber is one live real-time observer
type Subscriber interface {
	ID() string
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// Registry is the set of live subscribers. Fan-out always iterates over a
// snapshot so connects and disconnects never race with a sweep.
type Registry struct {
	mu          sync.RWMutex
	subscribers map[string]Subscriber
	closed      bool
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// New creates an empty registry
func New(logger *zap.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		subscribers: make(map[string]Subscriber),
		logger:      logger,
		metrics:     m,
	}
}

// Add registers a subscriber after a successful handshake
func (r *Registry) Add(s Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}
	if _, exists := r.subscribers[s.ID()]; exists {
		return ErrSubscriberExists
	}

	r.subscribers[s.ID()] = s
	r.metrics.Subscribers.Set(float64(len(r.subscribers)))
	r.logger.Info("Subscriber connected",
		zap.String("subscriber_id", s.ID()),
		zap.Int("subscribers", len(r.subscribers)),
	)
	return nil
}

// Remove deregisters a subscriber. It reports whether it was registered.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.subscribers[id]; !exists {
		return false
	}

	delete(r.subscribers, id)
	r.metrics.Subscribers.Set(float64(len(r.subscribers)))
	r.logger.Info("Subscriber disconnected",
		zap.String("subscriber_id", id),
		zap.Int("subscribers", len(r.subscribers)),
	)
	return true
}

// Snapshot returns the subscribers live at the time of the call
func (r *Registry) Snapshot() []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Subscriber, 0, len(r.subscribers))
	for _, s := range r.subscribers {
		out = append(out, s)
	}
	return out
}

// Len returns the number of live subscribers
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers)
}

// BroadcastResult summarises one fan-out sweep
type BroadcastResult struct {
	Delivered int
	Failed    []string
}

// Broadcast sends payload to every subscriber in a snapshot taken now.
// Sends run concurrently and Broadcast returns once all of them finished,
// so consecutive calls reach each subscriber in call order. Subscribers
// whose send failed are closed and removed after the sweep.
func (r *Registry) Broadcast(ctx context.Context, payload []byte) BroadcastResult {
	snapshot := r.Snapshot()
	if len(snapshot) == 0 {
		r.logger.Debug("No subscribers connected")
		return BroadcastResult{}
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result BroadcastResult
		failed []Subscriber
	)
	for _, s := range snapshot {
		wg.Add(1)
		go func(s Subscriber) {
			defer wg.Done()
			err := s.Send(ctx, payload)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				r.logger.Warn("Removing subscriber after failed send",
					zap.String("subscriber_id", s.ID()),
					zap.Error(fmt.Errorf("%w: %v", ErrDelivery, err)),
				)
				failed = append(failed, s)
				return
			}
			result.Delivered++
		}(s)
	}
	wg.Wait()

	for _, s := range failed {
		r.Remove(s.ID())
		_ = s.Close()
		result.Failed = append(result.Failed, s.ID())
	}

	r.metrics.Deliveries.Add(float64(result.Delivered))
	r.metrics.DeliveryErrors.Add(float64(len(result.Failed)))
	return result
}

// Close closes every subscriber and rejects further registrations
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true

	for id, s := range r.subscribers {
		if err := s.Close(); err != nil {
			r.logger.Debug("Error closing subscriber",
				zap.String("subscriber_id", id),
				zap.Error(err),
			)
		}
	}
	r.subscribers = make(map[string]Subscriber)
	r.metrics.Subscribers.Set(0)
}
