package distributor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BatFabn/WarehouseContainerManager/internal/alert"
	"github.com/BatFabn/WarehouseContainerManager/internal/config"
	"github.com/BatFabn/WarehouseContainerManager/internal/fusion"
	"github.com/BatFabn/WarehouseContainerManager/internal/metrics"
	"github.com/BatFabn/WarehouseContainerManager/internal/models"
	"github.com/BatFabn/WarehouseContainerManager/internal/rabbitmq"
	"github.com/BatFabn/WarehouseContainerManager/internal/registry"
	"github.com/BatFabn/WarehouseContainerManager/internal/retention"
	"github.com/BatFabn/WarehouseContainerManager/internal/store"
)

type fakeBroker struct {
	mu        sync.Mutex
	streams   []chan amqp.Delivery
	qos       int
	cancelled bool
}

func (b *fakeBroker) Topology() rabbitmq.Topology { return rabbitmq.NewTopology("sensor_data") }

func (b *fakeBroker) SetQoS(prefetchCount int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.qos = prefetchCount
	return nil
}

func (b *fakeBroker) ConsumeMessages(consumer string) (<-chan amqp.Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan amqp.Delivery, 10)
	b.streams = append(b.streams, ch)
	return ch, nil
}

func (b *fakeBroker) CancelConsumer(consumer string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelled = true
	return nil
}

func (b *fakeBroker) stream(i int) chan amqp.Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streams[i]
}

func (b *fakeBroker) streamCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.streams)
}

type fakeAck struct {
	acks  chan uint64
	nacks chan uint64
}

func newFakeAck() *fakeAck {
	return &fakeAck{acks: make(chan uint64, 10), nacks: make(chan uint64, 10)}
}

func (a *fakeAck) Ack(tag uint64, multiple bool) error {
	a.acks <- tag
	return nil
}

func (a *fakeAck) Nack(tag uint64, multiple, requeue bool) error {
	a.nacks <- tag
	return nil
}

func (a *fakeAck) Reject(tag uint64, requeue bool) error { return nil }

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, a alert.Alert) error {
	return m.Called(ctx, a).Error(0)
}

type fakeSubscriber struct {
	id      string
	mu      sync.Mutex
	got     []string
	sendErr error
}

func (f *fakeSubscriber) ID() string { return f.id }

func (f *fakeSubscriber) Send(ctx context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.got = append(f.got, string(payload))
	return nil
}

func (f *fakeSubscriber) Close() error { return nil }

func (f *fakeSubscriber) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.got...)
}

type persisterFunc func(ctx context.Context, r *models.SensorRecord) (retention.Result, error)

func (f persisterFunc) Persist(ctx context.Context, r *models.SensorRecord) (retention.Result, error) {
	return f(ctx, r)
}

type fixture struct {
	d        *Distributor
	broker   *fakeBroker
	mem      *store.MemoryStore
	registry *registry.Registry
	notifier *mockNotifier
	metrics  *metrics.Metrics
}

func testConfig() *config.DistributorConfig {
	return &config.DistributorConfig{
		PrefetchCount:          10,
		MaxInFlight:            4,
		DrainTimeout:           time.Second,
		StoreTimeout:           time.Second,
		SubscriberWriteTimeout: time.Second,
	}
}

func newFixture(t *testing.T, cfg *config.DistributorConfig, persister Persister) *fixture {
	t.Helper()
	m := metrics.NewUnregistered()
	mem := store.NewMemoryStore()
	if persister == nil {
		enforcer, err := retention.NewEnforcer(mem, 100, 1000, zap.NewNop())
		require.NoError(t, err)
		persister = enforcer
	}
	reg := registry.New(zap.NewNop(), m)
	notifier := &mockNotifier{}
	broker := &fakeBroker{}

	d := NewDistributor(cfg, broker, persister, reg, notifier, m, zap.NewNop())
	d.retryDelay = func(int) time.Duration { return time.Millisecond }

	return &fixture{d: d, broker: broker, mem: mem, registry: reg, notifier: notifier, metrics: m}
}

func messageBody(t *testing.T, status fusion.Status) []byte {
	t.Helper()
	temp := 21.5
	body, err := json.Marshal(models.SensorMessage{
		ContainerID: "c1",
		RackID:      "r1",
		Email:       "owner@example.com",
		Timestamp:   time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC),
		Temperature: &temp,
		Fruit:       fusion.Apple,
		Status:      status,
	})
	require.NoError(t, err)
	return body
}

func TestHandleMessageRejectsInvalidPayloads(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	sub := &fakeSubscriber{id: "a"}
	require.NoError(t, f.registry.Add(sub))

	for name, body := range map[string]string{
		"not json":       `{"container_id":`,
		"no container":   `{"rack_id":"r1","timestamp":"2025-03-01T08:00:00Z","status":"Fresh"}`,
		"no rack":        `{"container_id":"c1","timestamp":"2025-03-01T08:00:00Z","status":"Fresh"}`,
		"unknown status": `{"container_id":"c1","rack_id":"r1","timestamp":"2025-03-01T08:00:00Z","status":"Rotten"}`,
	} {
		err := f.d.HandleMessage(context.Background(), []byte(body))
		assert.ErrorIs(t, err, ErrParse, name)
	}

	assert.Empty(t, sub.received())
	assert.Empty(t, f.mem.Records())
}

func TestHandleMessageDistributesSpoiledReading(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	subs := []*fakeSubscriber{{id: "a"}, {id: "b", sendErr: errors.New("closed")}, {id: "c"}}
	for _, s := range subs {
		require.NoError(t, f.registry.Add(s))
	}
	f.notifier.On("Notify", mock.Anything, mock.MatchedBy(func(a alert.Alert) bool {
		return a.Recipient == "owner@example.com" &&
			a.ContainerID == "c1" &&
			a.RackID == "r1" &&
			a.Produce == fusion.Apple &&
			a.Status == fusion.StatusSpoiled
	})).Return(nil).Once()

	body := messageBody(t, fusion.StatusSpoiled)
	require.NoError(t, f.d.HandleMessage(context.Background(), body))
	f.d.tasks.Wait()

	assert.Equal(t, []string{string(body)}, subs[0].received())
	assert.Equal(t, []string{string(body)}, subs[2].received())
	assert.Equal(t, 2, f.registry.Len())

	records := f.mem.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "Spoiled", records[0].Status)
	assert.Equal(t, `"Missing image"`, records[0].Image)

	f.notifier.AssertExpectations(t)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Distributed))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Persisted))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Alerts.WithLabelValues("sent")))
}

func TestHandleMessageFreshReadingRaisesNoAlert(t *testing.T) {
	f := newFixture(t, testConfig(), nil)

	for _, status := range []fusion.Status{fusion.StatusFresh, fusion.StatusUnknown, fusion.StatusMissingImageAndMetrics} {
		require.NoError(t, f.d.HandleMessage(context.Background(), messageBody(t, status)))
	}
	f.d.tasks.Wait()

	f.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
	assert.Len(t, f.mem.Records(), 3)
}

func TestHandleMessageEarlySpoilageAlertFailureIsLoggedOnly(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	f.notifier.On("Notify", mock.Anything, mock.Anything).Return(alert.ErrDispatch)

	require.NoError(t, f.d.HandleMessage(context.Background(), messageBody(t, fusion.StatusEarlySpoilage)))
	f.d.tasks.Wait()

	f.notifier.AssertNumberOfCalls(t, "Notify", 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Alerts.WithLabelValues("failed")))
	assert.Len(t, f.mem.Records(), 1)
}

func TestPersistFailureIsCounted(t *testing.T) {
	failing := persisterFunc(func(ctx context.Context, r *models.SensorRecord) (retention.Result, error) {
		return retention.Result{}, store.ErrStore
	})
	f := newFixture(t, testConfig(), failing)
	sub := &fakeSubscriber{id: "a"}
	require.NoError(t, f.registry.Add(sub))

	require.NoError(t, f.d.HandleMessage(context.Background(), messageBody(t, fusion.StatusFresh)))
	f.d.tasks.Wait()

	assert.Len(t, sub.received(), 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.PersistFailures))
	assert.Zero(t, testutil.ToFloat64(f.metrics.Persisted))
}

func TestPanickingTaskIsRecovered(t *testing.T) {
	panicking := persisterFunc(func(ctx context.Context, r *models.SensorRecord) (retention.Result, error) {
		panic("driver bug")
	})
	f := newFixture(t, testConfig(), panicking)

	assert.NotPanics(t, func() {
		require.NoError(t, f.d.HandleMessage(context.Background(), messageBody(t, fusion.StatusFresh)))
		f.d.tasks.Wait()
	})
	assert.Zero(t, testutil.ToFloat64(f.metrics.InFlight))
}

func TestBackgroundTasksAreBounded(t *testing.T) {
	cfg := testConfig()
	cfg.MaxInFlight = 1
	release := make(chan struct{})
	blocking := persisterFunc(func(ctx context.Context, r *models.SensorRecord) (retention.Result, error) {
		<-release
		return retention.Result{Inserted: true}, nil
	})
	f := newFixture(t, cfg, blocking)
	sub := &fakeSubscriber{id: "a"}
	require.NoError(t, f.registry.Add(sub))

	require.NoError(t, f.d.HandleMessage(context.Background(), messageBody(t, fusion.StatusFresh)))

	second := make(chan error, 1)
	go func() {
		second <- f.d.HandleMessage(context.Background(), messageBody(t, fusion.StatusFresh))
	}()

	// Delivery does not wait for the persistence slot.
	assert.Eventually(t, func() bool { return len(sub.received()) == 2 }, time.Second, 5*time.Millisecond)

	select {
	case <-second:
		t.Fatal("second message was handled while the only slot was taken")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-second:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("second message never handled")
	}
	f.d.tasks.Wait()
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.Persisted))
}

func TestStartConsumesAcksAndDiscards(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	require.NoError(t, f.d.Start())
	assert.Error(t, f.d.Start())
	assert.Equal(t, 10, f.broker.qos)

	ack := newFakeAck()
	f.broker.stream(0) <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: messageBody(t, fusion.StatusFresh)}
	f.broker.stream(0) <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 2, Body: []byte("garbage")}

	select {
	case tag := <-ack.acks:
		assert.Equal(t, uint64(1), tag)
	case <-time.After(time.Second):
		t.Fatal("message was not acked")
	}
	select {
	case tag := <-ack.nacks:
		assert.Equal(t, uint64(2), tag)
	case <-time.After(time.Second):
		t.Fatal("garbage was not nacked")
	}

	require.NoError(t, f.d.Stop())
	assert.True(t, f.broker.cancelled)
	assert.Len(t, f.mem.Records(), 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Discarded))
}

func TestResubscribesWhenChannelCloses(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	require.NoError(t, f.d.Start())

	close(f.broker.stream(0))
	require.Eventually(t, func() bool { return f.broker.streamCount() == 2 }, time.Second, 5*time.Millisecond)

	ack := newFakeAck()
	f.broker.stream(1) <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 9, Body: messageBody(t, fusion.StatusFresh)}
	select {
	case tag := <-ack.acks:
		assert.Equal(t, uint64(9), tag)
	case <-time.After(time.Second):
		t.Fatal("message on new stream was not acked")
	}

	require.NoError(t, f.d.Stop())
}

func TestStopGivesUpAfterDrainTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.DrainTimeout = 20 * time.Millisecond
	cfg.StoreTimeout = time.Minute
	stuck := persisterFunc(func(ctx context.Context, r *models.SensorRecord) (retention.Result, error) {
		<-ctx.Done()
		return retention.Result{}, ctx.Err()
	})
	f := newFixture(t, cfg, stuck)
	require.NoError(t, f.d.Start())

	require.NoError(t, f.d.HandleMessage(context.Background(), messageBody(t, fusion.StatusFresh)))

	assert.Error(t, f.d.Stop())
	f.d.tasks.Wait()
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.PersistFailures))
}

func TestStopWithoutStart(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	assert.NoError(t, f.d.Stop())
	assert.False(t, f.broker.cancelled)
}

type rawRecorder struct {
	bodies [][]byte
	err    error
}

func (r *rawRecorder) Publish(ctx context.Context, body []byte) error {
	r.bodies = append(r.bodies, body)
	return r.err
}

func TestChannelPublisher(t *testing.T) {
	raw := &rawRecorder{}
	p := NewChannelPublisher(raw)

	msg := &models.SensorMessage{
		ContainerID: "c1",
		RackID:      "r1",
		Timestamp:   time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC),
		Fruit:       fusion.UnknownProduce,
		Status:      fusion.StatusMissingImageAndMetrics,
	}
	require.NoError(t, p.Publish(context.Background(), msg))
	require.Len(t, raw.bodies, 1)

	parsed, err := models.ParseSensorMessage(raw.bodies[0])
	require.NoError(t, err)
	assert.Equal(t, msg.Status, parsed.Status)

	raw.err = errors.New("channel closed")
	assert.Error(t, p.Publish(context.Background(), msg))
}
