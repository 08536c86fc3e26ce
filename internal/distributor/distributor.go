package distributor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/BatFabn/WarehouseContainerManager/internal/alert"
	"github.com/BatFabn/WarehouseContainerManager/internal/config"
	"github.com/BatFabn/WarehouseContainerManager/internal/consumer"
	"github.com/BatFabn/WarehouseContainerManager/internal/metrics"
	"github.com/BatFabn/WarehouseContainerManager/internal/models"
	"github.com/BatFabn/WarehouseContainerManager/internal/rabbitmq"
	"github.com/BatFabn/WarehouseContainerManager/internal/registry"
	"github.com/BatFabn/WarehouseContainerManager/internal/retention"
)

// ErrParse marks channel payloads that are not valid sensor messages
var ErrParse = errors.New("invalid sensor message")

// Broker is the consuming side of the event channel
type Broker interface {
	Topology() rabbitmq.Topology
	SetQoS(prefetchCount int) error
	ConsumeMessages(consumer string) (<-chan amqp.Delivery, error)
	CancelConsumer(consumer string) error
}

// Persister stores a record under the retention policy
type Persister interface {
	Persist(ctx context.Context, record *models.SensorRecord) (retention.Result, error)
}

// Broadcaster fans a payload out to the live subscribers
type Broadcaster interface {
	Broadcast(ctx context.Context, payload []byte) registry.BroadcastResult
}

// Distributor consumes the event channel and, per message, persists it,
// pushes it to every subscriber and raises spoilage alerts
type Distributor struct {
	cfg         *config.DistributorConfig
	broker      Broker
	persister   Persister
	subscribers Broadcaster
	notifier    alert.Notifier
	metrics     *metrics.Metrics
	logger      *zap.Logger

	ctx         context.Context
	cancel      context.CancelFunc
	taskCtx     context.Context
	taskCancel  context.CancelFunc
	inflight    *semaphore.Weighted
	tasks       sync.WaitGroup
	done        chan struct{}
	consumerTag string
	started     bool
	retryDelay  func(attempt int) time.Duration
}

// NewDistributor creates a distributor with its dependencies
func NewDistributor(
	cfg *config.DistributorConfig,
	broker Broker,
	persister Persister,
	subscribers Broadcaster,
	notifier alert.Notifier,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Distributor {
	ctx, cancel := context.WithCancel(context.Background())
	taskCtx, taskCancel := context.WithCancel(context.Background())

	maxInFlight := cfg.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 64
	}

	return &Distributor{
		cfg:         cfg,
		broker:      broker,
		persister:   persister,
		subscribers: subscribers,
		notifier:    notifier,
		metrics:     m,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		taskCtx:     taskCtx,
		taskCancel:  taskCancel,
		inflight:    semaphore.NewWeighted(maxInFlight),
		done:        make(chan struct{}),
		consumerTag: fmt.Sprintf("spoilage-distributor-%d", time.Now().Unix()),
		retryDelay:  rabbitmq.ReconnectDelay,
	}
}

// Start subscribes to the event channel and starts the processing loop
func (d *Distributor) Start() error {
	if d.started {
		return fmt.Errorf("distributor already started")
	}

	messages, err := d.subscribe()
	if err != nil {
		return err
	}

	d.started = true
	go d.processMessages(messages)

	d.logger.Info("Distributor started and consuming messages",
		zap.String("queue", d.broker.Topology().Queue),
		zap.String("consumer_tag", d.consumerTag),
		zap.Int64("max_in_flight", d.cfg.MaxInFlight),
	)
	return nil
}

func (d *Distributor) subscribe() (<-chan amqp.Delivery, error) {
	if err := d.broker.SetQoS(d.cfg.PrefetchCount); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	messages, err := d.broker.ConsumeMessages(d.consumerTag)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming from queue %s: %w", d.broker.Topology().Queue, err)
	}
	return messages, nil
}

// resubscribe waits for the connection to recover and registers the
// consumer again. It returns nil once the distributor is stopping.
func (d *Distributor) resubscribe() <-chan amqp.Delivery {
	for attempt := 1; ; attempt++ {
		select {
		case <-d.ctx.Done():
			return nil
		case <-time.After(d.retryDelay(attempt)):
		}

		messages, err := d.subscribe()
		if err == nil {
			d.logger.Info("Resumed consuming after channel close",
				zap.Int("attempt", attempt),
			)
			return messages
		}
		d.logger.Warn("Failed to restart consuming, retrying...",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}

// Stop cancels the loop and waits, at most DrainTimeout, for in-flight
// persistence and alert tasks
func (d *Distributor) Stop() error {
	d.logger.Info("Stopping distributor",
		zap.String("consumer_tag", d.consumerTag),
	)
	d.cancel()

	if !d.started {
		d.taskCancel()
		return nil
	}

	if err := d.broker.CancelConsumer(d.consumerTag); err != nil {
		d.logger.Error("Failed to cancel consumer",
			zap.String("consumer_tag", d.consumerTag),
			zap.Error(err),
		)
	}
	<-d.done

	drained := make(chan struct{})
	go func() {
		d.tasks.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-time.After(d.cfg.DrainTimeout):
		err = fmt.Errorf("in-flight tasks still running after %s", d.cfg.DrainTimeout)
		d.logger.Warn("Abandoning in-flight tasks", zap.Error(err))
	}
	d.taskCancel()

	d.logger.Info("Distributor stopped")
	return err
}

func (d *Distributor) processMessages(messages <-chan amqp.Delivery) {
	defer close(d.done)
	queue := d.broker.Topology().Queue

	for {
		select {
		case <-d.ctx.Done():
			d.logger.Info("Distributor context cancelled, stopping message processing")
			return
		case msg, ok := <-messages:
			if !ok {
				d.logger.Warn("Message channel closed, waiting for reconnection...",
					zap.String("queue", queue),
				)
				if messages = d.resubscribe(); messages == nil {
					return
				}
				continue
			}
			if err := consumer.ProcessMessage(d.ctx, d.logger, queue, msg, d); err != nil {
				d.metrics.Discarded.Inc()
			}
		}
	}
}

// HandleMessage implements consumer.MessageHandler. Only a parse failure is
// returned; persistence and alert failures are logged by their tasks.
func (d *Distributor) HandleMessage(ctx context.Context, body []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Recovered panic while handling message",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			err = fmt.Errorf("panic while handling message: %v", r)
		}
	}()

	msg, err := models.ParseSensorMessage(body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrParse, err)
	}
	record, err := models.NewSensorRecord(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrParse, err)
	}

	d.metrics.Distributed.Inc()
	d.logger.Debug("Distributing sensor message",
		zap.String("key", msg.Key().String()),
		zap.String("status", string(msg.Status)),
	)

	// Delivery never waits for a background task slot.
	d.subscribers.Broadcast(ctx, body)

	d.schedule(ctx, "persist", func(ctx context.Context) {
		d.persist(ctx, record)
	})

	if msg.Status.IsSpoilage() {
		d.schedule(ctx, "alert", func(ctx context.Context) {
			d.alert(ctx, msg)
		})
	}

	return nil
}

// schedule runs task in the background once an in-flight slot is free.
// It blocks while every slot is taken.
func (d *Distributor) schedule(ctx context.Context, name string, task func(context.Context)) {
	if err := d.inflight.Acquire(ctx, 1); err != nil {
		d.logger.Warn("Dropping background task, distributor stopping",
			zap.String("task", name),
			zap.Error(err),
		)
		return
	}

	d.tasks.Add(1)
	d.metrics.InFlight.Inc()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("Recovered panic in background task",
					zap.String("task", name),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)
			}
			d.metrics.InFlight.Dec()
			d.inflight.Release(1)
			d.tasks.Done()
		}()
		task(d.taskCtx)
	}()
}

func (d *Distributor) persist(ctx context.Context, record *models.SensorRecord) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.StoreTimeout)
	defer cancel()

	start := time.Now()
	res, err := d.persister.Persist(ctx, record)
	d.metrics.PersistLatency.Observe(time.Since(start).Seconds())

	if res.Inserted {
		d.metrics.Persisted.Inc()
	}
	if res.Evicted > 0 {
		d.metrics.Evicted.Add(float64(res.Evicted))
	}
	if res.Overflow {
		d.metrics.Overflowed.Inc()
	}
	if err != nil {
		d.metrics.PersistFailures.Inc()
		d.logger.Error("Failed to persist sensor record",
			zap.String("key", record.Key().String()),
			zap.Time("timestamp", record.Timestamp),
			zap.Bool("inserted", res.Inserted),
			zap.Error(err),
		)
	}
}

func (d *Distributor) alert(ctx context.Context, msg *models.SensorMessage) {
	a := alert.Alert{
		Recipient:   msg.Email,
		ContainerID: msg.ContainerID,
		RackID:      msg.RackID,
		Produce:     msg.Fruit,
		Status:      msg.Status,
		Timestamp:   msg.Timestamp,
	}

	if err := d.notifier.Notify(ctx, a); err != nil {
		d.metrics.Alerts.WithLabelValues("failed").Inc()
		d.logger.Error("Failed to dispatch spoilage alert",
			zap.String("key", msg.Key().String()),
			zap.String("status", string(msg.Status)),
			zap.Error(err),
		)
		return
	}
	d.metrics.Alerts.WithLabelValues("sent").Inc()
}
