package kafka

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/DRSN-tech/image-gallery/internal/domain"
	"github.com/DRSN-tech/image-gallery/internal/metrics"
	"github.com/DRSN-tech/image-gallery/internal/repository/pgdb"
	"github.com/DRSN-tech/image-gallery/internal/usecase"
	"github.com/DRSN-tech/image-gallery/pkg/e"
	"github.com/DRSN-tech/image-gallery/pkg/jitter"
	"github.com/DRSN-tech/image-gallery/pkg/logger"
	"github.com/jackc/pgx/v5"
)

const (
	batchSize       = 10
	publishAttempts = 3
	// staleAfter через сколько событие в processing считается брошенным упавшим воркером
	staleAfter = 5 * time.Minute
	notifyWait = 30 * time.Second
)

type OutboxWorker struct {
	repo     usecase.OutboxRepository
	logger   logger.Logger
	producer usecase.MessageProducer
	stop     chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	dial     func(ctx context.Context) (notificationConn, error)
	backoff  time.Duration

	reconnectDelay time.Duration
	retryDelay     time.Duration
}

func NewOutboxWorker(
	repo usecase.OutboxRepository,
	logger logger.Logger,
	producer usecase.MessageProducer,
	dbConnStr string,
) *OutboxWorker {
	return &OutboxWorker{
		repo:     repo,
		logger:   logger,
		producer: producer,
		stop:     make(chan struct{}),
		dial:     dialListen(dbConnStr),
		backoff:  200 * time.Millisecond,

		reconnectDelay: 2 * time.Second,
		retryDelay:     5 * time.Second,
	}
}

func (w *OutboxWorker) Start(ctx context.Context) {
	// отмена прерывает ожидание NOTIFY, не дожидаясь таймаута
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(2)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()

	// Запускаем слушатель уведомлений
	go func() {
		defer w.wg.Done()
		w.listenOutboxNotifications(ctx)
	}()
}

func (w *OutboxWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		if w.cancel != nil {
			w.cancel()
		}
	})
	w.wg.Wait()
}

func (w *OutboxWorker) run(ctx context.Context) {
	if n, err := w.repo.RequeueStale(ctx, staleAfter); err != nil {
		w.logger.Warnf("requeue stale events failed: %v", err)
	} else if n > 0 {
		w.logger.Infof("Requeued %d stale outbox events", n)
	}

	// Обрабатываем "остатки" при старте
	w.logger.Infof("Draining pending outbox events on startup...")
	if err := w.drain(ctx); err != nil {
		w.logger.Warnf("startup batch failed: %v", err)
		return
	}

	select {
	case <-ctx.Done():
		w.logger.Infof("Worker stopped by context cancellation")
	case <-w.stop:
	}
}

func (w *OutboxWorker) listenOutboxNotifications(ctx context.Context) {
	var conn notificationConn
	defer func() {
		if conn != nil {
			_ = conn.Close(context.Background())
		}
	}()

	reconnected := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		default:
		}

		// Пока соединения нет, ожидать уведомления не на чем
		if conn == nil {
			c, err := w.dial(ctx)
			if err != nil {
				w.logger.Warnf("LISTEN connect failed: %v", err)
				if !w.sleep(ctx, w.retryDelay) {
					return
				}
				continue
			}
			conn = c
			w.logger.Infof("Subscribed to '%s' channel", pgdb.OutboxChannel)

			// NOTIFY, пришедшие без соединения, потеряны: добираем очередь вручную
			if reconnected {
				if err := w.drain(ctx); err != nil {
					w.logger.Warnf("drain after reconnect failed: %v", err)
				}
			}
		}

		waitCtx, cancel := context.WithTimeout(ctx, notifyWait)
		channel, err := conn.WaitForNotification(waitCtx)
		cancel()

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				continue
			}
			w.logger.Warnf("Connection lost: %v. Reconnecting...", err)
			_ = conn.Close(ctx)
			conn = nil
			reconnected = true

			if !w.sleep(ctx, w.reconnectDelay) {
				return
			}
			continue
		}

		if channel == pgdb.OutboxChannel {
			w.logger.Debugf("Received outbox notification, draining outbox events")
			if err := w.drain(ctx); err != nil {
				w.logger.Warnf("Batch processing failed: %v", err)
			}
		}
	}
}

// notificationConn соединение, подписанное на канал outbox.
type notificationConn interface {
	// WaitForNotification возвращает имя канала пришедшего уведомления
	WaitForNotification(ctx context.Context) (string, error)
	Close(ctx context.Context) error
}

type pgNotificationConn struct {
	conn *pgx.Conn
}

func (c pgNotificationConn) WaitForNotification(ctx context.Context) (string, error) {
	notif, err := c.conn.WaitForNotification(ctx)
	if err != nil {
		return "", err
	}
	if notif == nil {
		return "", nil
	}

	return notif.Channel, nil
}

func (c pgNotificationConn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

// dialListen открывает отдельное соединение и подписывается на канал outbox.
// Соединение возвращается только при успехе.
func dialListen(connStr string) func(ctx context.Context) (notificationConn, error) {
	return func(ctx context.Context) (notificationConn, error) {
		conn, err := pgx.Connect(ctx, connStr)
		if err != nil {
			return nil, e.Wrap("failed to connect for LISTEN", err)
		}

		if _, err := conn.Exec(ctx, "LISTEN "+pgdb.OutboxChannel); err != nil {
			_ = conn.Close(ctx)
			return nil, e.Wrap("failed to LISTEN", err)
		}

		return pgNotificationConn{conn: conn}, nil
	}
}

// drain обрабатывает пачки, пока очередь не опустеет.
func (w *OutboxWorker) drain(ctx context.Context) error {
	for {
		hasMore, err := w.processBatch(ctx)
		if err != nil {
			return err
		}
		if !hasMore {
			return nil
		}
	}
}

func (w *OutboxWorker) processBatch(ctx context.Context) (bool, error) {
	events, err := w.repo.GetAndMarkAsProcessing(ctx, batchSize)
	if err != nil {
		return false, err
	}

	if len(events) == 0 {
		return false, nil
	}

	published := 0
	for _, event := range events {
		if err := w.processEvent(ctx, event); err != nil {
			// Событие остаётся в processing и вернётся в очередь через RequeueStale
			w.logger.Errorf(err, "publish event %s failed", event.EventID)
			metrics.OutboxFailed()
			continue
		}
		published++
		if err := w.repo.MarkAsProcessed(ctx, event.ID); err != nil {
			w.logger.Warnf("mark processed failed: %v", err)
		}
	}
	metrics.OutboxPublished(published)

	return published > 0, nil
}

// processEvent публикует событие, повторяя попытки при временных ошибках Kafka.
func (w *OutboxWorker) processEvent(ctx context.Context, event *domain.ImageEvent) error {
	err := jitter.Retry(ctx, publishAttempts, w.backoff, 4*w.backoff, func(ctx context.Context) error {
		err := w.producer.WriteRawMessage(ctx, usecase.NewWriteRawMessageReq(event))
		if err != nil && !isRetryableError(err) {
			return jitter.Permanent(err)
		}
		return err
	})
	if err != nil {
		if isRetryableError(err) {
			return e.Wrap("Temporary Kafka failure, will retry", err)
		}
		return e.Wrap("Permanent Kafka failure", err)
	}

	return nil
}

func (w *OutboxWorker) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-w.stop:
		return false
	case <-timer.C:
		return true
	}
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	retryablePhrases := []string{
		"connection refused",
		"i/o timeout",
		"network is unreachable",
		"broker not available",
		"connection reset",
		"broken pipe",
		"no such host",
	}
	for _, phrase := range retryablePhrases {
		if strings.Contains(errStr, phrase) {
			return true
		}
	}
	return false
}
