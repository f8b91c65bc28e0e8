package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/metrodocs/document-pipeline/internal/core/domain"
	"github.com/metrodocs/document-pipeline/internal/infrastructure/resilience"
)

const workersQueueGroup = "pipeline-workers"

// Queue routes job messages over per-kind subjects
// (<prefix>.upload, <prefix>.ocr, ...) so that a slow OCR delegate cannot
// block workers of any other kind.
type Queue struct {
	conn     *nats.Conn
	prefix   string
	executor *resilience.Executor
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func New(url, subjectPrefix string) (*Queue, error) {
	return NewWithOptions(url, subjectPrefix, Options{})
}

func NewWithOptions(url, subjectPrefix string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name("document-pipeline"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("nats reconnected: %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:     conn,
		prefix:   subjectPrefix,
		executor: options.ResilienceExecutor,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) subject(kind domain.JobType) string {
	return fmt.Sprintf("%s.%s", q.prefix, kind)
}

func (q *Queue) Publish(ctx context.Context, msg domain.JobMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal job message: %w", err)
	}
	subject := q.subject(msg.Type)

	call := func(_ context.Context) error {
		if err := q.conn.Publish(subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

// Subscribe consumes one kind's subject in the shared queue group and blocks
// until ctx is done, then drains. The handler receives the subscription
// context directly: consumers schedule work asynchronously and must keep
// running after the callback returns, so the dispatch path owns no
// per-message cancellation.
func (q *Queue) Subscribe(ctx context.Context, kind domain.JobType, handler func(context.Context, domain.JobMessage) error) error {
	sub, err := q.conn.QueueSubscribe(q.subject(kind), workersQueueGroup, func(natsMsg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}

		var msg domain.JobMessage
		if err := json.Unmarshal(natsMsg.Data, &msg); err != nil {
			log.Printf("drop malformed job message on %s: %v", natsMsg.Subject, err)
			return
		}

		if err := handler(ctx, msg); err != nil {
			log.Printf("worker handler error for job=%s doc=%s: %v", msg.JobID, msg.DocumentID, err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", kind, err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}
