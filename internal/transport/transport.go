package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"mini-storm/internal/common"
)

// Inbound es el lado receptor de un worker.
// Deliver bloquea mientras la cola destino esté llena.
type Inbound interface {
	Deliver(ctx context.Context, d common.Delivery) error
	Ack(ctx context.Context, m common.AckMessage) error
}

// Transport envía registros y acks a otros workers por dirección.
// Los fallos de red se devuelven envolviendo common.ErrWorkerUnreachable.
type Transport interface {
	Deliver(ctx context.Context, addr string, d common.Delivery) error
	Ack(ctx context.Context, addr string, m common.AckMessage) error
	Close() error
}

// RetryPolicy controla los reintentos de un envío remoto.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxElapsedTime  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, InitialInterval: 50 * time.Millisecond, MaxElapsedTime: 2 * time.Second}
}

// Retrying reintenta con backoff exponencial solo los errores de red.
// ErrStaleAssignment y cualquier otro error se devuelven sin reintentar.
type Retrying struct {
	Next   Transport
	Policy RetryPolicy
}

func NewRetrying(next Transport, policy RetryPolicy) *Retrying {
	return &Retrying{Next: next, Policy: policy}
}

func (r *Retrying) Deliver(ctx context.Context, addr string, d common.Delivery) error {
	return r.retry(ctx, func() error { return r.Next.Deliver(ctx, addr, d) })
}

func (r *Retrying) Ack(ctx context.Context, addr string, m common.AckMessage) error {
	return r.retry(ctx, func() error { return r.Next.Ack(ctx, addr, m) })
}

func (r *Retrying) Close() error { return r.Next.Close() }

func (r *Retrying) retry(ctx context.Context, op func() error) error {
	operation := func() error {
		err := op()
		if err != nil && !errors.Is(err, common.ErrWorkerUnreachable) {
			return backoff.Permanent(err)
		}
		return err
	}
	eb := backoff.NewExponentialBackOff()
	if r.Policy.InitialInterval > 0 {
		eb.InitialInterval = r.Policy.InitialInterval
	}
	if r.Policy.MaxElapsedTime > 0 {
		eb.MaxElapsedTime = r.Policy.MaxElapsedTime
	}
	b := backoff.WithContext(backoff.WithMaxRetries(eb, r.Policy.MaxRetries), ctx)
	return backoff.Retry(operation, b)
}

func unreachable(addr string, err error) error {
	return fmt.Errorf("%w: %s: %v", common.ErrWorkerUnreachable, addr, err)
}
