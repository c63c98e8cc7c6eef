package queue

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrFull es la señal de backpressure de TryEnqueue.
	ErrFull = errors.New("queue full")
	// ErrClosed se devuelve después de Discard.
	ErrClosed = errors.New("queue closed")
)

// Queue es un FIFO acotado entre dos tareas. Nunca descarta en silencio:
// Enqueue bloquea mientras la cola está llena.
type Queue[T any] struct {
	items chan T
	done  chan struct{}
	once  sync.Once
}

// New crea una cola con lugar para capacity elementos. Con capacity 0 cada
// Enqueue espera a un Dequeue.
func New[T any](capacity int) *Queue[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue[T]{
		items: make(chan T, capacity),
		done:  make(chan struct{}),
	}
}

// Enqueue bloquea hasta que haya lugar, se cancele ctx o se descarte la cola.
func (q *Queue[T]) Enqueue(ctx context.Context, v T) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.items <- v:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryEnqueue no bloquea; devuelve ErrFull si no hay lugar.
func (q *Queue[T]) TryEnqueue(v T) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.items <- v:
		return nil
	default:
		return ErrFull
	}
}

// Dequeue bloquea mientras la cola está vacía.
func (q *Queue[T]) Dequeue(ctx context.Context) (T, error) {
	var zero T
	select {
	case <-q.done:
		return zero, ErrClosed
	default:
	}
	select {
	case v := <-q.items:
		return v, nil
	case <-q.done:
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Discard cierra la cola y tira lo que tenga. Los registros descartados
// se recuperan por replay de sus raíces, no drenando la cola.
func (q *Queue[T]) Discard() int {
	dropped := 0
	q.once.Do(func() { close(q.done) })
	for {
		select {
		case <-q.items:
			dropped++
		default:
			return dropped
		}
	}
}

func (q *Queue[T]) Closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

func (q *Queue[T]) Len() int { return len(q.items) }

func (q *Queue[T]) Cap() int { return cap(q.items) }
