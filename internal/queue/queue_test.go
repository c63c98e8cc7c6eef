package queue

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestQueue_FIFO(t *testing.T) {
	q := New[int](4)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if err := q.Enqueue(ctx, i); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 4; i++ {
		v, err := q.Dequeue(ctx)
		if err != nil || v != i {
			t.Fatalf("Esperaba %d, obtuvo %d (%v)", i, v, err)
		}
	}
}

func TestQueue_BackpressureNeverDrops(t *testing.T) {
	const capacity = 3
	q := New[int](capacity)
	ctx := context.Background()

	for i := 0; i < capacity; i++ {
		if err := q.Enqueue(ctx, i); err != nil {
			t.Fatal(err)
		}
	}
	if err := q.TryEnqueue(99); !errors.Is(err, ErrFull) {
		t.Fatalf("TryEnqueue deberia senalar backpressure, obtuvo %v", err)
	}

	// El elemento C+1 debe bloquear al emisor hasta que haya un Dequeue
	blocked := make(chan error, 1)
	go func() { blocked <- q.Enqueue(ctx, capacity) }()

	select {
	case err := <-blocked:
		t.Fatalf("Enqueue no bloqueo con la cola llena (err=%v)", err)
	case <-time.After(50 * time.Millisecond):
	}

	if v, _ := q.Dequeue(ctx); v != 0 {
		t.Fatalf("Esperaba 0, obtuvo %d", v)
	}
	select {
	case err := <-blocked:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("Enqueue siguio bloqueado despues del Dequeue")
	}

	// Ningún elemento se perdió y el orden se mantiene
	for want := 1; want <= capacity; want++ {
		v, err := q.Dequeue(ctx)
		if err != nil || v != want {
			t.Fatalf("Esperaba %d, obtuvo %d (%v)", want, v, err)
		}
	}
}

func TestQueue_DequeueBlocksWhenEmpty(t *testing.T) {
	q := New[string](1)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := q.Dequeue(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Dequeue deberia bloquear hasta el timeout, obtuvo %v", err)
	}
}

func TestQueue_EnqueueCancelled(t *testing.T) {
	q := New[int](1)
	_ = q.TryEnqueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := q.Enqueue(ctx, 2); !errors.Is(err, context.Canceled) {
		t.Fatalf("Esperaba context.Canceled, obtuvo %v", err)
	}
}

func TestQueue_Discard(t *testing.T) {
	q := New[int](5)
	ctx := context.Background()
	_ = q.Enqueue(ctx, 1)
	_ = q.Enqueue(ctx, 2)

	if n := q.Discard(); n != 2 {
		t.Errorf("Discard deberia tirar 2 elementos, tiro %d", n)
	}
	if !q.Closed() {
		t.Error("La cola deberia estar cerrada")
	}
	if err := q.Enqueue(ctx, 3); !errors.Is(err, ErrClosed) {
		t.Errorf("Enqueue despues de Discard: %v", err)
	}
	if _, err := q.Dequeue(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Dequeue despues de Discard: %v", err)
	}
	// Discard es idempotente
	q.Discard()
}

func TestQueue_DiscardUnblocksProducer(t *testing.T) {
	q := New[int](1)
	_ = q.TryEnqueue(1)
	res := make(chan error, 1)
	go func() { res <- q.Enqueue(context.Background(), 2) }()
	time.Sleep(10 * time.Millisecond)
	q.Discard()
	select {
	case err := <-res:
		if !errors.Is(err, ErrClosed) && err != nil {
			t.Errorf("Error inesperado: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("El productor quedo bloqueado despues de Discard")
	}
}

func TestQueue_ZeroCapacityHandsOff(t *testing.T) {
	q := New[int](0)
	if err := q.TryEnqueue(1); !errors.Is(err, ErrFull) {
		t.Fatalf("Sin consumidor TryEnqueue deberia senalar backpressure, obtuvo %v", err)
	}
	got := make(chan int, 1)
	go func() {
		v, _ := q.Dequeue(context.Background())
		got <- v
	}()
	if err := q.Enqueue(context.Background(), 7); err != nil {
		t.Fatalf("Error inesperado: %v", err)
	}
	if v := <-got; v != 7 {
		t.Errorf("Esperaba 7, obtuvo %d", v)
	}
}
