package transport

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"mini-storm/internal/common"
)

// fakeInbound guarda lo recibido y puede devolver un error fijo
type fakeInbound struct {
	mu         sync.Mutex
	deliveries []common.Delivery
	acks       []common.AckMessage
	err        error
}

func (f *fakeInbound) Deliver(_ context.Context, d common.Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.deliveries = append(f.deliveries, d)
	return nil
}

func (f *fakeInbound) Ack(_ context.Context, m common.AckMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, m)
	return nil
}

// flaky falla con ErrWorkerUnreachable las primeras n llamadas
type flaky struct {
	fails int
	calls int
	err   error
}

func (f *flaky) Deliver(context.Context, string, common.Delivery) error {
	f.calls++
	if f.calls <= f.fails {
		return f.err
	}
	return nil
}

func (f *flaky) Ack(context.Context, string, common.AckMessage) error { return nil }
func (f *flaky) Close() error                                        { return nil }

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestLocalNetwork(t *testing.T) {
	net := NewLocalNetwork()
	in := &fakeInbound{}
	net.Register("w1", in)
	ctx := context.Background()

	if err := net.Deliver(ctx, "w1", common.Delivery{TargetTask: 3}); err != nil {
		t.Fatalf("Error inesperado: %v", err)
	}
	if len(in.deliveries) != 1 || in.deliveries[0].TargetTask != 3 {
		t.Errorf("Entrega inesperada: %+v", in.deliveries)
	}

	net.Unregister("w1")
	err := net.Ack(ctx, "w1", common.AckMessage{Root: 1})
	if !errors.Is(err, common.ErrWorkerUnreachable) {
		t.Errorf("Esperaba ErrWorkerUnreachable, obtuvo %v", err)
	}
}

func TestGRPC_RoundTrip(t *testing.T) {
	in := &fakeInbound{}
	srv := NewGRPCServer(in, quietLogger())
	if err := srv.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("No se pudo iniciar el servidor: %v", err)
	}
	defer srv.Stop()

	client := NewGRPCClient()
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tuple := common.Tuple{
		ID:      common.NewID(),
		Anchors: []common.Anchor{{Root: 99, SpoutTask: 0}},
		Fields:  []string{"word", "count"},
		Values:  []any{"a", int64(2)},
	}
	if err := client.Deliver(ctx, srv.Addr(), common.Delivery{TopologyID: "t", Epoch: 4, TargetTask: 1, Tuple: tuple}); err != nil {
		t.Fatalf("Deliver fallo: %v", err)
	}
	if err := client.Ack(ctx, srv.Addr(), common.AckMessage{TopologyID: "t", Root: 99, Xor: 5}); err != nil {
		t.Fatalf("Ack fallo: %v", err)
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.deliveries) != 1 {
		t.Fatalf("Esperaba 1 entrega, obtuvo %d", len(in.deliveries))
	}
	got := in.deliveries[0]
	if got.Epoch != 4 || got.Tuple.ID != tuple.ID || got.Tuple.Anchors[0].Root != 99 {
		t.Errorf("Metadatos perdidos: %+v", got)
	}
	if n, err := got.Tuple.Int(1); err != nil || n != 2 {
		t.Errorf("Valor entero perdido: %d %v", n, err)
	}
	if len(in.acks) != 1 || in.acks[0].Xor != 5 {
		t.Errorf("Ack inesperado: %+v", in.acks)
	}
}

func TestGRPC_ErrorMapping(t *testing.T) {
	in := &fakeInbound{err: common.ErrStaleAssignment}
	srv := NewGRPCServer(in, quietLogger())
	if err := srv.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("No se pudo iniciar el servidor: %v", err)
	}
	addr := srv.Addr()
	client := NewGRPCClient()
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("StaleAssignment", func(t *testing.T) {
		err := client.Deliver(ctx, addr, common.Delivery{})
		if !errors.Is(err, common.ErrStaleAssignment) {
			t.Errorf("Esperaba ErrStaleAssignment, obtuvo %v", err)
		}
	})

	t.Run("ServerDown", func(t *testing.T) {
		srv.Stop()
		short, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		err := client.Deliver(short, addr, common.Delivery{})
		if !errors.Is(err, common.ErrWorkerUnreachable) {
			t.Errorf("Esperaba ErrWorkerUnreachable, obtuvo %v", err)
		}
	})
}

func TestRetrying(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, InitialInterval: time.Millisecond, MaxElapsedTime: time.Second}

	tests := []struct {
		name      string
		next      *flaky
		wantErr   error
		wantCalls int
	}{
		{name: "RecoversAfterFailures", next: &flaky{fails: 2, err: common.ErrWorkerUnreachable}, wantCalls: 3},
		{name: "GivesUp", next: &flaky{fails: 10, err: common.ErrWorkerUnreachable}, wantErr: common.ErrWorkerUnreachable, wantCalls: 4},
		{name: "StaleNotRetried", next: &flaky{fails: 10, err: common.ErrStaleAssignment}, wantErr: common.ErrStaleAssignment, wantCalls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRetrying(tt.next, policy)
			err := r.Deliver(context.Background(), "w", common.Delivery{})
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Error inesperado: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Esperaba %v, obtuvo %v", tt.wantErr, err)
			}
			if tt.next.calls != tt.wantCalls {
				t.Errorf("Esperaba %d llamadas, obtuvo %d", tt.wantCalls, tt.next.calls)
			}
		})
	}
}
