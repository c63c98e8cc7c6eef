package acker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"mini-storm/internal/common"
)

type recorder struct {
	mu        sync.Mutex
	completed map[uint64]int
	failed    map[uint64]error
}

func newRecorder() *recorder {
	return &recorder{completed: make(map[uint64]int), failed: make(map[uint64]error)}
}

func (r *recorder) Completed(root uint64, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed[root]++
}

func (r *recorder) Failed(root uint64, _ int, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[root] = cause
}

func (r *recorder) completions(root uint64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed[root]
}

func TestAcker_CompletesOnlyWhenTreeIsAcked(t *testing.T) {
	rec := newRecorder()
	a := New(time.Minute, rec, nil)

	// Árbol: raíz -> r1 (spout) -> c1, c2 (bolt) -> hojas
	root, r1, c1, c2 := uint64(1), uint64(100), uint64(200), uint64(300)
	a.Init(root, 0, r1)

	// Bolt procesa r1 emitiendo c1 y c2: un solo mensaje r1^c1^c2
	a.Update(root, r1^c1^c2)
	if rec.completions(root) != 0 {
		t.Fatal("La raiz no deberia completarse con hijos pendientes")
	}
	a.RecordAck(root, c1)
	if rec.completions(root) != 0 {
		t.Fatal("La raiz no deberia completarse con c2 pendiente")
	}
	a.RecordAck(root, c2)
	if rec.completions(root) != 1 {
		t.Fatalf("Esperaba 1 completado, obtuvo %d", rec.completions(root))
	}
	if a.Pending() != 0 {
		t.Errorf("La entrada deberia liberarse al completar")
	}

	// Acks tardíos o duplicados no generan un segundo completado
	a.RecordAck(root, c2)
	a.Update(root, 0)
	if rec.completions(root) != 1 {
		t.Errorf("Doble completado detectado: %d", rec.completions(root))
	}
}

func TestAcker_EmitAckPairsAnyOrder(t *testing.T) {
	rec := newRecorder()
	a := New(time.Minute, rec, nil)
	root := uint64(7)
	ids := []uint64{common.NewID(), common.NewID(), common.NewID(), common.NewID()}

	// El spout emite ids[0]; los demás se emiten y se confirman en paralelo
	a.Init(root, 0, ids[0]^ids[1]^ids[2]^ids[3])
	var wg sync.WaitGroup
	for i := len(ids) - 1; i >= 0; i-- {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			a.RecordAck(root, id)
		}(ids[i])
	}
	wg.Wait()
	if rec.completions(root) != 1 {
		t.Fatalf("Esperaba exactamente 1 completado, obtuvo %d", rec.completions(root))
	}
}

func TestAcker_NoDescendantsCompletesImmediately(t *testing.T) {
	rec := newRecorder()
	a := New(time.Minute, rec, nil)
	a.Init(9, 0, 0)
	if rec.completions(9) != 1 {
		t.Error("Una raiz sin descendientes deberia completarse en Init")
	}
}

func TestAcker_FailAndTimeout(t *testing.T) {
	rec := newRecorder()
	a := New(time.Second, rec, nil)
	base := time.Unix(1000, 0)
	a.now = func() time.Time { return base }

	a.Init(1, 0, 11)
	a.Init(2, 0, 22)
	a.Init(3, 0, 33)
	a.Update(3, 33) // completa antes del timeout

	a.Fail(1, nil)
	if !errors.Is(rec.failed[1], common.ErrProcessingFailed) {
		t.Errorf("Fail sin causa deberia usar ErrProcessingFailed, obtuvo %v", rec.failed[1])
	}

	if n := a.Sweep(base.Add(500 * time.Millisecond)); n != 0 {
		t.Errorf("Nada deberia expirar antes del timeout, expiraron %d", n)
	}
	if n := a.Sweep(base.Add(2 * time.Second)); n != 1 {
		t.Errorf("Esperaba 1 raiz expirada, obtuvo %d", n)
	}
	if !errors.Is(rec.failed[2], common.ErrAckTimeout) {
		t.Errorf("La raiz 2 deberia fallar por timeout, obtuvo %v", rec.failed[2])
	}
	if _, failed := rec.failed[3]; failed {
		t.Error("Una raiz completa no debe fallar por timeout")
	}
	if rec.completions(3) != 1 {
		t.Error("La raiz 3 deberia estar completa")
	}
	if a.Pending() != 0 {
		t.Errorf("No deberian quedar raices pendientes: %d", a.Pending())
	}
}

func TestAcker_Forget(t *testing.T) {
	rec := newRecorder()
	a := New(time.Minute, rec, nil)
	a.Init(1, 5, 10)
	a.Init(2, 6, 20)
	if n := a.Forget(5); n != 1 {
		t.Errorf("Forget deberia borrar 1 raiz, borro %d", n)
	}
	a.Update(1, 10)
	if rec.completions(1) != 0 {
		t.Error("Una raiz olvidada no debe notificar")
	}
	if a.Pending() != 1 {
		t.Errorf("Deberia quedar 1 raiz, quedan %d", a.Pending())
	}
}
