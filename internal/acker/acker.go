package acker

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"mini-storm/internal/common"
)

// Listener recibe el resultado final de cada raíz. Se invoca una sola vez por raíz
// y puede llamarse desde cualquier goroutine.
type Listener interface {
	Completed(root uint64, spoutTask int)
	Failed(root uint64, spoutTask int, cause error)
}

type entry struct {
	checksum  atomic.Uint64
	spoutTask int
	created   time.Time
	done      atomic.Bool
}

// Acker es la arena raíz -> checksum. Las actualizaciones son XOR, conmutan,
// y se aplican con CAS sin tomar el lock de escritura.
type Acker struct {
	mu       sync.RWMutex
	entries  map[uint64]*entry
	timeout  time.Duration
	listener Listener
	now      func() time.Time
	logger   *log.Logger
}

func New(timeout time.Duration, listener Listener, logger *log.Logger) *Acker {
	if logger == nil {
		logger = log.Default()
	}
	return &Acker{
		entries:  make(map[uint64]*entry),
		timeout:  timeout,
		listener: listener,
		now:      time.Now,
		logger:   logger,
	}
}

// Init crea la entrada de una raíz con el XOR de los IDs que el spout ya ruteo.
// Una raíz sin descendientes (xor == 0) se completa en el acto.
func (a *Acker) Init(root uint64, spoutTask int, xor uint64) {
	e := &entry{spoutTask: spoutTask, created: a.now()}
	e.checksum.Store(xor)

	a.mu.Lock()
	if _, exists := a.entries[root]; exists {
		a.mu.Unlock()
		a.logger.Printf("[Acker] Raiz %d ya registrada, se ignora Init", root)
		return
	}
	a.entries[root] = e
	a.mu.Unlock()

	if xor == 0 {
		a.finish(root, e, nil)
	}
}

// RecordEmit registra un descendiente emitido.
func (a *Acker) RecordEmit(root, child uint64) { a.Update(root, child) }

// RecordAck registra un descendiente procesado.
func (a *Acker) RecordAck(root, child uint64) { a.Update(root, child) }

// Update aplica un XOR al checksum. Cuando vuelve a cero la raíz está completa.
// Las raíces desconocidas (ya completas o expiradas) se ignoran.
func (a *Acker) Update(root, xor uint64) {
	a.mu.RLock()
	e, ok := a.entries[root]
	a.mu.RUnlock()
	if !ok {
		return
	}
	for {
		old := e.checksum.Load()
		if e.checksum.CompareAndSwap(old, old^xor) {
			if old^xor == 0 {
				a.finish(root, e, nil)
			}
			return
		}
	}
}

// Fail marca la raíz como fallida de inmediato.
func (a *Acker) Fail(root uint64, cause error) {
	a.mu.RLock()
	e, ok := a.entries[root]
	a.mu.RUnlock()
	if !ok {
		return
	}
	if cause == nil {
		cause = common.ErrProcessingFailed
	}
	a.finish(root, e, cause)
}

// Sweep falla con ErrAckTimeout las raíces creadas antes de now - timeout.
// Devuelve cuántas expiraron.
func (a *Acker) Sweep(now time.Time) int {
	var expired []uint64
	a.mu.RLock()
	for root, e := range a.entries {
		if now.Sub(e.created) >= a.timeout {
			expired = append(expired, root)
		}
	}
	a.mu.RUnlock()

	n := 0
	for _, root := range expired {
		a.mu.RLock()
		e, ok := a.entries[root]
		a.mu.RUnlock()
		if ok && a.finish(root, e, common.ErrAckTimeout) {
			n++
		}
	}
	return n
}

// Pending es la cantidad de raíces en vuelo.
func (a *Acker) Pending() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}

// Forget elimina las raíces de un spout sin notificar (tarea reasignada a otro worker).
func (a *Acker) Forget(spoutTask int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for root, e := range a.entries {
		if e.spoutTask == spoutTask && e.done.CompareAndSwap(false, true) {
			delete(a.entries, root)
			n++
		}
	}
	return n
}

// finish garantiza una sola notificación por raíz y libera la entrada.
func (a *Acker) finish(root uint64, e *entry, cause error) bool {
	if !e.done.CompareAndSwap(false, true) {
		return false
	}
	a.mu.Lock()
	delete(a.entries, root)
	a.mu.Unlock()

	if a.listener == nil {
		return true
	}
	if cause == nil {
		a.listener.Completed(root, e.spoutTask)
	} else {
		a.listener.Failed(root, e.spoutTask, cause)
	}
	return true
}
