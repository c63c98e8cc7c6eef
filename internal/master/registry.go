package master

import (
	"log"
	"sort"
	"sync"
	"time"

	"mini-storm/internal/common"
	"mini-storm/internal/metrics"
)

// DefaultDeadAfter es la cantidad de intervalos sin heartbeat para declarar muerto a un worker.
const DefaultDeadAfter = 3

// WorkerInfo es el estado de un worker visto por el Coordinator.
type WorkerInfo struct {
	ID            string    `json:"id"`
	Address       string    `json:"address"`
	State         string    `json:"state"`
	ActiveTasks   int       `json:"active_tasks"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// WorkerRegistry almacena el estado de los workers en orden determinista.
//
//	STARTING -> ACTIVE -> SUSPECTED -> DEAD
//	SUSPECTED -> ACTIVE con un heartbeat tardío; DEAD -> STARTING si vuelve.
type WorkerRegistry struct {
	mu        sync.RWMutex
	workers   map[string]*WorkerInfo
	order     []string // Slice para mantener el orden determinista
	interval  time.Duration
	// Intervalo de detección por worker: el vigente y el que toma en su próximo heartbeat
	intervals map[string]time.Duration
	targets   map[string]time.Duration
	deadAfter int
	metrics   *metrics.Metrics
	logger    *log.Logger
}

func NewWorkerRegistry(interval time.Duration, deadAfter int, m *metrics.Metrics, logger *log.Logger) *WorkerRegistry {
	if deadAfter < 1 {
		deadAfter = DefaultDeadAfter
	}
	if logger == nil {
		logger = log.Default()
	}
	return &WorkerRegistry{
		workers:   make(map[string]*WorkerInfo),
		interval:  interval,
		intervals: make(map[string]time.Duration),
		targets:   make(map[string]time.Duration),
		deadAfter: deadAfter,
		metrics:   m,
		logger:    logger,
	}
}

// Heartbeat registra la señal de vida de un worker y devuelve su estado resultante.
func (r *WorkerRegistry) Heartbeat(hb common.Heartbeat, now time.Time) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, exists := r.workers[hb.WorkerID]
	if !exists {
		w = &WorkerInfo{ID: hb.WorkerID}
		r.workers[hb.WorkerID] = w
		r.order = append(r.order, hb.WorkerID)
		sort.Strings(r.order)
		r.logger.Printf("[Registry] Worker %s registrado (Address: %s)", hb.WorkerID, hb.Address)
		r.transition(w, common.WorkerStateStarting)
	} else {
		switch w.State {
		case common.WorkerStateDead:
			r.logger.Printf("[Registry] Worker %s recuperado tras ser declarado muerto", hb.WorkerID)
			r.transition(w, common.WorkerStateStarting)
		case common.WorkerStateStarting, common.WorkerStateSuspected:
			r.transition(w, common.WorkerStateActive)
		}
	}
	w.Address = hb.Address
	w.ActiveTasks = hb.ActiveTasks
	w.LastHeartbeat = now
	// La respuesta a este heartbeat lleva la asignación que fija el nuevo ritmo
	if d, ok := r.targets[hb.WorkerID]; ok {
		r.intervals[hb.WorkerID] = d
		delete(r.targets, hb.WorkerID)
	}
	return w.State
}

// SetInterval fija el intervalo de heartbeat esperado de un worker, acotado por
// el del Master. Un intervalo más largo rige de inmediato; uno más corto recién
// desde el próximo heartbeat, cuando el worker ya conoce su asignación.
func (r *WorkerRegistry) SetInterval(id string, d time.Duration) {
	if d <= 0 || d > r.interval {
		d = r.interval
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if d >= r.intervalOf(id) {
		r.intervals[id] = d
		delete(r.targets, id)
		return
	}
	r.targets[id] = d
}

// Interval devuelve el intervalo con el que se evalúa hoy a un worker.
func (r *WorkerRegistry) Interval(id string) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.intervalOf(id)
}

func (r *WorkerRegistry) intervalOf(id string) time.Duration {
	if d, ok := r.intervals[id]; ok {
		return d
	}
	return r.interval
}

// Sweep aplica los timeouts y devuelve los workers que acaban de morir.
func (r *WorkerRegistry) Sweep(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var dead []string
	for _, id := range r.order {
		w := r.workers[id]
		if w.State == common.WorkerStateDead {
			continue
		}
		missed := missedIntervals(now.Sub(w.LastHeartbeat), r.intervalOf(id))
		switch {
		case missed >= r.deadAfter:
			r.logger.Printf("[Registry] ALERTA: Worker %s declarado MUERTO (%d intervalos sin heartbeat)", id, missed)
			r.transition(w, common.WorkerStateDead)
			dead = append(dead, id)
		case missed >= 1 && w.State != common.WorkerStateSuspected:
			r.logger.Printf("[Registry] Worker %s SOSPECHOSO (%d intervalo sin heartbeat)", id, missed)
			r.transition(w, common.WorkerStateSuspected)
		}
	}
	return dead
}

// missedIntervals cuenta intervalos vencidos con medio intervalo de gracia para el jitter.
func missedIntervals(elapsed, interval time.Duration) int {
	if elapsed < interval/2 {
		return 0
	}
	return int((elapsed - interval/2) / interval)
}

// MarkSuspected baja a SUSPECTED un worker que otro reportó inalcanzable.
func (r *WorkerRegistry) MarkSuspected(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok || w.State == common.WorkerStateDead || w.State == common.WorkerStateSuspected {
		return false
	}
	r.logger.Printf("[Registry] Worker %s SOSPECHOSO (reportado inalcanzable)", id)
	r.transition(w, common.WorkerStateSuspected)
	return true
}

// Available devuelve, ordenados por ID, los workers que pueden recibir tareas.
func (r *WorkerRegistry) Available() []WorkerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []WorkerInfo
	for _, id := range r.order {
		w := r.workers[id]
		if w.State == common.WorkerStateStarting || w.State == common.WorkerStateActive {
			out = append(out, *w)
		}
	}
	return out
}

func (r *WorkerRegistry) Get(id string) (WorkerInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[id]
	if !ok {
		return WorkerInfo{}, false
	}
	return *w, true
}

func (r *WorkerRegistry) List() []WorkerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]WorkerInfo, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.workers[id])
	}
	return out
}

// Addresses devuelve WorkerID -> Address de todos los workers conocidos.
func (r *WorkerRegistry) Addresses() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.workers))
	for id, w := range r.workers {
		out[id] = w.Address
	}
	return out
}

func (r *WorkerRegistry) transition(w *WorkerInfo, state string) {
	prev := w.State
	w.State = state
	if r.metrics == nil {
		return
	}
	r.metrics.WorkerTransitions.WithLabelValues(state).Inc()
	if prev != "" {
		r.metrics.WorkersByState.WithLabelValues(prev).Dec()
	}
	r.metrics.WorkersByState.WithLabelValues(state).Inc()
}
