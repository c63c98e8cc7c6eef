package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"mini-storm/internal/acker"
	"mini-storm/internal/common"
	"mini-storm/internal/dag"
	"mini-storm/internal/metrics"
	"mini-storm/internal/router"
	"mini-storm/internal/storage"
	"mini-storm/internal/transport"
	"mini-storm/internal/udf"
)

// MasterClient es lo que un worker necesita del Coordinator.
type MasterClient interface {
	Heartbeat(ctx context.Context, hb common.Heartbeat) (common.HeartbeatResponse, error)
	Report(ctx context.Context, rep common.TaskReport) error
}

type Options struct {
	ID                string
	Address           string // Dirección anunciada para el transporte de datos
	Master            MasterClient
	Transport         transport.Transport
	Metrics           *metrics.Metrics
	Sink              udf.Sink
	DeadLetter        udf.DeadLetter
	Offsets           udf.Offsets // Compartido entre workers para retomar Sources reubicadas
	HeartbeatInterval time.Duration
	Logger            *log.Logger
}

// Worker hospeda las tareas que el Coordinator le asigna, una goroutine por tarea.
type Worker struct {
	id         string
	addr       string
	master     MasterClient
	net        transport.Transport
	m          *metrics.Metrics
	sink       udf.Sink
	deadLetter udf.DeadLetter
	offsets    udf.Offsets
	interval   time.Duration
	logger     *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	mu         sync.Mutex
	topologies map[string]*topologyRuntime
	epoch      uint64
	stopped    bool
}

func New(opts Options) *Worker {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.DeadLetter == nil {
		opts.DeadLetter = udf.LogDeadLetter{Logger: opts.Logger}
	}
	if opts.Sink == nil {
		opts.Sink = udf.LogSink{Logger: opts.Logger}
	}
	if opts.Offsets == nil {
		opts.Offsets = storage.NewOffsetStore()
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = common.DefaultConfig().HeartbeatInterval()
	}
	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)
	return &Worker{
		id:         opts.ID,
		addr:       opts.Address,
		master:     opts.Master,
		net:        opts.Transport,
		m:          opts.Metrics,
		sink:       opts.Sink,
		deadLetter: opts.DeadLetter,
		offsets:    opts.Offsets,
		interval:   opts.HeartbeatInterval,
		logger:     opts.Logger,
		ctx:        ctx,
		cancel:     cancel,
		group:      group,
		topologies: make(map[string]*topologyRuntime),
	}
}

func (w *Worker) ID() string      { return w.id }
func (w *Worker) Address() string { return w.addr }

// Start lanza el ciclo de heartbeats. Termina con ctx o con Shutdown.
func (w *Worker) Start(ctx context.Context) {
	w.group.Go(func() error {
		w.heartbeatLoop(ctx)
		return nil
	})
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	for {
		if err := w.HeartbeatOnce(ctx); err != nil && ctx.Err() == nil && w.ctx.Err() == nil {
			w.logger.Printf("[Worker %s] Error enviando heartbeat: %v", w.id, err)
		}
		timer := time.NewTimer(w.heartbeatInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-w.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// heartbeatInterval es el menor entre el propio y el de las topologías asignadas.
func (w *Worker) heartbeatInterval() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	d := w.interval
	for _, rt := range w.topologies {
		if i := rt.cfg.HeartbeatInterval(); i > 0 && i < d {
			d = i
		}
	}
	return d
}

// HeartbeatOnce envía un heartbeat y aplica las asignaciones de la respuesta.
func (w *Worker) HeartbeatOnce(ctx context.Context) error {
	active := w.ActiveTasks()
	status := common.WorkerStatusIdle
	if active > 0 {
		status = common.WorkerStatusBusy
	}
	w.mu.Lock()
	epoch := w.epoch
	w.mu.Unlock()

	resp, err := w.master.Heartbeat(ctx, common.Heartbeat{
		WorkerID:      w.id,
		Address:       w.addr,
		Status:        status,
		ActiveTasks:   active,
		Epoch:         epoch,
		LastHeartbeat: time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	w.Apply(resp)
	return nil
}

// Apply reconcilia las tareas locales con las asignaciones recibidas.
// Una topología ausente de la respuesta se detiene.
func (w *Worker) Apply(resp common.HeartbeatResponse) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}

	seen := make(map[string]bool)
	for _, wa := range resp.Assignments {
		seen[wa.TopologyID] = true
		rt, ok := w.topologies[wa.TopologyID]
		if !ok {
			var err error
			rt, err = newTopologyRuntime(w, wa)
			if err != nil {
				w.logger.Printf("[Worker %s] Asignacion invalida para %s: %v", w.id, wa.TopologyID, err)
				continue
			}
			w.topologies[wa.TopologyID] = rt
			w.logger.Printf("[Worker %s] Topologia %s (%s) asignada", w.id, wa.Topology.Name, wa.TopologyID)
		}
		rt.apply(wa)
	}
	for id, rt := range w.topologies {
		if !seen[id] {
			w.logger.Printf("[Worker %s] Topologia %s ya no asignada, deteniendo tareas", w.id, id)
			rt.stop()
			delete(w.topologies, id)
		}
	}
	if resp.Epoch > w.epoch {
		w.epoch = resp.Epoch
	}
}

// ActiveTasks cuenta las tareas vivas en el worker.
func (w *Worker) ActiveTasks() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, rt := range w.topologies {
		n += rt.activeTasks()
	}
	return n
}

// LocalTasks devuelve, ordenadas, las tareas vivas de una topología en este worker.
func (w *Worker) LocalTasks(topologyID string) []int {
	rt := w.topology(topologyID)
	if rt == nil {
		return nil
	}
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	var ids []int
	for id, r := range rt.runners {
		if !r.dead.Load() {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

func (w *Worker) topology(id string) *topologyRuntime {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.topologies[id]
}

// Deliver implementa transport.Inbound: encola en la tarea destino.
func (w *Worker) Deliver(ctx context.Context, d common.Delivery) error {
	rt := w.topology(d.TopologyID)
	if rt == nil {
		return fmt.Errorf("%w: topology %s not hosted by %s", common.ErrStaleAssignment, d.TopologyID, w.id)
	}
	return rt.deliverLocal(ctx, d)
}

// Ack implementa transport.Inbound: aplica el mensaje en el acker local.
func (w *Worker) Ack(_ context.Context, m common.AckMessage) error {
	rt := w.topology(m.TopologyID)
	if rt == nil {
		return fmt.Errorf("%w: topology %s not hosted by %s", common.ErrStaleAssignment, m.TopologyID, w.id)
	}
	rt.applyAck(m)
	return nil
}

// Shutdown detiene todas las tareas y el ciclo de heartbeats y espera a que terminen.
func (w *Worker) Shutdown() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	for id, rt := range w.topologies {
		rt.stop()
		delete(w.topologies, id)
	}
	w.mu.Unlock()

	w.cancel()
	err := w.group.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	w.logger.Printf("[Worker %s] Detenido", w.id)
	return err
}

// report envía un TaskReport sin bloquear a la tarea que lo genera.
func (w *Worker) report(rep common.TaskReport) {
	if w.master == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.master.Report(ctx, rep); err != nil {
			w.logger.Printf("[Worker %s] ERROR al reportar al Master sobre la tarea %d: %v", w.id, rep.TaskID, err)
		}
	}()
}

// ==========================================
// TOPOLOGÍA EN EJECUCIÓN
// ==========================================

type edgeRoute struct {
	grouping string
	router   router.Router
}

type topologyRuntime struct {
	w      *Worker
	id     string
	graph  *dag.Graph
	cfg    common.TopologyConfig
	routes map[string][]edgeRoute // etapa origen -> aristas salientes
	acker  *acker.Acker

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	epoch   uint64
	tasks   map[int]string    // TaskID -> WorkerID
	addrs   map[string]string // WorkerID -> Address
	runners map[int]*taskRunner
}

func newTopologyRuntime(w *Worker, wa common.WorkerAssignment) (*topologyRuntime, error) {
	graph, err := dag.Build(wa.Topology)
	if err != nil {
		return nil, err
	}
	routes := make(map[string][]edgeRoute)
	for _, st := range graph.Stages() {
		for _, e := range graph.Outbound(st.ID) {
			r, err := router.New(e, st.OutputFields, graph.Tasks(e.To))
			if err != nil {
				return nil, err
			}
			routes[st.ID] = append(routes[st.ID], edgeRoute{grouping: e.Grouping, router: r})
		}
	}
	ctx, cancel := context.WithCancel(w.ctx)
	rt := &topologyRuntime{
		w:       w,
		id:      wa.TopologyID,
		graph:   graph,
		cfg:     wa.Config,
		routes:  routes,
		ctx:     ctx,
		cancel:  cancel,
		runners: make(map[int]*taskRunner),
	}
	rt.acker = acker.New(wa.Config.AckTimeout(), rt, w.logger)
	w.group.Go(func() error {
		rt.sweepLoop()
		return nil
	})
	return rt, nil
}

func (rt *topologyRuntime) metrics() *metrics.Metrics { return rt.w.m }

// apply arranca las tareas nuevas, detiene las reasignadas y reinicia
// las muertas cuando el epoch avanza y siguen asignadas aquí.
func (rt *topologyRuntime) apply(wa common.WorkerAssignment) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if wa.Epoch < rt.epoch {
		return
	}
	advanced := wa.Epoch > rt.epoch
	rt.epoch = wa.Epoch
	rt.tasks = wa.Tasks
	rt.addrs = wa.Addresses

	mine := make(map[int]bool)
	for task, wid := range wa.Tasks {
		if wid == rt.w.id {
			mine[task] = true
		}
	}
	for task, r := range rt.runners {
		switch {
		case !mine[task]:
			rt.w.logger.Printf("[Worker %s] Tarea %d reasignada, deteniendo (epoch %d)", rt.w.id, task, wa.Epoch)
			r.stop()
			delete(rt.runners, task)
			if r.spout != nil {
				rt.acker.Forget(task)
			}
		case r.dead.Load() && advanced:
			r.stop()
			delete(rt.runners, task)
			if r.spout != nil {
				rt.acker.Forget(task)
			}
		}
	}

	ids := make([]int, 0, len(mine))
	for task := range mine {
		if _, ok := rt.runners[task]; !ok {
			ids = append(ids, task)
		}
	}
	sort.Ints(ids)
	for _, task := range ids {
		r, err := newTaskRunner(rt, task)
		if err != nil {
			rt.w.logger.Printf("[Worker %s] %v", rt.w.id, err)
			continue
		}
		rt.runners[task] = r
		rt.w.group.Go(r.run)
		rt.w.logger.Printf("[Worker %s] Tarea %d (%s#%d) iniciada (epoch %d)", rt.w.id, task, r.stage.ID, r.index, wa.Epoch)
	}
}

func (rt *topologyRuntime) activeTasks() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	n := 0
	for _, r := range rt.runners {
		if !r.dead.Load() {
			n++
		}
	}
	return n
}

func (rt *topologyRuntime) stop() {
	rt.mu.Lock()
	for task, r := range rt.runners {
		r.stop()
		delete(rt.runners, task)
	}
	rt.mu.Unlock()
	rt.cancel()
}

// sweepLoop expira las raíces que superan ackTimeout.
func (rt *topologyRuntime) sweepLoop() {
	every := rt.cfg.AckTimeout() / 10
	if every < 10*time.Millisecond {
		every = 10 * time.Millisecond
	}
	if every > time.Second {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-rt.ctx.Done():
			return
		case now := <-ticker.C:
			if n := rt.acker.Sweep(now); n > 0 {
				rt.w.logger.Printf("[Acker] %s: %d raices expiradas", rt.id, n)
			}
		}
	}
}

// Completed y Failed implementan acker.Listener.
func (rt *topologyRuntime) Completed(root uint64, spoutTask int) {
	rt.notify(spoutTask, ackEvent{root: root})
}

func (rt *topologyRuntime) Failed(root uint64, spoutTask int, cause error) {
	rt.notify(spoutTask, ackEvent{root: root, cause: cause})
}

func (rt *topologyRuntime) notify(spoutTask int, ev ackEvent) {
	rt.mu.RLock()
	r := rt.runners[spoutTask]
	rt.mu.RUnlock()
	if r != nil && r.spout != nil {
		r.spout.events.push(ev)
	}
}

func (rt *topologyRuntime) runner(task int) *taskRunner {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.runners[task]
}

// owner devuelve el worker y la dirección de una tarea según la asignación vigente.
func (rt *topologyRuntime) owner(task int) (string, string) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	wid := rt.tasks[task]
	return wid, rt.addrs[wid]
}

func (rt *topologyRuntime) deliverLocal(ctx context.Context, d common.Delivery) error {
	r := rt.runner(d.TargetTask)
	if r == nil {
		return fmt.Errorf("%w: task %d not running on %s", common.ErrStaleAssignment, d.TargetTask, rt.w.id)
	}
	return r.enqueue(ctx, d.SourceTask, d.Tuple)
}

// deliver entrega una copia a su tarea destino, local o remota.
// Los fallos descartan la copia; su raíz expira y se reemite.
func (rt *topologyRuntime) deliver(ctx context.Context, d common.Delivery) {
	wid, addr := rt.owner(d.TargetTask)
	rt.mu.RLock()
	d.Epoch = rt.epoch
	rt.mu.RUnlock()

	var err error
	switch {
	case wid == "":
		err = fmt.Errorf("%w: task %d unassigned", common.ErrStaleAssignment, d.TargetTask)
	case wid == rt.w.id:
		err = rt.deliverLocal(ctx, d)
	default:
		err = rt.w.net.Deliver(ctx, addr, d)
	}
	if err == nil || ctx.Err() != nil {
		return
	}
	rt.dropped(err, wid, d.TargetTask)
}

// sendAck envía el ack al worker del spout de la raíz.
func (rt *topologyRuntime) sendAck(ctx context.Context, m common.AckMessage) {
	wid, addr := rt.owner(m.SpoutTask)
	if wid == rt.w.id {
		rt.applyAck(m)
		return
	}
	if wid == "" {
		return
	}
	if err := rt.w.net.Ack(ctx, addr, m); err != nil && ctx.Err() == nil {
		rt.dropped(err, wid, m.SpoutTask)
	}
}

func (rt *topologyRuntime) applyAck(m common.AckMessage) {
	if m.Fail {
		var cause error = common.ErrProcessingFailed
		if m.Reason != "" {
			cause = fmt.Errorf("%w: %s", common.ErrProcessingFailed, m.Reason)
		}
		rt.acker.Fail(m.Root, cause)
		return
	}
	rt.acker.Update(m.Root, m.Xor)
}

func (rt *topologyRuntime) dropped(err error, peer string, task int) {
	reason := "stale"
	if errors.Is(err, common.ErrWorkerUnreachable) {
		reason = "unreachable"
		rt.w.report(common.TaskReport{
			TopologyID: rt.id,
			TaskID:     task,
			WorkerID:   rt.w.id,
			Status:     common.TaskStatusUnreachable,
			ErrorMsg:   err.Error(),
			Peer:       peer,
			Timestamp:  time.Now().UnixMilli(),
		})
	}
	rt.metrics().Dropped.WithLabelValues(rt.id, reason).Inc()
}
