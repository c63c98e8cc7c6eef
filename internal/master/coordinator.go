package master

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"mini-storm/internal/common"
	"mini-storm/internal/dag"
	"mini-storm/internal/metrics"
	"mini-storm/internal/storage"
	"mini-storm/internal/udf"
)

type Options struct {
	HeartbeatInterval time.Duration
	DeadAfter         int
	Store             *storage.TopologyStore
	Metrics           *metrics.Metrics
	Logger            *log.Logger
	Now               func() time.Time
}

// Coordinator es el único que modifica las asignaciones. Todo cambio toma c.mu
// y avanza el epoch global.
type Coordinator struct {
	mu          sync.Mutex
	registry    *WorkerRegistry
	store       *storage.TopologyStore
	graphs      map[string]*dag.Graph
	assignments map[string]*common.Assignment
	epoch       uint64

	interval time.Duration
	metrics  *metrics.Metrics
	logger   *log.Logger
	now      func() time.Time
}

func NewCoordinator(opts Options) *Coordinator {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = common.DefaultConfig().HeartbeatInterval()
	}
	if opts.Store == nil {
		opts.Store = storage.NewTopologyStore()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{
		registry:    NewWorkerRegistry(opts.HeartbeatInterval, opts.DeadAfter, opts.Metrics, opts.Logger),
		store:       opts.Store,
		graphs:      make(map[string]*dag.Graph),
		assignments: make(map[string]*common.Assignment),
		interval:    opts.HeartbeatInterval,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		now:         opts.Now,
	}
}

func (c *Coordinator) Registry() *WorkerRegistry { return c.registry }

func (c *Coordinator) Metrics() *metrics.Metrics { return c.metrics }

func (c *Coordinator) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// Start ejecuta ControlLoop en cada intervalo de heartbeat hasta que ctx termine.
func (c *Coordinator) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.ControlLoop(c.now())
		}
	}
}

// ==========================================
// ENVÍO Y BAJA DE TOPOLOGÍAS
// ==========================================

// Submit valida la topología, la asigna y la registra. Los errores de validación
// son *common.InvalidGraphError o envuelven common.ErrInvalidConfig.
func (c *Coordinator) Submit(req common.SubmitRequest) (common.SubmitResponse, error) {
	resp, err := c.submit(req)
	result := "ok"
	switch {
	case err == nil:
	case common.IsInvalidGraph(err), errors.Is(err, common.ErrInvalidConfig):
		result = "invalid"
	default:
		result = "rejected"
	}
	c.metrics.Submissions.WithLabelValues(result).Inc()
	if err != nil {
		c.logger.Printf("[Master] Topologia %q rechazada: %v", req.Topology.Name, err)
	}
	return resp, err
}

func (c *Coordinator) submit(req common.SubmitRequest) (common.SubmitResponse, error) {
	cfg, err := common.ParseConfig(req.Config)
	if err != nil {
		return common.SubmitResponse{}, err
	}
	g, err := dag.Build(req.Topology)
	if err != nil {
		return common.SubmitResponse{}, err
	}
	for _, st := range g.Stages() {
		if err := udf.Exists(st.Kind, st.UDFName); err != nil {
			return common.SubmitResponse{}, common.InvalidGraphf("stage %s: %v", st.ID, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if prev := c.store.Lookup(g.Name()); prev != nil && prev.Status != common.TopologyStatusKilled {
		return common.SubmitResponse{}, fmt.Errorf("%w: %s", common.ErrTopologyExists, g.Name())
	}
	workers := c.pickWorkersLocked(cfg.NumWorkers)
	if len(workers) == 0 {
		return common.SubmitResponse{}, fmt.Errorf("%w: no workers available", common.ErrInsufficientWorkers)
	}
	tasks, err := Assign(g, workers, AssignOptions{AllowColocation: cfg.AllowColocation, Load: c.loadLocked("")})
	if err != nil {
		return common.SubmitResponse{}, err
	}

	c.epoch++
	id := uuid.NewString()
	info := &common.TopologyInfo{
		ID:          id,
		Name:        g.Name(),
		Status:      common.TopologyStatusActive,
		Epoch:       c.epoch,
		Topology:    g.Def(),
		Config:      cfg,
		Tasks:       tasks,
		SubmittedAt: c.now(),
	}
	if err := c.store.SaveTopology(info); err != nil {
		return common.SubmitResponse{}, err
	}
	c.graphs[id] = g
	c.assignments[id] = &common.Assignment{TopologyID: id, Epoch: c.epoch, Tasks: copyTasks(tasks)}
	c.refreshIntervalsLocked()
	c.metrics.Epoch.Set(float64(c.epoch))
	c.metrics.Topologies.Inc()

	c.logger.Printf("[Master] Topologia %s (%s) asignada: %d tareas en %d workers, epoch %d",
		g.Name(), id, g.NumTasks(), len(workers), c.epoch)
	return common.SubmitResponse{
		TopologyID: id,
		Name:       g.Name(),
		Status:     info.Status,
		Epoch:      c.epoch,
		Tasks:      copyTasks(tasks),
	}, nil
}

// Kill detiene una topología por nombre o ID. Los workers la sueltan en su próximo heartbeat.
func (c *Coordinator) Kill(ref string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	info := c.store.Lookup(ref)
	if info == nil || info.Status == common.TopologyStatusKilled {
		return fmt.Errorf("%w: %s", common.ErrUnknownTopology, ref)
	}
	c.epoch++
	epoch := c.epoch
	c.store.Update(info.ID, func(i *common.TopologyInfo) {
		i.Status = common.TopologyStatusKilled
		i.Epoch = epoch
	})
	delete(c.assignments, info.ID)
	delete(c.graphs, info.ID)
	c.refreshIntervalsLocked()
	c.metrics.Epoch.Set(float64(epoch))
	c.metrics.Topologies.Dec()
	c.logger.Printf("[Master] Topologia %s (%s) detenida, epoch %d", info.Name, info.ID, epoch)
	return nil
}

// Status devuelve el registro de una topología por nombre o ID.
func (c *Coordinator) Status(ref string) (common.TopologyInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info := c.store.Lookup(ref)
	if info == nil {
		return common.TopologyInfo{}, fmt.Errorf("%w: %s", common.ErrUnknownTopology, ref)
	}
	out := *info
	out.Tasks = copyTasks(info.Tasks)
	return out, nil
}

func (c *Coordinator) List() []common.TopologyInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.List()
}

// Assignment devuelve una copia de la asignación vigente.
func (c *Coordinator) Assignment(id string) (common.Assignment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.assignments[id]
	if !ok {
		return common.Assignment{}, false
	}
	return a.Clone(), true
}

// ==========================================
// HEARTBEATS Y FALLOS
// ==========================================

// Heartbeat actualiza la vida del worker y le devuelve sus asignaciones.
func (c *Coordinator) Heartbeat(hb common.Heartbeat) (common.HeartbeatResponse, error) {
	if hb.WorkerID == "" {
		return common.HeartbeatResponse{}, errors.New("worker id is required")
	}
	state := c.registry.Heartbeat(hb, c.now())

	c.mu.Lock()
	defer c.mu.Unlock()
	addrs := c.registry.Addresses()
	resp := common.HeartbeatResponse{Epoch: c.epoch, State: state}
	for _, id := range c.topologyIDsLocked() {
		a := c.assignments[id]
		if len(a.TasksOf(hb.WorkerID)) == 0 {
			continue
		}
		info := c.store.GetTopology(id)
		resp.Assignments = append(resp.Assignments, common.WorkerAssignment{
			TopologyID: id,
			Epoch:      a.Epoch,
			Topology:   info.Topology,
			Config:     info.Config,
			Tasks:      copyTasks(a.Tasks),
			Addresses:  addrs,
		})
	}
	return resp, nil
}

// ControlLoop aplica los timeouts de heartbeat, reasigna las tareas de los workers
// muertos y reintenta ubicar las tareas pendientes de topologías DEGRADED.
func (c *Coordinator) ControlLoop(now time.Time) {
	for _, id := range c.registry.Sweep(now) {
		c.OnWorkerFailure(id)
	}
	c.retryDegraded()
}

// OnWorkerFailure mueve las tareas del worker muerto a los workers disponibles.
// Las demás ubicaciones se conservan; lo que no cabe queda sin asignar.
func (c *Coordinator) OnWorkerFailure(workerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var changed []string
	placed := make(map[string]map[int]string)
	status := make(map[string]string)
	for _, id := range c.topologyIDsLocked() {
		a := c.assignments[id]
		if len(a.TasksOf(workerID)) == 0 {
			continue
		}
		fixed := make(map[int]string)
		for task, w := range a.Tasks {
			if w != workerID && w != "" {
				fixed[task] = w
			}
		}
		placed[id], status[id] = c.placeLocked(id, fixed)
		changed = append(changed, id)
	}
	if len(changed) == 0 {
		return
	}
	c.epoch++
	for _, id := range changed {
		c.commitLocked(id, placed[id], status[id])
		c.logger.Printf("[Scheduler] Tareas de %s reasignadas en %s (%s), epoch %d", workerID, id, status[id], c.epoch)
	}
	c.metrics.Epoch.Set(float64(c.epoch))
}

// Report procesa los reportes de los workers.
func (c *Coordinator) Report(rep common.TaskReport) error {
	switch rep.Status {
	case common.TaskStatusFatal:
		return c.onFatalTask(rep)
	case common.TaskStatusUnreachable:
		c.store.SaveTaskReport(rep)
		if rep.Peer != "" && rep.Peer != rep.WorkerID {
			c.registry.MarkSuspected(rep.Peer)
		}
		return nil
	default:
		return fmt.Errorf("unknown report status %q", rep.Status)
	}
}

// onFatalTask mueve la tarea muerta al worker disponible con menos carga
// (puede ser el mismo) y avanza el epoch para que se reinicie.
func (c *Coordinator) onFatalTask(rep common.TaskReport) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.assignments[rep.TopologyID]
	if !ok {
		return fmt.Errorf("%w: %s", common.ErrUnknownTopology, rep.TopologyID)
	}
	c.store.SaveTaskReport(rep)
	if owner := a.Tasks[rep.TaskID]; owner != rep.WorkerID {
		c.logger.Printf("[Master] Reporte viejo: tarea %d ya no pertenece a %s", rep.TaskID, rep.WorkerID)
		return nil
	}
	fixed := make(map[int]string)
	for task, w := range a.Tasks {
		if task != rep.TaskID && w != "" {
			fixed[task] = w
		}
	}
	tasks, status := c.placeLocked(rep.TopologyID, fixed)
	c.epoch++
	c.commitLocked(rep.TopologyID, tasks, status)
	c.metrics.Epoch.Set(float64(c.epoch))
	c.logger.Printf("[Master] Tarea %d de %s fallo en %s (%s); reasignada a %q, epoch %d",
		rep.TaskID, rep.TopologyID, rep.WorkerID, rep.ErrorMsg, tasks[rep.TaskID], c.epoch)
	return nil
}

func (c *Coordinator) retryDegraded() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range c.topologyIDsLocked() {
		a := c.assignments[id]
		pending := a.Unassigned()
		if len(pending) == 0 {
			continue
		}
		fixed := make(map[int]string)
		for task, w := range a.Tasks {
			if w != "" {
				fixed[task] = w
			}
		}
		tasks, status := c.placeLocked(id, fixed)
		if len(common.Assignment{Tasks: tasks}.Unassigned()) == len(pending) {
			continue
		}
		c.epoch++
		c.commitLocked(id, tasks, status)
		c.metrics.Epoch.Set(float64(c.epoch))
		c.logger.Printf("[Scheduler] Tareas pendientes de %s ubicadas (%s), epoch %d", id, status, c.epoch)
	}
}

// ==========================================
// HELPERS (requieren c.mu)
// ==========================================

func (c *Coordinator) placeLocked(id string, fixed map[int]string) (map[int]string, string) {
	info := c.store.GetTopology(id)
	var workers []string
	for _, w := range c.registry.Available() {
		workers = append(workers, w.ID)
	}
	tasks, err := Assign(c.graphs[id], workers, AssignOptions{
		AllowColocation: info.Config.AllowColocation,
		Load:            c.loadLocked(id),
		Fixed:           fixed,
	})
	if err != nil {
		c.logger.Printf("[Scheduler] %s DEGRADED: %v", id, err)
		return tasks, common.TopologyStatusDegraded
	}
	return tasks, common.TopologyStatusActive
}

func (c *Coordinator) commitLocked(id string, tasks map[int]string, status string) {
	a := c.assignments[id]
	a.Tasks = copyTasks(tasks)
	a.Epoch = c.epoch
	epoch := c.epoch
	c.store.Update(id, func(info *common.TopologyInfo) {
		info.Tasks = copyTasks(tasks)
		info.Epoch = epoch
		info.Status = status
	})
	c.refreshIntervalsLocked()
}

// refreshIntervalsLocked evalúa a cada worker con el menor heartbeatIntervalMs
// de las topologías que hospeda, el mismo ritmo al que late.
func (c *Coordinator) refreshIntervalsLocked() {
	want := make(map[string]time.Duration)
	for id, a := range c.assignments {
		info := c.store.GetTopology(id)
		if info == nil {
			continue
		}
		d := info.Config.HeartbeatInterval()
		for _, w := range a.Tasks {
			if cur, ok := want[w]; w != "" && (!ok || d < cur) {
				want[w] = d
			}
		}
	}
	for _, w := range c.registry.List() {
		c.registry.SetInterval(w.ID, want[w.ID])
	}
}

// pickWorkersLocked elige hasta n workers disponibles, los menos cargados primero.
func (c *Coordinator) pickWorkersLocked(n int) []string {
	load := c.loadLocked("")
	avail := c.registry.Available()
	sort.SliceStable(avail, func(i, j int) bool {
		if load[avail[i].ID] != load[avail[j].ID] {
			return load[avail[i].ID] < load[avail[j].ID]
		}
		return avail[i].ID < avail[j].ID
	})
	if len(avail) > n {
		avail = avail[:n]
	}
	ids := make([]string, 0, len(avail))
	for _, w := range avail {
		ids = append(ids, w.ID)
	}
	return ids
}

// loadLocked cuenta las tareas por worker de todas las topologías salvo exclude.
func (c *Coordinator) loadLocked(exclude string) map[string]int {
	load := make(map[string]int)
	for id, a := range c.assignments {
		if id == exclude {
			continue
		}
		for _, w := range a.Tasks {
			if w != "" {
				load[w]++
			}
		}
	}
	return load
}

func (c *Coordinator) topologyIDsLocked() []string {
	ids := make([]string, 0, len(c.assignments))
	for id := range c.assignments {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func copyTasks(tasks map[int]string) map[int]string {
	out := make(map[int]string, len(tasks))
	for k, v := range tasks {
		out[k] = v
	}
	return out
}
