package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"mini-storm/internal/common"
	"mini-storm/internal/queue"
	"mini-storm/internal/router"
	"mini-storm/internal/udf"
)

// Estrategia de espera progresiva del spout cuando la fuente no tiene datos
const (
	spinLimit = 100
	idleSleep = time.Millisecond
)

// ==========================================
// 1. TAREA (una goroutine, un registro por vez)
// ==========================================

// taskRunner es una instancia en ejecución de una etapa.
type taskRunner struct {
	rt     *topologyRuntime
	stage  common.StageDef
	taskID int
	index  int

	ctx    context.Context
	cancel context.CancelFunc
	logger *log.Logger

	// Una cola por tarea origen; se crean al iniciar la tarea
	queues map[int]*queue.Queue[common.Tuple]
	inbox  chan common.Tuple

	spout *spoutExecutor
	dead  atomic.Bool
	done  chan struct{}
}

func newTaskRunner(rt *topologyRuntime, taskID int) (*taskRunner, error) {
	stage, ok := rt.graph.StageOf(taskID)
	if !ok {
		return nil, fmt.Errorf("task %d not in topology %s", taskID, rt.id)
	}
	ctx, cancel := context.WithCancel(rt.ctx)
	r := &taskRunner{
		rt:     rt,
		stage:  stage,
		taskID: taskID,
		index:  rt.graph.TaskIndex(taskID),
		ctx:    ctx,
		cancel: cancel,
		logger: rt.w.logger,
		queues: make(map[int]*queue.Queue[common.Tuple]),
		inbox:  make(chan common.Tuple),
		done:   make(chan struct{}),
	}
	// La bomba de cada par retiene un registro en mano: la cola guarda uno
	// menos para que el par no supere queueCapacity
	for _, up := range rt.graph.UpstreamTasks(stage.ID) {
		r.queues[up] = queue.New[common.Tuple](rt.cfg.QueueCapacity - 1)
	}
	if stage.Kind == common.KindSpout {
		r.spout = &spoutExecutor{r: r, events: newEventBuffer(), pending: make(map[uint64]*pendingRoot)}
	}
	return r, nil
}

func (r *taskRunner) taskContext() udf.TaskContext {
	return udf.TaskContext{
		Ctx:         r.ctx,
		Topology:    r.rt.id,
		StageID:     r.stage.ID,
		TaskID:      r.taskID,
		TaskIndex:   r.index,
		Parallelism: r.stage.Parallelism,
		Args:        r.stage.Args,
		Sink:        r.rt.w.sink,
		Offsets:     r.rt.w.offsets,
		Logger:      r.logger,
	}
}

// enqueue recibe un registro de la tarea origen src. Bloquea si la cola está llena.
func (r *taskRunner) enqueue(ctx context.Context, src int, t common.Tuple) error {
	if r.dead.Load() {
		return common.ErrStaleAssignment
	}
	q, ok := r.queues[src]
	if !ok {
		return fmt.Errorf("%w: task %d has no queue from %d", common.ErrStaleAssignment, r.taskID, src)
	}
	err := q.Enqueue(ctx, t)
	if errors.Is(err, queue.ErrClosed) {
		return common.ErrStaleAssignment
	}
	return err
}

func (r *taskRunner) queueDepth() int {
	n := 0
	for _, q := range r.queues {
		n += q.Len()
	}
	return n
}

// stop cancela la tarea y descarta sus colas. No espera a la goroutine.
func (r *taskRunner) stop() {
	r.cancel()
	dropped := 0
	for _, q := range r.queues {
		dropped += q.Discard()
	}
	if dropped > 0 {
		r.rt.metrics().Dropped.WithLabelValues(r.rt.id, "discarded").Add(float64(dropped))
		r.logger.Printf("[Executor] Tarea %d: %d registros descartados al detenerse", r.taskID, dropped)
	}
}

// run es el cuerpo de la goroutine de la tarea.
func (r *taskRunner) run() error {
	defer close(r.done)
	defer r.rt.metrics().QueueDepth.DeleteLabelValues(r.rt.id, strconv.Itoa(r.taskID))

	var err error
	if r.stage.Kind == common.KindSpout {
		err = r.runSpout()
	} else {
		err = r.runBolt()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		r.die(err)
	}
	return nil
}

// die marca la tarea muerta. Las hermanas y el worker siguen funcionando.
func (r *taskRunner) die(cause error) {
	if !r.dead.CompareAndSwap(false, true) {
		return
	}
	r.logger.Printf("[Executor] Tarea %d (%s) MUERTA: %v", r.taskID, r.stage.ID, cause)
	r.rt.metrics().TaskDeaths.WithLabelValues(r.rt.id, r.stage.ID).Inc()
	for _, q := range r.queues {
		q.Discard()
	}
	r.rt.w.report(common.TaskReport{
		TopologyID: r.rt.id,
		TaskID:     r.taskID,
		WorkerID:   r.rt.w.id,
		Status:     common.TaskStatusFatal,
		ErrorMsg:   cause.Error(),
		Timestamp:  time.Now().UnixMilli(),
	})
}

// ------------------------------------------
// BOLT
// ------------------------------------------

func (r *taskRunner) runBolt() error {
	factory, err := udf.GetBoltFactory(r.stage.UDFName)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrFatalTask, err)
	}
	bolt, err := factory(r.stage.Args)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrFatalTask, err)
	}
	if p, ok := bolt.(udf.Preparer); ok {
		if err := p.Prepare(r.taskContext()); err != nil {
			return fmt.Errorf("%w: prepare: %v", common.ErrFatalTask, err)
		}
	}
	if c, ok := bolt.(udf.Cleaner); ok {
		defer c.Cleanup()
	}

	// Cada cola tiene su bomba: el orden por par (origen, destino) se conserva
	var pumps sync.WaitGroup
	for _, q := range r.queues {
		pumps.Add(1)
		go func(q *queue.Queue[common.Tuple]) {
			defer pumps.Done()
			for {
				t, err := q.Dequeue(r.ctx)
				if err != nil {
					return
				}
				select {
				case r.inbox <- t:
				case <-r.ctx.Done():
					return
				}
			}
		}(q)
	}
	defer pumps.Wait()
	defer r.cancel()

	depth := r.rt.metrics().QueueDepth.WithLabelValues(r.rt.id, strconv.Itoa(r.taskID))
	for {
		select {
		case <-r.ctx.Done():
			return r.ctx.Err()
		case t := <-r.inbox:
			if err := r.processOne(bolt, t); err != nil {
				return err
			}
			depth.Set(float64(r.queueDepth()))
		}
	}
}

// processOne ejecuta el bolt sobre un registro y confirma o falla sus raíces.
// Solo devuelve error si la tarea debe morir.
func (r *taskRunner) processOne(bolt udf.Bolt, in common.Tuple) error {
	out := &collector{r: r, anchors: in.Anchors}
	err := safeProcess(bolt, in, out)
	m := r.rt.metrics()

	if err == nil {
		// Un solo mensaje por raíz: ID de la entrada XOR los IDs de sus hijos
		for _, a := range in.Anchors {
			r.rt.sendAck(r.ctx, common.AckMessage{TopologyID: r.rt.id, Root: a.Root, SpoutTask: a.SpoutTask, Xor: in.ID ^ out.xor})
		}
		m.Acked.WithLabelValues(r.rt.id, r.stage.ID).Inc()
		return nil
	}

	for _, a := range in.Anchors {
		r.rt.sendAck(r.ctx, common.AckMessage{TopologyID: r.rt.id, Root: a.Root, SpoutTask: a.SpoutTask, Fail: true, Reason: err.Error()})
	}
	m.Failed.WithLabelValues(r.rt.id, r.stage.ID).Inc()
	if errors.Is(err, common.ErrFatalTask) {
		return err
	}
	if r.ctx.Err() == nil {
		r.logger.Printf("[Executor] Tarea %d fallo el registro %d: %v", r.taskID, in.ID, err)
	}
	return nil
}

// safeProcess convierte un panic de la unidad de proceso en error fatal.
func safeProcess(bolt udf.Bolt, in common.Tuple, out udf.Emitter) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: panic: %v", common.ErrFatalTask, p)
		}
	}()
	return bolt.Process(in, out)
}

// collector implementa udf.Emitter para un registro de entrada.
// Acumula el XOR de los hijos para el ack de la entrada.
type collector struct {
	r       *taskRunner
	anchors []common.Anchor
	xor     uint64
}

func (c *collector) Emit(values ...any) error {
	return c.emit(router.NoDirect, values)
}

func (c *collector) EmitDirect(task int, values ...any) error {
	return c.emit(task, values)
}

func (c *collector) emit(direct int, values []any) error {
	out, err := c.r.route(values, direct, c.anchors)
	if err != nil {
		return err
	}
	for _, d := range out {
		c.xor ^= d.Tuple.ID
	}
	c.r.rt.metrics().Emitted.WithLabelValues(c.r.rt.id, c.r.stage.ID).Inc()
	for _, d := range out {
		c.r.rt.deliver(c.r.ctx, d)
	}
	return c.r.ctx.Err()
}

// route arma una entrega por cada tarea destino. Cada copia lleva un ID nuevo.
func (r *taskRunner) route(values []any, direct int, anchors []common.Anchor) ([]common.Delivery, error) {
	if n := len(r.stage.OutputFields); n > 0 && len(values) != n {
		return nil, fmt.Errorf("%w: stage %s declares %d fields, emitted %d", common.ErrProcessingFailed, r.stage.ID, n, len(values))
	}
	vals := append([]any(nil), values...)
	routes := r.rt.routes[r.stage.ID]
	var out []common.Delivery
	matched := 0
	for _, e := range routes {
		// Emit normal no usa aristas DIRECT; EmitDirect solo usa esas
		if (direct != router.NoDirect) != (e.grouping == common.GroupingDirect) {
			continue
		}
		matched++
		targets, err := e.router.Route(vals, direct)
		if err != nil {
			if direct != router.NoDirect {
				continue
			}
			return nil, fmt.Errorf("%w: %v", common.ErrProcessingFailed, err)
		}
		for _, target := range targets {
			out = append(out, common.Delivery{
				TopologyID: r.rt.id,
				SourceTask: r.taskID,
				TargetTask: target,
				Tuple: common.Tuple{
					ID:          common.NewID(),
					Anchors:     anchors,
					SourceStage: r.stage.ID,
					SourceTask:  r.taskID,
					Fields:      r.stage.OutputFields,
					Values:      vals,
				},
			})
		}
	}
	// Con aristas salientes, emitir sin destino perdería el registro
	if len(routes) > 0 && matched == 0 {
		return nil, fmt.Errorf("%w: stage %s has no outbound edge for this emit (direct=%t)", common.ErrProcessingFailed, r.stage.ID, direct != router.NoDirect)
	}
	if direct != router.NoDirect && len(out) == 0 {
		return nil, fmt.Errorf("%w: task %d is not a direct target of %s", common.ErrProcessingFailed, direct, r.stage.ID)
	}
	return out, nil
}

// ------------------------------------------
// SPOUT
// ------------------------------------------

type pendingRoot struct {
	msg     udf.Message
	replays int
}

type ackEvent struct {
	root  uint64
	cause error // nil = completada
}

// eventBuffer es un buzón sin límite: el acker nunca bloquea al spout ni al revés.
type eventBuffer struct {
	mu     sync.Mutex
	items  []ackEvent
	signal chan struct{}
}

func newEventBuffer() *eventBuffer {
	return &eventBuffer{signal: make(chan struct{}, 1)}
}

func (b *eventBuffer) push(ev ackEvent) {
	b.mu.Lock()
	b.items = append(b.items, ev)
	b.mu.Unlock()
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

func (b *eventBuffer) drain() []ackEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	items := b.items
	b.items = nil
	return items
}

type spoutExecutor struct {
	r       *taskRunner
	source  udf.Source
	events  *eventBuffer
	pending map[uint64]*pendingRoot
	replay  []*pendingRoot
	empty   int
}

func (r *taskRunner) runSpout() error {
	factory, err := udf.GetSourceFactory(r.stage.UDFName)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrFatalTask, err)
	}
	source, err := factory(r.stage.Args)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrFatalTask, err)
	}
	if p, ok := source.(udf.Preparer); ok {
		if err := p.Prepare(r.taskContext()); err != nil {
			return fmt.Errorf("%w: prepare: %v", common.ErrFatalTask, err)
		}
	}
	if c, ok := source.(udf.Cleaner); ok {
		defer c.Cleanup()
	}
	s := r.spout
	s.source = source
	defer r.cancel()

	for {
		if err := r.ctx.Err(); err != nil {
			return err
		}
		s.handleEvents()

		if len(s.replay) > 0 {
			p := s.replay[0]
			s.replay = s.replay[1:]
			s.emit(p)
			continue
		}

		if limit := r.rt.cfg.MaxSpoutPending; limit > 0 && len(s.pending) >= limit {
			s.waitEvents(0)
			continue
		}

		msg, ok, err := source.Next(r.ctx)
		switch {
		case err != nil:
			if r.ctx.Err() != nil {
				return r.ctx.Err()
			}
			r.logger.Printf("[Executor] Spout %d: error leyendo la fuente: %v", r.taskID, err)
			s.idle()
		case !ok:
			s.idle()
		default:
			s.empty = 0
			s.emit(&pendingRoot{msg: msg})
		}
	}
}

// idle aplica la espera progresiva: primero cede el procesador, luego duerme.
func (s *spoutExecutor) idle() {
	s.empty++
	if s.empty <= spinLimit {
		runtime.Gosched()
		return
	}
	s.waitEvents(idleSleep)
}

// waitEvents bloquea hasta un evento del acker, el fin de la tarea o d (0 = sin límite).
func (s *spoutExecutor) waitEvents(d time.Duration) {
	var timeout <-chan time.Time
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-s.events.signal:
	case <-s.r.ctx.Done():
	case <-timeout:
	}
}

// emit inyecta un mensaje como raíz nueva. El acker se inicializa con el XOR
// de las copias antes de entregarlas, así ningún ack llega antes que la raíz.
func (s *spoutExecutor) emit(p *pendingRoot) {
	r := s.r
	m := r.rt.metrics()
	if p.msg.ID == "" {
		out, err := r.route(p.msg.Values, router.NoDirect, nil)
		if err != nil {
			r.logger.Printf("[Executor] Spout %d: %v", r.taskID, err)
			return
		}
		m.Emitted.WithLabelValues(r.rt.id, r.stage.ID).Inc()
		for _, d := range out {
			r.rt.deliver(r.ctx, d)
		}
		return
	}

	root := common.NewID()
	out, err := r.route(p.msg.Values, router.NoDirect, []common.Anchor{{Root: root, SpoutTask: r.taskID}})
	if err != nil {
		r.logger.Printf("[Executor] Spout %d: mensaje %s invalido: %v", r.taskID, p.msg.ID, err)
		s.source.Fail(p.msg.ID)
		return
	}
	var xor uint64
	for _, d := range out {
		xor ^= d.Tuple.ID
	}
	s.pending[root] = p
	r.rt.acker.Init(root, r.taskID, xor)
	m.Emitted.WithLabelValues(r.rt.id, r.stage.ID).Inc()
	for _, d := range out {
		r.rt.deliver(r.ctx, d)
	}
}

// handleEvents aplica completaciones y fallos reportados por el acker.
func (s *spoutExecutor) handleEvents() {
	r := s.r
	m := r.rt.metrics()
	for _, ev := range s.events.drain() {
		p, ok := s.pending[ev.root]
		if !ok {
			continue
		}
		delete(s.pending, ev.root)

		if ev.cause == nil {
			s.source.Ack(p.msg.ID)
			m.Completed.WithLabelValues(r.rt.id).Inc()
			continue
		}
		if p.replays < r.rt.cfg.MaxReplays {
			p.replays++
			m.Replayed.WithLabelValues(r.rt.id).Inc()
			r.logger.Printf("[Executor] Spout %d: reintento %d/%d del mensaje %s (%v)", r.taskID, p.replays, r.rt.cfg.MaxReplays, p.msg.ID, ev.cause)
			s.replay = append(s.replay, p)
			continue
		}
		m.DeadLettered.WithLabelValues(r.rt.id).Inc()
		if dl := r.rt.w.deadLetter; dl != nil {
			dl.DeadLetter(r.rt.id, p.msg, ev.cause)
		}
		s.source.Fail(p.msg.ID)
	}
}
