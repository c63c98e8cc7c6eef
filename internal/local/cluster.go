package local

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"mini-storm/internal/common"
	"mini-storm/internal/dag"
	"mini-storm/internal/master"
	"mini-storm/internal/metrics"
	"mini-storm/internal/storage"
	"mini-storm/internal/transport"
	"mini-storm/internal/worker"
)

// Options configura un Cluster en proceso.
type Options struct {
	Workers           int
	HeartbeatInterval time.Duration
	Logger            *log.Logger
}

// Cluster corre el Coordinator y varios workers en un solo proceso, conectados
// por una red en memoria. Los resultados y la dead letter quedan en memoria.
type Cluster struct {
	coord   *master.Coordinator
	master  worker.MasterClient
	net     *transport.LocalNetwork
	results *storage.ResultStore
	dead    *storage.DeadLetterStore
	offsets *storage.OffsetStore
	metrics *metrics.Metrics
	logger  *log.Logger

	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	group    *errgroup.Group

	mu      sync.Mutex
	workers map[string]*worker.Worker
	nextID  int
}

// directMaster entrega heartbeats y reportes al Coordinator sin pasar por HTTP.
type directMaster struct {
	c *master.Coordinator
}

func (d directMaster) Heartbeat(_ context.Context, hb common.Heartbeat) (common.HeartbeatResponse, error) {
	return d.c.Heartbeat(hb)
}

func (d directMaster) Report(_ context.Context, rep common.TaskReport) error {
	return d.c.Report(rep)
}

// NewCluster arranca el Coordinator y opts.Workers workers ya registrados.
func NewCluster(opts Options) (*Cluster, error) {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 100 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	m := metrics.New()
	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	c := &Cluster{
		coord: master.NewCoordinator(master.Options{
			HeartbeatInterval: opts.HeartbeatInterval,
			Metrics:           m,
			Logger:            opts.Logger,
		}),
		net:      transport.NewLocalNetwork(),
		results:  storage.NewResultStore(),
		dead:     storage.NewDeadLetterStore(),
		offsets:  storage.NewOffsetStore(),
		metrics:  m,
		logger:   opts.Logger,
		interval: opts.HeartbeatInterval,
		ctx:      ctx,
		cancel:   cancel,
		group:    group,
		workers:  make(map[string]*worker.Worker),
	}
	c.master = directMaster{c: c.coord}
	group.Go(func() error {
		c.coord.Start(ctx)
		return nil
	})
	for i := 0; i < opts.Workers; i++ {
		if _, err := c.AddWorker(); err != nil {
			c.Shutdown()
			return nil, err
		}
	}
	c.logger.Printf("[LocalCluster] Iniciado con %d workers", opts.Workers)
	return c, nil
}

func (c *Cluster) Coordinator() *master.Coordinator { return c.coord }

func (c *Cluster) Metrics() *metrics.Metrics { return c.metrics }

func (c *Cluster) Results() *storage.ResultStore { return c.results }

func (c *Cluster) DeadLetters() *storage.DeadLetterStore { return c.dead }

func (c *Cluster) Offsets() *storage.OffsetStore { return c.offsets }

// AddWorker agrega un worker y espera su primer heartbeat.
func (c *Cluster) AddWorker() (string, error) {
	c.mu.Lock()
	c.nextID++
	id := fmt.Sprintf("worker-%d", c.nextID)
	c.mu.Unlock()

	w := worker.New(worker.Options{
		ID:                id,
		Address:           id,
		Master:            c.master,
		Transport:         c.net,
		Metrics:           c.metrics,
		Sink:              c.results,
		DeadLetter:        c.dead,
		Offsets:           c.offsets,
		HeartbeatInterval: c.interval,
		Logger:            c.logger,
	})
	c.net.Register(id, w)
	if err := w.HeartbeatOnce(c.ctx); err != nil {
		c.net.Unregister(id)
		return "", fmt.Errorf("worker %s: %w", id, err)
	}
	w.Start(c.ctx)

	c.mu.Lock()
	c.workers[id] = w
	c.mu.Unlock()
	return id, nil
}

// Workers devuelve los IDs de los workers vivos, ordenados.
func (c *Cluster) Workers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.workers))
	for id := range c.workers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// KillWorker simula la caída de un worker: deja de recibir entregas y de enviar
// heartbeats. El Coordinator lo detecta por timeout.
func (c *Cluster) KillWorker(id string) error {
	c.mu.Lock()
	w, ok := c.workers[id]
	delete(c.workers, id)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown worker %s", id)
	}
	c.net.Unregister(id)
	c.logger.Printf("[LocalCluster] Worker %s detenido", id)
	return w.Shutdown()
}

// SubmitTopology envía la topología y aplica la asignación de inmediato. Los
// workers que solo hospedan bolts reciben la asignación antes que los que
// hospedan spouts.
func (c *Cluster) SubmitTopology(def common.TopologyDef, config map[string]string) (common.SubmitResponse, error) {
	resp, err := c.coord.Submit(common.SubmitRequest{Topology: def, Config: config})
	if err != nil {
		return resp, err
	}
	g, err := dag.Build(def)
	if err != nil {
		return resp, err
	}
	spoutHosts := make(map[string]bool)
	for task, wid := range resp.Tasks {
		if st, ok := g.StageOf(task); ok && st.Kind == common.KindSpout {
			spoutHosts[wid] = true
		}
	}
	ids := c.Workers()
	sort.SliceStable(ids, func(i, j int) bool { return !spoutHosts[ids[i]] && spoutHosts[ids[j]] })
	c.syncWorkers(ids)
	return resp, nil
}

// syncWorkers fuerza un heartbeat en cada worker, en el orden dado. Un fallo
// solo se registra: el ciclo periódico del worker vuelve a intentarlo.
func (c *Cluster) syncWorkers(ids []string) {
	for _, id := range ids {
		c.mu.Lock()
		w := c.workers[id]
		c.mu.Unlock()
		if w == nil {
			continue
		}
		if err := w.HeartbeatOnce(c.ctx); err != nil {
			c.logger.Printf("[LocalCluster] Error aplicando asignacion en %s: %v", id, err)
		}
	}
}

// KillTopology detiene la topología y la retira de los workers.
func (c *Cluster) KillTopology(name string) error {
	if err := c.coord.Kill(name); err != nil {
		return err
	}
	c.syncWorkers(c.Workers())
	return nil
}

// Shutdown detiene todos los workers y el Coordinator.
func (c *Cluster) Shutdown() error {
	c.mu.Lock()
	workers := c.workers
	c.workers = make(map[string]*worker.Worker)
	c.mu.Unlock()

	var g errgroup.Group
	for id, w := range workers {
		c.net.Unregister(id)
		g.Go(w.Shutdown)
	}
	err := g.Wait()
	c.cancel()
	if werr := c.group.Wait(); werr != nil && !errors.Is(werr, context.Canceled) {
		err = errors.Join(err, werr)
	}
	c.logger.Printf("[LocalCluster] Detenido")
	return err
}
