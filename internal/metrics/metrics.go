package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ministorm"

// Metrics agrupa los colectores del motor. Una instancia por registro;
// los workers de un LocalCluster comparten la misma.
type Metrics struct {
	registry *prometheus.Registry

	Emitted      *prometheus.CounterVec // topology, stage
	Acked        *prometheus.CounterVec // topology, stage
	Failed       *prometheus.CounterVec // topology, stage
	Completed    *prometheus.CounterVec // topology (raíces completas)
	Replayed     *prometheus.CounterVec // topology
	DeadLettered *prometheus.CounterVec // topology
	Dropped      *prometheus.CounterVec // topology, reason
	QueueDepth   *prometheus.GaugeVec   // topology, task
	TaskDeaths   *prometheus.CounterVec // topology, stage

	WorkerTransitions *prometheus.CounterVec // state
	WorkersByState    *prometheus.GaugeVec   // state
	Epoch             prometheus.Gauge
	Topologies        prometheus.Gauge
	Submissions       *prometheus.CounterVec // result
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tuples_emitted_total", Help: "Registros emitidos por etapa.",
		}, []string{"topology", "stage"}),
		Acked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tuples_acked_total", Help: "Registros confirmados por etapa.",
		}, []string{"topology", "stage"}),
		Failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tuples_failed_total", Help: "Registros fallidos por etapa.",
		}, []string{"topology", "stage"}),
		Completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "roots_completed_total", Help: "Raices procesadas por completo.",
		}, []string{"topology"}),
		Replayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "roots_replayed_total", Help: "Raices reemitidas por fallo o timeout.",
		}, []string{"topology"}),
		DeadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "roots_dead_lettered_total", Help: "Raices que agotaron maxReplays.",
		}, []string{"topology"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tuples_dropped_total", Help: "Entregas perdidas (se recuperan por replay).",
		}, []string{"topology", "reason"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "queue_depth", Help: "Registros en las colas de entrada de una tarea.",
		}, []string{"topology", "task"}),
		TaskDeaths: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "task_deaths_total", Help: "Tareas marcadas muertas por error fatal.",
		}, []string{"topology", "stage"}),
		WorkerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "worker_transitions_total", Help: "Transiciones de estado de workers.",
		}, []string{"state"}),
		WorkersByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "workers", Help: "Workers por estado.",
		}, []string{"state"}),
		Epoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "assignment_epoch", Help: "Epoch global de asignaciones.",
		}),
		Topologies: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "topologies", Help: "Topologias en ejecucion.",
		}),
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "submissions_total", Help: "Envios de topologias por resultado.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.Emitted, m.Acked, m.Failed, m.Completed, m.Replayed, m.DeadLettered, m.Dropped,
		m.QueueDepth, m.TaskDeaths, m.WorkerTransitions, m.WorkersByState, m.Epoch, m.Topologies,
		m.Submissions,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler expone el registro en formato Prometheus (/metrics).
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
