package common

// --- Constantes del motor (tipos de componentes, agrupamientos y estados) ---

// Tipos de componentes (StageDef.Kind)
const (
	KindSpout = "SPOUT" // Inyecta registros externos en la topología
	KindBolt  = "BOLT"  // Consume y/o emite registros
)

// Estrategias de agrupamiento (EdgeDef.Grouping)
const (
	GroupingShuffle = "SHUFFLE" // Round robin entre las tareas destino
	GroupingFields  = "FIELDS"  // Hash de los campos indicados
	GroupingAll     = "ALL"     // Broadcast a todas las tareas destino
	GroupingDirect  = "DIRECT"  // El emisor elige la tarea destino
	GroupingGlobal  = "GLOBAL"  // Siempre la primera tarea de la etapa destino
)

// Estados de un Worker en el registro del Coordinator
const (
	WorkerStateStarting  = "STARTING"
	WorkerStateActive    = "ACTIVE"
	WorkerStateSuspected = "SUSPECTED"
	WorkerStateDead      = "DEAD"
)

// Estados que el Worker reporta en su Heartbeat
const (
	WorkerStatusIdle = "IDLE"
	WorkerStatusBusy = "BUSY"
)

// Estados de un TaskReport
const (
	TaskStatusFatal       = "FAILED_FATAL" // La unidad de proceso falló de forma irrecuperable
	TaskStatusUnreachable = "UNREACHABLE"  // No se pudo contactar a otro worker (Peer)
)

// Estados de una topología
const (
	TopologyStatusActive   = "ACTIVE"
	TopologyStatusDegraded = "DEGRADED" // Hay tareas sin worker asignado
	TopologyStatusKilled   = "KILLED"
)
