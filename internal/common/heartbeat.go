package common

type Heartbeat struct {
	WorkerID      string `json:"worker_id"`
	Address       string `json:"address"` // Direccion del transporte de datos (gRPC o red local)
	Status        string `json:"status"`
	ActiveTasks   int    `json:"active_tasks"`
	Epoch         uint64 `json:"epoch"`          // Ultimo epoch aplicado por el worker
	LastHeartbeat int64  `json:"last_heartbeat"` // Timestamp en milisegundos
}

// HeartbeatResponse lleva las asignaciones vigentes del worker.
// Una topología ausente de la lista significa que el worker debe detener sus tareas.
type HeartbeatResponse struct {
	Epoch       uint64             `json:"epoch"`
	State       string             `json:"state"`
	Assignments []WorkerAssignment `json:"assignments"`
}

// WorkerAssignment contiene todo lo que un worker necesita para ejecutar y enrutar
// las tareas de una topología.
type WorkerAssignment struct {
	TopologyID string            `json:"topology_id"`
	Epoch      uint64            `json:"epoch"`
	Topology   TopologyDef       `json:"topology"`
	Config     TopologyConfig    `json:"config"`
	Tasks      map[int]string    `json:"tasks"`     // TaskID -> WorkerID (mapa completo)
	Addresses  map[string]string `json:"addresses"` // WorkerID -> Address
}
