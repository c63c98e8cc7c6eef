package common

// Delivery es un registro en tránsito entre dos tareas.
type Delivery struct {
	TopologyID string `json:"topology_id"`
	Epoch      uint64 `json:"epoch"`
	SourceTask int    `json:"source_task"`
	TargetTask int    `json:"target_task"`
	Tuple      Tuple  `json:"tuple"`
}

// AckMessage actualiza el checksum de una raíz en el acker del spout que la emitió.
// Xor combina el ID del registro procesado con los IDs de sus hijos.
type AckMessage struct {
	TopologyID string `json:"topology_id"`
	Root       uint64 `json:"root"`
	SpoutTask  int    `json:"spout_task"`
	Xor        uint64 `json:"xor"`
	Fail       bool   `json:"fail,omitempty"`
	Reason     string `json:"reason,omitempty"`
}
