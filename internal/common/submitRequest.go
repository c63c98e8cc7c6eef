package common

import "time"

type SubmitRequest struct {
	Topology TopologyDef       `json:"topology"`
	Config   map[string]string `json:"config"` // Ej: {"numWorkers": "2", "ackTimeoutMs": "5000"}
}

type SubmitResponse struct {
	TopologyID string         `json:"topology_id,omitempty"`
	Name       string         `json:"name,omitempty"`
	Status     string         `json:"status"`
	Epoch      uint64         `json:"epoch,omitempty"`
	Tasks      map[int]string `json:"tasks,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// TopologyInfo es el registro persistido de una topología enviada.
type TopologyInfo struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Status      string         `json:"status"`
	Epoch       uint64         `json:"epoch"`
	Topology    TopologyDef    `json:"topology"`
	Config      TopologyConfig `json:"config"`
	Tasks       map[int]string `json:"tasks"`
	SubmittedAt time.Time      `json:"submitted_at"`
}
