package common

type TaskReport struct {
	TopologyID string `json:"topology_id"`
	TaskID     int    `json:"task_id"`
	WorkerID   string `json:"worker_id"`
	Status     string `json:"status"` // FAILED_FATAL o UNREACHABLE
	ErrorMsg   string `json:"error_msg"`
	Peer       string `json:"peer,omitempty"` // WorkerID inalcanzable (UNREACHABLE)
	Timestamp  int64  `json:"timestamp"`
}
