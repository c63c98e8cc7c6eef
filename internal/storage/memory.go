package storage

import (
	"sort"
	"sync"
	"time"

	"mini-storm/internal/common"
	"mini-storm/internal/udf"
)

// TopologyStore guarda las topologías enviadas y los reportes de sus tareas.
type TopologyStore struct {
	mu          sync.RWMutex
	Topologies  map[string]*common.TopologyInfo
	TaskReports map[string][]common.TaskReport // TopologyID -> reportes
	byName      map[string]string             // Name -> TopologyID vigente
}

func NewTopologyStore() *TopologyStore {
	return &TopologyStore{
		Topologies:  make(map[string]*common.TopologyInfo),
		TaskReports: make(map[string][]common.TaskReport),
		byName:      make(map[string]string),
	}
}

// SaveTopology registra una topología. Falla si ya existe una viva con el mismo nombre.
func (s *TopologyStore) SaveTopology(info *common.TopologyInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byName[info.Name]; ok {
		if prev := s.Topologies[id]; prev != nil && prev.Status != common.TopologyStatusKilled {
			return common.ErrTopologyExists
		}
	}
	s.Topologies[info.ID] = info
	s.byName[info.Name] = info.ID
	return nil
}

func (s *TopologyStore) GetTopology(id string) *common.TopologyInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Topologies[id]
}

// Lookup acepta el ID o el nombre.
func (s *TopologyStore) Lookup(ref string) *common.TopologyInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if info, ok := s.Topologies[ref]; ok {
		return info
	}
	if id, ok := s.byName[ref]; ok {
		return s.Topologies[id]
	}
	return nil
}

// Update aplica fn bajo el lock de escritura.
func (s *TopologyStore) Update(id string, fn func(info *common.TopologyInfo)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.Topologies[id]
	if !ok {
		return false
	}
	fn(info)
	return true
}

func (s *TopologyStore) SetStatus(id, status string) bool {
	return s.Update(id, func(info *common.TopologyInfo) { info.Status = status })
}

// List devuelve copias ordenadas por fecha de envío.
func (s *TopologyStore) List() []common.TopologyInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]common.TopologyInfo, 0, len(s.Topologies))
	for _, info := range s.Topologies {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *TopologyStore) SaveTaskReport(report common.TaskReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TaskReports[report.TopologyID] = append(s.TaskReports[report.TopologyID], report)
}

func (s *TopologyStore) GetTaskReports(topologyID string) []common.TaskReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]common.TaskReport(nil), s.TaskReports[topologyID]...)
}

// Record es una fila escrita por un bolt final.
type Record struct {
	Topology string
	Stage    string
	Task     int // tarea del sink
	Source   int // tarea que emitió el registro
	Values   []any
	At       time.Time
}

// ResultStore es un udf.Sink en memoria.
type ResultStore struct {
	mu      sync.RWMutex
	records []Record
}

var _ udf.Sink = (*ResultStore)(nil)

func NewResultStore() *ResultStore { return &ResultStore{} }

func (r *ResultStore) Write(topology, stage string, task int, t common.Tuple) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, Record{
		Topology: topology,
		Stage:    stage,
		Task:     task,
		Source:   t.SourceTask,
		Values:   append([]any(nil), t.Values...),
		At:       time.Now(),
	})
	return nil
}

// Records devuelve las filas de una topología (todas si topology es vacío).
func (r *ResultStore) Records(topology string) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Record
	for _, rec := range r.records {
		if topology == "" || rec.Topology == topology {
			out = append(out, rec)
		}
	}
	return out
}

// LatestCounts interpreta filas (key, count) y devuelve el máximo por clave
// junto con las tareas que emitieron cada clave.
func (r *ResultStore) LatestCounts(topology string) (map[string]int64, map[string]map[int]bool) {
	counts := make(map[string]int64)
	writers := make(map[string]map[int]bool)
	for _, rec := range r.Records(topology) {
		if len(rec.Values) < 2 {
			continue
		}
		key := (common.Tuple{Values: rec.Values}).String(0)
		n, err := common.AsInt(rec.Values[1])
		if err != nil {
			continue
		}
		if n > counts[key] {
			counts[key] = n
		}
		if writers[key] == nil {
			writers[key] = make(map[int]bool)
		}
		writers[key][rec.Source] = true
	}
	return counts, writers
}

// DeadLetterEntry es un mensaje que agotó sus reintentos.
type DeadLetterEntry struct {
	Topology string
	Message  udf.Message
	Cause    string
	At       time.Time
}

// DeadLetterStore es un udf.DeadLetter en memoria.
type DeadLetterStore struct {
	mu      sync.RWMutex
	entries []DeadLetterEntry
}

var _ udf.DeadLetter = (*DeadLetterStore)(nil)

func NewDeadLetterStore() *DeadLetterStore { return &DeadLetterStore{} }

func (d *DeadLetterStore) DeadLetter(topology string, msg udf.Message, cause error) {
	entry := DeadLetterEntry{Topology: topology, Message: msg, At: time.Now()}
	if cause != nil {
		entry.Cause = cause.Error()
	}
	d.mu.Lock()
	d.entries = append(d.entries, entry)
	d.mu.Unlock()
}

func (d *DeadLetterStore) Entries(topology string) []DeadLetterEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []DeadLetterEntry
	for _, e := range d.entries {
		if topology == "" || e.Topology == topology {
			out = append(out, e)
		}
	}
	return out
}
