package common

import "sort"

// Assignment es el mapa TaskID -> WorkerID de una topología.
// Solo el Coordinator lo modifica; cada cambio lleva un epoch nuevo.
type Assignment struct {
	TopologyID string         `json:"topology_id"`
	Epoch      uint64         `json:"epoch"`
	Tasks      map[int]string `json:"tasks"`
}

func (a Assignment) Clone() Assignment {
	tasks := make(map[int]string, len(a.Tasks))
	for k, v := range a.Tasks {
		tasks[k] = v
	}
	return Assignment{TopologyID: a.TopologyID, Epoch: a.Epoch, Tasks: tasks}
}

// TasksOf devuelve, ordenadas, las tareas asignadas a un worker.
func (a Assignment) TasksOf(workerID string) []int {
	var ids []int
	for task, w := range a.Tasks {
		if w == workerID {
			ids = append(ids, task)
		}
	}
	sort.Ints(ids)
	return ids
}

// Workers devuelve los workers con al menos una tarea, ordenados.
func (a Assignment) Workers() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, w := range a.Tasks {
		if w != "" && !seen[w] {
			seen[w] = true
			ids = append(ids, w)
		}
	}
	sort.Strings(ids)
	return ids
}

// Unassigned devuelve las tareas sin worker.
func (a Assignment) Unassigned() []int {
	var ids []int
	for task, w := range a.Tasks {
		if w == "" {
			ids = append(ids, task)
		}
	}
	sort.Ints(ids)
	return ids
}
