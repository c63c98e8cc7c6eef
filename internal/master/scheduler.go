package master

import (
	"fmt"
	"sort"

	"mini-storm/internal/common"
	"mini-storm/internal/dag"
)

// AssignOptions ajusta la asignación greedy.
type AssignOptions struct {
	// AllowColocation permite tareas de la misma etapa en un worker
	AllowColocation bool
	// Load son las tareas que cada worker ya hospeda de otras topologías
	Load map[string]int
	// Fixed son ubicaciones que se conservan (TaskID -> WorkerID)
	Fixed map[int]string
}

// Assign reparte las tareas del grafo entre workers: en orden de TaskID, cada tarea
// va al worker con menos carga, empate al de menor ID. Es determinista.
//
// Si una tarea no tiene worker elegible queda con "" en el resultado y se devuelve
// ErrInsufficientWorkers junto con la asignación parcial.
func Assign(g *dag.Graph, workers []string, opts AssignOptions) (map[int]string, error) {
	ids := append([]string(nil), workers...)
	sort.Strings(ids)

	load := make(map[string]int, len(ids))
	for _, id := range ids {
		load[id] = opts.Load[id]
	}
	// etapa -> workers que ya la hospedan
	hosting := make(map[string]map[string]bool)
	host := func(stage, worker string) {
		if hosting[stage] == nil {
			hosting[stage] = make(map[string]bool)
		}
		hosting[stage][worker] = true
	}

	result := make(map[int]string, g.NumTasks())
	for task, w := range opts.Fixed {
		if w == "" {
			continue
		}
		result[task] = w
		if st, ok := g.StageOf(task); ok {
			host(st.ID, w)
		}
		if _, known := load[w]; known {
			load[w]++
		}
	}

	var unplaced []int
	for task := 0; task < g.NumTasks(); task++ {
		if _, fixed := result[task]; fixed {
			continue
		}
		stage, _ := g.StageOf(task)
		best := ""
		for _, w := range ids {
			if !opts.AllowColocation && hosting[stage.ID][w] {
				continue
			}
			if best == "" || load[w] < load[best] {
				best = w
			}
		}
		result[task] = best
		if best == "" {
			unplaced = append(unplaced, task)
			continue
		}
		load[best]++
		host(stage.ID, best)
	}

	if len(unplaced) > 0 {
		return result, fmt.Errorf("%w: %d of %d tasks without an eligible worker (tasks %v, %d workers)",
			common.ErrInsufficientWorkers, len(unplaced), g.NumTasks(), unplaced, len(ids))
	}
	return result, nil
}
