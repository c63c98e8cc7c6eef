package dag

import (
	"sort"

	"mini-storm/internal/common"
)

// Graph es el handle inmutable de una topología validada.
// Los IDs de tarea son densos y se asignan en el orden de declaración de las etapas.
type Graph struct {
	def       common.TopologyDef
	stages    map[string]common.StageDef
	order     []string // orden topológico
	inbound   map[string][]common.EdgeDef
	outbound  map[string][]common.EdgeDef
	firstTask map[string]int
	taskStage []string
}

// Build valida la definición y construye el grafo. Es la operación submit(graph):
// cualquier problema se reporta como *common.InvalidGraphError.
func Build(def common.TopologyDef) (*Graph, error) {
	if err := Validate(def); err != nil {
		return nil, err
	}

	g := &Graph{
		def:       cloneDef(def),
		stages:    make(map[string]common.StageDef, len(def.Stages)),
		inbound:   make(map[string][]common.EdgeDef),
		outbound:  make(map[string][]common.EdgeDef),
		firstTask: make(map[string]int, len(def.Stages)),
	}
	for _, s := range g.def.Stages {
		g.stages[s.ID] = s
		g.firstTask[s.ID] = len(g.taskStage)
		for i := 0; i < s.Parallelism; i++ {
			g.taskStage = append(g.taskStage, s.ID)
		}
	}
	for _, e := range g.def.Edges {
		g.outbound[e.From] = append(g.outbound[e.From], e)
		g.inbound[e.To] = append(g.inbound[e.To], e)
	}
	g.order, _ = topoSort(g.def)
	return g, nil
}

func (g *Graph) Name() string { return g.def.Name }

// Def devuelve una copia de la definición original.
func (g *Graph) Def() common.TopologyDef { return cloneDef(g.def) }

// Stages devuelve las etapas en orden topológico.
func (g *Graph) Stages() []common.StageDef {
	out := make([]common.StageDef, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.stages[id])
	}
	return out
}

func (g *Graph) Stage(id string) (common.StageDef, bool) {
	s, ok := g.stages[id]
	return s, ok
}

func (g *Graph) Inbound(stageID string) []common.EdgeDef {
	return append([]common.EdgeDef(nil), g.inbound[stageID]...)
}

func (g *Graph) Outbound(stageID string) []common.EdgeDef {
	return append([]common.EdgeDef(nil), g.outbound[stageID]...)
}

func (g *Graph) NumTasks() int { return len(g.taskStage) }

// Tasks devuelve los IDs de tarea de una etapa.
func (g *Graph) Tasks(stageID string) []int {
	s, ok := g.stages[stageID]
	if !ok {
		return nil
	}
	first := g.firstTask[stageID]
	ids := make([]int, s.Parallelism)
	for i := range ids {
		ids[i] = first + i
	}
	return ids
}

// StageOf devuelve la etapa a la que pertenece una tarea.
func (g *Graph) StageOf(task int) (common.StageDef, bool) {
	if task < 0 || task >= len(g.taskStage) {
		return common.StageDef{}, false
	}
	return g.stages[g.taskStage[task]], true
}

// TaskIndex es la posición de la tarea dentro de su etapa (0..parallelism-1).
func (g *Graph) TaskIndex(task int) int {
	s, ok := g.StageOf(task)
	if !ok {
		return -1
	}
	return task - g.firstTask[s.ID]
}

// UpstreamTasks devuelve las tareas que pueden enviar registros a la etapa.
func (g *Graph) UpstreamTasks(stageID string) []int {
	var ids []int
	for _, e := range g.inbound[stageID] {
		ids = append(ids, g.Tasks(e.From)...)
	}
	sort.Ints(ids)
	return ids
}

func cloneDef(def common.TopologyDef) common.TopologyDef {
	out := common.TopologyDef{Name: def.Name}
	for _, s := range def.Stages {
		c := s
		c.OutputFields = append([]string(nil), s.OutputFields...)
		if s.Args != nil {
			c.Args = make(map[string]string, len(s.Args))
			for k, v := range s.Args {
				c.Args[k] = v
			}
		}
		out.Stages = append(out.Stages, c)
	}
	for _, e := range def.Edges {
		c := e
		c.Fields = append([]string(nil), e.Fields...)
		out.Edges = append(out.Edges, c)
	}
	return out
}
