package dag

import (
	"mini-storm/internal/common"
)

// Validate aplica las reglas de una topología ejecutable. Devuelve el primer problema.
func Validate(def common.TopologyDef) error {
	if def.Name == "" {
		return common.InvalidGraphf("topology name is empty")
	}
	if len(def.Stages) == 0 {
		return common.InvalidGraphf("topology %q has no stages", def.Name)
	}

	stages := make(map[string]common.StageDef, len(def.Stages))
	for _, s := range def.Stages {
		if s.ID == "" {
			return common.InvalidGraphf("stage with empty id")
		}
		if _, dup := stages[s.ID]; dup {
			return common.InvalidGraphf("duplicate stage %q", s.ID)
		}
		if s.Kind != common.KindSpout && s.Kind != common.KindBolt {
			return common.InvalidGraphf("stage %q: unknown kind %q", s.ID, s.Kind)
		}
		if s.Parallelism <= 0 {
			return common.InvalidGraphf("stage %q: parallelism must be positive, got %d", s.ID, s.Parallelism)
		}
		if s.UDFName == "" {
			return common.InvalidGraphf("stage %q: udf_name is empty", s.ID)
		}
		seen := make(map[string]bool)
		for _, f := range s.OutputFields {
			if f == "" || seen[f] {
				return common.InvalidGraphf("stage %q: invalid or duplicate output field %q", s.ID, f)
			}
			seen[f] = true
		}
		stages[s.ID] = s
	}

	inbound := make(map[string]int)
	edges := make(map[[2]string]bool)
	for _, e := range def.Edges {
		from, ok := stages[e.From]
		if !ok {
			return common.InvalidGraphf("edge %s->%s: unknown source stage", e.From, e.To)
		}
		to, ok := stages[e.To]
		if !ok {
			return common.InvalidGraphf("edge %s->%s: unknown target stage", e.From, e.To)
		}
		if to.Kind == common.KindSpout {
			return common.InvalidGraphf("edge %s->%s: a spout cannot have inbound edges", e.From, e.To)
		}
		// Source no elige tarea destino: un spout no puede emitir directo
		if from.Kind == common.KindSpout && e.Grouping == common.GroupingDirect {
			return common.InvalidGraphf("edge %s->%s: a spout cannot use direct grouping", e.From, e.To)
		}
		key := [2]string{e.From, e.To}
		if edges[key] {
			return common.InvalidGraphf("duplicate edge %s->%s", e.From, e.To)
		}
		edges[key] = true

		switch e.Grouping {
		case common.GroupingShuffle, common.GroupingAll, common.GroupingDirect, common.GroupingGlobal:
		case common.GroupingFields:
			if len(e.Fields) == 0 {
				return common.InvalidGraphf("edge %s->%s: fields grouping without fields", e.From, e.To)
			}
			for _, f := range e.Fields {
				if !contains(from.OutputFields, f) {
					return common.InvalidGraphf("edge %s->%s: field %q is not declared by stage %q", e.From, e.To, f, e.From)
				}
			}
		default:
			return common.InvalidGraphf("edge %s->%s: unknown grouping %q", e.From, e.To, e.Grouping)
		}
		inbound[e.To]++
	}

	for _, s := range def.Stages {
		if s.Kind == common.KindBolt && inbound[s.ID] == 0 {
			return common.InvalidGraphf("bolt %q has no inbound edge", s.ID)
		}
	}

	if _, ok := topoSort(def); !ok {
		return common.InvalidGraphf("topology %q contains a cycle", def.Name)
	}
	return nil
}

// topoSort ordena las etapas con Kahn, desempatando por orden de declaración.
// ok es false si hay un ciclo.
func topoSort(def common.TopologyDef) ([]string, bool) {
	indeg := make(map[string]int, len(def.Stages))
	next := make(map[string][]string)
	for _, s := range def.Stages {
		indeg[s.ID] = 0
	}
	for _, e := range def.Edges {
		indeg[e.To]++
		next[e.From] = append(next[e.From], e.To)
	}

	var order []string
	done := make(map[string]bool)
	for len(order) < len(def.Stages) {
		progressed := false
		for _, s := range def.Stages {
			if done[s.ID] || indeg[s.ID] > 0 {
				continue
			}
			done[s.ID] = true
			order = append(order, s.ID)
			for _, n := range next[s.ID] {
				indeg[n]--
			}
			progressed = true
		}
		if !progressed {
			return order, false
		}
	}
	return order, true
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
