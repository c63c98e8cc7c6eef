package router

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync/atomic"

	"mini-storm/internal/common"
)

// NoDirect indica que el emisor no eligió una tarea destino.
const NoDirect = -1

// Router decide que tareas de la etapa destino reciben un registro emitido por una arista.
type Router interface {
	Route(values []any, direct int) ([]int, error)
	Targets() []int
}

// New construye el router de una arista. sourceFields son los campos que declara
// la etapa origen y targets las tareas de la etapa destino.
func New(edge common.EdgeDef, sourceFields []string, targets []int) (Router, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("edge %s->%s has no target tasks", edge.From, edge.To)
	}
	sorted := append([]int(nil), targets...)
	sort.Ints(sorted)

	switch edge.Grouping {
	case common.GroupingShuffle:
		return &shuffleRouter{targets: sorted}, nil
	case common.GroupingFields:
		idx := make([]int, 0, len(edge.Fields))
		for _, f := range edge.Fields {
			i := indexOf(sourceFields, f)
			if i < 0 {
				return nil, fmt.Errorf("edge %s->%s: field %q not declared by source", edge.From, edge.To, f)
			}
			idx = append(idx, i)
		}
		return &fieldsRouter{targets: sorted, fieldIdx: idx}, nil
	case common.GroupingAll:
		return allRouter{targets: sorted}, nil
	case common.GroupingDirect:
		return directRouter{targets: sorted}, nil
	case common.GroupingGlobal:
		return globalRouter{targets: sorted}, nil
	default:
		return nil, fmt.Errorf("edge %s->%s: unknown grouping %q", edge.From, edge.To, edge.Grouping)
	}
}

// shuffleRouter reparte en round robin. Es el único router con estado.
type shuffleRouter struct {
	targets []int
	next    atomic.Uint64
}

func (r *shuffleRouter) Route(_ []any, _ int) ([]int, error) {
	n := r.next.Add(1) - 1
	return []int{r.targets[n%uint64(len(r.targets))]}, nil
}

func (r *shuffleRouter) Targets() []int { return r.targets }

type fieldsRouter struct {
	targets  []int
	fieldIdx []int
}

func (r *fieldsRouter) Route(values []any, _ int) ([]int, error) {
	key := make([]any, 0, len(r.fieldIdx))
	for _, i := range r.fieldIdx {
		if i >= len(values) {
			return nil, fmt.Errorf("tuple has %d values, grouping needs index %d", len(values), i)
		}
		key = append(key, values[i])
	}
	return []int{r.targets[FieldHash(key, len(r.targets))]}, nil
}

func (r *fieldsRouter) Targets() []int { return r.targets }

// FieldHash es el hash fnv32a de los valores, módulo n. Depende solo del contenido.
func FieldHash(values []any, n int) int {
	h := fnv.New32a()
	for _, v := range values {
		fmt.Fprint(h, v)
		h.Write([]byte{0})
	}
	return int(h.Sum32() % uint32(n))
}

type allRouter struct{ targets []int }

func (r allRouter) Route(_ []any, _ int) ([]int, error) {
	return append([]int(nil), r.targets...), nil
}

func (r allRouter) Targets() []int { return r.targets }

type directRouter struct{ targets []int }

func (r directRouter) Route(_ []any, direct int) ([]int, error) {
	if direct == NoDirect {
		return nil, fmt.Errorf("direct grouping requires an explicit target task")
	}
	if indexOfInt(r.targets, direct) < 0 {
		return nil, fmt.Errorf("task %d is not a target of this edge", direct)
	}
	return []int{direct}, nil
}

func (r directRouter) Targets() []int { return r.targets }

type globalRouter struct{ targets []int }

func (r globalRouter) Route(_ []any, _ int) ([]int, error) {
	return []int{r.targets[0]}, nil
}

func (r globalRouter) Targets() []int { return r.targets }

func indexOf(list []string, v string) int {
	for i, x := range list {
		if x == v {
			return i
		}
	}
	return -1
}

func indexOfInt(list []int, v int) int {
	for i, x := range list {
		if x == v {
			return i
		}
	}
	return -1
}
