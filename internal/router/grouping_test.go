package router

import (
	"encoding/json"
	"fmt"
	"testing"

	"mini-storm/internal/common"
)

func targetsN(n int) []int {
	ids := make([]int, n)
	for i := range ids {
		ids[i] = 10 + i
	}
	return ids
}

func TestFieldsRouter_SameValueSameTask(t *testing.T) {
	edge := common.EdgeDef{From: "split", To: "count", Grouping: common.GroupingFields, Fields: []string{"word"}}

	for n := 1; n <= 8; n++ {
		t.Run(fmt.Sprintf("Tareas_%d", n), func(t *testing.T) {
			r, err := New(edge, []string{"word"}, targetsN(n))
			if err != nil {
				t.Fatal(err)
			}
			for _, w := range []string{"a", "b", "gato", "perro", ""} {
				first, err := r.Route([]any{w}, NoDirect)
				if err != nil {
					t.Fatal(err)
				}
				for i := 0; i < 20; i++ {
					got, _ := r.Route([]any{w}, NoDirect)
					if len(got) != 1 || got[0] != first[0] {
						t.Fatalf("Palabra %q enrutada a %v y luego a %v", w, first, got)
					}
				}
			}
		})
	}
}

func TestFieldsRouter_JSONRoundTripKeepsTarget(t *testing.T) {
	edge := common.EdgeDef{From: "a", To: "b", Grouping: common.GroupingFields, Fields: []string{"n"}}
	r, _ := New(edge, []string{"n"}, targetsN(5))

	direct, _ := r.Route([]any{42}, NoDirect)
	viaJSON, _ := r.Route([]any{json.Number("42")}, NoDirect)
	if direct[0] != viaJSON[0] {
		t.Errorf("El valor deberia caer en la misma tarea antes y despues de JSON: %v vs %v", direct, viaJSON)
	}
}

func TestFieldsRouter_MultipleFields(t *testing.T) {
	edge := common.EdgeDef{From: "a", To: "b", Grouping: common.GroupingFields, Fields: []string{"country", "city"}}
	r, err := New(edge, []string{"id", "city", "country"}, targetsN(4))
	if err != nil {
		t.Fatal(err)
	}
	x, _ := r.Route([]any{1, "Madrid", "ES"}, NoDirect)
	y, _ := r.Route([]any{2, "Madrid", "ES"}, NoDirect)
	if x[0] != y[0] {
		t.Errorf("Mismos campos de agrupamiento deberian ir a la misma tarea: %v vs %v", x, y)
	}

	if _, err := New(common.EdgeDef{Grouping: common.GroupingFields, Fields: []string{"ghost"}}, []string{"id"}, targetsN(2)); err == nil {
		t.Error("Se esperaba error por campo no declarado")
	}
}

func TestShuffleRouter_RoundRobin(t *testing.T) {
	r, _ := New(common.EdgeDef{Grouping: common.GroupingShuffle}, nil, targetsN(3))
	counts := make(map[int]int)
	for i := 0; i < 30; i++ {
		got, _ := r.Route([]any{"x"}, NoDirect)
		counts[got[0]]++
	}
	for _, task := range targetsN(3) {
		if counts[task] != 10 {
			t.Errorf("Tarea %d recibio %d registros, esperaba 10", task, counts[task])
		}
	}
}

func TestRouters(t *testing.T) {
	targets := targetsN(3)
	tests := []struct {
		name      string
		grouping  string
		direct    int
		expected  []int
		expectErr bool
	}{
		{name: "ALL_Broadcast", grouping: common.GroupingAll, direct: NoDirect, expected: targets},
		{name: "GLOBAL_PrimeraTarea", grouping: common.GroupingGlobal, direct: NoDirect, expected: []int{10}},
		{name: "DIRECT_TareaValida", grouping: common.GroupingDirect, direct: 11, expected: []int{11}},
		{name: "DIRECT_SinDestino", grouping: common.GroupingDirect, direct: NoDirect, expectErr: true},
		{name: "DIRECT_TareaAjena", grouping: common.GroupingDirect, direct: 99, expectErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := New(common.EdgeDef{Grouping: tt.grouping}, nil, []int{12, 10, 11})
			if err != nil {
				t.Fatal(err)
			}
			got, err := r.Route([]any{"v"}, tt.direct)
			if (err != nil) != tt.expectErr {
				t.Fatalf("Se esperaba error=%t, obtuvo %v", tt.expectErr, err)
			}
			if tt.expectErr {
				return
			}
			if fmt.Sprint(got) != fmt.Sprint(tt.expected) {
				t.Errorf("Destinos incorrectos. Esperado %v, obtenido %v", tt.expected, got)
			}
		})
	}
}

func TestNew_NoTargets(t *testing.T) {
	if _, err := New(common.EdgeDef{Grouping: common.GroupingShuffle}, nil, nil); err == nil {
		t.Error("Se esperaba error sin tareas destino")
	}
}
