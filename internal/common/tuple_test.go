package common

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNewID_NonZeroAndDistinct(t *testing.T) {
	seen := make(map[uint64]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		if id == 0 {
			t.Fatal("NewID devolvio cero")
		}
		if seen[id] {
			t.Fatalf("ID repetido: %d", id)
		}
		seen[id] = true
	}
}

func TestTuple_Accessors(t *testing.T) {
	tp := Tuple{Fields: []string{"word", "count"}, Values: []any{"a", int64(2)}}

	if v, ok := tp.ValueByField("count"); !ok || v != int64(2) {
		t.Errorf("ValueByField inesperado: %v %v", v, ok)
	}
	if _, ok := tp.ValueByField("nope"); ok {
		t.Error("Campo inexistente encontrado")
	}
	if tp.Value(5) != nil || tp.String(5) != "" {
		t.Error("Indice fuera de rango deberia devolver vacio")
	}
	if n, err := tp.Int(1); err != nil || n != 2 {
		t.Errorf("Int inesperado: %d %v", n, err)
	}
	if _, err := tp.Int(0); err == nil {
		t.Error("Esperaba error al convertir texto no numerico")
	}
}

func TestTuple_SurvivesJSON(t *testing.T) {
	in := Tuple{ID: NewID(), Anchors: []Anchor{{Root: 42, SpoutTask: 1}}, Values: []any{"a", int64(7)}}
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var out Tuple
	if err := dec.Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.ID != in.ID || out.Anchors[0] != in.Anchors[0] {
		t.Errorf("Metadatos perdidos: %+v", out)
	}
	if n, err := out.Int(1); err != nil || n != 7 {
		t.Errorf("Esperaba 7, obtuvo %d (%v)", n, err)
	}
}
