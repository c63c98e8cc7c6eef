package common

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// Anchor liga un registro con la raíz que lo originó y el spout que la emitió.
type Anchor struct {
	Root      uint64 `json:"root"`
	SpoutTask int    `json:"spout_task"`
}

// Tuple es la unidad de datos que fluye entre etapas. Es inmutable una vez emitida.
type Tuple struct {
	ID          uint64   `json:"id"`
	Anchors     []Anchor `json:"anchors,omitempty"`
	SourceStage string   `json:"source_stage"`
	SourceTask  int      `json:"source_task"`
	Fields      []string `json:"fields,omitempty"`
	Values      []any    `json:"values"`
}

// NewID genera un identificador aleatorio de 64 bits distinto de cero.
// El cero está reservado: es el valor del checksum de una raíz completa.
func NewID() uint64 {
	for {
		u := uuid.New()
		if id := binary.BigEndian.Uint64(u[:8]); id != 0 {
			return id
		}
	}
}

func (t Tuple) Len() int { return len(t.Values) }

func (t Tuple) Value(i int) any {
	if i < 0 || i >= len(t.Values) {
		return nil
	}
	return t.Values[i]
}

// FieldIndex devuelve la posición de un campo o -1.
func (t Tuple) FieldIndex(name string) int {
	for i, f := range t.Fields {
		if f == name {
			return i
		}
	}
	return -1
}

func (t Tuple) ValueByField(name string) (any, bool) {
	i := t.FieldIndex(name)
	if i < 0 || i >= len(t.Values) {
		return nil, false
	}
	return t.Values[i], true
}

// String devuelve el valor i como texto.
func (t Tuple) String(i int) string {
	v := t.Value(i)
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Int devuelve el valor i como entero. Tolera valores que pasaron por JSON.
func (t Tuple) Int(i int) (int64, error) {
	return AsInt(t.Value(i))
}

func AsInt(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint32:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case json.Number:
		return n.Int64()
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("value %v (%T) is not an integer", v, v)
	}
}
