package udf

import (
	"context"
	"fmt"
	"log"

	"mini-storm/internal/common"
)

// Message es un registro externo que entrega una Source.
// ID vacío significa registro sin seguimiento (no se confirma ni se reemite).
type Message struct {
	ID     string `json:"id"`
	Values []any  `json:"values"`
}

// Source es el colaborador de entrada de un spout.
// Next devuelve ok=false cuando no hay registros por ahora.
type Source interface {
	Next(ctx context.Context) (msg Message, ok bool, err error)
	Ack(id string)
	Fail(id string)
}

// Bolt procesa un registro por vez. Devolver nil confirma la entrada; cualquier
// error la falla (replay de sus raíces) salvo que envuelva common.ErrFatalTask,
// que junto con un panic deja la tarea muerta.
type Bolt interface {
	Process(in common.Tuple, out Emitter) error
}

// Emitter emite registros anclados al registro que se está procesando.
type Emitter interface {
	Emit(values ...any) error
	EmitDirect(task int, values ...any) error
}

// Preparer es opcional: se llama una vez al iniciar la tarea.
type Preparer interface {
	Prepare(tc TaskContext) error
}

// Cleaner es opcional: se llama al detener la tarea.
type Cleaner interface {
	Cleanup()
}

// Sink es el colaborador de salida de los bolts finales.
type Sink interface {
	Write(topology, stage string, task int, t common.Tuple) error
}

// DeadLetter recibe los mensajes que agotaron maxReplays.
type DeadLetter interface {
	DeadLetter(topology string, msg Message, cause error)
}

// Offsets guarda el avance confirmado de una Source por (topología, etapa, índice)
// para que una instancia reubicada retome desde ahí.
type Offsets interface {
	Load(topology, stage string, index int) (offset int, ok bool)
	Commit(topology, stage string, index int, offset int) error
}

// TaskContext describe la tarea que ejecuta una unidad de proceso.
type TaskContext struct {
	Ctx         context.Context
	Topology    string
	StageID     string
	TaskID      int
	TaskIndex   int
	Parallelism int
	Args        map[string]string
	Sink        Sink
	Offsets     Offsets
	Logger      *log.Logger
}

// Failed construye un error recuperable de registro.
func Failed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", common.ErrProcessingFailed, fmt.Sprintf(format, args...))
}

// Fatal envuelve err como error fatal de tarea.
func Fatal(err error) error {
	return fmt.Errorf("%w: %v", common.ErrFatalTask, err)
}
