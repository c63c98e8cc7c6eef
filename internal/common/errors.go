package common

import (
	"errors"
	"fmt"
)

// InvalidGraphError se devuelve al enviar una topología que no pasa la validación.
// Nunca se reintenta y es el único error que llega directamente al cliente.
type InvalidGraphError struct {
	Reason string
}

func (e *InvalidGraphError) Error() string {
	return "invalid topology: " + e.Reason
}

func InvalidGraphf(format string, args ...any) error {
	return &InvalidGraphError{Reason: fmt.Sprintf(format, args...)}
}

var (
	// ErrProcessingFailed: fallo recuperable de un registro, dispara replay de su raíz.
	ErrProcessingFailed = errors.New("processing failed")
	// ErrFatalTask: la tarea queda muerta y el Coordinator la reasigna.
	ErrFatalTask = errors.New("fatal task error")
	// ErrWorkerUnreachable: fallo de transporte hacia otro worker.
	ErrWorkerUnreachable = errors.New("worker unreachable")
	// ErrAckTimeout: la raíz no se completo dentro de ackTimeout.
	ErrAckTimeout = errors.New("ack timeout")

	ErrStaleAssignment     = errors.New("stale assignment")
	ErrUnknownTopology     = errors.New("unknown topology")
	ErrTopologyExists      = errors.New("topology already running")
	ErrInsufficientWorkers = errors.New("insufficient workers")
	ErrInvalidConfig       = errors.New("invalid config")
)

// IsInvalidGraph indica si err (o alguno que envuelve) es un InvalidGraphError.
func IsInvalidGraph(err error) bool {
	var ig *InvalidGraphError
	return errors.As(err, &ig)
}
