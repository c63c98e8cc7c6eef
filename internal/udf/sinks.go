package udf

import (
	"log"

	"mini-storm/internal/common"
)

// LogSink imprime cada registro final.
type LogSink struct {
	Logger *log.Logger
}

func (s LogSink) Write(topology, stage string, task int, t common.Tuple) error {
	logger := s.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("[Sink %s/%s#%d] %v", topology, stage, task, t.Values)
	return nil
}

// LogDeadLetter registra los mensajes descartados.
type LogDeadLetter struct {
	Logger *log.Logger
}

func (d LogDeadLetter) DeadLetter(topology string, msg Message, cause error) {
	logger := d.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("[DeadLetter %s] mensaje %s %v descartado: %v", topology, msg.ID, msg.Values, cause)
}
