package common

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Opciones reconocidas en el mapa de configuración de una topología
const (
	ConfNumWorkers          = "numWorkers"
	ConfAckTimeoutMs        = "ackTimeoutMs"
	ConfMaxReplays          = "maxReplays"
	ConfQueueCapacity       = "queueCapacity"
	ConfHeartbeatIntervalMs = "heartbeatIntervalMs"
	ConfMaxSpoutPending     = "maxSpoutPending"
	ConfAllowColocation     = "allowColocation"
)

type TopologyConfig struct {
	NumWorkers          int  `json:"num_workers"`
	AckTimeoutMs        int  `json:"ack_timeout_ms"`
	MaxReplays          int  `json:"max_replays"`
	QueueCapacity       int  `json:"queue_capacity"`
	HeartbeatIntervalMs int  `json:"heartbeat_interval_ms"`
	MaxSpoutPending     int  `json:"max_spout_pending"` // 0 = sin limite
	AllowColocation     bool `json:"allow_colocation"`  // Permite tareas de la misma etapa en un worker
}

func DefaultConfig() TopologyConfig {
	return TopologyConfig{
		NumWorkers:          1,
		AckTimeoutMs:        30000,
		MaxReplays:          3,
		QueueCapacity:       1024,
		HeartbeatIntervalMs: 1000,
	}
}

// ParseConfig aplica las opciones del mapa sobre los valores por defecto.
// Claves desconocidas o valores inválidos se rechazan.
func ParseConfig(m map[string]string) (TopologyConfig, error) {
	c := DefaultConfig()

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys) // Mensajes de error deterministas

	for _, k := range keys {
		v := m[k]
		var err error
		switch k {
		case ConfNumWorkers:
			c.NumWorkers, err = strconv.Atoi(v)
		case ConfAckTimeoutMs:
			c.AckTimeoutMs, err = strconv.Atoi(v)
		case ConfMaxReplays:
			c.MaxReplays, err = strconv.Atoi(v)
		case ConfQueueCapacity:
			c.QueueCapacity, err = strconv.Atoi(v)
		case ConfHeartbeatIntervalMs:
			c.HeartbeatIntervalMs, err = strconv.Atoi(v)
		case ConfMaxSpoutPending:
			c.MaxSpoutPending, err = strconv.Atoi(v)
		case ConfAllowColocation:
			c.AllowColocation, err = strconv.ParseBool(v)
		default:
			return c, fmt.Errorf("%w: unknown option %q", ErrInvalidConfig, k)
		}
		if err != nil {
			return c, fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, k, v, err)
		}
	}
	return c, c.Validate()
}

func (c TopologyConfig) Validate() error {
	switch {
	case c.NumWorkers < 1:
		return fmt.Errorf("%w: %s must be >= 1", ErrInvalidConfig, ConfNumWorkers)
	case c.AckTimeoutMs <= 0:
		return fmt.Errorf("%w: %s must be > 0", ErrInvalidConfig, ConfAckTimeoutMs)
	case c.MaxReplays < 0:
		return fmt.Errorf("%w: %s must be >= 0", ErrInvalidConfig, ConfMaxReplays)
	case c.QueueCapacity < 1:
		return fmt.Errorf("%w: %s must be >= 1", ErrInvalidConfig, ConfQueueCapacity)
	case c.HeartbeatIntervalMs <= 0:
		return fmt.Errorf("%w: %s must be > 0", ErrInvalidConfig, ConfHeartbeatIntervalMs)
	case c.MaxSpoutPending < 0:
		return fmt.Errorf("%w: %s must be >= 0", ErrInvalidConfig, ConfMaxSpoutPending)
	}
	return nil
}

func (c TopologyConfig) AckTimeout() time.Duration {
	return time.Duration(c.AckTimeoutMs) * time.Millisecond
}

func (c TopologyConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMs) * time.Millisecond
}
