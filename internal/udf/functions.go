package udf

import (
	"fmt"
	"sync"

	"mini-storm/internal/common"
)

// SourceFactory y BoltFactory crean una instancia aislada por tarea:
// las tareas hermanas nunca comparten estado mutable.
type SourceFactory func(args map[string]string) (Source, error)
type BoltFactory func(args map[string]string) (Bolt, error)

var registryMu sync.RWMutex

var UDFRegistry = map[string]interface{}{
	"static_words":     SourceFactory(newStaticWords),
	"line_file":        SourceFactory(newLineFile),
	"random_sentence":  SourceFactory(newRandomSentence),
	"split_sentence":   BoltFactory(newSplitSentence),
	"word_count":       BoltFactory(newWordCount),
	"histogram_global": BoltFactory(newHistogramGlobal),
	"to_uppercase":     BoltFactory(newToUppercase),
	"not_empty":        BoltFactory(newNotEmpty),
	"identity":         BoltFactory(newIdentity),
	"sink":             BoltFactory(newSinkBolt),
}

// Register agrega (o reemplaza) una unidad de proceso. Pensado para binarios
// y tests que traen sus propias UDFs sin tocar el código base.
func Register(name string, factory interface{}) {
	switch factory.(type) {
	case SourceFactory, BoltFactory:
	default:
		panic(fmt.Sprintf("udf %s: factory type %T not supported", name, factory))
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	UDFRegistry[name] = factory
}

// Helpers para obtener funciones con cast seguro
func GetSourceFactory(name string) (SourceFactory, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if fn, ok := UDFRegistry[name].(SourceFactory); ok {
		return fn, nil
	}
	return nil, fmt.Errorf("source %s not found", name)
}

func GetBoltFactory(name string) (BoltFactory, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if fn, ok := UDFRegistry[name].(BoltFactory); ok {
		return fn, nil
	}
	return nil, fmt.Errorf("bolt %s not found", name)
}

// Exists verifica que la UDF exista para el tipo de etapa.
func Exists(kind, name string) error {
	switch kind {
	case common.KindSpout:
		_, err := GetSourceFactory(name)
		return err
	case common.KindBolt:
		_, err := GetBoltFactory(name)
		return err
	default:
		return fmt.Errorf("unknown stage kind %q", kind)
	}
}
