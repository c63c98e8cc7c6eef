package dag

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"mini-storm/internal/common"
)

// TopologyFile es el formato del archivo que recibe el CLI `submit`.
// El bloque config es opcional; los flags --config lo sobreescriben.
type TopologyFile struct {
	common.TopologyDef
	Config map[string]string `json:"config,omitempty"`
}

// ParseTopology decodifica una topología JSON. No valida: eso lo hace Build.
func ParseTopology(r io.Reader) (TopologyFile, error) {
	var f TopologyFile
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return f, fmt.Errorf("error decodificando topologia: %w", err)
	}
	return f, nil
}

func ParseTopologyFile(path string) (TopologyFile, error) {
	file, err := os.Open(path)
	if err != nil {
		return TopologyFile{}, fmt.Errorf("error leyendo topologia: %w", err)
	}
	defer file.Close()
	return ParseTopology(file)
}
