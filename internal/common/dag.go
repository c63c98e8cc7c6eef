package common

// TopologyDef es la definición declarativa que envía el cliente.
// Los nodos son etapas (spouts o bolts) y las aristas las reglas de agrupamiento.
type TopologyDef struct {
	Name   string     `json:"name"`
	Stages []StageDef `json:"stages"`
	Edges  []EdgeDef  `json:"edges"` // Lista de aristas (from -> to)
}

type StageDef struct {
	ID           string            `json:"id"`
	Kind         string            `json:"kind"`     // SPOUT o BOLT
	UDFName      string            `json:"udf_name"` // Nombre en el registro de udf
	Parallelism  int               `json:"parallelism"`
	OutputFields []string          `json:"output_fields,omitempty"` // Campos que emite la etapa
	Args         map[string]string `json:"args,omitempty"`          // Parametros de la unidad de proceso
}

type EdgeDef struct {
	From     string   `json:"from"`
	To       string   `json:"to"`
	Grouping string   `json:"grouping"`
	Fields   []string `json:"fields,omitempty"` // Solo para FIELDS
}

// Stage busca una etapa por ID.
func (d TopologyDef) Stage(id string) (StageDef, bool) {
	for _, s := range d.Stages {
		if s.ID == id {
			return s, true
		}
	}
	return StageDef{}, false
}
