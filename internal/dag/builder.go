package dag

import "mini-storm/internal/common"

// TopologyBuilder arma una TopologyDef con la misma forma que el builder de Storm:
//
//	b.SetSpout("words", "static_words", 1, "word")
//	b.SetBolt("count", "word_count", 2, "word", "count").FieldsGrouping("words", "word")
type TopologyBuilder struct {
	def common.TopologyDef
}

// BoltDeclarer declara las entradas del último bolt agregado.
type BoltDeclarer struct {
	b  *TopologyBuilder
	id string
}

func NewTopologyBuilder(name string) *TopologyBuilder {
	return &TopologyBuilder{def: common.TopologyDef{Name: name}}
}

func (b *TopologyBuilder) SetSpout(id, udfName string, parallelism int, fields ...string) *TopologyBuilder {
	b.def.Stages = append(b.def.Stages, common.StageDef{
		ID: id, Kind: common.KindSpout, UDFName: udfName, Parallelism: parallelism, OutputFields: fields,
	})
	return b
}

func (b *TopologyBuilder) SetBolt(id, udfName string, parallelism int, fields ...string) *BoltDeclarer {
	b.def.Stages = append(b.def.Stages, common.StageDef{
		ID: id, Kind: common.KindBolt, UDFName: udfName, Parallelism: parallelism, OutputFields: fields,
	})
	return &BoltDeclarer{b: b, id: id}
}

// WithArgs agrega parámetros a la última etapa declarada.
func (b *TopologyBuilder) WithArgs(args map[string]string) *TopologyBuilder {
	if n := len(b.def.Stages); n > 0 {
		s := &b.def.Stages[n-1]
		if s.Args == nil {
			s.Args = make(map[string]string)
		}
		for k, v := range args {
			s.Args[k] = v
		}
	}
	return b
}

func (d *BoltDeclarer) WithArgs(args map[string]string) *BoltDeclarer {
	d.b.WithArgs(args)
	return d
}

func (d *BoltDeclarer) grouping(from, grouping string, fields []string) *BoltDeclarer {
	d.b.def.Edges = append(d.b.def.Edges, common.EdgeDef{From: from, To: d.id, Grouping: grouping, Fields: fields})
	return d
}

func (d *BoltDeclarer) ShuffleGrouping(from string) *BoltDeclarer {
	return d.grouping(from, common.GroupingShuffle, nil)
}

func (d *BoltDeclarer) FieldsGrouping(from string, fields ...string) *BoltDeclarer {
	return d.grouping(from, common.GroupingFields, fields)
}

func (d *BoltDeclarer) AllGrouping(from string) *BoltDeclarer {
	return d.grouping(from, common.GroupingAll, nil)
}

func (d *BoltDeclarer) GlobalGrouping(from string) *BoltDeclarer {
	return d.grouping(from, common.GroupingGlobal, nil)
}

func (d *BoltDeclarer) DirectGrouping(from string) *BoltDeclarer {
	return d.grouping(from, common.GroupingDirect, nil)
}

// CreateTopology devuelve una copia de la definición armada.
func (b *TopologyBuilder) CreateTopology() common.TopologyDef {
	return cloneDef(b.def)
}

// WordCountTopology es la topología de ejemplo: chistes -> palabras -> conteo -> histograma global.
func WordCountTopology() common.TopologyDef {
	b := NewTopologyBuilder("WordCountTopology")
	// Frases generadas al azar
	b.SetSpout("random-joke-spout", "random_sentence", 1, "sentence")
	// Divide cada frase en palabras
	b.SetBolt("sentence-split", "split_sentence", 1, "word").ShuffleGrouping("random-joke-spout")
	// Cuenta las palabras; la misma palabra siempre cae en la misma tarea
	b.SetBolt("word-count", "word_count", 1, "word", "count").FieldsGrouping("sentence-split", "word")
	// Une los contadores parciales en un histograma global
	b.SetBolt("histogram-global", "histogram_global", 1).GlobalGrouping("word-count")
	return b.CreateTopology()
}
