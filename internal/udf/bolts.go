package udf

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"mini-storm/internal/common"
)

// cleanWords quita puntuación y pasa a minúsculas.
func cleanWords(s string) []string {
	clean := strings.Map(func(r rune) rune {
		if strings.ContainsRune(".,;:?!-\"'()", r) {
			return ' '
		}
		return r
	}, s)
	words := strings.Fields(strings.ToLower(clean))
	return words
}

// split_sentence: una frase -> un registro por palabra.
// El arg opcional delay (ej. "500ms") frena cada frase, útil para probar caídas a mano.
type splitSentence struct {
	delay time.Duration
}

func newSplitSentence(args map[string]string) (Bolt, error) {
	var b splitSentence
	if v, ok := args["delay"]; ok {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("split_sentence: invalid delay %q", v)
		}
		b.delay = d
	}
	return b, nil
}

func (b splitSentence) Process(in common.Tuple, out Emitter) error {
	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	for _, w := range cleanWords(in.String(0)) {
		if err := out.Emit(w); err != nil {
			return err
		}
	}
	return nil
}

// word_count: cuenta por palabra y emite (word, count) con el total actualizado.
// Depende del agrupamiento FIELDS para que cada palabra viva en una sola tarea.
type wordCount struct {
	counts map[string]int64
	tc     TaskContext
}

func newWordCount(map[string]string) (Bolt, error) {
	return &wordCount{counts: make(map[string]int64)}, nil
}

func (b *wordCount) Prepare(tc TaskContext) error {
	b.tc = tc
	return nil
}

func (b *wordCount) Process(in common.Tuple, out Emitter) error {
	word := in.String(0)
	if v, ok := in.ValueByField("word"); ok {
		word = fmt.Sprint(v)
	}
	b.counts[word]++
	return out.Emit(word, b.counts[word])
}

// histogram_global: une los contadores parciales. Guarda el último total de cada palabra
// y lo escribe en el sink configurado.
type histogramGlobal struct {
	hist map[string]int64
	tc   TaskContext
}

func newHistogramGlobal(map[string]string) (Bolt, error) {
	return &histogramGlobal{hist: make(map[string]int64)}, nil
}

func (b *histogramGlobal) Prepare(tc TaskContext) error {
	b.tc = tc
	return nil
}

func (b *histogramGlobal) Process(in common.Tuple, out Emitter) error {
	count, err := in.Int(1)
	if err != nil {
		return Failed("histogram_global: %v", err)
	}
	word := in.String(0)
	if count > b.hist[word] {
		b.hist[word] = count
	}
	if b.tc.Sink != nil {
		if err := b.tc.Sink.Write(b.tc.Topology, b.tc.StageID, b.tc.TaskID, in); err != nil {
			return Failed("histogram_global: sink: %v", err)
		}
	}
	return nil
}

func (b *histogramGlobal) Cleanup() {
	if b.tc.Logger == nil || len(b.hist) == 0 {
		return
	}
	words := make([]string, 0, len(b.hist))
	for w := range b.hist {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if b.hist[words[i]] != b.hist[words[j]] {
			return b.hist[words[i]] > b.hist[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > 10 {
		words = words[:10]
	}
	for _, w := range words {
		b.tc.Logger.Printf("[Histogram] %-15s %d", w, b.hist[w])
	}
}

// to_uppercase: primer campo en mayúsculas
type toUppercase struct{}

func newToUppercase(map[string]string) (Bolt, error) { return toUppercase{}, nil }

func (toUppercase) Process(in common.Tuple, out Emitter) error {
	return out.Emit(strings.ToUpper(in.String(0)))
}

// not_empty: filtra registros cuyo primer campo está vacío
type notEmpty struct{}

func newNotEmpty(map[string]string) (Bolt, error) { return notEmpty{}, nil }

func (notEmpty) Process(in common.Tuple, out Emitter) error {
	if strings.TrimSpace(in.String(0)) == "" {
		return nil
	}
	return out.Emit(in.Values...)
}

type identity struct{}

func newIdentity(map[string]string) (Bolt, error) { return identity{}, nil }

func (identity) Process(in common.Tuple, out Emitter) error {
	return out.Emit(in.Values...)
}

// sink: escribe cada registro en el sink de la tarea
type sinkBolt struct {
	tc TaskContext
}

func newSinkBolt(map[string]string) (Bolt, error) { return &sinkBolt{}, nil }

func (b *sinkBolt) Prepare(tc TaskContext) error {
	if tc.Sink == nil {
		return fmt.Errorf("sink: task has no sink configured")
	}
	b.tc = tc
	return nil
}

func (b *sinkBolt) Process(in common.Tuple, _ Emitter) error {
	if err := b.tc.Sink.Write(b.tc.Topology, b.tc.StageID, b.tc.TaskID, in); err != nil {
		return Failed("sink: %v", err)
	}
	return nil
}
