package udf

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// --- static_words: lista fija de palabras (args: words="a,b,a", repeat="1") ---

type staticWords struct {
	values []string
	next   int

	mu    sync.Mutex
	acked map[string]bool
}

func newStaticWords(args map[string]string) (Source, error) {
	raw := args["words"]
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("static_words: arg words is required")
	}
	repeat := 1
	if r, ok := args["repeat"]; ok {
		n, err := strconv.Atoi(r)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("static_words: invalid repeat %q", r)
		}
		repeat = n
	}
	var words []string
	for _, w := range strings.Split(raw, ",") {
		if w = strings.TrimSpace(w); w != "" {
			words = append(words, w)
		}
	}
	var values []string
	for i := 0; i < repeat; i++ {
		values = append(values, words...)
	}
	return &staticWords{values: values, acked: make(map[string]bool)}, nil
}

func (s *staticWords) Next(_ context.Context) (Message, bool, error) {
	if s.next >= len(s.values) {
		return Message{}, false, nil
	}
	i := s.next
	s.next++
	return Message{ID: strconv.Itoa(i), Values: []any{s.values[i]}}, true, nil
}

func (s *staticWords) Ack(id string) {
	s.mu.Lock()
	s.acked[id] = true
	s.mu.Unlock()
}

func (s *staticWords) Fail(string) {}

// Acked devuelve cuántos registros distintos fueron confirmados.
func (s *staticWords) Acked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.acked)
}

// --- line_file: una línea por registro (args: path) ---
// Ack avanza el offset confirmado mientras las líneas confirmadas sean contiguas.

type lineFile struct {
	path    string
	file    *os.File
	scanner *bufio.Scanner
	line    int

	mu        sync.Mutex
	acked     map[int]bool
	committed int // cantidad de líneas confirmadas desde el inicio

	offsets  Offsets
	topology string
	stage    string
	index    int
	logger   *log.Logger
}

func newLineFile(args map[string]string) (Source, error) {
	path := args["path"]
	if path == "" {
		return nil, fmt.Errorf("line_file: arg path is required")
	}
	return &lineFile{path: path, acked: make(map[int]bool)}, nil
}

func (s *lineFile) Prepare(tc TaskContext) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("line_file: %w", err)
	}
	s.file = f
	s.scanner = bufio.NewScanner(f)
	s.offsets, s.topology, s.stage, s.index, s.logger = tc.Offsets, tc.Topology, tc.StageID, tc.TaskIndex, tc.Logger
	if s.logger == nil {
		s.logger = log.Default()
	}
	if s.offsets == nil {
		return nil
	}
	// Una instancia reubicada salta lo ya confirmado
	n, ok := s.offsets.Load(s.topology, s.stage, s.index)
	if !ok {
		return nil
	}
	for s.line < n && s.scanner.Scan() {
		s.line++
	}
	if err := s.scanner.Err(); err != nil {
		return fmt.Errorf("line_file: %w", err)
	}
	s.committed = s.line
	s.logger.Printf("[Source] line_file %s retoma en la línea %d", s.path, s.line)
	return nil
}

func (s *lineFile) Next(_ context.Context) (Message, bool, error) {
	if s.scanner == nil || !s.scanner.Scan() {
		if s.scanner != nil {
			if err := s.scanner.Err(); err != nil {
				return Message{}, false, err
			}
		}
		return Message{}, false, nil
	}
	n := s.line
	s.line++
	return Message{ID: strconv.Itoa(n), Values: []any{s.scanner.Text()}}, true, nil
}

func (s *lineFile) Ack(id string) {
	n, err := strconv.Atoi(id)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked[n] = true
	prev := s.committed
	for s.acked[s.committed] {
		delete(s.acked, s.committed)
		s.committed++
	}
	if s.offsets == nil || s.committed == prev {
		return
	}
	if err := s.offsets.Commit(s.topology, s.stage, s.index, s.committed); err != nil {
		s.logger.Printf("[Source] Error guardando el offset de %s: %v", s.path, err)
	}
}

func (s *lineFile) Fail(string) {}

// Committed devuelve el offset (en líneas) confirmado.
func (s *lineFile) Committed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed
}

func (s *lineFile) Cleanup() {
	if s.file != nil {
		s.file.Close()
	}
}

// --- random_sentence: chistes generados al azar (args: seed, limit) ---

var jokes = []string{
	"Why did the scarecrow win an award? Because he was outstanding in his field.",
	"I told my computer I needed a break, and it said no problem, it will go to sleep.",
	"Why do programmers prefer dark mode? Because light attracts bugs.",
	"I would tell you a UDP joke, but you might not get it.",
	"There are only two hard things in distributed systems: exactly once delivery, guaranteed order of messages and exactly once delivery.",
	"A SQL query walks into a bar, walks up to two tables and asks: can I join you?",
	"Why did the stream processor break up with the batch job? It needed more real time.",
	"The cloud is just someone else's computer.",
}

type randomSentence struct {
	rng     *rand.Rand
	limit   int
	emitted int
}

func newRandomSentence(args map[string]string) (Source, error) {
	seed := time.Now().UnixNano()
	if v, ok := args["seed"]; ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("random_sentence: invalid seed %q", v)
		}
		seed = n
	}
	limit := 0
	if v, ok := args["limit"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("random_sentence: invalid limit %q", v)
		}
		limit = n
	}
	return &randomSentence{rng: rand.New(rand.NewSource(seed)), limit: limit}, nil
}

func (s *randomSentence) Prepare(tc TaskContext) error {
	// Cada tarea del spout genera una secuencia distinta
	if tc.TaskIndex > 0 {
		s.rng = rand.New(rand.NewSource(s.rng.Int63() + int64(tc.TaskIndex)))
	}
	return nil
}

func (s *randomSentence) Next(_ context.Context) (Message, bool, error) {
	if s.limit > 0 && s.emitted >= s.limit {
		return Message{}, false, nil
	}
	s.emitted++
	return Message{
		ID:     strconv.Itoa(s.emitted),
		Values: []any{jokes[s.rng.Intn(len(jokes))]},
	}, true, nil
}

func (s *randomSentence) Ack(string)  {}
func (s *randomSentence) Fail(string) {}
