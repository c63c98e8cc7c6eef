package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"mini-storm/internal/common"
	"mini-storm/internal/dag"
	"mini-storm/internal/udf"
	"mini-storm/internal/worker"
)

// trackedSource emite n palabras y cuenta cuántas veces se confirma cada una
type trackedSource struct {
	n    int
	next int
}

var tracked = struct {
	mu    sync.Mutex
	acks  map[string]int
	fails map[string]int
}{acks: make(map[string]int), fails: make(map[string]int)}

func (s *trackedSource) Next(context.Context) (udf.Message, bool, error) {
	if s.next >= s.n {
		return udf.Message{}, false, nil
	}
	s.next++
	id := strconv.Itoa(s.next)
	return udf.Message{ID: id, Values: []any{"w" + id}}, true, nil
}

func (s *trackedSource) Ack(id string) {
	tracked.mu.Lock()
	tracked.acks[id]++
	tracked.mu.Unlock()
}

func (s *trackedSource) Fail(id string) {
	tracked.mu.Lock()
	tracked.fails[id]++
	tracked.mu.Unlock()
}

func trackedAcks() map[string]int {
	tracked.mu.Lock()
	defer tracked.mu.Unlock()
	out := make(map[string]int, len(tracked.acks))
	for k, v := range tracked.acks {
		out[k] = v
	}
	return out
}

// slowBolt reenvía cada registro después de una pausa
type slowBolt struct{}

func (slowBolt) Process(in common.Tuple, out udf.Emitter) error {
	time.Sleep(10 * time.Millisecond)
	return out.Emit(in.Values...)
}

type poisonBolt struct{}

func (poisonBolt) Process(in common.Tuple, out udf.Emitter) error {
	if in.String(0) == "poison" {
		return udf.Failed("poison word")
	}
	return out.Emit(in.Values...)
}

func init() {
	udf.Register("test_tracked", udf.SourceFactory(func(args map[string]string) (udf.Source, error) {
		n, err := strconv.Atoi(args["n"])
		if err != nil {
			return nil, err
		}
		return &trackedSource{n: n}, nil
	}))
	udf.Register("test_slow", udf.BoltFactory(func(map[string]string) (udf.Bolt, error) { return slowBolt{}, nil }))
	udf.Register("test_poison", udf.BoltFactory(func(map[string]string) (udf.Bolt, error) { return poisonBolt{}, nil }))
}

func newTestCluster(t *testing.T, workers int) *Cluster {
	t.Helper()
	c, err := NewCluster(Options{
		Workers:           workers,
		HeartbeatInterval: 50 * time.Millisecond,
		Logger:            log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("No se pudo iniciar el cluster: %v", err)
	}
	t.Cleanup(func() { c.Shutdown() })
	return c
}

func waitFor(t *testing.T, timeout time.Duration, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timeout esperando: %s", msg)
}

func TestCluster_WordCount(t *testing.T) {
	c := newTestCluster(t, 2)
	b := dag.NewTopologyBuilder("wc")
	b.SetSpout("words", "static_words", 1, "word").WithArgs(map[string]string{"words": "a,b,a"})
	b.SetBolt("count", "word_count", 2, "word", "count").FieldsGrouping("words", "word")
	b.SetBolt("out", "sink", 1).ShuffleGrouping("count")

	resp, err := c.SubmitTopology(b.CreateTopology(), map[string]string{"numWorkers": "2"})
	if err != nil {
		t.Fatalf("Error inesperado: %v", err)
	}
	completed := c.Metrics().Completed.WithLabelValues(resp.TopologyID)
	waitFor(t, 5*time.Second, "3 raices completas", func() bool { return testutil.ToFloat64(completed) == 3 })

	counts, writers := c.Results().LatestCounts(resp.TopologyID)
	if counts["a"] != 2 || counts["b"] != 1 {
		t.Errorf("Esperaba {a:2 b:1}, obtuvo %v", counts)
	}
	for word, tasks := range writers {
		if len(tasks) != 1 {
			t.Errorf("La palabra %q fue contada por %d tareas", word, len(tasks))
		}
	}

	if err := c.KillTopology("wc"); err != nil {
		t.Fatalf("Error inesperado al matar: %v", err)
	}
	info, _ := c.Coordinator().Status(resp.TopologyID)
	if info.Status != common.TopologyStatusKilled {
		t.Errorf("Esperaba KILLED, obtuvo %s", info.Status)
	}
}

func TestCluster_PoisonWord_DeadLettered(t *testing.T) {
	c := newTestCluster(t, 1)
	b := dag.NewTopologyBuilder("poison")
	b.SetSpout("words", "static_words", 1, "word").WithArgs(map[string]string{"words": "ok,poison,fine"})
	b.SetBolt("check", "test_poison", 1, "word").ShuffleGrouping("words")
	b.SetBolt("out", "sink", 1).ShuffleGrouping("check")

	resp, err := c.SubmitTopology(b.CreateTopology(), map[string]string{"maxReplays": "2", "ackTimeoutMs": "2000"})
	if err != nil {
		t.Fatalf("Error inesperado: %v", err)
	}
	waitFor(t, 5*time.Second, "dead letter", func() bool { return len(c.DeadLetters().Entries(resp.TopologyID)) == 1 })

	entry := c.DeadLetters().Entries(resp.TopologyID)[0]
	if entry.Message.Values[0] != "poison" || !strings.Contains(entry.Cause, "poison word") {
		t.Errorf("Entrada inesperada: %+v", entry)
	}
	if got := testutil.ToFloat64(c.Metrics().Replayed.WithLabelValues(resp.TopologyID)); got != 2 {
		t.Errorf("Esperaba 2 reintentos, obtuvo %v", got)
	}
	waitFor(t, 5*time.Second, "2 raices completas", func() bool {
		return testutil.ToFloat64(c.Metrics().Completed.WithLabelValues(resp.TopologyID)) == 2
	})
	if n := len(c.Results().Records(resp.TopologyID)); n != 2 {
		t.Errorf("Esperaba 2 registros en el sink, obtuvo %d", n)
	}
}

func TestCluster_KillWorker_Failover(t *testing.T) {
	c := newTestCluster(t, 2)
	const total = 60

	b := dag.NewTopologyBuilder("failover")
	b.SetSpout("words", "test_tracked", 1, "word").WithArgs(map[string]string{"n": strconv.Itoa(total)})
	b.SetBolt("slow", "test_slow", 2, "word").ShuffleGrouping("words")
	b.SetBolt("out", "sink", 1).ShuffleGrouping("slow")

	resp, err := c.SubmitTopology(b.CreateTopology(), map[string]string{
		"numWorkers": "2", "ackTimeoutMs": "500", "maxReplays": "20",
	})
	if err != nil {
		t.Fatalf("Error inesperado: %v", err)
	}
	spare, err := c.AddWorker()
	if err != nil {
		t.Fatalf("Error inesperado: %v", err)
	}

	a, _ := c.Coordinator().Assignment(resp.TopologyID)
	spoutWorker := a.Tasks[0]
	var victim string
	for _, w := range a.Workers() {
		if w != spoutWorker {
			victim = w
		}
	}
	if victim == "" {
		t.Fatalf("Asignacion sin worker victima: %v", a.Tasks)
	}

	completed := c.Metrics().Completed.WithLabelValues(resp.TopologyID)
	waitFor(t, 5*time.Second, "primeras raices completas", func() bool { return testutil.ToFloat64(completed) >= 5 })
	before := len(trackedAcks())
	if err := c.KillWorker(victim); err != nil {
		t.Fatalf("Error inesperado: %v", err)
	}

	waitFor(t, 15*time.Second, "todas las raices confirmadas", func() bool { return len(trackedAcks()) == total })

	for id, n := range trackedAcks() {
		if n != 1 {
			t.Errorf("El mensaje %s se confirmo %d veces", id, n)
		}
	}
	if got := testutil.ToFloat64(completed); got != total {
		t.Errorf("Esperaba %d raices completas, obtuvo %v", total, got)
	}
	if before == total {
		t.Log("Todas las raices terminaron antes de la caida; no hubo reemision")
	} else if got := testutil.ToFloat64(c.Metrics().Replayed.WithLabelValues(resp.TopologyID)); got == 0 {
		t.Error("Esperaba reemisiones tras la caida del worker")
	}
	if n := len(c.DeadLetters().Entries(resp.TopologyID)); n != 0 {
		t.Errorf("No deberia haber dead letters, hay %d", n)
	}

	after, _ := c.Coordinator().Assignment(resp.TopologyID)
	if len(after.TasksOf(victim)) != 0 || len(after.TasksOf(spare)) == 0 {
		t.Errorf("Las tareas de %s debian pasar a %s: %v", victim, spare, after.Tasks)
	}
}

// flakyMaster deja de responder heartbeats cuando down está activo
type flakyMaster struct {
	worker.MasterClient
	down atomic.Bool
}

func (f *flakyMaster) Heartbeat(ctx context.Context, hb common.Heartbeat) (common.HeartbeatResponse, error) {
	if f.down.Load() {
		return common.HeartbeatResponse{}, errors.New("master unreachable")
	}
	return f.MasterClient.Heartbeat(ctx, hb)
}

type syncBuffer struct {
	mu sync.Mutex
	b  strings.Builder
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestCluster_KillTopology_LogsHeartbeatError(t *testing.T) {
	logs := &syncBuffer{}
	c, err := NewCluster(Options{Workers: 1, HeartbeatInterval: 50 * time.Millisecond, Logger: log.New(logs, "", 0)})
	if err != nil {
		t.Fatalf("No se pudo iniciar el cluster: %v", err)
	}
	t.Cleanup(func() { c.Shutdown() })

	flaky := &flakyMaster{MasterClient: c.master}
	c.master = flaky
	id, err := c.AddWorker()
	if err != nil {
		t.Fatalf("Error inesperado: %v", err)
	}

	b := dag.NewTopologyBuilder("wc")
	b.SetSpout("words", "static_words", 1, "word").WithArgs(map[string]string{"words": "a"})
	b.SetBolt("out", "sink", 1).ShuffleGrouping("words")
	resp, err := c.SubmitTopology(b.CreateTopology(), map[string]string{"numWorkers": "2"})
	if err != nil {
		t.Fatalf("Error inesperado: %v", err)
	}

	flaky.down.Store(true)
	if err := c.KillTopology("wc"); err != nil {
		t.Fatalf("Error inesperado al matar: %v", err)
	}
	info, _ := c.Coordinator().Status(resp.TopologyID)
	if info.Status != common.TopologyStatusKilled {
		t.Errorf("Esperaba KILLED, obtuvo %s", info.Status)
	}
	if want := "[LocalCluster] Error aplicando asignacion en " + id; !strings.Contains(logs.String(), want) {
		t.Errorf("Esperaba %q en el log, obtuvo:\n%s", want, logs.String())
	}
}

func TestCluster_KillSpoutWorker_ResumesFromCommittedOffset(t *testing.T) {
	c := newTestCluster(t, 2)
	const total = 200

	var input strings.Builder
	for i := 0; i < total; i++ {
		fmt.Fprintf(&input, "line-%d\n", i)
	}
	path := filepath.Join(t.TempDir(), "in.txt")
	if err := os.WriteFile(path, []byte(input.String()), 0644); err != nil {
		t.Fatal(err)
	}

	b := dag.NewTopologyBuilder("resume")
	b.SetSpout("lines", "line_file", 1, "line").WithArgs(map[string]string{"path": path})
	b.SetBolt("slow", "test_slow", 2, "line").ShuffleGrouping("lines")
	b.SetBolt("out", "sink", 1).ShuffleGrouping("slow")

	resp, err := c.SubmitTopology(b.CreateTopology(), map[string]string{
		"numWorkers": "2", "ackTimeoutMs": "1000", "maxReplays": "20", "maxSpoutPending": "10",
	})
	if err != nil {
		t.Fatalf("Error inesperado: %v", err)
	}
	if _, err := c.AddWorker(); err != nil {
		t.Fatalf("Error inesperado: %v", err)
	}
	committed := func() int {
		n, _ := c.Offsets().Load(resp.TopologyID, "lines", 0)
		return n
	}
	waitFor(t, 10*time.Second, "primeras lineas confirmadas", func() bool { return committed() >= 20 })

	// Todo lo confirmado antes de la caída no se vuelve a leer
	before := committed()
	a, _ := c.Coordinator().Assignment(resp.TopologyID)
	if err := c.KillWorker(a.Tasks[0]); err != nil {
		t.Fatalf("Error inesperado: %v", err)
	}

	waitFor(t, 20*time.Second, "archivo completo confirmado", func() bool { return committed() == total })

	seen := make(map[string]int)
	for _, rec := range c.Results().Records(resp.TopologyID) {
		seen[fmt.Sprint(rec.Values[0])]++
	}
	for i := 0; i < total; i++ {
		line := fmt.Sprintf("line-%d", i)
		switch n := seen[line]; {
		case n == 0:
			t.Errorf("La linea %s nunca llego al sink", line)
		case i < before && n != 1:
			t.Errorf("La linea %s ya confirmada se proceso %d veces", line, n)
		}
	}
	after, _ := c.Coordinator().Assignment(resp.TopologyID)
	if after.Tasks[0] == a.Tasks[0] {
		t.Errorf("El spout debia moverse de %s", a.Tasks[0])
	}
}
