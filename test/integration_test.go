package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/sync/errgroup"

	"mini-storm/internal/common"
	"mini-storm/internal/dag"
	"mini-storm/internal/master"
	"mini-storm/internal/metrics"
	"mini-storm/internal/storage"
	"mini-storm/internal/worker"
)

const interval = 50 * time.Millisecond

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

// Master HTTP real y dos workers con transporte gRPC en localhost.
func TestE2EFlow(t *testing.T) {
	quiet := log.New(io.Discard, "", 0)
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	defer func() {
		cancel()
		if err := g.Wait(); err != nil {
			t.Errorf("Error al detener: %v", err)
		}
	}()

	coord := master.NewCoordinator(master.Options{HeartbeatInterval: interval, Logger: quiet})
	g.Go(func() error {
		coord.Start(ctx)
		return nil
	})
	srv := httptest.NewServer(master.NewMasterServer(coord, quiet).Routes())
	defer srv.Close()

	m := metrics.New()
	results := storage.NewResultStore()
	for _, id := range []string{"w1", "w2"} {
		cfg := worker.ServerConfig{
			WorkerID:          id,
			DataAddr:          "127.0.0.1:0",
			MasterURL:         srv.URL,
			HeartbeatInterval: interval,
			Metrics:           m,
			Sink:              results,
		}
		g.Go(func() error { return worker.StartServer(ctx, cfg) })
	}
	waitFor(t, 5*time.Second, "2 workers registrados", func() bool { return len(coord.Registry().Available()) == 2 })

	b := dag.NewTopologyBuilder("wc")
	b.SetSpout("words", "static_words", 1, "word").WithArgs(map[string]string{"words": "a,b,a"})
	b.SetBolt("count", "word_count", 2, "word", "count").FieldsGrouping("words", "word")
	b.SetBolt("out", "sink", 1).ShuffleGrouping("count")
	body, _ := json.Marshal(common.SubmitRequest{
		Topology: b.CreateTopology(),
		Config:   map[string]string{"numWorkers": "2", "ackTimeoutMs": "1000", "maxReplays": "10"},
	})
	resp, err := http.Post(srv.URL+"/api/v1/topologies", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Error enviando topologia: %v", err)
	}
	var sub common.SubmitResponse
	json.NewDecoder(resp.Body).Decode(&sub)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Master rechazo la topologia: %d %s", resp.StatusCode, sub.Error)
	}

	// Las entregas que llegan antes de que el otro worker arranque se reemiten
	completed := m.Completed.WithLabelValues(sub.TopologyID)
	waitFor(t, 10*time.Second, "3 raices completas", func() bool { return testutil.ToFloat64(completed) == 3 })

	counts, writers := results.LatestCounts(sub.TopologyID)
	if counts["a"] < 2 || counts["b"] < 1 {
		t.Errorf("Esperaba al menos {a:2 b:1}, obtuvo %v", counts)
	}
	for word, tasks := range writers {
		if len(tasks) != 1 {
			t.Errorf("La palabra %q fue contada por %d tareas", word, len(tasks))
		}
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/topologies/wc", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("No se pudo detener la topologia: %v", err)
	}
	resp.Body.Close()
	waitFor(t, 5*time.Second, "workers sin tareas", func() bool {
		for _, w := range coord.Registry().List() {
			if w.ActiveTasks != 0 {
				return false
			}
		}
		return true
	})
}
