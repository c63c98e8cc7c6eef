package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"

	"mini-storm/internal/common"
	"mini-storm/internal/dag"
)

// Envía una topología lenta para probar la recuperación matando un worker
// mientras corre.
func main() {
	masterURL := flag.String("master", "http://localhost:8080", "URL del Master")
	flag.Parse()

	// Con 100 frases * 500ms hay casi un minuto para matar un worker
	b := dag.NewTopologyBuilder("Chaos-Test")
	b.SetSpout("jokes", "random_sentence", 1, "sentence").WithArgs(map[string]string{"limit": "100", "seed": "7"})
	b.SetBolt("split", "split_sentence", 2, "word").ShuffleGrouping("jokes").WithArgs(map[string]string{"delay": "500ms"})
	b.SetBolt("count", "word_count", 2, "word", "count").FieldsGrouping("split", "word")
	b.SetBolt("histogram", "histogram_global", 1).GlobalGrouping("count")

	req := common.SubmitRequest{
		Topology: b.CreateTopology(),
		Config:   map[string]string{"numWorkers": "2", "ackTimeoutMs": "10000", "maxReplays": "5"},
	}
	fmt.Println(" Enviando topologia de CAOS (lenta)...")
	data, _ := json.Marshal(req)
	resp, err := http.Post(*masterURL+"/api/v1/topologies", "application/json", bytes.NewReader(data))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error contactando master: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Master rechazo la topologia: %s\n", body)
		os.Exit(1)
	}
	fmt.Println(" Topologia enviada. Tienes casi un minuto para matar un worker.")
}
