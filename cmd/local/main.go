package main

import (
	"flag"
	"log"
	"sort"
	"time"

	"mini-storm/internal/dag"
	"mini-storm/internal/local"
)

// Corre WordCountTopology en un cluster local durante un tiempo fijo y la detiene.
func main() {
	workers := flag.Int("workers", 2, "Cantidad de workers locales")
	duration := flag.Duration("duration", 10*time.Second, "Tiempo de ejecución de la topología")
	limit := flag.String("limit", "200", "Frases generadas (0 = sin límite)")
	flag.Parse()

	cluster, err := local.NewCluster(local.Options{Workers: *workers})
	if err != nil {
		log.Fatal(err)
	}
	defer cluster.Shutdown()

	def := dag.WordCountTopology()
	def.Stages[0].Args = map[string]string{"limit": *limit, "seed": "42"}
	resp, err := cluster.SubmitTopology(def, map[string]string{"numWorkers": "1", "allowColocation": "true"})
	if err != nil {
		log.Fatalf("Topologia rechazada: %v", err)
	}
	log.Printf("Topologia %s en ejecucion por %v", resp.Name, *duration)
	time.Sleep(*duration)

	if err := cluster.KillTopology(resp.Name); err != nil {
		log.Printf("Error deteniendo la topologia: %v", err)
	}
	counts, _ := cluster.Results().LatestCounts(resp.TopologyID)
	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool { return counts[words[i]] > counts[words[j]] })
	if len(words) > 10 {
		words = words[:10]
	}
	for _, w := range words {
		log.Printf("%-12s %d", w, counts[w])
	}
}
