package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"mini-storm/internal/storage"
	"mini-storm/internal/worker"
)

// Se ejecuta el worker
func main() {
	id := flag.String("id", "", "ID del worker (por defecto uno aleatorio)")
	addr := flag.String("addr", ":9090", "Dirección del transporte gRPC")
	advertise := flag.String("advertise", "", "Dirección anunciada a los demás workers")
	metricsAddr := flag.String("metrics", "", "Dirección HTTP para /metrics (vacío la deshabilita)")
	master := flag.String("master", worker.MasterAddress, "URL del Master")
	interval := flag.Duration("heartbeat", time.Second, "Intervalo de heartbeat")
	offsetsDir := flag.String("offsets-dir", "", "Directorio compartido para los offsets de las Sources (vacío: en memoria)")
	flag.Parse()

	if *id == "" {
		*id = "worker-" + uuid.NewString()[:8]
	}

	cfg := worker.ServerConfig{
		WorkerID:          *id,
		DataAddr:          *addr,
		Advertise:         *advertise,
		MetricsAddr:       *metricsAddr,
		MasterURL:         *master,
		HeartbeatInterval: *interval,
	}
	if *offsetsDir != "" {
		offsets, err := storage.NewFileOffsetStore(*offsetsDir)
		if err != nil {
			log.Fatal(err)
		}
		cfg.Offsets = offsets
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := worker.StartServer(ctx, cfg); err != nil {
		log.Fatal(err)
	}
}
