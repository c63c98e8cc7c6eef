package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mini-storm/internal/master"
	"mini-storm/internal/storage"
)

func main() {
	addr := flag.String("addr", ":8080", "Dirección HTTP del Master")
	interval := flag.Duration("heartbeat", time.Second, "Intervalo de heartbeat esperado")
	deadAfter := flag.Int("dead-after", master.DefaultDeadAfter, "Intervalos sin heartbeat para declarar muerto a un worker")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	coord := master.NewCoordinator(master.Options{
		HeartbeatInterval: *interval,
		DeadAfter:         *deadAfter,
		Store:             storage.NewTopologyStore(),
	})
	go coord.Start(ctx)

	server := master.NewMasterServer(coord, nil)
	httpSrv := &http.Server{Addr: *addr, Handler: server.Routes()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	log.Printf("Master iniciado en %s", *addr)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	log.Println("Master detenido")
}
