package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"mini-storm/internal/common"
	"mini-storm/internal/metrics"
	"mini-storm/internal/transport"
	"mini-storm/internal/udf"
)

// MasterAddress es la dirección del Master. Usamos una variable (var)
// para que pueda ser modificada en las pruebas de integración.
var MasterAddress = "http://localhost:8080"

var httpClient = &http.Client{Timeout: 5 * time.Second}

// HTTPMaster habla con el Master por su API HTTP, con reintentos.
type HTTPMaster struct {
	BaseURL    string
	MaxRetries uint64
}

func NewHTTPMaster(baseURL string) *HTTPMaster {
	return &HTTPMaster{BaseURL: baseURL, MaxRetries: 3}
}

func (m *HTTPMaster) retry(ctx context.Context, op func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 100 * time.Millisecond
	eb.MaxElapsedTime = 5 * time.Second
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(eb, m.MaxRetries), ctx))
}

func (m *HTTPMaster) Heartbeat(ctx context.Context, hb common.Heartbeat) (common.HeartbeatResponse, error) {
	var resp common.HeartbeatResponse
	err := m.retry(ctx, func() error {
		return postJSON(ctx, m.BaseURL+"/heartbeat", hb, &resp)
	})
	return resp, err
}

func (m *HTTPMaster) Report(ctx context.Context, rep common.TaskReport) error {
	return m.retry(ctx, func() error { return ReportToMaster(ctx, m.BaseURL, rep) })
}

// ReportToMaster envía el TaskReport al Master.
// Es una VARIABLE de función (var) para poder ser sobrescrita/mockeada en tests.
var ReportToMaster = func(ctx context.Context, masterURL string, report common.TaskReport) error {
	return postJSON(ctx, masterURL+"/report", report, nil)
}

func postJSON(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return backoff.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("no se pudo conectar con el Master en %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("Master devolvio status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return backoff.Permanent(fmt.Errorf("Master devolvio status %d", resp.StatusCode))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backoff.Permanent(fmt.Errorf("respuesta invalida del Master: %w", err))
	}
	return nil
}

// ServerConfig son las opciones del binario worker.
type ServerConfig struct {
	WorkerID          string
	DataAddr          string // host:port del servidor gRPC
	Advertise         string // dirección anunciada a otros workers (por defecto DataAddr)
	MetricsAddr       string // "" deshabilita /metrics
	MasterURL         string
	HeartbeatInterval time.Duration

	// Opcionales; por defecto métricas propias y salida al log
	Metrics *metrics.Metrics
	Sink    udf.Sink
	Offsets udf.Offsets
}

// StartServer levanta el transporte gRPC, /metrics y el ciclo de heartbeats.
// Bloquea hasta que ctx termine.
func StartServer(ctx context.Context, cfg ServerConfig) error {
	logger := log.New(log.Writer(), "", log.LstdFlags)
	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}
	client := transport.NewGRPCClient()
	tr := transport.NewRetrying(client, transport.DefaultRetryPolicy())

	master := NewHTTPMaster(cfg.MasterURL)
	w := New(Options{
		ID:                cfg.WorkerID,
		Master:            master,
		Transport:         tr,
		Metrics:           m,
		Sink:              cfg.Sink,
		Offsets:           cfg.Offsets,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Logger:            logger,
	})

	srv := transport.NewGRPCServer(w, logger)
	if err := srv.Start(cfg.DataAddr); err != nil {
		return err
	}
	w.addr = advertised(cfg.Advertise, srv.Addr())

	var httpSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", m.Handler())
		httpSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Printf("[Worker %s] Error en servidor de metricas: %v", cfg.WorkerID, err)
			}
		}()
	}

	logger.Printf("[Worker %s] Servidor iniciado en %s (master %s)", cfg.WorkerID, w.addr, cfg.MasterURL)
	w.Start(ctx)
	<-ctx.Done()

	err := w.Shutdown()
	srv.Stop()
	if httpSrv != nil {
		httpSrv.Close()
	}
	client.Close()
	return err
}

// advertised completa el host cuando el servidor escucha en todas las interfaces.
func advertised(advertise, listen string) string {
	if advertise != "" {
		return advertise
	}
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
