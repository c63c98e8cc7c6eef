package master

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"mini-storm/internal/common"
)

// MasterServer expone el Coordinator por HTTP.
type MasterServer struct {
	Coordinator *Coordinator
	Logger      *log.Logger
}

func NewMasterServer(c *Coordinator, logger *log.Logger) *MasterServer {
	if logger == nil {
		logger = log.Default()
	}
	return &MasterServer{Coordinator: c, Logger: logger}
}

// Routes registra los endpoints del Master.
func (s *MasterServer) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/topologies", s.HandleSubmit)
	mux.HandleFunc("GET /api/v1/topologies", s.HandleList)
	mux.HandleFunc("GET /api/v1/topologies/{name}", s.HandleStatus)
	mux.HandleFunc("DELETE /api/v1/topologies/{name}", s.HandleKill)
	mux.HandleFunc("GET /api/v1/workers", s.HandleWorkers)
	mux.HandleFunc("POST /heartbeat", s.HandleHeartbeat)
	mux.HandleFunc("POST /report", s.HandleReport)
	mux.Handle("GET /metrics", s.Coordinator.Metrics().Handler())
	return mux
}

func (s *MasterServer) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var req common.SubmitRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, common.SubmitResponse{Status: "REJECTED", Error: "invalid request body: " + err.Error()})
		return
	}
	resp, err := s.Coordinator.Submit(req)
	if err != nil {
		writeJSON(w, statusFor(err), common.SubmitResponse{Name: req.Topology.Name, Status: "REJECTED", Error: err.Error()})
		return
	}
	s.Logger.Printf("[Master] Topologia recibida: %s con %d etapas", resp.Name, len(req.Topology.Stages))
	writeJSON(w, http.StatusOK, resp)
}

func (s *MasterServer) HandleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Coordinator.List())
}

func (s *MasterServer) HandleStatus(w http.ResponseWriter, r *http.Request) {
	info, err := s.Coordinator.Status(r.PathValue("name"))
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *MasterServer) HandleKill(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.Coordinator.Kill(name); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": name, "status": common.TopologyStatusKilled})
}

func (s *MasterServer) HandleWorkers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Coordinator.Registry().List())
}

func (s *MasterServer) HandleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var hb common.Heartbeat
	if err := json.NewDecoder(r.Body).Decode(&hb); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp, err := s.Coordinator.Heartbeat(hb)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *MasterServer) HandleReport(w http.ResponseWriter, r *http.Request) {
	var rep common.TaskReport
	if err := json.NewDecoder(r.Body).Decode(&rep); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.Logger.Printf("[Master] Reporte: Tarea %d [%s] Worker %s", rep.TaskID, rep.Status, rep.WorkerID)
	if err := s.Coordinator.Report(rep); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

// statusFor traduce los errores del dominio a códigos HTTP.
func statusFor(err error) int {
	switch {
	case common.IsInvalidGraph(err), errors.Is(err, common.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrUnknownTopology):
		return http.StatusNotFound
	case errors.Is(err, common.ErrTopologyExists):
		return http.StatusConflict
	case errors.Is(err, common.ErrInsufficientWorkers):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
