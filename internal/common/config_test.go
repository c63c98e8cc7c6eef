package common

import (
	"errors"
	"testing"
	"time"
)

func TestParseConfig(t *testing.T) {
	tests := []struct {
		name    string
		input   map[string]string
		wantErr bool
		check   func(t *testing.T, c TopologyConfig)
	}{
		{
			name:  "Defaults",
			input: nil,
			check: func(t *testing.T, c TopologyConfig) {
				if c != DefaultConfig() {
					t.Errorf("Esperaba valores por defecto, obtuvo %+v", c)
				}
			},
		},
		{
			name: "Overrides",
			input: map[string]string{
				ConfNumWorkers: "3", ConfAckTimeoutMs: "500", ConfMaxReplays: "0",
				ConfAllowColocation: "true", ConfMaxSpoutPending: "10",
			},
			check: func(t *testing.T, c TopologyConfig) {
				if c.NumWorkers != 3 || c.AckTimeout() != 500*time.Millisecond || c.MaxReplays != 0 {
					t.Errorf("Config inesperada: %+v", c)
				}
				if !c.AllowColocation || c.MaxSpoutPending != 10 {
					t.Errorf("Config inesperada: %+v", c)
				}
			},
		},
		{name: "UnknownKey", input: map[string]string{"foo": "1"}, wantErr: true},
		{name: "NotANumber", input: map[string]string{ConfNumWorkers: "dos"}, wantErr: true},
		{name: "ZeroWorkers", input: map[string]string{ConfNumWorkers: "0"}, wantErr: true},
		{name: "NegativeReplays", input: map[string]string{ConfMaxReplays: "-1"}, wantErr: true},
		{name: "ZeroHeartbeat", input: map[string]string{ConfHeartbeatIntervalMs: "0"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := ParseConfig(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("Esperaba ErrInvalidConfig, obtuvo %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Error inesperado: %v", err)
			}
			tt.check(t, c)
		})
	}
}

func TestAssignment_Helpers(t *testing.T) {
	a := Assignment{TopologyID: "t", Epoch: 1, Tasks: map[int]string{0: "w1", 1: "w2", 2: "w1", 3: ""}}
	if got := a.TasksOf("w1"); len(got) != 2 || got[0] != 0 || got[1] != 2 {
		t.Errorf("TasksOf inesperado: %v", got)
	}
	if got := a.Unassigned(); len(got) != 1 || got[0] != 3 {
		t.Errorf("Unassigned inesperado: %v", got)
	}
	c := a.Clone()
	c.Tasks[0] = "w9"
	if a.Tasks[0] != "w1" {
		t.Error("Clone comparte el mapa de tareas")
	}
}
