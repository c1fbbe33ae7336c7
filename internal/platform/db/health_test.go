package db

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestNewHealthBody_Healthy(t *testing.T) {
	latest := &LatestRun{RunID: "5f1c", Site: "north", FinishedAt: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)}
	status, body := newHealthBody(&PoolStats{TotalConns: 2, MaxConns: 10, Healthy: true}, latest, nil)

	if status != http.StatusOK {
		t.Errorf("expected 200, got %d", status)
	}
	if body.Status != "healthy" || body.LatestRun != latest || !body.Pool.Healthy {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestNewHealthBody_Unhealthy(t *testing.T) {
	status, body := newHealthBody(&PoolStats{TotalConns: 1, Healthy: true}, nil, errors.New("connection refused"))

	if status != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", status)
	}
	if body.Status != "unhealthy" || body.Error != "connection refused" {
		t.Errorf("unexpected body %+v", body)
	}
	if body.Pool.Healthy {
		t.Error("expected pool to be marked unhealthy")
	}
}

func TestHealthBody_JSON(t *testing.T) {
	_, body := newHealthBody(&PoolStats{MaxConns: 10, AcquireDuration: "250ms"}, nil, nil)
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	s := string(b)
	for _, key := range []string{`"status":"healthy"`, `"max_conns":10`, `"acquire_duration":"250ms"`} {
		if !strings.Contains(s, key) {
			t.Errorf("expected %s in %s", key, s)
		}
	}
	if strings.Contains(s, "latest_run") || strings.Contains(s, `"error"`) {
		t.Errorf("empty fields should be omitted: %s", s)
	}
}
