package agent

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testService(t *testing.T, api string, collect func() (Report, error)) *Service {
	t.Helper()

	configPath := filepath.Join(t.TempDir(), "agent.conf")
	cfg := Config{
		API:       api,
		Token:     "token-1",
		MachineID: "4b5aa347-5763-4d30-aa8e-ba4071d4bd74",
		Interval:  "15m",
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	return &Service{
		client:     &http.Client{Timeout: 5 * time.Second},
		config:     cfg,
		configPath: configPath,
		logger:     log.New(io.Discard, "", 0),
		interval:   time.Minute,
		collect:    collect,
	}
}

func TestReportOnceSendsAuthenticatedReport(t *testing.T) {
	var got struct {
		MachineID string `json:"machine_id"`
		Report    Report `json:"report"`
	}
	var auth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/agents/report" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	svc := testService(t, srv.URL, func() (Report, error) {
		return Report{Disks: []Device{{Name: "sda"}}}, nil
	})

	if err := svc.ReportOnce(context.Background()); err != nil {
		t.Fatalf("ReportOnce: %v", err)
	}

	if auth != "Bearer token-1" {
		t.Fatalf("authorization = %q, want bearer token", auth)
	}
	if got.MachineID != svc.config.MachineID {
		t.Fatalf("machine_id = %q, want %q", got.MachineID, svc.config.MachineID)
	}
	if len(got.Report.Disks) != 1 || got.Report.Disks[0].Name != "sda" {
		t.Fatalf("report disks = %+v", got.Report.Disks)
	}
}

func TestReportOnceRefreshesRejectedToken(t *testing.T) {
	var reportCalls int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/agents/report":
			reportCalls++
			if r.Header.Get("Authorization") != "Bearer token-2" {
				w.WriteHeader(http.StatusUnauthorized)
				io.WriteString(w, `{"error":"invalid or expired agent token"}`)
				return
			}
			w.WriteHeader(http.StatusOK)
			io.WriteString(w, `{}`)
		case "/v1/agents/token/refresh":
			w.WriteHeader(http.StatusOK)
			io.WriteString(w, `{"token":"token-2"}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	svc := testService(t, srv.URL, func() (Report, error) {
		return Report{}, nil
	})

	if err := svc.ReportOnce(context.Background()); err != nil {
		t.Fatalf("ReportOnce: %v", err)
	}
	if reportCalls != 2 {
		t.Fatalf("report calls = %d, want rejected then retried", reportCalls)
	}
	if svc.config.Token != "token-2" {
		t.Fatalf("token = %q, want refreshed token-2", svc.config.Token)
	}

	// The refreshed token must survive an agent restart.
	persisted, err := loadConfig(svc.configPath)
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	if persisted.Token != "token-2" {
		t.Fatalf("persisted token = %q, want token-2", persisted.Token)
	}
}

func TestNewServiceRejectsPlainHTTP(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "agent.conf")
	cfg := Config{API: "http://syncd.internal", Token: "t", MachineID: "m", Interval: "15m"}
	data, _ := json.Marshal(cfg)
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := NewService(configPath); err == nil {
		t.Fatal("expected plain http api url to be rejected")
	}
}
