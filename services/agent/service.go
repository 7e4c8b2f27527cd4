// Package agent implements the machine-side hardware sync agent. It is
// installed by the deployment tooling on machines deployed with sync enabled
// and periodically posts a hardware report back to the syncd API.
//
// Cadence is driven by the systemd timer rendered at deploy time, which runs
// the binary as a oneshot with --once. Run's internal ticker exists for hosts
// without systemd timers and must not be combined with the timer unit.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"metald/pkg/timespan"
)

const (
	// ConfigPath is where the agent expects its JSON configuration,
	// rendered by syncd at deploy time.
	ConfigPath = "/etc/metald/agent.conf"

	defaultInterval = 15 * time.Minute
)

// Config represents the agent configuration stored on disk.
type Config struct {
	API       string `json:"api"`
	Token     string `json:"token"`
	MachineID string `json:"machine_id"`
	Interval  string `json:"interval"`

	// Static points to an optional YAML file describing inventory the
	// kernel cannot enumerate, merged into every report.
	Static string `json:"static,omitempty"`
}

// Device is one hardware entry in an outgoing report.
type Device struct {
	Name    string         `json:"name"`
	Virtual bool           `json:"virtual,omitempty"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// Report is the hardware snapshot sent to syncd.
type Report struct {
	Disks      []Device       `json:"disks"`
	Interfaces []Device       `json:"interfaces"`
	PCIDevices []Device       `json:"pci_devices"`
	USBDevices []Device       `json:"usb_devices"`
	BMC        map[string]any `json:"bmc,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
}

// Service is the long-running process that periodically collects the
// machine's hardware and posts it to the syncd API.
type Service struct {
	client     *http.Client
	config     Config
	configPath string
	logger     *log.Logger
	interval   time.Duration
	collect    func() (Report, error)
}

// NewService loads configuration from the provided path and returns an
// initialized Service.
func NewService(configPath string) (*Service, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.API) == "" {
		return nil, fmt.Errorf("config missing api field")
	}
	if err := ensureHTTPS(cfg.API, allowInsecureHTTP()); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.MachineID) == "" {
		return nil, fmt.Errorf("config missing machine_id field")
	}

	interval := defaultInterval
	if strings.TrimSpace(cfg.Interval) != "" {
		interval = timespan.ParseLenient(cfg.Interval)
	}

	svc := &Service{
		client:     &http.Client{Timeout: 15 * time.Second},
		config:     cfg,
		configPath: configPath,
		logger:     log.New(os.Stdout, "metald-agent: ", log.LstdFlags),
		interval:   interval,
		collect:    Collect,
	}

	return svc, nil
}

// Run executes the agent loop until the provided context is cancelled. It is
// the fallback for hosts without systemd timers; deployments using the
// rendered timer unit invoke ReportOnce via --once instead.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ReportOnce(ctx); err != nil {
		s.logger.Printf("initial report failed: %v", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.ReportOnce(ctx); err != nil {
				s.logger.Printf("report failed: %v", err)
			}
		}
	}
}

// ReportOnce collects the hardware inventory and posts a single report.
func (s *Service) ReportOnce(ctx context.Context) error {
	report, err := s.collect()
	if err != nil {
		return fmt.Errorf("collect hardware: %w", err)
	}

	if path := strings.TrimSpace(s.config.Static); path != "" {
		static, err := LoadStatic(path)
		if err != nil {
			s.logger.Printf("static inventory %s unreadable: %v", path, err)
		} else {
			report = MergeStatic(report, static)
		}
	}

	err = s.sendReport(ctx, report)
	if errors.Is(err, errTokenRejected) {
		if refreshErr := s.refreshToken(ctx); refreshErr != nil {
			return fmt.Errorf("refresh token: %w", refreshErr)
		}
		err = s.sendReport(ctx, report)
	}
	return err
}

var errTokenRejected = errors.New("agent token rejected")

func (s *Service) sendReport(ctx context.Context, report Report) error {
	payload := map[string]any{
		"machine_id": s.config.MachineID,
		"report":     report,
	}

	resp, err := s.post(ctx, "/v1/agents/report", payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		_, _ = io.Copy(io.Discard, resp.Body)
		return errTokenRejected
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("post report unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return fmt.Errorf("drain response body: %w", err)
	}
	return nil
}

// refreshToken exchanges the current token for a fresh one and persists it so
// the next agent start keeps working.
func (s *Service) refreshToken(ctx context.Context) error {
	resp, err := s.post(ctx, "/v1/agents/token/refresh", map[string]any{
		"machine_id": s.config.MachineID,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("refresh unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode refresh response: %w", err)
	}
	if strings.TrimSpace(body.Token) == "" {
		return errors.New("refresh response missing token")
	}

	s.config.Token = body.Token
	if err := s.persistConfig(); err != nil {
		s.logger.Printf("persist refreshed token: %v", err)
	}
	return nil
}

func (s *Service) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	endpoint := strings.TrimRight(s.config.API, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := strings.TrimSpace(s.config.Token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("post %s: %w", path, err)
	}
	return resp, nil
}

func (s *Service) persistConfig() error {
	data, err := json.MarshalIndent(s.config, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.configPath, append(data, '\n'), 0o600)
}

func loadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func allowInsecureHTTP() bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv("METALD_ALLOW_INSECURE_HTTP")))
	switch value {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func ensureHTTPS(raw string, allowInsecure bool) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse api url: %w", err)
	}

	switch parsed.Scheme {
	case "https":
		return nil
	case "http", "":
		if allowInsecure {
			return nil
		}
		if parsed.Scheme == "" {
			return fmt.Errorf("api url must include https scheme")
		}
		return fmt.Errorf("api url must use https: %s", raw)
	default:
		if allowInsecure {
			return nil
		}
		return fmt.Errorf("api url must use https: %s", raw)
	}
}
