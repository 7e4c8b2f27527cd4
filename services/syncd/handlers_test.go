package syncd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"metald/pkg/render"
)

func newTestServer(t *testing.T) (*httptest.Server, *MemStore) {
	t.Helper()
	return newTestServerWithConfig(t, Config{})
}

func newTestServerWithConfig(t *testing.T, cfg Config) (*httptest.Server, *MemStore) {
	t.Helper()

	store := NewMemStore()
	rec, err := NewReconciler(store, nil, nil)
	if err != nil {
		t.Fatalf("NewReconciler: %v", err)
	}
	renderer, err := render.New()
	if err != nil {
		t.Fatalf("render.New: %v", err)
	}
	api, err := New(rec, store, renderer, cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	routes, err := api.Routes()
	if err != nil {
		t.Fatalf("Routes: %v", err)
	}

	srv := httptest.NewServer(routes)
	t.Cleanup(srv.Close)
	return srv, store
}

func doJSON(t *testing.T, method, url, token string, body any) (int, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, decoded
}

func enrollViaAPI(t *testing.T, srv *httptest.Server, mac string) string {
	t.Helper()
	code, body := doJSON(t, http.MethodPost, srv.URL+"/v1/machines", "", map[string]any{
		"mac": mac, "hostname": "node1", "architecture": "amd64",
	})
	if code != http.StatusOK {
		t.Fatalf("enroll status = %d, body %v", code, body)
	}
	machine := body["machine"].(map[string]any)
	return machine["id"].(string)
}

func TestDeployReportReadFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	id := enrollViaAPI(t, srv, "aa:bb:cc:00:00:01")

	code, body := doJSON(t, http.MethodPost, srv.URL+"/v1/machines/"+id+"/deploy", "", map[string]any{
		"enable_hw_sync": true,
	})
	if code != http.StatusOK {
		t.Fatalf("deploy status = %d, body %v", code, body)
	}
	token, _ := body["agent_token"].(string)
	if token == "" {
		t.Fatal("deploy with sync enabled must return an agent token")
	}
	machine := body["machine"].(map[string]any)
	if got := machine["sync_interval"].(float64); got != 900 {
		t.Fatalf("sync_interval = %v, want 900 (built-in default)", got)
	}
	if h, ok := machine["is_sync_healthy"].(bool); !ok || h {
		t.Fatalf("is_sync_healthy before first report = %v, want false", machine["is_sync_healthy"])
	}

	code, body = doJSON(t, http.MethodPost, srv.URL+"/v1/agents/report", token, map[string]any{
		"machine_id": id,
		"report": map[string]any{
			"disks":      []map[string]any{{"name": "nvme0n1", "attrs": map[string]any{"size": "960G"}}},
			"interfaces": []map[string]any{{"name": "eno1", "attrs": map[string]any{"mac": "aa:bb:cc:00:00:01"}}},
			"bmc":        map[string]any{"address": "10.0.0.9"},
		},
	})
	if code != http.StatusOK {
		t.Fatalf("report status = %d, body %v", code, body)
	}

	code, body = doJSON(t, http.MethodGet, srv.URL+"/v1/machines/"+id, "", nil)
	if code != http.StatusOK {
		t.Fatalf("get status = %d, body %v", code, body)
	}
	machine = body["machine"].(map[string]any)
	if h, ok := machine["is_sync_healthy"].(bool); !ok || !h {
		t.Fatalf("is_sync_healthy = %v, want true just after a report", machine["is_sync_healthy"])
	}
	if machine["sync_status"] != SyncStateHealthy {
		t.Fatalf("sync_status = %v, want %q", machine["sync_status"], SyncStateHealthy)
	}
	if machine["next_sync"] == nil {
		t.Fatal("next_sync missing after a report")
	}
	devices := machine["devices"].([]any)
	if len(devices) != 2 {
		t.Fatalf("devices = %d, want 2", len(devices))
	}
}

func TestReportRequiresMatchingToken(t *testing.T) {
	srv, _ := newTestServer(t)
	id := enrollViaAPI(t, srv, "aa:bb:cc:00:00:02")
	other := enrollViaAPI(t, srv, "aa:bb:cc:00:00:03")

	_, body := doJSON(t, http.MethodPost, srv.URL+"/v1/machines/"+id+"/deploy", "", map[string]any{
		"enable_hw_sync": true,
	})
	token := body["agent_token"].(string)

	report := map[string]any{"machine_id": other, "report": map[string]any{}}

	// Token issued to one machine cannot submit for another.
	code, _ := doJSON(t, http.MethodPost, srv.URL+"/v1/agents/report", token, report)
	if code != http.StatusUnauthorized {
		t.Fatalf("cross-machine report status = %d, want 401", code)
	}

	code, _ = doJSON(t, http.MethodPost, srv.URL+"/v1/agents/report", "", map[string]any{
		"machine_id": id, "report": map[string]any{},
	})
	if code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated report status = %d, want 401", code)
	}
}

func TestAgentTokenRefresh(t *testing.T) {
	srv, _ := newTestServer(t)
	id := enrollViaAPI(t, srv, "aa:bb:cc:00:00:0a")

	_, body := doJSON(t, http.MethodPost, srv.URL+"/v1/machines/"+id+"/deploy", "", map[string]any{
		"enable_hw_sync": true,
	})
	token := body["agent_token"].(string)

	code, body := doJSON(t, http.MethodPost, srv.URL+"/v1/agents/token/refresh", token, map[string]any{
		"machine_id": id,
	})
	if code != http.StatusOK {
		t.Fatalf("refresh status = %d, body %v", code, body)
	}
	fresh, _ := body["token"].(string)
	if fresh == "" || fresh == token {
		t.Fatalf("refresh must mint a new token, got %q", fresh)
	}

	// The fresh token authenticates reports.
	code, body = doJSON(t, http.MethodPost, srv.URL+"/v1/agents/report", fresh, map[string]any{
		"machine_id": id, "report": map[string]any{},
	})
	if code != http.StatusOK {
		t.Fatalf("report with refreshed token status = %d, body %v", code, body)
	}

	// A token cannot refresh on behalf of another machine.
	other := enrollViaAPI(t, srv, "aa:bb:cc:00:00:0b")
	code, _ = doJSON(t, http.MethodPost, srv.URL+"/v1/agents/token/refresh", fresh, map[string]any{
		"machine_id": other,
	})
	if code != http.StatusUnauthorized {
		t.Fatalf("cross-machine refresh status = %d, want 401", code)
	}
}

func TestAgentTokenOutlivesReportCycle(t *testing.T) {
	// The configured TTL is only a floor. With a one second interval the
	// token must stay valid for two full cycles, so a report and a refresh
	// well past the floor still succeed and the agent never locks itself out.
	srv, _ := newTestServerWithConfig(t, Config{TokenTTL: 50 * time.Millisecond})
	id := enrollViaAPI(t, srv, "aa:bb:cc:00:00:0c")

	_, body := doJSON(t, http.MethodPost, srv.URL+"/v1/machines/"+id+"/deploy", "", map[string]any{
		"enable_hw_sync": true,
		"sync_interval":  1,
	})
	token := body["agent_token"].(string)

	time.Sleep(120 * time.Millisecond)

	code, body := doJSON(t, http.MethodPost, srv.URL+"/v1/agents/report", token, map[string]any{
		"machine_id": id, "report": map[string]any{},
	})
	if code != http.StatusOK {
		t.Fatalf("report past TTL floor status = %d, body %v", code, body)
	}

	code, body = doJSON(t, http.MethodPost, srv.URL+"/v1/agents/token/refresh", token, map[string]any{
		"machine_id": id,
	})
	if code != http.StatusOK {
		t.Fatalf("refresh past TTL floor status = %d, body %v", code, body)
	}
	fresh := body["token"].(string)

	code, _ = doJSON(t, http.MethodPost, srv.URL+"/v1/agents/report", fresh, map[string]any{
		"machine_id": id, "report": map[string]any{},
	})
	if code != http.StatusOK {
		t.Fatalf("report with refreshed token status = %d", code)
	}
}

func TestReportAfterReleaseConflicts(t *testing.T) {
	srv, _ := newTestServer(t)
	id := enrollViaAPI(t, srv, "aa:bb:cc:00:00:04")

	_, body := doJSON(t, http.MethodPost, srv.URL+"/v1/machines/"+id+"/deploy", "", map[string]any{
		"enable_hw_sync": true,
	})
	token := body["agent_token"].(string)

	if code, b := doJSON(t, http.MethodPost, srv.URL+"/v1/machines/"+id+"/release", "", nil); code != http.StatusOK {
		t.Fatalf("release status = %d, body %v", code, b)
	}

	// The token may still be within its TTL, but sync is no longer enabled.
	code, _ := doJSON(t, http.MethodPost, srv.URL+"/v1/agents/report", token, map[string]any{
		"machine_id": id, "report": map[string]any{},
	})
	if code != http.StatusConflict {
		t.Fatalf("report after release status = %d, want 409", code)
	}
}

func TestMachineViewOmitsHealthWhenSyncDisabled(t *testing.T) {
	srv, _ := newTestServer(t)
	id := enrollViaAPI(t, srv, "aa:bb:cc:00:00:06")

	if code, body := doJSON(t, http.MethodPost, srv.URL+"/v1/machines/"+id+"/deploy", "", map[string]any{}); code != http.StatusOK {
		t.Fatalf("deploy status = %d, body %v", code, body)
	}

	code, body := doJSON(t, http.MethodGet, srv.URL+"/v1/machines/"+id, "", nil)
	if code != http.StatusOK {
		t.Fatalf("get status = %d, body %v", code, body)
	}
	machine := body["machine"].(map[string]any)
	if _, present := machine["is_sync_healthy"]; present {
		t.Fatal("is_sync_healthy must be absent when sync is disabled, not false")
	}
	if machine["sync_status"] != SyncStateUnconfigured {
		t.Fatalf("sync_status = %v, want %q", machine["sync_status"], SyncStateUnconfigured)
	}
}

func TestReleaseClearsSyncStateOverAPI(t *testing.T) {
	srv, _ := newTestServer(t)
	id := enrollViaAPI(t, srv, "aa:bb:cc:00:00:07")

	_, body := doJSON(t, http.MethodPost, srv.URL+"/v1/machines/"+id+"/deploy", "", map[string]any{
		"enable_hw_sync": true,
	})
	token := body["agent_token"].(string)
	if code, b := doJSON(t, http.MethodPost, srv.URL+"/v1/agents/report", token, map[string]any{
		"machine_id": id,
		"report": map[string]any{
			"interfaces": []map[string]any{
				{"name": "eno1"},
				{"name": "eno1v0", "virtual": true},
			},
		},
	}); code != http.StatusOK {
		t.Fatalf("report status = %d, body %v", code, b)
	}

	if code, b := doJSON(t, http.MethodPost, srv.URL+"/v1/machines/"+id+"/release", "", nil); code != http.StatusOK {
		t.Fatalf("release status = %d, body %v", code, b)
	}

	code, body := doJSON(t, http.MethodGet, srv.URL+"/v1/machines/"+id, "", nil)
	if code != http.StatusOK {
		t.Fatalf("get status = %d, body %v", code, body)
	}
	machine := body["machine"].(map[string]any)
	if machine["status"] != StatusReady {
		t.Fatalf("status = %v, want %q", machine["status"], StatusReady)
	}
	if machine["enable_hw_sync"] != false {
		t.Fatal("enable_hw_sync must be cleared on release")
	}
	if _, present := machine["last_sync"]; present {
		t.Fatal("last_sync must be cleared on release")
	}

	devices := machine["devices"].([]any)
	if len(devices) != 1 {
		t.Fatalf("devices after release = %d, want only the physical interface", len(devices))
	}
	if name := devices[0].(map[string]any)["name"]; name != "eno1" {
		t.Fatalf("surviving device = %v, want eno1", name)
	}
}

func TestSyncIntervalSetting(t *testing.T) {
	srv, _ := newTestServer(t)
	settingURL := srv.URL + "/v1/settings/" + SettingHardwareSyncInterval

	code, body := doJSON(t, http.MethodGet, settingURL, "", nil)
	if code != http.StatusOK {
		t.Fatalf("get status = %d", code)
	}
	if body["value"] != DefaultHardwareSyncInterval {
		t.Fatalf("unset value = %v, want %q", body["value"], DefaultHardwareSyncInterval)
	}

	code, body = doJSON(t, http.MethodPut, settingURL, "", map[string]any{"value": "1h 30m"})
	if code != http.StatusOK {
		t.Fatalf("put status = %d", code)
	}
	if got := body["effective_seconds"].(float64); got != 5400 {
		t.Fatalf("effective_seconds = %v, want 5400", got)
	}

	// Malformed spans are stored verbatim and fall back at deploy time.
	code, body = doJSON(t, http.MethodPut, settingURL, "", map[string]any{"value": "fortnightly"})
	if code != http.StatusOK {
		t.Fatalf("put malformed status = %d, want 200", code)
	}
	if body["value"] != "fortnightly" {
		t.Fatalf("stored value = %v, want verbatim %q", body["value"], "fortnightly")
	}
	if got := body["effective_seconds"].(float64); got != 900 {
		t.Fatalf("effective_seconds = %v, want 900 fallback", got)
	}

	id := enrollViaAPI(t, srv, "aa:bb:cc:00:00:08")
	code, body = doJSON(t, http.MethodPost, srv.URL+"/v1/machines/"+id+"/deploy", "", map[string]any{
		"enable_hw_sync": true,
	})
	if code != http.StatusOK {
		t.Fatalf("deploy status = %d", code)
	}
	machine := body["machine"].(map[string]any)
	if got := machine["sync_interval"].(float64); got != 900 {
		t.Fatalf("captured sync_interval = %v, want 900 fallback", got)
	}
}

func TestSyncConfigRendering(t *testing.T) {
	srv, _ := newTestServer(t)
	id := enrollViaAPI(t, srv, "aa:bb:cc:00:00:09")

	if code, _ := doJSON(t, http.MethodGet, srv.URL+"/v1/machines/"+id+"/sync-config", "", nil); code != http.StatusConflict {
		t.Fatalf("sync-config before deploy status = %d, want 409", code)
	}

	if code, b := doJSON(t, http.MethodPost, srv.URL+"/v1/machines/"+id+"/deploy", "", map[string]any{
		"enable_hw_sync": true,
		"sync_interval":  600,
	}); code != http.StatusOK {
		t.Fatalf("deploy status = %d, body %v", code, b)
	}

	code, body := doJSON(t, http.MethodGet, srv.URL+"/v1/machines/"+id+"/sync-config", "", nil)
	if code != http.StatusOK {
		t.Fatalf("sync-config status = %d, body %v", code, body)
	}

	timer := body["timer"].(string)
	if !strings.Contains(timer, "OnUnitActiveSec=600") {
		t.Fatalf("timer missing interval:\n%s", timer)
	}
	conf := body["agent_conf"].(string)
	if !strings.Contains(conf, id) {
		t.Fatalf("agent conf missing machine id:\n%s", conf)
	}
	if !strings.Contains(conf, fmt.Sprintf("%q", srv.URL)) {
		t.Fatalf("agent conf missing api base %s:\n%s", srv.URL, conf)
	}
	service := body["service"].(string)
	if !strings.Contains(service, "metald-agent") {
		t.Fatalf("service unit missing agent binary:\n%s", service)
	}
}
