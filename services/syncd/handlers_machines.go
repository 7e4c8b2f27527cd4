package syncd

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"metald/pkg/timespan"
)

func (a *API) handleEnrollMachine(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MAC          string `json:"mac"`
		Hostname     string `json:"hostname"`
		Architecture string `json:"architecture"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	req.MAC = strings.ToLower(strings.TrimSpace(req.MAC))
	if req.MAC == "" {
		respondError(w, http.StatusBadRequest, errors.New("mac is required"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	machine, err := a.rec.Enroll(ctx, Machine{
		MAC:          req.MAC,
		Hostname:     req.Hostname,
		Architecture: req.Architecture,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"machine": machine})
}

func (a *API) handleGetMachine(w http.ResponseWriter, r *http.Request) {
	machineID, err := uuid.Parse(chi.URLParam(r, "machineID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("valid machine id is required"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	machine, err := a.store.GetMachine(ctx, machineID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			respondError(w, http.StatusNotFound, fmt.Errorf("machine %s not found", machineID))
			return
		}
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	devices, err := a.store.ListDevices(ctx, machineID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"machine": newMachineView(machine, devices, time.Now().UTC()),
	})
}

func (a *API) handleDeployMachine(w http.ResponseWriter, r *http.Request) {
	machineID, err := uuid.Parse(chi.URLParam(r, "machineID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("valid machine id is required"))
		return
	}

	var req struct {
		EnableHWSync bool `json:"enable_hw_sync"`
		SyncInterval int  `json:"sync_interval"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	var machine Machine
	if req.EnableHWSync {
		globalDefault := a.syncIntervalSetting(r)
		machine, err = a.rec.ConfigureSync(ctx, machineID, req.SyncInterval, globalDefault)
	} else {
		machine, err = a.rec.Deploy(ctx, machineID)
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			respondError(w, http.StatusNotFound, fmt.Errorf("machine %s not found", machineID))
			return
		}
		respondError(w, http.StatusConflict, err)
		return
	}

	resp := map[string]any{
		"machine": newMachineView(machine, nil, time.Now().UTC()),
	}
	if machine.EnableHWSync {
		resp["agent_token"] = a.tokens.issue(machine.ID, a.agentTokenTTL(machine))
	}
	respondJSON(w, http.StatusOK, resp)
}

func (a *API) handleReleaseMachine(w http.ResponseWriter, r *http.Request) {
	machineID, err := uuid.Parse(chi.URLParam(r, "machineID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("valid machine id is required"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	machine, err := a.rec.ApplyRelease(ctx, machineID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			respondError(w, http.StatusNotFound, fmt.Errorf("machine %s not found", machineID))
			return
		}
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"machine": machine})
}

// handleSyncConfig renders the systemd unit, timer and agent configuration
// the deployment tooling drops onto a machine deployed with sync enabled.
func (a *API) handleSyncConfig(w http.ResponseWriter, r *http.Request) {
	machineID, err := uuid.Parse(chi.URLParam(r, "machineID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("valid machine id is required"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	machine, err := a.store.GetMachine(ctx, machineID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			respondError(w, http.StatusNotFound, fmt.Errorf("machine %s not found", machineID))
			return
		}
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if !machine.EnableHWSync || machine.SyncInterval == nil {
		respondError(w, http.StatusConflict, errors.New("machine was not deployed with hardware sync"))
		return
	}

	apiBase := a.config.APIBase
	if apiBase == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		apiBase = fmt.Sprintf("%s://%s", scheme, r.Host)
	}

	unit, err := a.renderer.Render("hardware-sync.service.tmpl", nil)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	timer, err := a.renderer.Render("hardware-sync.timer.tmpl", map[string]any{
		"IntervalSeconds": *machine.SyncInterval,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	conf, err := a.renderer.Render("agent.conf.tmpl", map[string]any{
		"APIBase":   apiBase,
		"Token":     a.tokens.issue(machine.ID, a.agentTokenTTL(machine)),
		"MachineID": machine.ID,
		"Interval":  timespan.Format(time.Duration(*machine.SyncInterval) * time.Second),
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"service":    unit,
		"timer":      timer,
		"agent_conf": conf,
	})
}

// syncIntervalSetting reads the global default, falling back to the built-in
// 15 minute span when it was never set.
func (a *API) syncIntervalSetting(r *http.Request) string {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	value, err := a.store.GetSetting(ctx, SettingHardwareSyncInterval)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			a.logger.Printf("WARN read %s: %v", SettingHardwareSyncInterval, err)
		}
		return DefaultHardwareSyncInterval
	}
	return value
}
