package syncd

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// handleAgentReport ingests one hardware report from a machine agent. The
// bearer token must have been issued to the claimed machine; the reconciler
// never sees unauthenticated submissions.
func (a *API) handleAgentReport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MachineID uuid.UUID `json:"machine_id"`
		Report    Report    `json:"report"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.MachineID == uuid.Nil {
		respondError(w, http.StatusBadRequest, errors.New("machine_id is required"))
		return
	}

	tokenMachine, ok := a.tokens.verify(bearerToken(r))
	if !ok || tokenMachine != req.MachineID {
		respondError(w, http.StatusUnauthorized, errors.New("invalid or expired agent token"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	submittedAt := time.Now().UTC()
	machine, err := a.rec.IngestReport(ctx, req.MachineID, req.Report, submittedAt)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respondError(w, http.StatusNotFound, fmt.Errorf("machine %s not found", req.MachineID))
		case errors.Is(err, ErrSyncDisabled):
			respondError(w, http.StatusConflict, err)
		default:
			respondError(w, http.StatusInternalServerError, err)
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"machine": newMachineView(machine, nil, submittedAt),
	})
}

// handleAgentTokenRefresh exchanges a still-valid token for a fresh one so
// agents outlive the token TTL between report ticks.
func (a *API) handleAgentTokenRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MachineID uuid.UUID `json:"machine_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.MachineID == uuid.Nil {
		respondError(w, http.StatusBadRequest, errors.New("machine_id is required"))
		return
	}

	tokenMachine, ok := a.tokens.verify(bearerToken(r))
	if !ok || tokenMachine != req.MachineID {
		respondError(w, http.StatusUnauthorized, errors.New("invalid or expired agent token"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	machine, err := a.store.GetMachine(ctx, req.MachineID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			respondError(w, http.StatusNotFound, fmt.Errorf("machine %s not found", req.MachineID))
			return
		}
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"token": a.tokens.issue(machine.ID, a.agentTokenTTL(machine)),
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
