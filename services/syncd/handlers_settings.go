package syncd

import (
	"errors"
	"net/http"
	"strings"

	"metald/pkg/timespan"
)

func (a *API) handleGetSyncInterval(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	value, err := a.store.GetSetting(ctx, SettingHardwareSyncInterval)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		value = DefaultHardwareSyncInterval
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"name":              SettingHardwareSyncInterval,
		"value":             value,
		"effective_seconds": timespan.Seconds(timespan.ParseLenient(value)),
	})
}

// handlePutSyncInterval stores the global default cadence. The value is
// accepted verbatim, including malformed spans: the configuration interface
// has never rejected them, and machines fall back to the 15 minute default
// when such a value is captured at deploy time. Already-deployed machines
// are never touched.
func (a *API) handlePutSyncInterval(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value string `json:"value"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	value := strings.TrimSpace(req.Value)

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.store.PutSetting(ctx, SettingHardwareSyncInterval, value); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	if _, err := timespan.Parse(value); err != nil {
		a.logger.Printf("WARN %s set to unparseable span %q; deploys will fall back to %s",
			SettingHardwareSyncInterval, value, DefaultHardwareSyncInterval)
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"name":              SettingHardwareSyncInterval,
		"value":             value,
		"effective_seconds": timespan.Seconds(timespan.ParseLenient(value)),
	})
}
