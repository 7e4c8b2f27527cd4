package syncd

import "time"

// healthGraceMargin extends the health deadline slightly past next_sync so
// minor clock skew or submission jitter does not flap the health flag.
const healthGraceMargin = 30 * time.Second

// NextSync returns last_sync + sync_interval, or nil until both exist.
func NextSync(m Machine) *time.Time {
	if m.LastSync == nil || m.SyncInterval == nil || *m.SyncInterval <= 0 {
		return nil
	}
	next := m.LastSync.Add(time.Duration(*m.SyncInterval) * time.Second)
	return &next
}

// ComputeHealth derives is_sync_healthy from the machine record and the
// clock. It returns nil when hardware sync is disabled: health is not
// applicable and must not be reported as either true or false. With sync
// enabled it returns false until the first report arrives, then true while
// now has not passed next_sync by more than the grace margin.
func ComputeHealth(m Machine, now time.Time) *bool {
	if !m.EnableHWSync {
		return nil
	}

	healthy := false
	if next := NextSync(m); next != nil {
		healthy = !now.After(next.Add(healthGraceMargin))
	}
	return &healthy
}

// SyncState labels the machine's position in the sync lifecycle:
// unconfigured -> configured -> healthy <-> unhealthy. Release returns the
// machine to unconfigured for its next deployment cycle.
func SyncState(m Machine, now time.Time) string {
	if !m.EnableHWSync {
		return SyncStateUnconfigured
	}
	if m.LastSync == nil {
		return SyncStateConfigured
	}
	if h := ComputeHealth(m, now); h != nil && *h {
		return SyncStateHealthy
	}
	return SyncStateUnhealthy
}
