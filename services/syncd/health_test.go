package syncd

import (
	"testing"
	"time"
)

func intervalOf(seconds int) *int { return &seconds }

func syncedAt(ts time.Time) *time.Time { return &ts }

func TestNextSync(t *testing.T) {
	last := t0.Add(10 * time.Minute)

	tests := []struct {
		name string
		m    Machine
		want *time.Time
	}{
		{
			name: "no report yet",
			m:    Machine{EnableHWSync: true, SyncInterval: intervalOf(900)},
			want: nil,
		},
		{
			name: "no interval",
			m:    Machine{EnableHWSync: true, LastSync: syncedAt(last)},
			want: nil,
		},
		{
			name: "fifteen minutes after last report",
			m:    Machine{EnableHWSync: true, SyncInterval: intervalOf(900), LastSync: syncedAt(last)},
			want: syncedAt(last.Add(15 * time.Minute)),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := NextSync(tc.m)
			switch {
			case tc.want == nil && got != nil:
				t.Fatalf("NextSync = %v, want nil", got)
			case tc.want != nil && (got == nil || !got.Equal(*tc.want)):
				t.Fatalf("NextSync = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestComputeHealth(t *testing.T) {
	last := t0.Add(10 * time.Minute)
	synced := Machine{EnableHWSync: true, SyncInterval: intervalOf(900), LastSync: syncedAt(last)}

	tests := []struct {
		name string
		m    Machine
		now  time.Time
		want *bool
	}{
		{
			name: "sync disabled is not applicable",
			m:    Machine{Status: StatusDeployed},
			now:  t0,
			want: nil,
		},
		{
			name: "enabled but no report yet",
			m:    Machine{EnableHWSync: true, SyncInterval: intervalOf(900)},
			now:  t0,
			want: boolPtr(false),
		},
		{
			name: "before next_sync",
			m:    synced,
			now:  t0.Add(20 * time.Minute),
			want: boolPtr(true),
		},
		{
			name: "exactly at next_sync",
			m:    synced,
			now:  last.Add(15 * time.Minute),
			want: boolPtr(true),
		},
		{
			name: "well past next_sync",
			m:    synced,
			now:  t0.Add(30 * time.Minute),
			want: boolPtr(false),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ComputeHealth(tc.m, tc.now)
			switch {
			case tc.want == nil && got != nil:
				t.Fatalf("ComputeHealth = %v, want nil", *got)
			case tc.want != nil && got == nil:
				t.Fatalf("ComputeHealth = nil, want %v", *tc.want)
			case tc.want != nil && *got != *tc.want:
				t.Fatalf("ComputeHealth = %v, want %v", *got, *tc.want)
			}
		})
	}
}

func TestSyncState(t *testing.T) {
	last := t0.Add(10 * time.Minute)

	tests := []struct {
		name string
		m    Machine
		now  time.Time
		want string
	}{
		{
			name: "released machine",
			m:    Machine{Status: StatusReady},
			now:  t0,
			want: SyncStateUnconfigured,
		},
		{
			name: "deployed awaiting first report",
			m:    Machine{EnableHWSync: true, SyncInterval: intervalOf(900)},
			now:  t0,
			want: SyncStateConfigured,
		},
		{
			name: "reporting on schedule",
			m:    Machine{EnableHWSync: true, SyncInterval: intervalOf(900), LastSync: syncedAt(last)},
			now:  t0.Add(20 * time.Minute),
			want: SyncStateHealthy,
		},
		{
			name: "agent gone quiet",
			m:    Machine{EnableHWSync: true, SyncInterval: intervalOf(900), LastSync: syncedAt(last)},
			now:  t0.Add(30 * time.Minute),
			want: SyncStateUnhealthy,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := SyncState(tc.m, tc.now); got != tc.want {
				t.Fatalf("SyncState = %q, want %q", got, tc.want)
			}
		})
	}
}

func boolPtr(b bool) *bool { return &b }
