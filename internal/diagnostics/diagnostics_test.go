package diagnostics

import (
	"context"
	"encoding/json"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/shirou/gopsutil/host"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectHasCoreFields(t *testing.T) {
	c := NewCollector("paper", "rest", map[string]bool{"disable_reconcile": true})
	c.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	c.hostInfo = func(context.Context) (*host.InfoStat, error) {
		return &host.InfoStat{Hostname: "trader-1", OS: "linux", Platform: "debian", KernelVersion: "6.1.0", KernelArch: "x86_64", Uptime: 3600}, nil
	}

	r := c.Collect(context.Background())
	assert.Equal(t, "2024-05-01T12:00:00Z", r.GeneratedAt)
	assert.Equal(t, "paper", r.Mode)
	assert.Equal(t, runtime.Version(), r.Runtime.Version)
	assert.Positive(t, r.Runtime.Goroutines)
	assert.Equal(t, "trader-1", r.Platform.Hostname)
	assert.Equal(t, "x86_64", r.Platform.Machine)
	assert.Equal(t, uint64(3600), r.Platform.UptimeSeconds)
	assert.True(t, r.FeatureFlags["disable_reconcile"])

	raw, err := json.Marshal(r)
	require.NoError(t, err)
	for _, key := range []string{`"generated_at"`, `"runtime"`, `"platform"`, `"feature_flags"`} {
		assert.Contains(t, string(raw), key)
	}
}

func TestCollectWithoutHostInfo(t *testing.T) {
	c := NewCollector("live", "binance", nil)
	c.hostInfo = func(context.Context) (*host.InfoStat, error) { return nil, errors.New("unsupported") }

	r := c.Collect(context.Background())
	assert.Equal(t, runtime.GOOS, r.Platform.OS)
	assert.Equal(t, runtime.GOARCH, r.Platform.Machine)
	assert.NotNil(t, r.FeatureFlags)
}
