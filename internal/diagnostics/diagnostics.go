// Package diagnostics reports process and host metadata useful when
// debugging a deployment.
package diagnostics

import (
	"context"
	"os"
	"runtime"
	"time"

	"cryptotrader/internal/logger"

	"github.com/shirou/gopsutil/host"
)

type Report struct {
	GeneratedAt  string          `json:"generated_at"`
	StartedAt    string          `json:"started_at,omitempty"`
	Mode         string          `json:"mode,omitempty"`
	Venue        string          `json:"venue,omitempty"`
	Runtime      RuntimeInfo     `json:"runtime"`
	Platform     PlatformInfo    `json:"platform"`
	FeatureFlags map[string]bool `json:"feature_flags"`
}

type RuntimeInfo struct {
	Version    string `json:"version"`
	GOOS       string `json:"goos"`
	GOARCH     string `json:"goarch"`
	NumCPU     int    `json:"num_cpu"`
	Goroutines int    `json:"goroutines"`
	PID        int    `json:"pid"`
}

type PlatformInfo struct {
	Hostname        string `json:"hostname,omitempty"`
	OS              string `json:"os"`
	Platform        string `json:"platform,omitempty"`
	PlatformVersion string `json:"platform_version,omitempty"`
	KernelVersion   string `json:"kernel_version,omitempty"`
	Machine         string `json:"machine,omitempty"`
	UptimeSeconds   uint64 `json:"uptime_seconds,omitempty"`
}

// Collector builds reports for one process.
type Collector struct {
	Mode      string
	Venue     string
	StartedAt time.Time
	Flags     map[string]bool

	now      func() time.Time
	hostInfo func(ctx context.Context) (*host.InfoStat, error)
}

func NewCollector(mode, venue string, flags map[string]bool) *Collector {
	return &Collector{
		Mode:      mode,
		Venue:     venue,
		StartedAt: time.Now(),
		Flags:     flags,
		now:       time.Now,
		hostInfo:  host.InfoWithContext,
	}
}

// Collect never fails; host fields the platform cannot report are left
// empty.
func (c *Collector) Collect(ctx context.Context) Report {
	now := time.Now
	if c.now != nil {
		now = c.now
	}
	r := Report{
		GeneratedAt:  now().UTC().Format(time.RFC3339Nano),
		Mode:         c.Mode,
		Venue:        c.Venue,
		Runtime:      collectRuntime(),
		Platform:     PlatformInfo{OS: runtime.GOOS, Machine: runtime.GOARCH},
		FeatureFlags: make(map[string]bool, len(c.Flags)),
	}
	if !c.StartedAt.IsZero() {
		r.StartedAt = c.StartedAt.UTC().Format(time.RFC3339)
	}
	for k, v := range c.Flags {
		r.FeatureFlags[k] = v
	}
	if name, err := os.Hostname(); err == nil {
		r.Platform.Hostname = name
	}
	if c.hostInfo == nil {
		return r
	}
	info, err := c.hostInfo(ctx)
	if err != nil || info == nil {
		logger.Debugf("Diagnostics: host info unavailable: %v", err)
		return r
	}
	if info.Hostname != "" {
		r.Platform.Hostname = info.Hostname
	}
	if info.OS != "" {
		r.Platform.OS = info.OS
	}
	if info.KernelArch != "" {
		r.Platform.Machine = info.KernelArch
	}
	r.Platform.Platform = info.Platform
	r.Platform.PlatformVersion = info.PlatformVersion
	r.Platform.KernelVersion = info.KernelVersion
	r.Platform.UptimeSeconds = info.Uptime
	return r
}

func collectRuntime() RuntimeInfo {
	return RuntimeInfo{
		Version:    runtime.Version(),
		GOOS:       runtime.GOOS,
		GOARCH:     runtime.GOARCH,
		NumCPU:     runtime.NumCPU(),
		Goroutines: runtime.NumGoroutine(),
		PID:        os.Getpid(),
	}
}
