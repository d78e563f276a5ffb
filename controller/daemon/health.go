package daemon

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// Health is the host and controller summary served at /api/health.
type Health struct {
	Status       string     `json:"status"`
	Uptime       string     `json:"uptime"`
	Hostname     string     `json:"hostname,omitempty"`
	Platform     string     `json:"platform,omitempty"`
	HostUptime   uint64     `json:"host_uptime_seconds,omitempty"`
	MemoryUsed   float64    `json:"memory_used_percent,omitempty"`
	Load1        float64    `json:"load1,omitempty"`
	LastCycle    *time.Time `json:"last_cycle,omitempty"`
	LastOutcome  string     `json:"last_outcome,omitempty"`
	CycleRunning bool       `json:"cycle_running"`
	Sinks        []string   `json:"telemetry_sinks"`
}

func (d *Daemon) health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	h := Health{
		Status: "ok",
		Uptime: time.Since(d.started).Round(time.Second).String(),
		Sinks:  d.fanout.Sinks(),
	}
	if info, err := host.InfoWithContext(ctx); err == nil {
		h.Hostname = info.Hostname
		h.Platform = info.Platform + " " + info.PlatformVersion
		h.HostUptime = info.Uptime
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		h.MemoryUsed = vm.UsedPercent
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		h.Load1 = avg.Load1
	}
	st := d.cycle.Status()
	h.CycleRunning = st.Running
	if st.Last != nil {
		t := st.Last.Time
		h.LastCycle = &t
		h.LastOutcome = string(st.Last.Outcome)
		if st.Last.Intervention.Needed {
			h.Status = "attention"
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h)
}
