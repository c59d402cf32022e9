package httpapi

import (
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

var startTime = time.Now()

// healthz reports liveness plus a small host census for dashboards.
func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	report := map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(startTime).Seconds()),
		"goroutines":     runtime.NumGoroutine(),
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		report["memory_used_percent"] = vm.UsedPercent
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		report["cpu_percent"] = percents[0]
	}

	writeJSON(w, http.StatusOK, report)
}
