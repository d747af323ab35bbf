package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// handleHealth reports process and store health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	dbStatus := "ok"
	if s.db != nil {
		if err := s.db.HealthCheck(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			dbStatus = err.Error()
		}
	}

	s.writeJSON(w, status, map[string]interface{}{
		"status":   "healthy",
		"service":  "papertrade",
		"market":   s.cfg.MarketName,
		"database": dbStatus,
	})
}

// handleSystemInfo reports host and process statistics.
func (s *Server) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"goroutines":     runtime.NumGoroutine(),
		"go_version":     runtime.Version(),
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	}

	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		info["cpu_percent"] = cpuPercent[0]
	}
	if memStat, err := mem.VirtualMemory(); err == nil {
		info["memory_percent"] = memStat.UsedPercent
		info["memory_total"] = memStat.Total
		info["memory_used"] = memStat.Used
	}

	s.writeJSON(w, http.StatusOK, info)
}
