package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/folio/internal/database"
)

// handleSyncNow triggers a drain pass. The actual work happens on the
// coordinator's run loop; the request returns immediately.
func (s *Server) handleSyncNow(w http.ResponseWriter, r *http.Request) {
	s.coordinator.SyncNow()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "sync triggered"})
}

// handleSyncStatus returns the coordinator's observable state
func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.coordinator.Status())
}

// handleSystemStatus returns process and storage health for the status bar
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, ramPercent := s.getSystemStats()

	response := map[string]interface{}{
		"online":         s.monitor.IsOnline(),
		"last_checked":   s.monitor.LastChecked(),
		"sync":           s.coordinator.Status(),
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"goroutines":     runtime.NumGoroutine(),
		"cpu_percent":    cpuPercent,
		"ram_percent":    ramPercent,
		"databases": map[string]interface{}{
			"queue":  s.databaseStats(s.queueDB),
			"mirror": s.databaseStats(s.mirrorDB),
			"cache":  s.databaseStats(s.cacheDB),
		},
	}

	s.writeJSON(w, http.StatusOK, response)
}

// getSystemStats samples CPU and RAM usage
func (s *Server) getSystemStats() (float64, float64) {
	var cpuAvg float64
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to read CPU usage")
	} else if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to read memory usage")
		return cpuAvg, 0
	}

	return cpuAvg, memStat.UsedPercent
}

// databaseStats collects size figures for one database
func (s *Server) databaseStats(db *database.DB) map[string]interface{} {
	if db == nil {
		return map[string]interface{}{"available": false}
	}

	stats, err := db.GetStats()
	if err != nil {
		return map[string]interface{}{"available": false, "error": err.Error()}
	}

	return map[string]interface{}{
		"available":      true,
		"size_bytes":     stats.SizeBytes,
		"wal_size_bytes": stats.WALSizeBytes,
		"page_count":     stats.PageCount,
		"page_size":      stats.PageSize,
	}
}
