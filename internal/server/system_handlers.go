package server

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/aristath/rebalancer/internal/database"
	"github.com/aristath/rebalancer/internal/modules/market_hours"
	"github.com/aristath/rebalancer/internal/scheduler"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// MarketClock reports the exchange session state
type MarketClock interface {
	GetMarketStatus(t time.Time) *market_hours.MarketStatus
}

// JobLister reports registered background jobs
type JobLister interface {
	Jobs() []scheduler.JobStatus
}

// SystemHandlers handles system monitoring endpoints
type SystemHandlers struct {
	log         zerolog.Logger
	dataDir     string
	startupTime time.Time
	databases   map[string]*database.DB
	market      MarketClock
	jobs        JobLister

	// host probes, swapped in tests
	cpuPercent func() (float64, error)
	memPercent func() (float64, error)
	hostInfo   func() (*host.InfoStat, error)
	diskUsage  func(path string) (*disk.UsageStat, error)
	now        func() time.Time
}

// NewSystemHandlers creates a new system handlers instance
func NewSystemHandlers(
	databases map[string]*database.DB,
	dataDir string,
	market MarketClock,
	log zerolog.Logger,
) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("component", "system_handlers").Logger(),
		dataDir:     dataDir,
		startupTime: time.Now(),
		databases:   databases,
		market:      market,
		cpuPercent:  sampleCPU,
		memPercent:  sampleMemory,
		hostInfo:    host.Info,
		diskUsage:   disk.Usage,
		now:         time.Now,
	}
}

// SystemStatusResponse represents the system status
type SystemStatusResponse struct {
	Status        string                     `json:"status"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Hostname      string                     `json:"hostname,omitempty"`
	Platform      string                     `json:"platform,omitempty"`
	CPUPercent    float64                    `json:"cpu_percent"`
	MemoryPercent float64                    `json:"memory_percent"`
	Market        *market_hours.MarketStatus `json:"market,omitempty"`
	Databases     int                        `json:"databases"`
}

// DBInfo represents information about a single database
type DBInfo struct {
	Name        string  `json:"name"`
	Path        string  `json:"path"`
	SizeMB      float64 `json:"size_mb"`
	WALSizeMB   float64 `json:"wal_size_mb"`
	PageCount   int64   `json:"page_count"`
	Error       string  `json:"error,omitempty"`
	Reachable   bool    `json:"reachable"`
	LastChecked string  `json:"last_checked"`
}

// DatabaseStatsResponse represents database statistics
type DatabaseStatsResponse struct {
	Databases   []DBInfo `json:"databases"`
	TotalSizeMB float64  `json:"total_size_mb"`
}

// DiskUsageResponse represents disk usage of the data directory's filesystem
type DiskUsageResponse struct {
	Path        string  `json:"path"`
	TotalMB     float64 `json:"total_mb"`
	UsedMB      float64 `json:"used_mb"`
	AvailableMB float64 `json:"available_mb"`
	UsedPercent float64 `json:"used_percent"`
}

// HandleSystemStatus returns process, host and market status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	response := SystemStatusResponse{
		Status:        "healthy",
		UptimeSeconds: int64(now.Sub(h.startupTime).Seconds()),
		Databases:     len(h.databases),
	}

	if info, err := h.hostInfo(); err != nil {
		h.log.Warn().Err(err).Msg("Failed to get host info")
	} else {
		response.Hostname = info.Hostname
		response.Platform = info.Platform
	}

	if cpuPct, err := h.cpuPercent(); err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
	} else {
		response.CPUPercent = cpuPct
	}

	if memPct, err := h.memPercent(); err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
	} else {
		response.MemoryPercent = memPct
	}

	if h.market != nil {
		response.Market = h.market.GetMarketStatus(now)
	}

	for name, db := range h.databases {
		if err := db.Conn().PingContext(r.Context()); err != nil {
			h.log.Error().Err(err).Str("database", name).Msg("Database unreachable")
			response.Status = "degraded"
		}
	}

	h.writeJSON(w, http.StatusOK, response)
}

// HandleDatabaseStats returns per-database file and page statistics
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(h.databases))
	for name := range h.databases {
		names = append(names, name)
	}
	sort.Strings(names)

	checked := h.now().Format(time.RFC3339)
	response := DatabaseStatsResponse{Databases: make([]DBInfo, 0, len(names))}
	for _, name := range names {
		db := h.databases[name]
		info := DBInfo{Name: name, Path: db.Path(), LastChecked: checked}

		stats, err := db.GetStats()
		if err != nil {
			h.log.Warn().Err(err).Str("database", name).Msg("Failed to get database stats")
			info.Error = err.Error()
		} else {
			info.Reachable = true
			info.SizeMB = toMB(uint64(stats.SizeBytes))
			info.WALSizeMB = toMB(uint64(stats.WALSizeBytes))
			info.PageCount = stats.PageCount
			response.TotalSizeMB += info.SizeMB + info.WALSizeMB
		}
		response.Databases = append(response.Databases, info)
	}

	h.writeJSON(w, http.StatusOK, response)
}

// HandleDiskUsage returns usage of the filesystem holding the data directory
func (h *SystemHandlers) HandleDiskUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := h.diskUsage(h.dataDir)
	if err != nil {
		h.log.Error().Err(err).Str("dir", h.dataDir).Msg("Failed to get disk usage")
		http.Error(w, "Failed to get disk usage", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, DiskUsageResponse{
		Path:        h.dataDir,
		TotalMB:     toMB(usage.Total),
		UsedMB:      toMB(usage.Used),
		AvailableMB: toMB(usage.Free),
		UsedPercent: usage.UsedPercent,
	})
}

// HandleJobs lists background jobs with their next and last runs
func (h *SystemHandlers) HandleJobs(w http.ResponseWriter, r *http.Request) {
	jobs := []scheduler.JobStatus{}
	if h.jobs != nil {
		jobs = h.jobs.Jobs()
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// sampleCPU averages all CPUs over 100ms so the endpoint stays responsive
func sampleCPU() (float64, error) {
	percents, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, nil
	}
	return percents[0], nil
}

func sampleMemory() (float64, error) {
	stat, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return stat.UsedPercent, nil
}

func toMB(bytes uint64) float64 {
	return float64(bytes) / 1024 / 1024
}
