package util

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Version is the build version, set with -ldflags "-X".
var Version = "dev"

// SystemInfo describes the machine the relay runs on.
type SystemInfo struct {
	Hostname     string `json:"hostname"`
	OS           string `json:"os"`
	Architecture string `json:"architecture"`
	CPUModel     string `json:"cpu_model"`
	CPUThreads   int    `json:"cpu_threads"`
	TotalMemory  uint64 `json:"total_memory_mb"`
	GoVersion    string `json:"go_version"`
}

// GetSystemInfo gathers host information. Lookups that fail leave their
// field empty.
func GetSystemInfo() SystemInfo {
	info := SystemInfo{
		Architecture: runtime.GOARCH,
		CPUThreads:   runtime.NumCPU(),
		GoVersion:    runtime.Version(),
		OS:           runtime.GOOS,
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}
	if hostInfo, err := host.Info(); err == nil {
		info.OS = fmt.Sprintf("%s %s", hostInfo.Platform, hostInfo.PlatformVersion)
	}
	if cpuInfo, err := cpu.Info(); err == nil && len(cpuInfo) > 0 {
		info.CPUModel = cpuInfo[0].ModelName
	}
	if memInfo, err := mem.VirtualMemory(); err == nil {
		info.TotalMemory = memInfo.Total / (1024 * 1024)
	}
	return info
}

// ResourceUsage is a point-in-time load sample published with relay status.
type ResourceUsage struct {
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	DiskFreeMB    uint64    `json:"disk_free_mb"`
	DiskUsedPct   float64   `json:"disk_used_percent"`
	Goroutines    int       `json:"goroutines"`
	SampledAt     time.Time `json:"sampled_at"`
}

// GetResourceUsage samples CPU, memory and free space on the volume holding
// path.
func GetResourceUsage(path string) ResourceUsage {
	usage := ResourceUsage{
		Goroutines: runtime.NumGoroutine(),
		SampledAt:  time.Now().UTC(),
	}
	if percentages, err := cpu.Percent(0, false); err == nil && len(percentages) > 0 {
		usage.CPUPercent = percentages[0]
	}
	if memInfo, err := mem.VirtualMemory(); err == nil {
		usage.MemoryPercent = memInfo.UsedPercent
	}
	if path != "" {
		if d, err := disk.Usage(filepath.Dir(path)); err == nil {
			usage.DiskFreeMB = d.Free / (1024 * 1024)
			usage.DiskUsedPct = d.UsedPercent
		}
	}
	return usage
}

// FileExists checks if a file or directory exists at the given path.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// EnsureDir creates a directory and all parent directories if they don't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
