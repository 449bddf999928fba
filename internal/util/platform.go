package util

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Platform represents the current operating system.
type Platform string

const (
	PlatformWindows Platform = "windows"
	PlatformLinux   Platform = "linux"
	PlatformDarwin  Platform = "darwin"
	PlatformUnknown Platform = "unknown"
)

// GetPlatform returns the current platform.
func GetPlatform() Platform {
	switch runtime.GOOS {
	case "windows":
		return PlatformWindows
	case "linux":
		return PlatformLinux
	case "darwin":
		return PlatformDarwin
	default:
		return PlatformUnknown
	}
}

// SystemInfo holds information about the host system.
type SystemInfo struct {
	Platform     Platform `json:"platform"`
	Hostname     string   `json:"hostname"`
	OS           string   `json:"os"`
	Architecture string   `json:"architecture"`
	CPUModel     string   `json:"cpu_model"`
	CPUCores     int      `json:"cpu_cores"`
	TotalMemory  uint64   `json:"total_memory_mb"`
	GoVersion    string   `json:"go_version"`
}

// GetSystemInfo gathers static host information. Fields the platform cannot
// report are left empty.
func GetSystemInfo() SystemInfo {
	info := SystemInfo{
		Platform:     GetPlatform(),
		Architecture: runtime.GOARCH,
		CPUCores:     runtime.NumCPU(),
		GoVersion:    runtime.Version(),
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

// ResourceUsage is a point-in-time view of this process and the host.
type ResourceUsage struct {
	HostCPUPercent    float64       `json:"host_cpu_percent"`
	HostMemoryPercent float64       `json:"host_memory_percent"`
	ProcessRSSMB      uint64        `json:"process_rss_mb"`
	Goroutines        int           `json:"goroutines"`
	Uptime            time.Duration `json:"uptime"`
}

var processStart = time.Now()

// GetResourceUsage samples CPU and memory usage. Sampling errors leave the
// affected fields at zero.
func GetResourceUsage() ResourceUsage {
	usage := ResourceUsage{
		Goroutines: runtime.NumGoroutine(),
		Uptime:     time.Since(processStart).Truncate(time.Second),
	}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		usage.HostCPUPercent = pct[0]
	}
	if memInfo, err := mem.VirtualMemory(); err == nil {
		usage.HostMemoryPercent = memInfo.UsedPercent
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mi, err := proc.MemoryInfo(); err == nil {
			usage.ProcessRSSMB = mi.RSS / (1024 * 1024)
		}
	}

	return usage
}
