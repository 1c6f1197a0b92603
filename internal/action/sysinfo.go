package action

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

var startTime = time.Now()

// SystemInfo reports host facts. It has no side effects.
type SystemInfo struct {
	diskPath string
}

func NewSystemInfo(diskPath string) *SystemInfo {
	if diskPath == "" {
		diskPath = "/"
	}
	return &SystemInfo{diskPath: diskPath}
}

func (t *SystemInfo) Name() string { return "get_system_info" }

func (t *SystemInfo) Description() string {
	return "Get system information: OS, CPU model and cores, memory, disk usage, hostname and uptime."
}

func (t *SystemInfo) Parameters() map[string]any {
	return Parameters(map[string]Param{}, nil)
}

func (t *SystemInfo) Invoke(ctx context.Context, params map[string]any) (any, error) {
	hostname, _ := os.Hostname()

	info := map[string]any{
		"hostname":       hostname,
		"os":             runtime.GOOS + "/" + runtime.GOARCH,
		"logical_cores":  runtime.NumCPU(),
		"go_version":     runtime.Version(),
		"gateway_uptime": humanize.RelTime(startTime, time.Now(), "", ""),
		"time":           time.Now().Format(time.RFC3339),
	}
	if v := osVersion(); v != "" {
		info["os_version"] = v
	}
	if cpu := cpuName(); cpu != "" {
		info["cpu"] = cpu
	}
	if mem := memInfo(); mem != nil {
		info["memory"] = mem
	}
	if total, free, err := diskUsage(t.diskPath); err == nil && total > 0 {
		info["disk"] = map[string]any{
			"path":      t.diskPath,
			"total":     humanize.IBytes(total),
			"available": humanize.IBytes(free),
			"used_pct":  fmt.Sprintf("%.1f%%", 100*float64(total-free)/float64(total)),
		}
	}
	return info, ctx.Err()
}

func osVersion() string {
	if runtime.GOOS != "linux" {
		return ""
	}
	data, err := os.ReadFile("/etc/os-release")
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "PRETTY_NAME=") {
			return strings.Trim(strings.TrimPrefix(line, "PRETTY_NAME="), "\"")
		}
	}
	return ""
}

func cpuName() string {
	data, err := os.ReadFile("/proc/cpuinfo")
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "model name") {
			if parts := strings.SplitN(line, ":", 2); len(parts) == 2 {
				return strings.TrimSpace(parts[1])
			}
		}
	}
	return ""
}

func memInfo() map[string]string {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		return map[string]string{"gateway_sys": humanize.IBytes(ms.Sys)}
	}
	var total, available uint64
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "MemTotal:") {
			fmt.Sscanf(line, "MemTotal: %d kB", &total)
		}
		if strings.HasPrefix(line, "MemAvailable:") {
			fmt.Sscanf(line, "MemAvailable: %d kB", &available)
		}
	}
	if total == 0 {
		return nil
	}
	out := map[string]string{"total": humanize.IBytes(total * 1024)}
	if available > 0 {
		out["available"] = humanize.IBytes(available * 1024)
		out["used"] = humanize.IBytes((total - available) * 1024)
	}
	return out
}
