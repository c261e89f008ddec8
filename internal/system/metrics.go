package system

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/luigi-home/luigid/internal/clock"
	"github.com/luigi-home/luigid/internal/command"
)

// Metrics is a point-in-time host snapshot. Pointer fields are probes
// that can legitimately be unavailable.
type Metrics struct {
	Timestamp            time.Time `json:"timestamp"`
	UptimeSeconds        float64   `json:"uptime_seconds"`
	CPUUsedPercent       float64   `json:"cpu_used_percent"`
	Load1                float64   `json:"load_1"`
	Load5                float64   `json:"load_5"`
	Load15               float64   `json:"load_15"`
	MemoryTotalBytes     uint64    `json:"memory_total_bytes"`
	MemoryAvailableBytes uint64    `json:"memory_available_bytes"`
	MemoryUsedPercent    float64   `json:"memory_used_percent"`
	DiskTotalBytes       uint64    `json:"disk_total_bytes"`
	DiskFreeBytes        uint64    `json:"disk_free_bytes"`
	DiskUsedPercent      float64   `json:"disk_used_percent"`
	CPUTempCelsius       *float64  `json:"cpu_temp_celsius"`
}

// MetricsReader reads host metrics from /proc, statfs and the firmware
// temperature tool.
type MetricsReader struct {
	procRoot     string
	thermalPath  string
	diskPath     string
	cpuSampleGap time.Duration
	runner       command.Runner
	clk          clock.Clock
}

// MetricsOption configures a MetricsReader.
type MetricsOption func(*MetricsReader)

// WithProcRoot overrides /proc for tests.
func WithProcRoot(root string) MetricsOption {
	return func(m *MetricsReader) { m.procRoot = root }
}

// WithThermalPath overrides the sysfs thermal zone file.
func WithThermalPath(path string) MetricsOption {
	return func(m *MetricsReader) { m.thermalPath = path }
}

// WithRunner provides the runner used for vcgencmd.
func WithRunner(r command.Runner) MetricsOption {
	return func(m *MetricsReader) { m.runner = r }
}

// NewMetricsReader creates a MetricsReader. diskPath is the filesystem
// whose usage is reported; empty means the root filesystem.
func NewMetricsReader(diskPath string, opts ...MetricsOption) *MetricsReader {
	if diskPath == "" {
		diskPath = "/"
	}
	m := &MetricsReader{
		procRoot:     "/proc",
		thermalPath:  "/sys/class/thermal/thermal_zone0/temp",
		diskPath:     diskPath,
		cpuSampleGap: 200 * time.Millisecond,
		clk:          &clock.RealClock{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Read collects a metrics snapshot. Probe failures zero the affected
// fields rather than failing the whole read; only a completely broken
// /proc is an error.
func (m *MetricsReader) Read() (*Metrics, error) {
	metrics := &Metrics{Timestamp: m.clk.Now()}

	uptime, err := m.readUptime()
	if err != nil {
		return nil, fmt.Errorf("read uptime: %w", err)
	}
	metrics.UptimeSeconds = uptime

	if l1, l5, l15, err := m.readLoadAvg(); err == nil {
		metrics.Load1, metrics.Load5, metrics.Load15 = l1, l5, l15
	}

	if cpu, err := m.readCPUPercent(); err == nil {
		metrics.CPUUsedPercent = cpu
	}

	if total, available, err := m.readMemInfo(); err == nil {
		metrics.MemoryTotalBytes = total
		metrics.MemoryAvailableBytes = available
		if total > 0 {
			metrics.MemoryUsedPercent = float64(total-available) / float64(total) * 100
		}
	}

	var st unix.Statfs_t
	if err := unix.Statfs(m.diskPath, &st); err == nil {
		bsize := uint64(st.Bsize)
		metrics.DiskTotalBytes = st.Blocks * bsize
		metrics.DiskFreeBytes = st.Bavail * bsize
		if st.Blocks > 0 {
			used := st.Blocks - st.Bfree
			metrics.DiskUsedPercent = float64(used) / float64(used+st.Bavail) * 100
		}
	}

	if temp, err := m.readTemperature(); err == nil {
		metrics.CPUTempCelsius = &temp
	}

	return metrics, nil
}

// readUptime parses /proc/uptime.
func (m *MetricsReader) readUptime() (float64, error) {
	data, err := os.ReadFile(filepath.Join(m.procRoot, "uptime"))
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) < 1 {
		return 0, fmt.Errorf("malformed uptime")
	}
	return strconv.ParseFloat(fields[0], 64)
}

// readLoadAvg parses /proc/loadavg.
func (m *MetricsReader) readLoadAvg() (float64, float64, float64, error) {
	data, err := os.ReadFile(filepath.Join(m.procRoot, "loadavg"))
	if err != nil {
		return 0, 0, 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		return 0, 0, 0, fmt.Errorf("malformed loadavg")
	}
	l1, err1 := strconv.ParseFloat(fields[0], 64)
	l5, err2 := strconv.ParseFloat(fields[1], 64)
	l15, err3 := strconv.ParseFloat(fields[2], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, 0, 0, fmt.Errorf("malformed loadavg")
	}
	return l1, l5, l15, nil
}

// readCPUPercent computes CPU usage from two /proc/stat samples taken
// a short interval apart.
func (m *MetricsReader) readCPUPercent() (float64, error) {
	idle1, total1, err := m.readCPUStat()
	if err != nil {
		return 0, err
	}
	time.Sleep(m.cpuSampleGap)
	idle2, total2, err := m.readCPUStat()
	if err != nil {
		return 0, err
	}

	totalDelta := total2 - total1
	if totalDelta == 0 {
		return 0, nil
	}
	idleDelta := idle2 - idle1
	return float64(totalDelta-idleDelta) / float64(totalDelta) * 100, nil
}

// readCPUStat parses the aggregate cpu line of /proc/stat, returning
// idle and total jiffies.
func (m *MetricsReader) readCPUStat() (idle, total uint64, err error) {
	data, err := os.ReadFile(filepath.Join(m.procRoot, "stat"))
	if err != nil {
		return 0, 0, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 || fields[0] != "cpu" {
			continue
		}
		for i, f := range fields[1:] {
			v, err := strconv.ParseUint(f, 10, 64)
			if err != nil {
				return 0, 0, fmt.Errorf("malformed stat field %q", f)
			}
			total += v
			// idle is field 4, iowait field 5
			if i == 3 || i == 4 {
				idle += v
			}
		}
		return idle, total, nil
	}
	return 0, 0, fmt.Errorf("cpu line not found")
}

// readMemInfo parses MemTotal and MemAvailable from /proc/meminfo, in bytes.
func (m *MetricsReader) readMemInfo() (uint64, uint64, error) {
	data, err := os.ReadFile(filepath.Join(m.procRoot, "meminfo"))
	if err != nil {
		return 0, 0, err
	}

	var total, available uint64
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total = kb * 1024
		case "MemAvailable:":
			available = kb * 1024
		}
	}
	if total == 0 {
		return 0, 0, fmt.Errorf("MemTotal not found")
	}
	return total, available, nil
}

// readTemperature tries the firmware tool first and falls back to the
// sysfs thermal zone. Boards without either simply report no reading.
func (m *MetricsReader) readTemperature() (float64, error) {
	if m.runner != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		result, err := m.runner.Run(ctx, command.Argv{"vcgencmd", "measure_temp"}, 5*time.Second)
		cancel()
		if err == nil && result.Success {
			if temp, err := parseVcgencmd(result.Stdout); err == nil {
				return temp, nil
			}
		}
	}

	data, err := os.ReadFile(m.thermalPath)
	if err != nil {
		return 0, err
	}
	milli, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, err
	}
	return milli / 1000, nil
}

// parseVcgencmd extracts the value from output like "temp=48.3'C".
func parseVcgencmd(output string) (float64, error) {
	s := strings.TrimSpace(output)
	s = strings.TrimPrefix(s, "temp=")
	s = strings.TrimSuffix(s, "'C")
	return strconv.ParseFloat(s, 64)
}
