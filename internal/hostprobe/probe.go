// Package hostprobe samples host-level signals: CPU, memory and disk usage,
// plus database and cache reachability. Samples feed the alert engine and the
// performance/system report sources.
package hostprobe

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/admincore/admincore/internal/cache"
)

// DBPinger is the database side of the probe.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// Probe reads instantaneous host signals.
type Probe struct {
	db       DBPinger
	cacheSt  *cache.Store
	diskPath string

	mu       sync.Mutex
	lastIdle uint64
	lastBusy uint64
}

// New creates a probe. diskPath is the filesystem whose usage is reported
// (typically the data directory).
func New(db DBPinger, cacheStore *cache.Store, diskPath string) *Probe {
	if diskPath == "" {
		diskPath = "/"
	}
	return &Probe{db: db, cacheSt: cacheStore, diskPath: diskPath}
}

// CPUPercent returns instantaneous CPU usage based on the /proc/stat delta
// since the previous call. The first call establishes the baseline and
// reports zero.
func (p *Probe) CPUPercent() (float64, error) {
	idle, busy, err := readCPUStat()
	if err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	dIdle := idle - p.lastIdle
	dBusy := busy - p.lastBusy
	first := p.lastIdle == 0 && p.lastBusy == 0
	p.lastIdle, p.lastBusy = idle, busy

	total := dIdle + dBusy
	if first || total == 0 {
		return 0, nil
	}
	return float64(dBusy) / float64(total) * 100, nil
}

// MemoryPercent returns used physical memory as a percentage.
func (p *Probe) MemoryPercent() (float64, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var total, available uint64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		v, _ := strconv.ParseUint(fields[1], 10, 64)
		switch fields[0] {
		case "MemTotal:":
			total = v
		case "MemAvailable:":
			available = v
		}
	}
	if err := sc.Err(); err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, fmt.Errorf("meminfo: MemTotal missing")
	}
	return float64(total-available) / float64(total) * 100, nil
}

// DiskPercent returns used space on the probe's filesystem as a percentage.
func (p *Probe) DiskPercent() (float64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(p.diskPath, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", p.diskPath, err)
	}
	total := st.Blocks * uint64(st.Bsize)
	if total == 0 {
		return 0, nil
	}
	free := st.Bavail * uint64(st.Bsize)
	return float64(total-free) / float64(total) * 100, nil
}

// DBPing reports database reachability.
func (p *Probe) DBPing(ctx context.Context) error {
	if p.db == nil {
		return fmt.Errorf("no database configured")
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.db.Ping(ctx)
}

// CachePing reports cache health.
func (p *Probe) CachePing() error {
	return p.cacheSt.Ping()
}

// SystemInfo is host platform metadata for the system report source.
type SystemInfo struct {
	Hostname     string `json:"hostname"`
	OS           string `json:"os"`
	Architecture string `json:"architecture"`
	NumCPU       int    `json:"num_cpu"`
	GoVersion    string `json:"go_version"`
	PID          int    `json:"pid"`
}

// Info returns host platform metadata.
func (p *Probe) Info() SystemInfo {
	host, _ := os.Hostname()
	return SystemInfo{
		Hostname:     host,
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		NumCPU:       runtime.NumCPU(),
		GoVersion:    runtime.Version(),
		PID:          os.Getpid(),
	}
}

func readCPUStat() (idle, busy uint64, err error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 5 || fields[0] != "cpu" {
			continue
		}
		// cpu user nice system idle iowait irq softirq steal ...
		for i, raw := range fields[1:] {
			v, perr := strconv.ParseUint(raw, 10, 64)
			if perr != nil {
				continue
			}
			if i == 3 || i == 4 { // idle, iowait
				idle += v
			} else {
				busy += v
			}
		}
		return idle, busy, nil
	}
	if err := sc.Err(); err != nil {
		return 0, 0, err
	}
	return 0, 0, fmt.Errorf("/proc/stat: cpu line missing")
}
