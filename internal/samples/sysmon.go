package samples

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/ooui-go/ooui/internal/dom"
)

// Stats is one reading of host and process load.
type Stats struct {
	CPUPercent    float64   `json:"cpu_percent"`
	MemUsed       uint64    `json:"mem_used"`
	MemTotal      uint64    `json:"mem_total"`
	MemPercent    float64   `json:"mem_percent"`
	Uptime        uint64    `json:"uptime_seconds"`
	ProcessRSS    uint64    `json:"process_rss"`
	ProcessThread int32     `json:"process_threads"`
	SampledAt     time.Time `json:"sampled_at"`
}

// Sampler takes one reading.
type Sampler func(ctx context.Context) (Stats, error)

// HostSampler reads the machine and the current process through gopsutil.
func HostSampler() Sampler {
	var (
		once sync.Once
		self *process.Process
	)
	return func(ctx context.Context) (Stats, error) {
		var s Stats
		pct, err := cpu.PercentWithContext(ctx, 0, false)
		if err != nil {
			return s, fmt.Errorf("cpu percent: %w", err)
		}
		if len(pct) > 0 {
			s.CPUPercent = pct[0]
		}
		vm, err := mem.VirtualMemoryWithContext(ctx)
		if err != nil {
			return s, fmt.Errorf("virtual memory: %w", err)
		}
		s.MemUsed, s.MemTotal, s.MemPercent = vm.Used, vm.Total, vm.UsedPercent

		if up, err := host.UptimeWithContext(ctx); err == nil {
			s.Uptime = up
		}

		once.Do(func() {
			self, err = process.NewProcessWithContext(ctx, int32(os.Getpid()))
			if err != nil {
				log.Warn().Err(err).Msg("process stats unavailable")
			}
		})
		if self != nil {
			if mi, err := self.MemoryInfoWithContext(ctx); err == nil {
				s.ProcessRSS = mi.RSS
			}
			if n, err := self.NumThreadsWithContext(ctx); err == nil {
				s.ProcessThread = n
			}
		}
		s.SampledAt = time.Now()
		return s, nil
	}
}

// Status is the /status.json document.
type Status struct {
	Stats
	Sessions       int            `json:"sessions"`
	SessionsByPath map[string]int `json:"sessions_by_path,omitempty"`
}

// Monitor polls a Sampler and mirrors the latest reading into its page.
type Monitor struct {
	sampler  Sampler
	interval time.Duration

	mu     sync.RWMutex
	latest Stats

	pageOnce sync.Once
	root     *dom.Element
	cpu      *dom.Element
	mem      *dom.Element
	rss      *dom.Element
	threads  *dom.Element
	uptime   *dom.Element
	gauge    *dom.Element
}

func NewMonitor(sampler Sampler, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Monitor{sampler: sampler, interval: interval}
}

// Page returns the monitor tree, building it on first use.
func (m *Monitor) Page() *dom.Element {
	m.pageOnce.Do(func() {
		root := dom.NewDiv()
		root.AppendChild(dom.NewHeading(1, "System Monitor"))

		row := func(name string) *dom.Element {
			line := dom.NewDiv()
			line.AppendChild(dom.NewSpan(name + ": "))
			v := dom.NewSpan("-")
			line.AppendChild(v)
			root.AppendChild(line)
			return v
		}

		bar := dom.NewDiv()
		bar.SetStyle("width", "300px")
		bar.SetStyle("height", "12px")
		bar.SetStyle("background", "#eee")
		gauge := dom.NewDiv()
		gauge.SetStyle("height", "100%")
		gauge.SetStyle("background", "#2d7ff9")
		gauge.SetStyle("width", "0%")
		bar.AppendChild(gauge)

		m.mu.Lock()
		m.root = root
		m.cpu = row("CPU")
		m.mem = row("Memory")
		m.rss = row("Process RSS")
		m.threads = row("Threads")
		m.uptime = row("Uptime")
		m.gauge = gauge
		m.mu.Unlock()
		root.AppendChild(bar)
	})
	m.render()
	return m.root
}

// Run polls until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Sample(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sample(ctx)
		}
	}
}

// Sample takes one reading and updates the page.
func (m *Monitor) Sample(ctx context.Context) {
	s, err := m.sampler(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("sysmon sample failed")
		return
	}
	m.mu.Lock()
	m.latest = s
	m.mu.Unlock()
	m.render()
}

func (m *Monitor) Latest() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest
}

func (m *Monitor) Status(sessions SessionCounter) Status {
	st := Status{Stats: m.Latest()}
	if sessions != nil {
		st.Sessions = sessions.ActiveCount()
		st.SessionsByPath = sessions.CountByPath()
	}
	return st
}

func (m *Monitor) render() {
	m.mu.RLock()
	s := m.latest
	cpuEl, memEl, rssEl, thrEl, upEl, gauge := m.cpu, m.mem, m.rss, m.threads, m.uptime, m.gauge
	m.mu.RUnlock()
	if cpuEl == nil || s.SampledAt.IsZero() {
		return
	}

	cpuEl.SetText(fmt.Sprintf("%.1f%%", s.CPUPercent))
	memEl.SetText(fmt.Sprintf("%s / %s (%.1f%%)", formatBytes(s.MemUsed), formatBytes(s.MemTotal), s.MemPercent))
	rssEl.SetText(formatBytes(s.ProcessRSS))
	thrEl.SetText(fmt.Sprintf("%d", s.ProcessThread))
	upEl.SetText((time.Duration(s.Uptime) * time.Second).String())
	gauge.SetStyle("width", fmt.Sprintf("%.0f%%", s.CPUPercent))
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
