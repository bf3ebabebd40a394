// Package metrics holds the lock-free counters the capture/forwarder/
// storage pipeline updates on the hot path, and a periodic summary logger
// that reports them alongside queue backlog and host resource context.
package metrics

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/haloframe/screenlogd/internal/deployment"
	"github.com/haloframe/screenlogd/internal/logging"
)

var log = logging.L("metrics")

// QueueSampler reports the current depth and capacity of a named channel
// so the metrics summary can flag backlog before a queue actually fills.
type QueueSampler func() (depth, capacity int)

// Metrics is the set of atomic counters tracked across the capture pipeline.
// All fields are safe for concurrent use from any pipeline stage.
type Metrics struct {
	startedAt time.Time

	framesCaptured      atomic.Uint64
	framesDedupedMemory atomic.Uint64
	framesDedupedDB     atomic.Uint64
	framesStored        atomic.Uint64
	framesFailed        atomic.Uint64
	hashHits            atomic.Uint64

	queues map[string]QueueSampler
}

// New creates a Metrics tracker with the clock started at construction time.
func New() *Metrics {
	return &Metrics{
		startedAt: time.Now(),
		queues:    make(map[string]QueueSampler),
	}
}

// RegisterQueue associates a name (e.g. "capture", "storage") with a sampler
// used to report free capacity in the periodic summary. Call before
// starting the summary logger; not safe for concurrent registration.
func (m *Metrics) RegisterQueue(name string, sampler QueueSampler) {
	m.queues[name] = sampler
}

func (m *Metrics) IncFramesCaptured()      { m.framesCaptured.Add(1) }
func (m *Metrics) IncFramesDedupedMemory() { m.framesDedupedMemory.Add(1) }
func (m *Metrics) IncFramesDedupedDB()     { m.framesDedupedDB.Add(1) }
func (m *Metrics) IncFramesStored()        { m.framesStored.Add(1) }
func (m *Metrics) IncFramesFailed()        { m.framesFailed.Add(1) }
func (m *Metrics) IncHashHits()            { m.hashHits.Add(1) }

// Snapshot is a point-in-time read of every counter plus queue/host context.
type Snapshot struct {
	DeploymentID        string
	UptimeSecs          float64
	FramesCaptured      uint64
	FramesDedupedMemory uint64
	FramesDedupedDB     uint64
	FramesStored        uint64
	FramesFailed        uint64
	HashHits            uint64
	QueueDepths         map[string]int
	QueueCapacities     map[string]int
	ProcessRSSBytes     uint64
	HostCPUPercent      float64
}

// Snapshot reads all counters and queue/host context at once.
func (m *Metrics) Snapshot() Snapshot {
	depths := make(map[string]int, len(m.queues))
	caps := make(map[string]int, len(m.queues))
	for name, sampler := range m.queues {
		depth, capacity := sampler()
		depths[name] = depth
		caps[name] = capacity
	}

	return Snapshot{
		DeploymentID:        deployment.ID(),
		UptimeSecs:          time.Since(m.startedAt).Seconds(),
		FramesCaptured:      m.framesCaptured.Load(),
		FramesDedupedMemory: m.framesDedupedMemory.Load(),
		FramesDedupedDB:     m.framesDedupedDB.Load(),
		FramesStored:        m.framesStored.Load(),
		FramesFailed:        m.framesFailed.Load(),
		HashHits:            m.hashHits.Load(),
		QueueDepths:         depths,
		QueueCapacities:     caps,
		ProcessRSSBytes:     processRSS(),
		HostCPUPercent:      hostCPUPercent(),
	}
}

// RunSummaryLogger logs a Snapshot every interval until ctx is cancelled,
// warning whenever a registered queue's depth exceeds warnThreshold of its
// capacity.
func (m *Metrics) RunSummaryLogger(ctx context.Context, interval time.Duration, warnThreshold float64) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.logSummary(warnThreshold)
		}
	}
}

func (m *Metrics) logSummary(warnThreshold float64) {
	snap := m.Snapshot()

	log.Info("metrics summary",
		"uptimeSecs", snap.UptimeSecs,
		"framesCaptured", snap.FramesCaptured,
		"framesDedupedMemory", snap.FramesDedupedMemory,
		"framesDedupedDb", snap.FramesDedupedDB,
		"framesStored", snap.FramesStored,
		"framesFailed", snap.FramesFailed,
		"hashHits", snap.HashHits,
		"processRssBytes", snap.ProcessRSSBytes,
		"hostCpuPercent", snap.HostCPUPercent,
		"queueDepths", snap.QueueDepths,
		"queueCapacities", snap.QueueCapacities,
	)

	for name, depth := range snap.QueueDepths {
		capacity := snap.QueueCapacities[name]
		if capacity <= 0 {
			continue
		}
		fill := float64(depth) / float64(capacity)
		if fill >= warnThreshold {
			log.Warn("queue backlog above warn threshold",
				"queue", name, "depth", depth, "capacity", capacity, "fill", fill)
		}
	}
}

func processRSS() uint64 {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0
	}
	info, err := p.MemoryInfo()
	if err != nil || info == nil {
		return 0
	}
	return info.RSS
}

func hostCPUPercent() float64 {
	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		return 0
	}
	return percents[0]
}
