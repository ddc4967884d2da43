package metrics

import (
	"time"

	"github.com/tidestream/tidestream/pkg/meta"
)

// Collector periodically samples the meta service's in-memory state into
// gauges. Grounded on the teacher's manager-polling metrics collector.
type Collector struct {
	mgr    *meta.Manager
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector bound to a meta manager.
func NewCollector(mgr *meta.Manager) *Collector {
	return &Collector{
		mgr:    mgr,
		stopCh: make(chan struct{}),
	}
}

// Start begins the periodic collection loop.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectWorkerMetrics()
	c.collectRaftMetrics()
	c.collectSharedBufferMetrics()
}

func (c *Collector) collectWorkerMetrics() {
	workers := c.mgr.ListWorkers()

	counts := make(map[string]map[string]int)
	for _, w := range workers {
		kind := string(w.Kind)
		status := string(w.Status)
		if counts[kind] == nil {
			counts[kind] = make(map[string]int)
		}
		counts[kind][status]++
	}

	for kind, statuses := range counts {
		for status, count := range statuses {
			WorkersTotal.WithLabelValues(kind, status).Set(float64(count))
		}
	}
}

func (c *Collector) collectRaftMetrics() {
	if c.mgr.IsLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}

	stats := c.mgr.GetRaftStats()
	if peers, ok := stats["peers"].(int); ok {
		RaftPeers.Set(float64(peers))
	}
}

func (c *Collector) collectSharedBufferMetrics() {
	SharedBufferSizeBytes.Set(float64(c.mgr.HummockVersionManager().SharedBufferSizeHint()))
}
