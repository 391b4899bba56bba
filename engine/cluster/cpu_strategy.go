package cluster

import (
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
)

// cpuStrategy assigns lights on the CPU. Each depth slice is an independent
// task on the worker pool; the per-cluster lists are then compacted serially
// in cluster order so the output never depends on task scheduling.
type cpuStrategy struct {
	pool    worker.DynamicWorkerPool
	workers int
	lists   [][]uint32
	indices []uint32
}

func newCPUStrategy(workers int) *cpuStrategy {
	c := &cpuStrategy{workers: max(workers, 1)}
	if c.workers > 1 {
		c.pool = worker.NewDynamicWorkerPool(c.workers, 256, 1*time.Second)
	}
	return c
}

func (c *cpuStrategy) name() string { return "cpu" }

// release stops the worker pool. Later assignments run serially.
func (c *cpuStrategy) release() {
	if c.pool == nil {
		return
	}
	c.pool.Stop()
	c.pool = nil
}

// assign writes Offset/Count into clusters and returns the flat index list.
func (c *cpuStrategy) assign(clusters []Cluster, g GridSize, lights []ClusterLight, maxPerCluster, maxIndices int) []uint32 {
	if cap(c.lists) < len(clusters) {
		c.lists = make([][]uint32, len(clusters))
	}
	c.lists = c.lists[:len(clusters)]

	sliceSize := int(g.X * g.Y)
	if c.pool == nil || len(lights) == 0 {
		for z := range int(g.Z) {
			c.assignSlice(clusters, lights, z*sliceSize, (z+1)*sliceSize, maxPerCluster)
		}
	} else {
		var wg sync.WaitGroup
		for z := range int(g.Z) {
			wg.Add(1)
			lo, hi := z*sliceSize, (z+1)*sliceSize
			c.pool.SubmitTask(worker.Task{
				ID: z,
				Do: func() (any, error) {
					defer wg.Done()
					c.assignSlice(clusters, lights, lo, hi, maxPerCluster)
					return nil, nil
				},
			})
		}
		wg.Wait()
	}

	c.indices = c.indices[:0]
	for i := range clusters {
		list := c.lists[i]
		offset := len(c.indices)
		count := min(len(list), max(maxIndices-offset, 0))
		c.indices = append(c.indices, list[:count]...)
		clusters[i].Offset = uint32(offset)
		clusters[i].Count = uint32(count)
	}
	return c.indices
}

// assignSlice fills the candidate lists of clusters [lo, hi), lights in input order.
func (c *cpuStrategy) assignSlice(clusters []Cluster, lights []ClusterLight, lo, hi, maxPerCluster int) {
	for i := lo; i < hi; i++ {
		list := c.lists[i][:0]
		b := clusters[i].Bounds
		for li := range lights {
			if len(list) >= maxPerCluster {
				break
			}
			if lights[li].touches(b) {
				list = append(list, uint32(li))
			}
		}
		c.lists[i] = list
	}
}
