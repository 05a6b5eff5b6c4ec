package vam

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/suballoc/memutils"
)

// BuildStatsString produces a json document describing the heap's memory heaps, memory types and pools.
// If detailedMap is true, every pool's chunks and free ranges are included as well.
func (h *DeviceHeap) BuildStatsString(detailedMap bool) string {
	writer := jwriter.NewWriter()
	json := writer.Object()

	var total memutils.DetailedStatistics
	total.Clear()
	h.CalculateStatistics(&total)

	totalObj := json.Name("Total").Object()
	total.PrintJson(&totalObj)
	totalObj.End()

	heaps := h.Heaps()
	heapsArray := json.Name("MemoryHeaps").Array()
	for heapIndex, info := range heaps {
		heapObj := heapsArray.Object()

		properties := h.deviceMemory.MemoryHeapProperties(heapIndex)
		heapObj.Name("Index").Int(heapIndex)
		heapObj.Name("Size").Int(properties.Size)
		heapObj.Name("Limit").Int(h.deviceMemory.HeapLimit(heapIndex))
		heapObj.Name("Reserved").Int(info.Reserved)
		heapObj.Name("Used").Int(info.Used)

		stats := h.deviceMemory.HeapStatistics(heapIndex)
		statsObj := heapObj.Name("Stats").Object()
		stats.PrintJson(&statsObj)
		statsObj.End()

		heapObj.End()
	}
	heapsArray.End()

	typesArray := json.Name("MemoryTypes").Array()
	for typeIndex := 0; typeIndex < h.deviceMemory.MemoryTypeCount(); typeIndex++ {
		typeObj := typesArray.Object()

		memoryType := h.deviceMemory.MemoryTypeProperties(typeIndex)
		typeObj.Name("Index").Int(typeIndex)
		typeObj.Name("HeapIndex").Int(memoryType.HeapIndex)
		typeObj.Name("DeviceLocal").Bool(h.deviceMemory.IsMemoryTypeDeviceLocal(typeIndex))
		typeObj.Name("HostVisible").Bool(h.deviceMemory.IsMemoryTypeHostVisible(typeIndex))
		typeObj.Name("Flags").Int(int(memoryType.PropertyFlags))

		typeObj.End()
	}
	typesArray.End()

	h.mutex.RLock()
	poolsObj := json.Name("Pools").Object()
	h.visitPools(func(pool *MemoryPool) {
		poolObj := poolsObj.Name(pool.Name()).Object()

		var stats memutils.DetailedStatistics
		stats.Clear()
		pool.AddDetailedStatistics(&stats)

		statsObj := poolObj.Name("Stats").Object()
		stats.PrintJson(&statsObj)
		statsObj.End()

		if detailedMap {
			mapObj := poolObj.Name("DetailedMap").Object()
			pool.PrintDetailedMap(&mapObj)
			mapObj.End()
		}

		poolObj.End()
	})
	poolsObj.End()
	h.mutex.RUnlock()

	json.End()
	return string(writer.Bytes())
}

// PoolStatistics pairs a buffer pool's name with its statistics
type PoolStatistics struct {
	Name  string
	Stats memutils.DetailedStatistics
}

// Stats returns the statistics of every buffer pool in (lifetime, binding, mapping) order
func (h *BufferHeap) Stats() []PoolStatistics {
	var pools []PoolStatistics
	h.visitPools(func(pool *BufferPool) {
		entry := PoolStatistics{Name: pool.Name()}
		entry.Stats.Clear()
		pool.AddDetailedStatistics(&entry.Stats)

		pools = append(pools, entry)
	})

	return pools
}

// BuildStatsString produces a json document with the statistics of every buffer pool, grouped by pool name.
// If detailedMap is true, every pool's chunks and free ranges are included as well.
func (h *BufferHeap) BuildStatsString(detailedMap bool) string {
	writer := jwriter.NewWriter()
	json := writer.Object()

	var total memutils.DetailedStatistics
	total.Clear()
	h.CalculateStatistics(&total)

	totalObj := json.Name("Total").Object()
	total.PrintJson(&totalObj)
	totalObj.End()

	json.Name("UnifiedMemory").Bool(h.unifiedMemory)

	poolsObj := json.Name("Pools").Object()
	h.visitPools(func(pool *BufferPool) {
		poolObj := poolsObj.Name(pool.Name()).Object()

		var stats memutils.DetailedStatistics
		stats.Clear()
		pool.AddDetailedStatistics(&stats)

		statsObj := poolObj.Name("Stats").Object()
		stats.PrintJson(&statsObj)
		statsObj.End()

		if detailedMap {
			mapObj := poolObj.Name("DetailedMap").Object()
			pool.PrintDetailedMap(&mapObj)
			mapObj.End()
		}

		poolObj.End()
	})
	poolsObj.End()

	json.End()
	return string(writer.Bytes())
}
