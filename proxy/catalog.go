package proxy

import (
	"sort"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/srg/sensormux/internal/handle"
	"github.com/srg/sensormux/pkg/sensors"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// catalog maps proxy handles to sensor descriptors.
//
// Static sensors are written once by New and only read afterwards, so the
// event path looks them up without locking. Dynamic sensors change at
// runtime and live under dynMu, kept in connection order.
type catalog struct {
	static *hashmap.Map[int32, sensors.SensorInfo]

	dynMu   sync.Mutex
	dynamic *orderedmap.OrderedMap[int32, sensors.SensorInfo]
}

func newCatalog() *catalog {
	return &catalog{
		static:  hashmap.New[int32, sensors.SensorInfo](),
		dynamic: orderedmap.New[int32, sensors.SensorInfo](),
	}
}

func (c *catalog) addStatic(info sensors.SensorInfo) {
	c.static.Set(info.Handle, info)
}

func (c *catalog) lookup(h int32) (sensors.SensorInfo, bool) {
	if info, ok := c.static.Get(h); ok {
		return info, true
	}

	c.dynMu.Lock()
	defer c.dynMu.Unlock()
	return c.dynamic.Get(h)
}

func (c *catalog) isWakeUp(h int32) bool {
	info, ok := c.lookup(h)
	return ok && info.IsWakeUp()
}

// list returns every known sensor sorted by handle.
func (c *catalog) list() []sensors.SensorInfo {
	out := make([]sensors.SensorInfo, 0, c.static.Len())
	c.static.Range(func(_ int32, info sensors.SensorInfo) bool {
		out = append(out, info)
		return true
	})

	c.dynMu.Lock()
	for pair := c.dynamic.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	c.dynMu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

func (c *catalog) staticHandles() []int32 {
	out := make([]int32, 0, c.static.Len())
	c.static.Range(func(h int32, _ sensors.SensorInfo) bool {
		out = append(out, h)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c *catalog) dynamicHandles() []int32 {
	c.dynMu.Lock()
	defer c.dynMu.Unlock()

	out := make([]int32, 0, c.dynamic.Len())
	for pair := c.dynamic.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

func (c *catalog) counts() (static, dynamic int) {
	c.dynMu.Lock()
	defer c.dynMu.Unlock()
	return c.static.Len(), c.dynamic.Len()
}

// connect tags the provider-local sensors with idx and records them. Entries
// whose handle already carries an index are returned in rejected.
func (c *catalog) connect(idx int, infos []sensors.SensorInfo) (added, rejected []sensors.SensorInfo) {
	c.dynMu.Lock()
	defer c.dynMu.Unlock()

	added = make([]sensors.SensorInfo, 0, len(infos))
	for _, info := range infos {
		if !handle.IsEncodable(info.Handle) {
			rejected = append(rejected, info)
			continue
		}
		info.Handle = handle.Encode(info.Handle, idx)
		c.dynamic.Set(info.Handle, info)
		added = append(added, info)
	}
	return added, rejected
}

// disconnect tags the provider-local handles with idx and removes them.
// Only handles that were present are returned in removed.
func (c *catalog) disconnect(idx int, locals []int32) (removed, rejected []int32) {
	c.dynMu.Lock()
	defer c.dynMu.Unlock()

	removed = make([]int32, 0, len(locals))
	for _, local := range locals {
		if !handle.IsEncodable(local) {
			rejected = append(rejected, local)
			continue
		}
		h := handle.Encode(local, idx)
		if _, present := c.dynamic.Delete(h); present {
			removed = append(removed, h)
		}
	}
	return removed, rejected
}

func (c *catalog) clearDynamic() {
	c.dynMu.Lock()
	defer c.dynMu.Unlock()
	c.dynamic = orderedmap.New[int32, sensors.SensorInfo]()
}
