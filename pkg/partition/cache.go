package partition

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/cuemby/gridcore/pkg/gridcore"
	"github.com/cuemby/gridcore/pkg/metrics"
)

// maxTopologyDrift bounds how many topology versions behind the current
// one an affinity cache entry may be before it is eligible for age-out;
// beyond this the assignment is stale enough that recomputing is cheaper
// than trusting it (§4.G).
const maxTopologyDrift = 10

type cacheKey struct {
	cacheName       string
	topologyVersion int64
}

// AffinityCache memoizes AssignPartitions results per (cacheName,
// topologyVersion), coalescing concurrent misses for the same key with
// singleflight so a topology change doesn't trigger the same
// recomputation once per caller.
type AffinityCache struct {
	affinity *Affinity
	group    singleflight.Group

	mu      sync.Mutex
	entries map[cacheKey]map[int][]string
	current int64 // highest topology version seen, for age-out
}

// NewAffinityCache creates a cache backed by the given affinity function.
func NewAffinityCache(affinity *Affinity) *AffinityCache {
	return &AffinityCache{
		affinity: affinity,
		entries:  make(map[cacheKey]map[int][]string),
	}
}

// Get returns the partition assignment for (cacheName, topologyVersion),
// computing and caching it on first access via nodeIDs.
func (c *AffinityCache) Get(cacheName string, topologyVersion int64, nodeIDs []string) (map[int][]string, error) {
	key := cacheKey{cacheName: cacheName, topologyVersion: topologyVersion}

	c.mu.Lock()
	if assignment, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return assignment, nil
	}
	c.mu.Unlock()

	if len(nodeIDs) == 0 {
		return nil, &gridcore.AffinityUnavailableError{CacheName: cacheName, TopologyVersion: topologyVersion}
	}

	sfKey := fmt.Sprintf("%s@%d", cacheName, topologyVersion)
	result, err, _ := c.group.Do(sfKey, func() (interface{}, error) {
		assignment := c.affinity.AssignPartitions(nodeIDs, topologyVersion)

		c.mu.Lock()
		c.entries[key] = assignment
		if topologyVersion > c.current {
			c.current = topologyVersion
			c.ageOutLocked()
		}
		metrics.AffinityCacheSize.Set(float64(len(c.entries)))
		c.mu.Unlock()

		return assignment, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(map[int][]string), nil
}

// ageOutLocked drops entries whose topology version has fallen more than
// maxTopologyDrift behind the newest one observed. Caller holds c.mu.
func (c *AffinityCache) ageOutLocked() {
	for key := range c.entries {
		if c.current-key.topologyVersion > maxTopologyDrift {
			delete(c.entries, key)
		}
	}
}

// Invalidate drops every cached entry for cacheName, used when a cache
// is destroyed or reconfigured.
func (c *AffinityCache) Invalidate(cacheName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if key.cacheName == cacheName {
			delete(c.entries, key)
		}
	}
	metrics.AffinityCacheSize.Set(float64(len(c.entries)))
}

// Size reports the number of cached assignments, for tests and metrics.
func (c *AffinityCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
