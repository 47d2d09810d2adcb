// Package bucketing spreads keys over a fixed number of partitions with
// murmur3 so that one wide collection does not grow a single partition
// without bound. A key always maps to the same bucket for a given count, so
// the count must not change once data has been written.
package bucketing

import (
	"hash"
	"sync"

	"github.com/spaolacci/murmur3"
)

// DefaultCount is used when a non-positive count is configured.
const DefaultCount = 16

type Buckets struct {
	count int
	pool  sync.Pool
}

func New(count int) *Buckets {
	if count <= 0 {
		count = DefaultCount
	}
	return &Buckets{
		count: count,
		pool: sync.Pool{
			New: func() interface{} {
				return murmur3.New64()
			},
		},
	}
}

// For returns the bucket of key in [0, Count()).
func (b *Buckets) For(key string) int {
	h := b.pool.Get().(hash.Hash64)
	defer b.pool.Put(h)

	h.Reset()
	_, _ = h.Write([]byte(key))
	return int(h.Sum64() % uint64(b.count))
}

func (b *Buckets) Count() int {
	return b.count
}

// All lists every bucket, for scatter reads over a whole collection.
func (b *Buckets) All() []int {
	all := make([]int, b.count)
	for i := range all {
		all[i] = i
	}
	return all
}
