package bucketing

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForIsStable(t *testing.T) {
	b := New(8)
	first := b.For("8f14e45f-ceea-467a-9a36-dedd4bea2543")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, b.For("8f14e45f-ceea-467a-9a36-dedd4bea2543"))
	}
	assert.Equal(t, first, New(8).For("8f14e45f-ceea-467a-9a36-dedd4bea2543"))
}

func TestForSpreadsKeys(t *testing.T) {
	b := New(4)
	seen := make(map[int]int)
	for i := 0; i < 1000; i++ {
		n := b.For(fmt.Sprintf("record-%d", i))
		assert.GreaterOrEqual(t, n, 0)
		assert.Less(t, n, 4)
		seen[n]++
	}
	assert.Len(t, seen, 4)
	for _, c := range seen {
		assert.Greater(t, c, 150)
	}
}

func TestDefaultCount(t *testing.T) {
	b := New(0)
	assert.Equal(t, DefaultCount, b.Count())
	assert.Len(t, b.All(), DefaultCount)
	assert.Equal(t, DefaultCount-1, b.All()[DefaultCount-1])
}

func TestConcurrentUse(t *testing.T) {
	b := New(32)
	want := b.For("shared")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				assert.Equal(t, want, b.For("shared"))
			}
		}()
	}
	wg.Wait()
}
