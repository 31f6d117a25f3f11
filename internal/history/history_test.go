package history

import (
	"bytes"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, New(0).Limit())
	assert.Equal(t, DefaultLimit, New(-5).Limit())
	assert.Equal(t, 512, New(512).Limit())
}

func TestAppendKeepsOrder(t *testing.T) {
	b := New(1024)
	b.Append([]byte("one"))
	b.Append([]byte("two"))
	b.Append(nil)
	b.Append([]byte("three"))

	snap := b.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "one", string(snap[0]))
	assert.Equal(t, "two", string(snap[1]))
	assert.Equal(t, "three", string(snap[2]))
	assert.Equal(t, 11, b.Size())
	assert.Equal(t, 3, b.Len())
}

func TestAppendCopiesInput(t *testing.T) {
	b := New(64)
	chunk := []byte("abc")
	b.Append(chunk)
	chunk[0] = 'X'

	snap := b.Snapshot()
	assert.Equal(t, "abc", string(snap[0]))

	snap[0][1] = 'Y'
	assert.Equal(t, "abc", string(b.Snapshot()[0]))
}

func TestEvictsOldestFirst(t *testing.T) {
	b := New(10)
	b.Append([]byte("aaaa"))
	b.Append([]byte("bbbb"))
	b.Append([]byte("cccc"))

	snap := b.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "bbbb", string(snap[0]))
	assert.Equal(t, "cccc", string(snap[1]))
	assert.Equal(t, 8, b.Size())
}

func TestOversizedChunkKeepsTail(t *testing.T) {
	b := New(4)
	b.Append([]byte("xy"))
	b.Append([]byte("0123456789"))

	snap := b.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "6789", string(snap[0]))
	assert.Equal(t, 4, b.Size())
}

func TestReset(t *testing.T) {
	b := New(64)
	b.Append([]byte("data"))
	b.Reset()

	assert.Zero(t, b.Size())
	assert.Zero(t, b.Len())
	assert.Empty(t, b.Snapshot())
}

// Randomized chunk sizes against a 1 KiB budget: the retained bytes never
// exceed the budget and always form a suffix of everything appended.
func TestBudgetProperty(t *testing.T) {
	const limit = 1024
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {
		b := New(limit)
		var all [][]byte
		for i := 0; i < 200; i++ {
			size := rng.Intn(300)
			if rng.Intn(20) == 0 {
				size = limit + rng.Intn(limit)
			}
			chunk := bytes.Repeat([]byte{byte('a' + i%26)}, size)
			b.Append(chunk)
			if size > 0 {
				if size > limit {
					chunk = chunk[size-limit:]
				}
				all = append(all, chunk)
			}

			require.LessOrEqual(t, b.Size(), limit)

			snap := b.Snapshot()
			total := 0
			for _, c := range snap {
				total += len(c)
			}
			require.Equal(t, b.Size(), total)

			// Retained chunks are the newest ones, in order.
			tail := all[len(all)-len(snap):]
			for j := range snap {
				require.Equal(t, tail[j], snap[j])
			}
			// The next-older chunk would not have fit.
			if len(snap) < len(all) {
				require.Greater(t, total+len(all[len(all)-len(snap)-1]), limit)
			}
		}
	}
}

func TestConcurrentAppend(t *testing.T) {
	b := New(4096)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				b.Append([]byte("chunk"))
				_ = b.Snapshot()
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, b.Size(), 4096)
}
