// ABOUTME: Tests for the claimed-key ledger
// ABOUTME: Covers scoping, expiry, size bound, Forget, and concurrent claims

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_ClaimOnce(t *testing.T) {
	l := New(time.Hour, 100)
	defer l.Close()

	assert.True(t, l.Claim("wf-1", "call-1"))
	assert.False(t, l.Claim("wf-1", "call-1"))
	assert.True(t, l.Seen("wf-1", "call-1"))
}

func TestLedger_ScopesAreIndependent(t *testing.T) {
	l := New(time.Hour, 100)
	defer l.Close()

	require.True(t, l.Claim("wf-1", "call-1"))
	assert.True(t, l.Claim("wf-2", "call-1"))
	assert.Equal(t, 2, l.Len())
}

func TestLedger_Expiry(t *testing.T) {
	l := New(time.Minute, 100)
	defer l.Close()

	now := time.Now()
	l.now = func() time.Time { return now }
	require.True(t, l.Claim("wf", "call"))

	now = now.Add(2 * time.Minute)
	assert.False(t, l.Seen("wf", "call"))
	assert.True(t, l.Claim("wf", "call"))
	assert.Equal(t, 1, l.Len())
}

func TestLedger_ExpireSweep(t *testing.T) {
	l := New(time.Minute, 100)
	defer l.Close()

	now := time.Now()
	l.now = func() time.Time { return now }
	l.Claim("wf", "old")
	now = now.Add(30 * time.Second)
	l.Claim("wf", "new")
	now = now.Add(45 * time.Second)

	l.expire()
	assert.False(t, l.Seen("wf", "old"))
	assert.True(t, l.Seen("wf", "new"))
	assert.Equal(t, 1, l.Len())
}

func TestLedger_SizeBound(t *testing.T) {
	l := New(time.Hour, 3)
	defer l.Close()

	for i := 0; i < 5; i++ {
		l.Claim("wf", fmt.Sprintf("call-%d", i))
	}
	assert.Equal(t, 3, l.Len())
	assert.False(t, l.Seen("wf", "call-0"))
	assert.False(t, l.Seen("wf", "call-1"))
	assert.True(t, l.Seen("wf", "call-4"))
}

func TestLedger_Forget(t *testing.T) {
	l := New(time.Hour, 100)
	defer l.Close()

	l.Claim("wf-1", "a")
	l.Claim("wf-1", "b")
	l.Claim("wf-2", "a")

	l.Forget("wf-1")
	assert.Equal(t, 1, l.Len())
	assert.True(t, l.Claim("wf-1", "a"))
	assert.True(t, l.Seen("wf-2", "a"))
}

func TestLedger_ConcurrentClaim(t *testing.T) {
	l := New(time.Hour, 1000)
	defer l.Close()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Claim("wf", "same") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestLedger_CloseTwice(t *testing.T) {
	l := New(time.Hour, 10)
	l.Close()
	assert.NotPanics(t, l.Close)
}
