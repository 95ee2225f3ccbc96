package screenflow

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestThreadLocksSerializeSameThread(t *testing.T) {
	locks := newThreadLocks()
	var mutex sync.Mutex
	var active, maxActive int

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock("same")
			defer unlock()
			mutex.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mutex.Unlock()
			time.Sleep(time.Millisecond)
			mutex.Lock()
			active--
			mutex.Unlock()
		}()
	}
	wg.Wait()
	require.Equal(t, 1, maxActive)
	require.Zero(t, locks.size())
}

func TestThreadLocksIndependentThreads(t *testing.T) {
	locks := newThreadLocks()
	unlockA := locks.lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := locks.lock("b")
		unlockB()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different thread blocked")
	}
	require.Equal(t, 1, locks.size())
	unlockA()
	require.Zero(t, locks.size())
}
