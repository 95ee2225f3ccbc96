package screenflow

import "sync"

// threadLocks hands out one mutex per thread ID. Entries are reference
// counted and dropped once no goroutine holds or waits on them.
type threadLocks struct {
	mutex sync.Mutex
	locks map[string]*threadLock
}

type threadLock struct {
	sync.Mutex
	refs int
}

func newThreadLocks() *threadLocks {
	return &threadLocks{locks: map[string]*threadLock{}}
}

// lock blocks until the caller holds the lock for threadID and returns the
// function that releases it.
func (l *threadLocks) lock(threadID string) func() {
	l.mutex.Lock()
	tl, ok := l.locks[threadID]
	if !ok {
		tl = &threadLock{}
		l.locks[threadID] = tl
	}
	tl.refs++
	l.mutex.Unlock()

	tl.Lock()
	return func() {
		tl.Unlock()
		l.mutex.Lock()
		tl.refs--
		if tl.refs == 0 {
			delete(l.locks, threadID)
		}
		l.mutex.Unlock()
	}
}

// size returns the number of tracked threads.
func (l *threadLocks) size() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return len(l.locks)
}
