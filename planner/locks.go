package planner

import "sync"

// TaskLocks serializes reconciliation per task. Entries are dropped once no
// goroutine holds or waits for them.
type TaskLocks struct {
	mu    sync.Mutex
	locks map[TaskID]*taskLock
}

type taskLock struct {
	mu   sync.Mutex
	refs int
}

func NewTaskLocks() *TaskLocks {
	return &TaskLocks{locks: make(map[TaskID]*taskLock)}
}

// Lock blocks until the task is free and returns the matching unlock.
func (l *TaskLocks) Lock(id TaskID) (unlock func()) {
	l.mu.Lock()
	tl, ok := l.locks[id]
	if !ok {
		tl = &taskLock{}
		l.locks[id] = tl
	}
	tl.refs++
	l.mu.Unlock()

	tl.mu.Lock()
	return func() {
		tl.mu.Unlock()
		l.mu.Lock()
		tl.refs--
		if tl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

// Len is the number of tasks currently locked or awaited.
func (l *TaskLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
