package main

import (
	"sync"

	"github.com/remeh/sizedwaitgroup"
)

// maxBackgroundTasks bounds the long-lived goroutines of one run: the
// discovery listener, the session reader, the debug server and a beacon.
const maxBackgroundTasks = 4

// taskGroup runs named background tasks and logs the ones that fail.
type taskGroup struct {
	wg sizedwaitgroup.SizedWaitGroup

	mu   sync.Mutex
	errs map[string]error
}

func newTaskGroup(limit int) *taskGroup {
	if limit <= 0 {
		limit = maxBackgroundTasks
	}
	return &taskGroup{wg: sizedwaitgroup.New(limit), errs: make(map[string]error)}
}

// Go starts fn, waiting for a free slot if the group is full.
func (t *taskGroup) Go(name string, fn func() error) {
	t.wg.Add()
	go func() {
		defer t.wg.Done()
		if err := fn(); err != nil {
			logDebug("task %s: %v", name, err)
			t.mu.Lock()
			t.errs[name] = err
			t.mu.Unlock()
		}
	}()
}

// Wait blocks until every task has returned.
func (t *taskGroup) Wait() { t.wg.Wait() }

// Err reports the error the named task returned, if any.
func (t *taskGroup) Err(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errs[name]
}
