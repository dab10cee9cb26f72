// Package postsession runs the deferred work that follows a disconnect:
// summarizing the conversation and closing out the session record.
package postsession

import (
	"log"
	"sync"
)

// Jobs runs fire-and-forget background work decoupled from connection
// lifetimes. Wait is the host's drain point at shutdown; nothing else ever
// waits on a job.
type Jobs struct {
	wg sync.WaitGroup
}

// Go runs fn in the background. A panic in fn is recovered and logged; a
// background job must never crash the process.
func (j *Jobs) Go(fn func()) {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("ERROR: background job panicked: %v", r)
			}
		}()
		fn()
	}()
}

// Wait blocks until all scheduled jobs have finished.
func (j *Jobs) Wait() {
	j.wg.Wait()
}
