package orchestrator

import (
	"sync"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tidyflow/pkg/models"
)

// keyedMutex hands out one mutex per job. Entries are reference counted
// and dropped when the last holder unlocks.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[uuid.UUID]*keyedEntry)}
}

// Lock blocks until the job's mutex is held and returns its unlock func.
func (k *keyedMutex) Lock(id uuid.UUID) func() {
	k.mu.Lock()
	e, ok := k.locks[id]
	if !ok {
		e = &keyedEntry{}
		k.locks[id] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}

// stageLedger records which stages have been dispatched for each job run
// by this process.
type stageLedger struct {
	mu      sync.Mutex
	entries map[uuid.UUID]map[models.Stage]bool
}

func newStageLedger() *stageLedger {
	return &stageLedger{entries: make(map[uuid.UUID]map[models.Stage]bool)}
}

// Begin marks stage as dispatched for id. It returns false if it already was.
func (l *stageLedger) Begin(id uuid.UUID, stage models.Stage) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	stages, ok := l.entries[id]
	if !ok {
		stages = make(map[models.Stage]bool, len(models.Stages))
		l.entries[id] = stages
	}
	if stages[stage] {
		return false
	}
	stages[stage] = true
	return true
}

func (l *stageLedger) Forget(id uuid.UUID) {
	l.mu.Lock()
	delete(l.entries, id)
	l.mu.Unlock()
}

func (l *stageLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
