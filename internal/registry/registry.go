// Package registry holds the process-wide concurrent maps spec.md §9 calls
// for instead of lazy singletons: per-task cancel/pause flags and the
// provider-client registry the scheduler and engines consult to decide
// whether a session has a destination it can actually dial. Grounded in the
// teacher's internal/resources.Manager allocation-map pattern
// (rescale-labs-Rescale_Interlink), adapted from a thread-budget ledger to a
// cancellation/provider ledger, with explicit init at process startup and
// explicit removal on terminal transitions (no lazy singleton, per spec.md
// §9).
package registry

import (
	"sync"

	"github.com/nimbusfs/objectsync/internal/provider"
)

// Flags tracks cooperative cancel/pause state per task id (spec.md §5:
// "each active task registers an atomic cancel flag and an atomic pause
// flag in a global registry keyed by task id").
type Flags struct {
	mu     sync.Mutex
	cancel map[string]bool
	pause  map[string]bool
}

// NewFlags returns an empty Flags registry.
func NewFlags() *Flags {
	return &Flags{cancel: make(map[string]bool), pause: make(map[string]bool)}
}

// Register initializes to false whichever of taskID's flags are not yet set;
// a cancel or pause tripped before the worker registers is kept. Safe to
// call more than once (e.g. on resume).
func (f *Flags) Register(taskID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.cancel[taskID]; !ok {
		f.cancel[taskID] = false
	}
	if _, ok := f.pause[taskID]; !ok {
		f.pause[taskID] = false
	}
}

// Cancel trips the cancel flag for taskID.
func (f *Flags) Cancel(taskID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancel[taskID] = true
}

// Pause trips the pause flag for taskID.
func (f *Flags) Pause(taskID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pause[taskID] = true
}

// Resume clears the pause flag for taskID.
func (f *Flags) Resume(taskID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pause[taskID] = false
}

// IsCancelled reports whether taskID's cancel flag is set.
func (f *Flags) IsCancelled(taskID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancel[taskID]
}

// IsPaused reports whether taskID's pause flag is set.
func (f *Flags) IsPaused(taskID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pause[taskID]
}

// Clear removes both flags for taskID, called on every terminal transition
// so the registry does not grow without bound (spec.md §9: "explicit
// removal on task terminal transitions").
func (f *Flags) Clear(taskID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cancel, taskID)
	delete(f.pause, taskID)
}

// Providers is the process-wide provider-client registry keyed by account
// id, populated at startup from config.Config and consulted by the
// scheduler's admission pass (spec.md §4.8: "Sessions lacking a registered
// destination configuration are skipped").
type Providers struct {
	mu      sync.RWMutex
	clients map[string]*provider.Client
}

// NewProviders returns an empty Providers registry.
func NewProviders() *Providers {
	return &Providers{clients: make(map[string]*provider.Client)}
}

// Register associates accountID with a constructed client.
func (p *Providers) Register(accountID string, c *provider.Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clients[accountID] = c
}

// Get returns the client registered for accountID, if any.
func (p *Providers) Get(accountID string) (*provider.Client, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.clients[accountID]
	return c, ok
}

// Remove drops accountID's registration (account removed/credentials
// revoked).
func (p *Providers) Remove(accountID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.clients, accountID)
}
