package receipt

import (
	"fmt"
	"sync"

	"github.com/zombor/receipt-crop/internal/editor"
)

// editorEntry guards one open session. Commands and commits on the same
// receipt are serialised by its mutex
type editorEntry struct {
	mu      sync.Mutex
	session *editor.Session
}

// editorRegistry holds at most one open editor per receipt
type editorRegistry struct {
	mu      sync.Mutex
	entries map[string]*editorEntry
}

func newEditorRegistry() *editorRegistry {
	return &editorRegistry{entries: make(map[string]*editorEntry)}
}

// open replaces any session already open for the receipt
func (r *editorRegistry) open(receiptID string, s *editor.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[receiptID] = &editorEntry{session: s}
}

// with runs fn with the receipt's session locked
func (r *editorRegistry) with(receiptID string, fn func(s *editor.Session) error) error {
	r.mu.Lock()
	entry, ok := r.entries[receiptID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("receipt %s: %w", receiptID, ErrEditorNotOpen)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return fn(entry.session)
}

// close drops the session if it is still the one with the given ID
func (r *editorRegistry) close(receiptID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.entries[receiptID]; ok && (sessionID == "" || entry.session.ID() == sessionID) {
		delete(r.entries, receiptID)
	}
}

func (r *editorRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// receiptLocks serialises writes to one receipt record. Taken after an
// editor entry's lock, never before it
type receiptLocks struct {
	mu    sync.Mutex
	locks map[string]*receiptLock
}

type receiptLock struct {
	mu   sync.Mutex
	refs int
}

func newReceiptLocks() *receiptLocks {
	return &receiptLocks{locks: make(map[string]*receiptLock)}
}

// lock blocks until the receipt is free and returns its unlock func
func (r *receiptLocks) lock(receiptID string) func() {
	r.mu.Lock()
	l, ok := r.locks[receiptID]
	if !ok {
		l = &receiptLock{}
		r.locks[receiptID] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		defer r.mu.Unlock()
		if l.refs--; l.refs == 0 {
			delete(r.locks, receiptID)
		}
	}
}

func (r *receiptLocks) held() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}
