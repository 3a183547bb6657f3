package orchestrator

import (
	"errors"
	"sync"
	"time"

	"github.com/Kshitij-M/sqs-orchestrator/pkg/sqsclient"
)

// ErrDuplicateLease is returned when a message id is registered while an
// earlier lease for it is still tracked. The earlier lease stays intact.
var ErrDuplicateLease = errors.New("orchestrator: duplicate lease")

// LeaseStatus is the tracker-side state of a lease.
type LeaseStatus int

const (
	// LeaseActive: held, deadline in the future.
	LeaseActive LeaseStatus = iota
	// LeaseExtending: picked up by the extender this cycle.
	LeaseExtending
	// LeaseExpired: deadline passed without extension or delete.
	LeaseExpired
)

// String returns the status name.
func (s LeaseStatus) String() string {
	switch s {
	case LeaseActive:
		return "active"
	case LeaseExtending:
		return "extending"
	case LeaseExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Lease records one in-flight delivery: the receipt handle proving
// ownership, the current visibility deadline, and the worker assignment.
type Lease struct {
	MessageID     string
	ReceiptHandle string
	ReceiveCount  int
	AcquiredAt    time.Time
	Deadline      time.Time
	Slot          int // -1 until assigned
	Status        LeaseStatus

	// ExtensionStopped is set once the lease hits its maximum lifetime;
	// the extender then lets it lapse deliberately.
	ExtensionStopped bool
}

// Tracker is the in-memory registry of in-flight leases. All mutation
// goes through its mutex, which is the single point of mutual exclusion
// between the supervisor and the extender. Accessors hand out copies so
// no caller can touch tracked state directly.
type Tracker struct {
	mu     sync.Mutex
	leases map[string]*Lease
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{leases: make(map[string]*Lease)}
}

// Register tracks a new lease for msg with the given deadline. Fails
// with ErrDuplicateLease if the message id is already tracked.
func (t *Tracker) Register(msg sqsclient.Message, deadline time.Time) (Lease, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.leases[msg.ID]; ok {
		return Lease{}, ErrDuplicateLease
	}
	l := &Lease{
		MessageID:     msg.ID,
		ReceiptHandle: msg.ReceiptHandle,
		ReceiveCount:  msg.ReceiveCount,
		AcquiredAt:    time.Now(),
		Deadline:      deadline,
		Slot:          -1,
		Status:        LeaseActive,
	}
	t.leases[msg.ID] = l
	return *l, nil
}

// Assign binds a lease to a worker slot.
func (t *Tracker) Assign(messageID string, slot int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.leases[messageID]
	if !ok {
		return false
	}
	l.Slot = slot
	return true
}

// Extend raises the lease deadline. It is a no-op on released or
// unknown leases and never lowers an existing deadline.
func (t *Tracker) Extend(messageID string, newDeadline time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.leases[messageID]
	if !ok {
		return false
	}
	if newDeadline.After(l.Deadline) {
		l.Deadline = newDeadline
	}
	l.Status = LeaseActive
	return true
}

// MarkExtensionStopped flags a lease as past its maximum lifetime.
func (t *Tracker) MarkExtensionStopped(messageID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.leases[messageID]
	if !ok {
		return false
	}
	l.ExtensionStopped = true
	return true
}

// Release removes a lease from tracking. Idempotent: releasing an
// unknown or already-released lease is a no-op returning false. It does
// not touch the queue service.
func (t *Tracker) Release(messageID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.leases[messageID]; !ok {
		return false
	}
	delete(t.leases, messageID)
	return true
}

// Get returns a copy of the lease for messageID.
func (t *Tracker) Get(messageID string) (Lease, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.leases[messageID]
	if !ok {
		return Lease{}, false
	}
	return *l, true
}

// ExpireSweep removes and returns leases whose deadline has passed.
// These are handlers that overran their budget or crashed silently;
// ownership has reverted to the queue service. Each expired lease is
// reported exactly once.
func (t *Tracker) ExpireSweep(now time.Time) []Lease {
	t.mu.Lock()
	defer t.mu.Unlock()
	var expired []Lease
	for id, l := range t.leases {
		if l.Deadline.Before(now) {
			c := *l
			c.Status = LeaseExpired
			expired = append(expired, c)
			delete(t.leases, id)
		}
	}
	return expired
}

// DueForExtension returns copies of leases whose deadline falls within
// the window and which are still eligible for extension, marking them
// extending.
func (t *Tracker) DueForExtension(now time.Time, window time.Duration) []Lease {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := now.Add(window)
	var due []Lease
	for _, l := range t.leases {
		if l.ExtensionStopped || l.Deadline.After(cutoff) || l.Deadline.Before(now) {
			continue
		}
		l.Status = LeaseExtending
		due = append(due, *l)
	}
	return due
}

// Snapshot returns copies of every tracked lease.
func (t *Tracker) Snapshot() []Lease {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Lease, 0, len(t.leases))
	for _, l := range t.leases {
		out = append(out, *l)
	}
	return out
}

// Len returns the number of tracked leases.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.leases)
}
