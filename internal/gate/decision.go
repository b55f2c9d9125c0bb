package gate

import (
	"errors"
	"sync"

	"satwallet/internal/domain"
)

// ErrAlreadyResolved is returned when a Decision is resolved a second time.
var ErrAlreadyResolved = errors.New("prompt already resolved")

// Prompt is what the user sees for one pending request. Origin is the
// transport-observed origin; ClaimedOrigin is what the page wrote.
type Prompt struct {
	ID            string         `json:"id"`
	Method        domain.Method  `json:"method"`
	Origin        string         `json:"origin"`
	ClaimedOrigin string         `json:"claimedOrigin,omitempty"`
	Intent        string         `json:"intent,omitempty"`
	Meta          map[string]any `json:"meta,omitempty"`
}

// Decision is the capability to answer one Prompt. Only the first call to
// Approve or Reject has an effect.
type Decision struct {
	mu       sync.Mutex
	resolved bool
	ch       chan bool
}

func newDecision() *Decision {
	return &Decision{ch: make(chan bool, 1)}
}

// Approve lets the request through.
func (d *Decision) Approve() error { return d.resolve(true) }

// Reject answers the request with user_rejected.
func (d *Decision) Reject() error { return d.resolve(false) }

// Resolved reports whether the decision has been made, by the user or by
// the gate on timeout.
func (d *Decision) Resolved() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resolved
}

func (d *Decision) resolve(approved bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.resolved {
		return ErrAlreadyResolved
	}
	d.resolved = true
	d.ch <- approved
	return nil
}

// Prompter surfaces prompts to the user. Show must not block on the user;
// the answer arrives later through the Decision. Dismiss is called when the
// gate resolves the prompt itself.
type Prompter interface {
	Show(p Prompt, d *Decision)
	Dismiss(id string, reason string)
}
