package commands

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingResolver struct{ approved, rejected int }

func (r *recordingResolver) Approve() error { r.approved++; return nil }
func (r *recordingResolver) Reject() error  { r.rejected++; return nil }

func newTestPrompter(now *time.Time) (*terminalPrompter, *strings.Builder) {
	var out strings.Builder
	p := newTerminalPrompter(&out)
	p.now = func() time.Time { return *now }
	return p, &out
}

func (p *terminalPrompter) park(id string, r resolver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending, p.id, p.shownAt = r, id, p.now()
}

func TestPrompterDropsAnswerForClosedPrompt(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	p, out := newTestPrompter(&now)

	first := &recordingResolver{}
	p.park("a", first)
	p.Dismiss("a", "timed out")

	// The user was still typing "y" for the first prompt when the next one
	// appeared.
	next := &recordingResolver{}
	p.park("b", next)
	now = now.Add(100 * time.Millisecond)
	p.answer("y")
	require.Zero(t, next.approved)
	require.Zero(t, first.approved)
	require.Contains(t, out.String(), "answer ignored")

	now = now.Add(answerSettle)
	p.answer("y")
	require.Equal(t, 1, next.approved)

	// Nothing pending: the line goes nowhere.
	p.answer("y")
	require.Equal(t, 1, next.approved)
}

func TestPrompterRejectsAnythingButYes(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	p, _ := newTestPrompter(&now)
	r := &recordingResolver{}
	p.park("a", r)
	now = now.Add(time.Second)
	p.answer("sure")
	require.Equal(t, 1, r.rejected)
	require.Zero(t, r.approved)
}

func TestPrompterIgnoresStaleDismiss(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	p, out := newTestPrompter(&now)
	r := &recordingResolver{}
	p.park("a", r)

	p.Dismiss("other", "timeout")
	require.Empty(t, out.String())

	now = now.Add(time.Second)
	p.answer("yes")
	require.Equal(t, 1, r.approved)
}
