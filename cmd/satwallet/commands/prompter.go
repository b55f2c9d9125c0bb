package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"satwallet/internal/gate"
)

// answerSettle is how long after a prompt appears its answers are ignored.
// A line typed for a prompt that just closed must not land on the next one.
const answerSettle = 750 * time.Millisecond

type resolver interface {
	Approve() error
	Reject() error
}

// terminalPrompter shows bridge prompts on a terminal and reads y/n answers
// from its input, one line per decision.
type terminalPrompter struct {
	out    io.Writer
	now    func() time.Time
	settle time.Duration

	mu      sync.Mutex
	pending resolver
	id      string
	shownAt time.Time
}

func newTerminalPrompter(out io.Writer) *terminalPrompter {
	return &terminalPrompter{out: out, now: time.Now, settle: answerSettle}
}

func (p *terminalPrompter) Show(pr gate.Prompt, d *gate.Decision) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending, p.id, p.shownAt = d, pr.ID, p.now()

	fmt.Fprintf(p.out, "\n%s requests %s", pr.Origin, pr.Method)
	if pr.ClaimedOrigin != "" && pr.ClaimedOrigin != pr.Origin {
		fmt.Fprintf(p.out, " (page claims %s)", pr.ClaimedOrigin)
	}
	fmt.Fprintln(p.out)
	if pr.Intent != "" {
		fmt.Fprintf(p.out, "  %s\n", pr.Intent)
	}
	fmt.Fprint(p.out, "Approve? [y/N] ")
}

func (p *terminalPrompter) Dismiss(id, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.id != id {
		return
	}
	p.pending, p.id = nil, ""
	fmt.Fprintf(p.out, "\nrequest %s closed: %s\n", id, reason)
}

// run answers the pending prompt with each line read from in until ctx ends
// or in is exhausted.
func (p *terminalPrompter) run(ctx context.Context, in io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			p.answer(line)
		}
	}
}

// answer resolves the pending prompt with line. Lines arriving before the
// prompt has settled are dropped and the prompt stays open.
func (p *terminalPrompter) answer(line string) {
	p.mu.Lock()
	d := p.pending
	if d == nil {
		p.mu.Unlock()
		return
	}
	if p.now().Sub(p.shownAt) < p.settle {
		p.mu.Unlock()
		fmt.Fprint(p.out, "\nanswer ignored: the prompt just changed. Approve? [y/N] ")
		return
	}
	p.pending, p.id = nil, ""
	p.mu.Unlock()

	var err error
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		err = d.Approve()
		fmt.Fprintln(p.out, "approved")
	default:
		err = d.Reject()
		fmt.Fprintln(p.out, "rejected")
	}
	if err != nil {
		fmt.Fprintf(p.out, "too late: %v\n", err)
	}
}

var _ gate.Prompter = (*terminalPrompter)(nil)
