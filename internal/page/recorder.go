package page

import (
	"context"
	"sync"
)

var (
	_ Navigator = (*Recorder)(nil)
	_ Alerter   = (*Recorder)(nil)
	_ Prompter  = (*Recorder)(nil)
)

// Recorder captures navigations, alerts and prompts. Prompts are answered
// with Answer, or with the value pushed through Answers when set.
type Recorder struct {
	mu sync.Mutex

	navigations []string
	alerts      []string
	prompts     []string

	// Answer is returned by Confirm when Answers is nil.
	Answer bool

	// Answers, when set, supplies one answer per Confirm call; Confirm
	// blocks until an answer arrives or ctx is done.
	Answers chan bool
}

// Navigate implements Navigator.
func (r *Recorder) Navigate(ctx context.Context, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.navigations = append(r.navigations, path)
}

// Alert implements Alerter.
func (r *Recorder) Alert(ctx context.Context, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, message)
}

// Confirm implements Prompter.
func (r *Recorder) Confirm(ctx context.Context, message string) (bool, error) {
	r.mu.Lock()
	r.prompts = append(r.prompts, message)
	answers := r.Answers
	answer := r.Answer
	r.mu.Unlock()

	if answers == nil {
		return answer, nil
	}

	select {
	case answer := <-answers:
		return answer, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Navigations returns the paths navigated to.
func (r *Recorder) Navigations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.navigations...)
}

// Alerts returns the alerts shown.
func (r *Recorder) Alerts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.alerts...)
}

// Prompts returns the confirmation messages shown.
func (r *Recorder) Prompts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.prompts...)
}
