// Package action performs the activation sequence on a located control.
//
// The sequence is belt-and-braces: a semantic click plus a raw
// mouse-event triad plus a compensating form submit, because attendance
// pages differ in which of those they actually listen to.
// Success means the sequence ran without error; no site-side effect is
// verified here.
package action

import (
	"context"
	"fmt"
	"time"

	"punchbot/internal/page"
	"punchbot/pkg/logx"
)

// ActivationError wraps a failure inside the activation sequence,
// tagged with the step that failed.
type ActivationError struct {
	Step string
	Err  error
}

func (e *ActivationError) Error() string {
	return fmt.Sprintf("activation failed at %s: %v", e.Step, e.Err)
}

func (e *ActivationError) Unwrap() error { return e.Err }

type Config struct {
	// SettleDelay is waited after scrolling the control into view.
	SettleDelay time.Duration
	// MarkerDuration is how long the visual marker stays applied.
	// The revert is unconditional: it happens even when a later step fails.
	MarkerDuration time.Duration
}

func (c Config) withDefaults() Config {
	if c.SettleDelay <= 0 {
		c.SettleDelay = 500 * time.Millisecond
	}
	if c.MarkerDuration <= 0 {
		c.MarkerDuration = time.Second
	}
	return c
}

type Executor struct {
	cfg Config
	log logx.Logger
}

func New(cfg Config, log logx.Logger) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Executor{cfg: cfg.withDefaults(), log: log}
}

// Activate runs the fixed sequence: scroll + settle, marker, focus +
// semantic click, raw mouse triad, compensating form submit. It fails
// only when the page context disappears or a submit/navigation errors
// mid-sequence.
func (x *Executor) Activate(ctx context.Context, sess *page.Session, el *page.Element) error {
	sess.ScrollIntoView(el)
	if err := x.settle(ctx, sess, x.cfg.SettleDelay); err != nil {
		return &ActivationError{Step: "settle", Err: err}
	}

	sess.Flash(el, x.cfg.MarkerDuration)

	navBefore := sess.NavigationCount()
	sess.Focus(el)
	if err := sess.Click(ctx, el); err != nil {
		return &ActivationError{Step: "click", Err: err}
	}

	// Raw triad for listeners that ignore semantic clicks. Listener-only:
	// the default action already ran above.
	sess.Dispatch(el, "mousedown")
	sess.Dispatch(el, "mouseup")
	sess.Dispatch(el, "click")

	if form := el.ClosestForm(); form != nil && sess.NavigationCount() == navBefore {
		x.log.Debug("no navigation after click, submitting enclosing form")
		if err := sess.SubmitForm(ctx, form); err != nil {
			return &ActivationError{Step: "submit", Err: err}
		}
	}
	return nil
}

func (x *Executor) settle(ctx context.Context, sess *page.Session, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-sess.Done():
		return page.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
