// Package detect locates the attendance control for an intent through a
// fixed chain of heuristics consulted strictly in priority order.
package detect

import (
	"fmt"

	"punchbot/internal/intent"
	"punchbot/internal/page"
	"punchbot/pkg/logx"
)

// Page is the slice of a page session the chain needs.
type Page interface {
	Document() *page.Document
	HasHook(name string) bool
}

// Result describes one located control. Exactly one of Element or Hook
// is set; Locator is a strategy-specific human-readable descriptor.
type Result struct {
	Method  string
	Locator string
	Element *page.Element
	Hook    string
}

// NotFoundError means every strategy was consulted and none matched.
type NotFoundError struct {
	Intent intent.Intent
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("Could not find %s button on this page", e.Intent)
}

// Strategy is one self-contained locate heuristic.
type Strategy struct {
	Name   string
	locate func(p Page, in intent.Intent) (Result, bool)
}

// Chain runs strategies in fixed priority order, first success wins.
type Chain struct {
	strategies []Strategy
	log        logx.Logger
}

// NewChain builds the production chain. The order is part of the
// contract: selector, text, aria, container, hook.
func NewChain(log logx.Logger) *Chain {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Chain{
		log: log,
		strategies: []Strategy{
			{Name: "selector", locate: locateBySelector},
			{Name: "text", locate: locateByText},
			{Name: "aria", locate: locateByAccessibleName},
			{Name: "container", locate: locateByContainer},
			{Name: "hook", locate: locateByHook},
		},
	}
}

// Locate consults each strategy at most once and stops at the first
// success. It never retries; retry policy belongs to the scheduler.
func (c *Chain) Locate(p Page, in intent.Intent) (Result, error) {
	for _, s := range c.strategies {
		res, ok := s.locate(p, in)
		if !ok {
			c.log.Debug("strategy missed", logx.String("strategy", s.Name), logx.String("intent", in.String()))
			continue
		}
		res.Method = s.Name
		c.log.Info("control located",
			logx.String("strategy", s.Name),
			logx.String("intent", in.String()),
			logx.String("locator", res.Locator))
		return res, nil
	}
	return Result{}, &NotFoundError{Intent: in}
}
