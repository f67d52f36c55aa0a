// Package notify turns dispatch outcomes into user notifications. It
// subscribes to the event bus so neither the scheduler nor the bot
// commands need to know notifications exist.
package notify

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"punchbot/internal/eventbus"
	"punchbot/internal/journal"
	"punchbot/pkg/logx"
)

// Sender is the transport slice used to deliver a notification.
type Sender interface {
	SendText(ctx context.Context, text string) error
}

type Config struct {
	Enabled    bool
	RatePerSec int
}

type Service struct {
	cfg     Config
	sender  Sender
	bus     eventbus.Bus
	log     logx.Logger
	limiter *rate.Limiter

	mu     sync.Mutex
	unsub  func()
	wg     sync.WaitGroup
	active bool
}

func New(cfg Config, sender Sender, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	return &Service{
		cfg:     cfg,
		sender:  sender,
		bus:     bus,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
}

func (s *Service) Start(ctx context.Context) {
	if !s.cfg.Enabled || s.sender == nil || s.bus == nil {
		return
	}
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return
	}
	s.active = true
	ch, unsub := s.bus.Subscribe(16)
	s.unsub = unsub
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if ev.Type != eventbus.TypeOutcome {
					continue
				}
				entry, ok := ev.Data.(journal.Entry)
				if !ok {
					continue
				}
				s.deliver(ctx, entry)
			}
		}
	}()
}

func (s *Service) Stop(context.Context) {
	s.mu.Lock()
	unsub := s.unsub
	s.unsub = nil
	s.active = false
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	s.wg.Wait()
}

func (s *Service) deliver(ctx context.Context, e journal.Entry) {
	if err := s.limiter.Wait(ctx); err != nil {
		return
	}
	text := Format(e)
	if err := s.sender.SendText(ctx, text); err != nil {
		// Fire-and-forget: a missed notification is not worth retrying.
		s.log.Warn("notification send failed", logx.Err(err))
		return
	}
	s.log.Debug("notification sent", logx.String("intent", e.Intent.String()))
}

// Format renders one outcome entry as notification text.
func Format(e journal.Entry) string {
	if e.Kind == journal.KindSuccess {
		return fmt.Sprintf("✅ %s completed (%s)", e.Intent, e.Detail)
	}
	return fmt.Sprintf("❌ %s failed: %s", e.Intent, e.Detail)
}
