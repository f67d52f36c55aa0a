// Package telegram is the manual trigger and notification surface: a
// long-polling bot exposing the two dispatch commands plus schedule and
// history controls, restricted to configured owner ids.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"punchbot/internal/intent"
	"punchbot/internal/journal"
	"punchbot/internal/messaging"
	"punchbot/internal/scheduler"
	"punchbot/pkg/logx"
)

type Config struct {
	Token       string
	OwnerIDs    []int64
	ChatID      int64 // notification target chat
	PollTimeout time.Duration
}

// Controller is the narrow application surface the bot drives.
type Controller interface {
	PerformNow(ctx context.Context, in intent.Intent) (messaging.Response, error)
	RecentOutcomes() []journal.Entry
	SetAuto(on bool) error
	SetTimes(checkin, checkout string) error
	ScheduleStatus() []scheduler.Info
}

type Adapter struct {
	cfg  Config
	log  logx.Logger
	ctrl Controller
	bot  *tele.Bot

	runMu   sync.Mutex
	running bool
	runWG   sync.WaitGroup
}

func New(cfg Config, ctrl Controller, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	a := &Adapter{cfg: cfg, log: log, ctrl: ctrl, bot: b}
	a.route()
	return a, nil
}

func (a *Adapter) Start(context.Context) {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return
	}
	a.running = true
	a.runMu.Unlock()

	a.runWG.Add(1)
	go func() {
		defer a.runWG.Done()
		a.bot.Start()
	}()
	a.log.Info("telegram adapter started")
}

func (a *Adapter) Stop(context.Context) {
	a.runMu.Lock()
	if !a.running {
		a.runMu.Unlock()
		return
	}
	a.running = false
	a.runMu.Unlock()

	a.bot.Stop()
	a.runWG.Wait()
	a.log.Info("telegram adapter stopped")
}

// SendText pushes a notification to the configured chat.
// Fire-and-forget from the caller's perspective; errors are returned
// for the notifier's logging only.
func (a *Adapter) SendText(_ context.Context, text string) error {
	if a.cfg.ChatID == 0 {
		return nil
	}
	_, err := a.bot.Send(tele.ChatID(a.cfg.ChatID), text, &tele.SendOptions{DisableWebPagePreview: true})
	return err
}

// ---- command routing ----

func (a *Adapter) route() {
	a.bot.Handle("/checkin", a.owned(func(c tele.Context) error {
		return a.perform(c, intent.CheckIn)
	}))
	a.bot.Handle("/checkout", a.owned(func(c tele.Context) error {
		return a.perform(c, intent.CheckOut)
	}))
	a.bot.Handle("/log", a.owned(a.cmdLog))
	a.bot.Handle("/auto", a.owned(a.cmdAuto))
	a.bot.Handle("/times", a.owned(a.cmdTimes))
	a.bot.Handle("/status", a.owned(a.cmdStatus))
}

// owned gates a handler on the owner allowlist. An empty allowlist
// locks the bot down rather than opening it up.
func (a *Adapter) owned(h tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		sender := c.Sender()
		if sender == nil || !a.isOwner(sender.ID) {
			a.log.Warn("command from non-owner ignored", logx.Int64("from", senderID(sender)))
			return nil
		}
		return h(c)
	}
}

func (a *Adapter) isOwner(id int64) bool {
	for _, owner := range a.cfg.OwnerIDs {
		if owner == id {
			return true
		}
	}
	return false
}

func senderID(u *tele.User) int64 {
	if u == nil {
		return 0
	}
	return u.ID
}

func (a *Adapter) perform(c tele.Context, in intent.Intent) error {
	resp, err := a.ctrl.PerformNow(context.Background(), in)
	switch {
	case err != nil:
		return c.Send(fmt.Sprintf("⚠️ %s not delivered: %v", in, err))
	case !resp.Success:
		return c.Send("❌ " + resp.Error)
	default:
		return c.Send(fmt.Sprintf("✅ %s done (via %s)", in, resp.Method))
	}
}

func (a *Adapter) cmdLog(c tele.Context) error {
	entries := a.ctrl.RecentOutcomes()
	if len(entries) == 0 {
		return c.Send("No outcomes recorded yet.")
	}
	var b strings.Builder
	for _, e := range entries {
		mark := "✅"
		if e.Kind == journal.KindFailure {
			mark = "❌"
		}
		fmt.Fprintf(&b, "%s %s %s", mark, e.At.Format("Jan 2 15:04"), e.Intent)
		if e.Detail != "" {
			fmt.Fprintf(&b, ": %s", e.Detail)
		}
		b.WriteString("\n")
	}
	return c.Send(b.String())
}

func (a *Adapter) cmdAuto(c tele.Context) error {
	arg := strings.ToLower(strings.TrimSpace(c.Message().Payload))
	switch arg {
	case "on":
		if err := a.ctrl.SetAuto(true); err != nil {
			return c.Send("⚠️ " + err.Error())
		}
		return c.Send("Auto schedule enabled.")
	case "off":
		if err := a.ctrl.SetAuto(false); err != nil {
			return c.Send("⚠️ " + err.Error())
		}
		return c.Send("Auto schedule disabled.")
	default:
		return c.Send("Usage: /auto on|off")
	}
}

func (a *Adapter) cmdTimes(c tele.Context) error {
	fields := strings.Fields(c.Message().Payload)
	if len(fields) != 2 {
		return c.Send("Usage: /times HH:MM HH:MM (checkin, checkout)")
	}
	if err := a.ctrl.SetTimes(fields[0], fields[1]); err != nil {
		return c.Send("⚠️ " + err.Error())
	}
	return c.Send(fmt.Sprintf("Times updated: checkin %s, checkout %s", fields[0], fields[1]))
}

func (a *Adapter) cmdStatus(c tele.Context) error {
	var b strings.Builder
	for _, info := range a.ctrl.ScheduleStatus() {
		fmt.Fprintf(&b, "%s: %s", info.Name, info.State)
		if info.TimeOfDay != "" {
			fmt.Fprintf(&b, " at %s", info.TimeOfDay)
		}
		if !info.NextFireAt.IsZero() {
			fmt.Fprintf(&b, " (next %s)", info.NextFireAt.Format("Jan 2 15:04"))
		}
		b.WriteString("\n")
	}
	return c.Send(b.String())
}
