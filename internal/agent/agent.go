// Package agent is the receiver living inside a page context. It
// answers performAttendance envelopes by running the detection chain
// and the activation sequence, and shapes every outcome into a
// messaging.Response. Logic failures are always reported back through
// the response, never swallowed.
package agent

import (
	"context"
	"fmt"

	"punchbot/internal/action"
	"punchbot/internal/detect"
	"punchbot/internal/intent"
	"punchbot/internal/messaging"
	"punchbot/internal/page"
	"punchbot/pkg/logx"
)

type Agent struct {
	chain *detect.Chain
	exec  *action.Executor
	log   logx.Logger
}

func New(chain *detect.Chain, exec *action.Executor, log logx.Logger) *Agent {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Agent{chain: chain, exec: exec, log: log}
}

// Attach installs the agent as the session's message handler.
func (a *Agent) Attach(sess *page.Session) {
	sess.SetHandler(func(ctx context.Context, data any) any {
		return a.handle(ctx, sess, data)
	})
}

func (a *Agent) handle(ctx context.Context, sess *page.Session, data any) any {
	env, ok := data.(messaging.Envelope)
	if !ok {
		a.log.Warn("dropping unsupported message", logx.Any("data", data))
		return messaging.Response{Success: false, Error: fmt.Sprintf("unsupported message type %T", data)}
	}

	switch env.Action {
	case messaging.ActionPerformAttendance:
		return a.performAttendance(ctx, sess, env)
	default:
		return messaging.Response{
			Success:       false,
			Error:         fmt.Sprintf("unsupported action %q", env.Action),
			CorrelationID: env.CorrelationID,
		}
	}
}

func (a *Agent) performAttendance(ctx context.Context, sess *page.Session, env messaging.Envelope) messaging.Response {
	fail := func(err error) messaging.Response {
		return messaging.Response{Success: false, Error: err.Error(), CorrelationID: env.CorrelationID}
	}

	in, err := intent.Parse(env.Type)
	if err != nil {
		return fail(err)
	}

	res, err := a.chain.Locate(sess, in)
	if err != nil {
		a.log.Warn("detection chain exhausted", logx.String("intent", in.String()), logx.Err(err))
		return fail(err)
	}

	if res.Hook != "" {
		if err := sess.CallHook(res.Hook); err != nil {
			a.log.Warn("hook invocation failed", logx.String("hook", res.Hook), logx.Err(err))
			return fail(err)
		}
	} else {
		if err := a.exec.Activate(ctx, sess, res.Element); err != nil {
			a.log.Warn("activation failed", logx.String("intent", in.String()), logx.Err(err))
			return fail(err)
		}
	}

	a.log.Info("attendance action performed",
		logx.String("intent", in.String()),
		logx.String("method", res.Method),
		logx.String("locator", res.Locator))
	return messaging.Response{Success: true, Method: res.Method, CorrelationID: env.CorrelationID}
}
