// Package messaging is the request/response contract between an
// initiator (scheduler, bot command) and the agent inside a page
// session. The two sides share no memory; everything crosses through an
// envelope with a correlation id.
package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"punchbot/internal/intent"
	"punchbot/internal/page"
)

// ActionPerformAttendance asks the agent to locate and activate the
// attendance control for the carried intent.
const ActionPerformAttendance = "performAttendance"

var (
	// ErrNoReceiver is a delivery failure: no agent is attached to the
	// session. It is not a logic failure and must not be reported as one.
	ErrNoReceiver = errors.New("messaging: no receiver in page context")
	// ErrContextGone is a delivery failure: the page context was torn
	// down before the response arrived.
	ErrContextGone = errors.New("messaging: page context gone")
)

// Envelope is one request into a page context.
type Envelope struct {
	Action        string `json:"action"`
	Type          string `json:"type"`
	CorrelationID string `json:"correlationId"`
}

// NewEnvelope builds a performAttendance request for an intent.
func NewEnvelope(in intent.Intent) Envelope {
	return Envelope{
		Action:        ActionPerformAttendance,
		Type:          in.String(),
		CorrelationID: uuid.NewString(),
	}
}

// Response is the agent's answer. Logic failures (chain exhausted,
// activation error) travel inside a Response with Success=false;
// delivery failures surface as errors from Send instead.
type Response struct {
	Success       bool   `json:"success"`
	Method        string `json:"method,omitempty"`
	Error         string `json:"error,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// Send delivers an envelope into a session and waits for the correlated
// reply. Send itself never retries and carries no timeout; cancellation
// comes from ctx.
func Send(ctx context.Context, sess *page.Session, env Envelope) (Response, error) {
	reply := make(chan any, 1)
	if err := sess.Deliver(page.Inbound{Data: env, Reply: reply}); err != nil {
		switch {
		case errors.Is(err, page.ErrNoHandler):
			return Response{}, ErrNoReceiver
		case errors.Is(err, page.ErrClosed):
			return Response{}, ErrContextGone
		default:
			return Response{}, err
		}
	}

	select {
	case out := <-reply:
		resp, ok := out.(Response)
		if !ok {
			return Response{}, fmt.Errorf("messaging: unexpected reply type %T", out)
		}
		if resp.CorrelationID != "" && resp.CorrelationID != env.CorrelationID {
			return Response{}, fmt.Errorf("messaging: correlation mismatch: sent %s, got %s",
				env.CorrelationID, resp.CorrelationID)
		}
		return resp, nil
	case <-sess.Done():
		return Response{}, ErrContextGone
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// IsDeliveryFailure distinguishes transport problems from logic
// failures, so initiators can log them as non-fatal.
func IsDeliveryFailure(err error) bool {
	return errors.Is(err, ErrNoReceiver) || errors.Is(err, ErrContextGone)
}
