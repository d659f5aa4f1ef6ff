package at

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/looplab/fsm"
)

// Exchange states.
const (
	StateIdle       = "idle"
	StateSent       = "sent"
	StateCollecting = "collecting"
	StatePrompted   = "prompted"
	StateSuccess    = "success"
	StateError      = "error"
	StateTimeout    = "timeout"
)

const (
	evSend    = "send"
	evLine    = "line"
	evPrompt  = "prompt"
	evBody    = "body"
	evSucceed = "succeed"
	evFail    = "fail"
	evExpire  = "expire"
)

var exchangeEvents = fsm.Events{
	{Name: evSend, Src: []string{StateIdle}, Dst: StateSent},
	{Name: evLine, Src: []string{StateSent}, Dst: StateCollecting},
	{Name: evPrompt, Src: []string{StateSent, StateCollecting}, Dst: StatePrompted},
	{Name: evBody, Src: []string{StatePrompted}, Dst: StateCollecting},
	{Name: evSucceed, Src: []string{StateSent, StateCollecting}, Dst: StateSuccess},
	{Name: evFail, Src: []string{StateIdle, StateSent, StateCollecting, StatePrompted}, Dst: StateError},
	{Name: evExpire, Src: []string{StateSent, StateCollecting, StatePrompted}, Dst: StateTimeout},
}

type result struct {
	resp Response
	err  error
}

// exchange is one command in flight. It is owned by the loop goroutine
// from the moment it is accepted.
type exchange struct {
	req         Request
	state       *fsm.FSM
	lines       []string
	bodySent    bool
	timeout     time.Duration
	bodyTimeout time.Duration
	started     time.Time
	result      chan result
	logger      *slog.Logger
}

func (c *Channel) newExchange(req Request) *exchange {
	x := &exchange{
		req:         req,
		timeout:     req.Timeout,
		bodyTimeout: req.BodyTimeout,
		result:      make(chan result, 1),
		logger:      c.opts.Logger,
	}
	if x.timeout <= 0 {
		x.timeout = c.opts.Timeout
		if req.TwoPhase {
			x.timeout = c.opts.PromptTimeout
		}
	}
	if x.bodyTimeout <= 0 {
		x.bodyTimeout = c.opts.BodyTimeout
	}
	x.state = fsm.NewFSM(StateIdle, exchangeEvents, fsm.Callbacks{
		"enter_state": func(_ context.Context, e *fsm.Event) {
			x.logger.Debug("exchange state", "command", req.Command, "from", e.Src, "to", e.Dst)
		},
	})
	return x
}

func (x *exchange) fire(ctx context.Context, event string) {
	if err := x.state.Event(context.WithoutCancel(ctx), event); err != nil {
		x.logger.Debug("exchange event rejected", "command", x.req.Command, "event", event, "error", err)
	}
}

func (x *exchange) line(ctx context.Context, token string) {
	if x.state.Is(StateSent) {
		x.fire(ctx, evLine)
	}
	x.lines = append(x.lines, token)
}

// isEcho reports whether token repeats the command or the body, as a
// modem does while echo is still enabled.
func (x *exchange) isEcho(token string) bool {
	if token == x.req.Command {
		return true
	}
	if x.req.TwoPhase && x.req.Body != "" {
		return strings.TrimSuffix(token, CtrlZ) == x.req.Body
	}
	return false
}
