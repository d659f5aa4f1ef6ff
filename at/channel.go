package at

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

const (
	DefaultTimeout            = 5 * time.Second
	DefaultPromptTimeout      = 5 * time.Second
	DefaultBodyTimeout        = 3 * time.Minute
	DefaultWriteDelay         = 25 * time.Millisecond
	DefaultNotificationBuffer = 100
)

// Options tune a Channel. Zero values select the package defaults.
type Options struct {
	// Timeout bounds a plain exchange.
	Timeout time.Duration
	// PromptTimeout bounds the wait for the input prompt of a two-phase
	// exchange.
	PromptTimeout time.Duration
	// BodyTimeout bounds the wait for the final line after a body was
	// written. Message submission waits on the network, so it is long.
	BodyTimeout time.Duration
	// WriteDelay separates the prompt from the body write.
	WriteDelay time.Duration
	// NotificationBuffer is the capacity of the notification channel.
	NotificationBuffer int

	Clock   Clock
	Logger  *slog.Logger
	Metrics *Metrics
}

func (o *Options) setDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.PromptTimeout <= 0 {
		o.PromptTimeout = DefaultPromptTimeout
	}
	if o.BodyTimeout <= 0 {
		o.BodyTimeout = DefaultBodyTimeout
	}
	if o.WriteDelay <= 0 {
		o.WriteDelay = DefaultWriteDelay
	}
	if o.NotificationBuffer <= 0 {
		o.NotificationBuffer = DefaultNotificationBuffer
	}
	if o.Clock == nil {
		o.Clock = SystemClock{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Request describes one exchange.
type Request struct {
	Command string
	// Timeout overrides the channel timeout, or the prompt timeout of a
	// two-phase exchange.
	Timeout time.Duration

	// TwoPhase makes the exchange wait for the input prompt and then
	// write Body terminated by Ctrl-Z.
	TwoPhase    bool
	Body        string
	BodyTimeout time.Duration
}

// Channel runs AT command exchanges over a transport, one at a time.
//
// A single loop goroutine, started with Run, owns the transport: it
// writes commands, reads and classifies every line, and resolves each
// exchange on its final line or its timeout. Unsolicited result codes
// are diverted to Notifications whether or not an exchange is in
// flight. Exec may be called from any number of goroutines; requests
// are only accepted while no exchange is in flight.
type Channel struct {
	rw   io.ReadWriter
	opts Options

	requests      chan *exchange
	notifications chan string

	running atomic.Bool
	done    chan struct{}
	err     error
}

// NewChannel creates a Channel over rw. Nothing is read or written until
// Run is called.
func NewChannel(rw io.ReadWriter, opts Options) *Channel {
	opts.setDefaults()
	return &Channel{
		rw:            rw,
		opts:          opts,
		requests:      make(chan *exchange),
		notifications: make(chan string, opts.NotificationBuffer),
		done:          make(chan struct{}),
	}
}

// Notifications returns the unsolicited lines received by the loop. The
// channel is buffered; lines are dropped when it is full.
func (c *Channel) Notifications() <-chan string {
	return c.notifications
}

// Done is closed when the loop has stopped.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the loop stopped, or nil while it runs.
func (c *Channel) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Run is the main event loop that handles all transport I/O operations.
// It must be called exactly once; it returns when ctx is cancelled or
// the transport reaches EOF or fails, resolving the in-flight exchange
// with ErrClosed.
func (c *Channel) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	err := c.loop(ctx)
	c.err = err
	close(c.done)
	return err
}

func (c *Channel) loop(ctx context.Context) error {
	scanner := bufio.NewScanner(c.rw)
	scanner.Split(Splitter)

	// Channels for tokens and errors from the scanner goroutine
	tokens := make(chan string, 10)
	scanErrs := make(chan error, 1)

	go func() {
		defer close(tokens)
		for scanner.Scan() {
			token := scanner.Text()
			if token == "" {
				continue
			}
			select {
			case tokens <- token:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			if errors.Is(err, bufio.ErrTooLong) {
				err = ErrLineTooLong
			}
			scanErrs <- err
		}
	}()

	var (
		cur     *exchange
		partial string // notification whose quoted text spans lines
		timeout <-chan time.Time
		delay   <-chan time.Time
	)
	finish := func(event string, final string, err error) {
		c.finish(ctx, cur, event, final, err)
		cur, timeout, delay = nil, nil, nil
	}

	for {
		// Only accept a new command while idle.
		var accept chan *exchange
		if cur == nil {
			accept = c.requests
		}

		select {
		case <-ctx.Done():
			if cur != nil {
				finish(evFail, "", fmt.Errorf("%w: %w", ErrClosed, ctx.Err()))
			}
			return ctx.Err()

		case x := <-accept:
			x.started = c.opts.Clock.Now()
			cur = x
			if err := c.write(cur.req.Command + CR); err != nil {
				finish(evFail, "", err)
				continue
			}
			cur.fire(ctx, evSend)
			timeout = c.opts.Clock.After(cur.timeout)

		case <-timeout:
			err := ErrTimeout
			switch {
			case cur.req.TwoPhase && !cur.bodySent:
				err = fmt.Errorf("%w: %w", ErrTimeout, ErrNoPrompt)
			case cur.req.TwoPhase:
				err = fmt.Errorf("%w: %w", ErrTimeout, ErrBodyTimeout)
			}
			finish(evExpire, "", fmt.Errorf("%w after %s: %q", err, cur.timeout, cur.req.Command))

		case <-delay:
			delay = nil
			if err := c.write(cur.req.Body + CtrlZ + CRLF); err != nil {
				finish(evFail, "", err)
				continue
			}
			cur.bodySent = true
			cur.fire(ctx, evBody)
			cur.timeout = cur.bodyTimeout
			timeout = c.opts.Clock.After(cur.bodyTimeout)

		case token, ok := <-tokens:
			if !ok {
				if partial != "" {
					c.notify(partial)
				}
				err := io.EOF
				select {
				case serr := <-scanErrs:
					err = fmt.Errorf("scanner error: %w", serr)
				default:
				}
				if cur != nil {
					finish(evFail, "", fmt.Errorf("%w: %w", ErrClosed, err))
				}
				return err
			}

			respType := Classify(token)
			if partial != "" {
				if respType != TypeFinal && respType != TypeError && len(partial) < maxNotificationLen {
					partial += "\n" + token
					if !openQuote(partial) {
						c.notify(partial)
						partial = ""
					}
					continue
				}
				c.notify(partial)
				partial = ""
			}
			if respType == TypeURC {
				// URCs can arrive at any time, even during command execution
				if openQuote(token) {
					partial = token
					continue
				}
				c.notify(token)
				continue
			}
			if cur == nil {
				c.opts.Logger.Debug("orphaned line", "line", token)
				continue
			}
			if cur.isEcho(token) {
				continue
			}

			switch respType {
			case TypeData:
				cur.line(ctx, token)

			case TypePrompt:
				if cur.req.TwoPhase && !cur.bodySent && delay == nil {
					cur.fire(ctx, evPrompt)
					delay = c.opts.Clock.After(c.opts.WriteDelay)
					continue
				}
				cur.line(ctx, token)

			case TypeFinal:
				if cur.req.TwoPhase && !cur.bodySent {
					finish(evFail, token, fmt.Errorf("%w: got %q", ErrNoPrompt, token))
					continue
				}
				finish(evSucceed, token, nil)

			case TypeError:
				finish(evFail, token, ParseError(token))
			}
		}
	}
}

// maxNotificationLen bounds a notification joined from several lines.
const maxNotificationLen = 4096

// openQuote reports whether line ends inside a quoted string, as a USSD
// menu split over several lines does.
func openQuote(line string) bool {
	return strings.Count(line, `"`)%2 == 1
}

func (c *Channel) write(wire string) error {
	if _, err := c.rw.Write([]byte(wire)); err != nil {
		return fmt.Errorf("write command %q: %w", strings.TrimSpace(wire), err)
	}
	return nil
}

func (c *Channel) finish(ctx context.Context, x *exchange, event, final string, err error) {
	x.fire(ctx, event)
	elapsed := c.opts.Clock.Now().Sub(x.started)
	outcome := x.state.Current()
	c.opts.Metrics.exchange(outcome, elapsed)
	c.opts.Logger.Debug("exchange",
		"command", x.req.Command,
		"outcome", outcome,
		"lines", len(x.lines),
		"duration", elapsed,
	)
	x.result <- result{
		resp: Response{Success: err == nil, Intermediates: x.lines, Final: final},
		err:  err,
	}
}

func (c *Channel) notify(line string) {
	select {
	case c.notifications <- line:
		c.opts.Metrics.notification(true)
	default:
		c.opts.Metrics.notification(false)
		c.opts.Logger.Warn("notification dropped, buffer full", "line", line)
	}
}

// Exec submits req and waits for its outcome. On a final error line the
// collected Response is returned together with an *Error. If ctx ends
// first the caller stops waiting; the exchange itself still runs to its
// final line or timeout.
func (c *Channel) Exec(ctx context.Context, req Request) (Response, error) {
	req.Command = strings.TrimSpace(req.Command)
	x := c.newExchange(req)

	select {
	case c.requests <- x:
	case <-ctx.Done():
		return Response{}, fmt.Errorf("command %q cancelled before sending: %w", req.Command, ctx.Err())
	case <-c.done:
		return Response{}, ErrClosed
	}

	select {
	case r := <-x.result:
		return r.resp, r.err
	case <-ctx.Done():
		return Response{}, fmt.Errorf("command %q abandoned: %w", req.Command, ctx.Err())
	}
}

// Command runs a plain exchange with the default timeout.
func (c *Channel) Command(ctx context.Context, cmd string) (Response, error) {
	return c.Exec(ctx, Request{Command: cmd})
}

// SingleLine runs cmd and returns the value of its first intermediate
// line starting with prefix. An empty prefix returns the first
// intermediate line as is.
func (c *Channel) SingleLine(ctx context.Context, cmd, prefix string) (string, error) {
	resp, err := c.Command(ctx, cmd)
	if err != nil {
		return "", err
	}
	if prefix == "" {
		if len(resp.Intermediates) == 0 {
			return "", fmt.Errorf("%w: %s returned no data", ErrMalformedResponse, cmd)
		}
		return resp.Intermediates[0], nil
	}
	v, ok := resp.Value(prefix)
	if !ok {
		return "", fmt.Errorf("%w: %s returned no %q line", ErrMalformedResponse, cmd, prefix)
	}
	return v, nil
}

// MultiLine runs cmd and returns all intermediate lines in the order
// received.
func (c *Channel) MultiLine(ctx context.Context, cmd string, timeout time.Duration) ([]string, error) {
	resp, err := c.Exec(ctx, Request{Command: cmd, Timeout: timeout})
	if err != nil {
		return nil, err
	}
	return resp.Intermediates, nil
}

// TwoPhase runs cmd, waits for the input prompt, then writes body.
func (c *Channel) TwoPhase(ctx context.Context, cmd, body string) (Response, error) {
	return c.Exec(ctx, Request{Command: cmd, TwoPhase: true, Body: body})
}
