package modem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"i4.energy/across/atlink/at"
)

// Modem represents a GSM/3G/4G cellular modem that communicates via AT commands.
// It provides thread-safe access to SMS functionality and modem operations through
// an at.Channel whose event loop handles all transport I/O.
type Modem struct {
	// transport provides the physical connection to the modem (serial, TCP, etc.)
	transport Transport
	// channel runs the command exchanges and owns all reads
	channel *at.Channel
	// config contains the modem configuration settings
	config  Config
	profile Profile
	logger  *slog.Logger

	// mu serializes facade operations, some of which span several
	// exchanges (format switch then submission).
	mu sync.Mutex
	// format is the AT+CMGF mode last set, guarded by mu
	format MessageFormat
	// closed indicates if the modem has been shut down
	closed atomic.Bool
	// loopCancel stops the channel loop
	loopCancel context.CancelFunc

	events chan Event

	ussdMu   sync.Mutex
	ussdWait chan USSDResponse
}

// PollConfig defines configuration for polling operations like waiting for SIM readiness.
type PollConfig struct {
	// Interval is the time between polling attempts
	Interval time.Duration
	// Timeout is the maximum time to wait for the condition
	Timeout time.Duration
	// MaxRetries is the maximum number of polling attempts
	MaxRetries int
}

// New creates a new Modem instance with the given configuration.
// It establishes the transport connection, starts the channel loop and
// runs the setup sequence of the configured profile.
//
// Returns an error if the transport connection or modem initialization
// fails; the transport is closed in the latter case.
func New(ctx context.Context, config Config) (*Modem, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.setDefaults()

	transport, err := config.Dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, ErrNotInitialized
	}

	m := &Modem{
		transport: transport,
		config:    config,
		profile:   config.Profile,
		logger:    config.Logger.With("profile", config.Profile.Name),
		events:    make(chan Event, 100), // Buffered to prevent blocking on URCs
	}
	m.channel = at.NewChannel(transport, at.Options{
		Timeout:       config.ATTimeout,
		PromptTimeout: config.PromptTimeout,
		BodyTimeout:   config.BodyTimeout,
		WriteDelay:    config.WriteDelay,
		Clock:         config.Clock,
		Logger:        m.logger,
		Metrics:       config.Metrics,
	})

	// The loop outlives ctx; it stops on Close.
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.loopCancel = cancel
	go func() {
		if err := m.channel.Run(loopCtx); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error("channel loop stopped", "error", err)
		}
	}()
	go m.dispatch()

	// Initialize the modem with proper timeout
	initCtx := ctx
	if config.InitTimeout > 0 {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, config.InitTimeout)
		defer cancel()
	}

	if err := m.init(initCtx); err != nil {
		m.closed.Store(true)
		cancel()
		transport.Close()
		return nil, fmt.Errorf("initialize modem: %w", err)
	}

	m.logger.Info("modem initialized")
	return m, nil
}

// Close shuts down the modem and releases all resources.
// It stops the event loop, closes the transport connection, and marks
// the modem as closed. After calling Close(), the modem cannot be reused.
func (m *Modem) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return ErrAlreadyClosed
	}
	m.loopCancel()
	return m.transport.Close()
}

// Done is closed when the channel loop has stopped, after Close or on a
// transport failure.
func (m *Modem) Done() <-chan struct{} {
	return m.channel.Done()
}

// Err reports why the channel loop stopped.
func (m *Modem) Err() error {
	return m.channel.Err()
}

// Profile returns the model profile the modem was set up with.
func (m *Modem) Profile() Profile {
	return m.profile
}

// init performs the initial setup sequence for the modem hardware.
// This method is called during New() and must complete successfully
// before the modem can be used.
func (m *Modem) init(ctx context.Context) error {
	// 1. Wake-up / sanity check
	if err := m.expectOK(ctx, at.CmdAt); err != nil {
		return fmt.Errorf("modem not responding: %w", err)
	}

	if !m.config.EchoOn {
		if err := m.expectOK(ctx, at.CmdEchoOff); err != nil {
			return fmt.Errorf("could not disable echo: %w", err)
		}
	}

	if err := m.expectOK(ctx, at.CmdErrorCodes); err != nil {
		return fmt.Errorf("could not enable error codes: %w", err)
	}

	if err := m.apply(ctx, m.profile.BeforePIN); err != nil {
		return err
	}

	// 2. Check SIM status
	simStatus, err := m.simStatus(ctx)
	if err != nil {
		return fmt.Errorf("query SIM status: %w", err)
	}

	switch {
	case strings.Contains(simStatus, at.SimReady):
		// OK

	case strings.Contains(simStatus, at.SimPin):
		if m.config.SimPIN == "" {
			return ErrSIMPinRequired
		}
		if err := m.enterSimPIN(ctx, m.config.SimPIN); err != nil {
			return fmt.Errorf("enter SIM PIN: %w", err)
		}

		// Wait until SIM becomes ready
		if err := m.waitForSIMReady(ctx, m.config.SIMPoll); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unsupported SIM state: %q", simStatus)
	}

	if err := m.apply(ctx, m.profile.AfterPIN); err != nil {
		return err
	}

	// 3. Select SMS message format
	if err := m.setFormat(ctx, m.profile.MessageFormat); err != nil {
		return fmt.Errorf("set SMS %s mode: %w", m.profile.MessageFormat, err)
	}

	return nil
}

// apply runs the settings of a setup sequence in order.
func (m *Modem) apply(ctx context.Context, settings []Setting) error {
	for _, s := range settings {
		err := m.expectOK(ctx, s.Command)
		switch {
		case err == nil:
		case s.Optional:
			m.logger.Warn("optional setting failed", "command", s.Command, "error", err)
		default:
			return fmt.Errorf("apply %q: %w", s.Command, err)
		}
	}
	return nil
}

// exec sends a request to the channel and waits for the response.
func (m *Modem) exec(ctx context.Context, req at.Request) (at.Response, error) {
	if m.closed.Load() {
		return at.Response{}, ErrAlreadyClosed
	}
	return m.channel.Exec(ctx, req)
}

func (m *Modem) command(ctx context.Context, cmd string) (at.Response, error) {
	return m.exec(ctx, at.Request{Command: cmd})
}

// expectOK executes an AT command that only reports success or failure.
func (m *Modem) expectOK(ctx context.Context, cmd string) error {
	_, err := m.command(ctx, cmd)
	return err
}

// singleLine executes cmd and returns the value of its prefix line.
func (m *Modem) singleLine(ctx context.Context, cmd, prefix string) (string, error) {
	if m.closed.Load() {
		return "", ErrAlreadyClosed
	}
	return m.channel.SingleLine(ctx, cmd, prefix)
}

func (m *Modem) setFormat(ctx context.Context, f MessageFormat) error {
	if m.format == f {
		return nil
	}
	cmd := at.CmdSetTextMode
	if f == FormatPDU {
		cmd = at.CmdSetPDUMode
	}
	if err := m.expectOK(ctx, cmd); err != nil {
		return err
	}
	m.format = f
	return nil
}

// waitForSIMReady polls the SIM card status until it reports ready state.
// This is necessary after entering a SIM PIN, as the SIM card needs time
// to authenticate and become operational. Uses configurable polling interval
// and retry limits to avoid infinite waiting.
func (m *Modem) waitForSIMReady(ctx context.Context, config PollConfig) error {
	var (
		pollInterval = config.Interval
		timeout      = config.Timeout
		maxRetries   = config.MaxRetries
	)

	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxRetries <= 0 {
		maxRetries = int(timeout / pollInterval)
	}

	for retries := 1; ; retries++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("SIM not ready: %w", ctx.Err())
		case <-m.config.Clock.After(pollInterval):
		}
		if retries > maxRetries {
			return fmt.Errorf("SIM not ready after %d retries", maxRetries)
		}
		status, err := m.simStatus(ctx)
		if err != nil {
			// Fail fast on critical errors
			if errors.Is(err, ErrAlreadyClosed) || errors.Is(err, at.ErrClosed) {
				return fmt.Errorf("SIM status check failed: %w", err)
			}
			m.logger.Debug("SIM status poll failed", "attempt", retries, "error", err)
			continue
		}
		if strings.Contains(status, at.SimReady) {
			return nil
		}
	}
}
