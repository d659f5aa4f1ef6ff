package at

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// TestTransport is a test helper that simulates a modem using channels.
// Reads block until data is available, like a real serial port. Each
// Write is matched against the next expected command; on a match the
// scripted replies are queued for reading.
type TestTransport struct {
	mu         sync.Mutex
	readChan   chan []byte
	pending    []byte
	closed     bool
	script     []scriptStep
	writes     []string
	unexpected []string
	writeErr   error
}

type scriptStep struct {
	write   string
	replies []string
}

// NewTestTransport creates a new test transport for testing.
func NewTestTransport() *TestTransport {
	return &TestTransport{
		readChan: make(chan []byte, 64),
	}
}

// Expect appends a step to the script: when write is written, replies
// become readable, each as a separate chunk.
func (t *TestTransport) Expect(write string, replies ...string) *TestTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.script = append(t.script, scriptStep{write: write, replies: replies})
	return t
}

// FailWrites makes every following Write return err.
func (t *TestTransport) FailWrites(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeErr = err
}

func (t *TestTransport) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, io.ErrClosedPipe
	}
	if t.writeErr != nil {
		return 0, t.writeErr
	}
	data := string(p)
	t.writes = append(t.writes, data)
	if len(t.script) == 0 || t.script[0].write != data {
		t.unexpected = append(t.unexpected, data)
		return len(p), nil
	}
	step := t.script[0]
	t.script = t.script[1:]
	for _, r := range step.replies {
		t.readChan <- []byte(r)
	}
	return len(p), nil
}

func (t *TestTransport) Read(p []byte) (n int, err error) {
	if len(t.pending) == 0 {
		data, ok := <-t.readChan
		if !ok {
			return 0, io.EOF
		}
		t.pending = data
	}
	n = copy(p, t.pending)
	t.pending = t.pending[n:]
	return n, nil
}

func (t *TestTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.readChan)
	return nil
}

// SendData queues data to be read by the transport.
// This simulates receiving data from the modem.
func (t *TestTransport) SendData(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.readChan <- []byte(data)
	}
}

// Writes returns everything written so far, one entry per Write.
func (t *TestTransport) Writes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.writes...)
}

// Verify reports writes that did not match the script and expected
// writes that never happened.
func (t *TestTransport) Verify() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var errs []error
	for _, w := range t.unexpected {
		errs = append(errs, fmt.Errorf("unexpected write %q", w))
	}
	for _, s := range t.script {
		errs = append(errs, fmt.Errorf("missing write %q", s.write))
	}
	return errors.Join(errs...)
}
