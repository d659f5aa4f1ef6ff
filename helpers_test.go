package main

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomock "go.uber.org/mock/gomock"

	"i4.energy/across/atlink/at"
	"i4.energy/across/atlink/modem"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptInit queues the setup sequence of the generic profile.
func scriptInit(transport *at.TestTransport) {
	transport.Expect("AT\r", "AT\r\r\nOK\r\n")
	transport.Expect("ATE0\r", "ATE0\r\r\nOK\r\n")
	transport.Expect("AT+CMEE=1\r", "\r\nOK\r\n")
	transport.Expect("AT+CPIN?\r", "\r\n+CPIN: READY\r\n", "\r\nOK\r\n")
	transport.Expect("AT+CMGF=1\r", "\r\nOK\r\n")
}

// reply queues cmd answered by lines and OK.
func reply(transport *at.TestTransport, cmd string, lines ...string) {
	var resp string
	for _, l := range lines {
		resp += "\r\n" + l + "\r\n"
	}
	transport.Expect(cmd+"\r", resp+"\r\nOK\r\n")
}

// newTestModem initializes a modem on transport, which must already hold
// the setup sequence.
func newTestModem(t *testing.T, transport *at.TestTransport) *modem.Modem {
	t.Helper()
	ctrl := gomock.NewController(t)
	dialer := modem.NewMockDialer(ctrl)
	dialer.EXPECT().Dial(gomock.Any()).Return(transport, nil)

	config, err := modem.NewConfigBuilder().
		WithDialer(dialer).
		WithLogger(discardLogger()).
		Build()
	require.NoError(t, err)

	m, err := modem.New(context.Background(), config)
	require.NoError(t, err)
	t.Cleanup(func() {
		m.Close()
		assert.NoError(t, transport.Verify())
	})
	return m
}
