package modem_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	gomock "go.uber.org/mock/gomock"
	"i4.energy/across/atlink/at"
	"i4.energy/across/atlink/modem"
)

// MockSequenceBuilder scripts the modem side of common exchanges on a
// TestTransport.
type MockSequenceBuilder struct {
	transport *at.TestTransport
}

func NewMockSequence(transport *at.TestTransport) *MockSequenceBuilder {
	return &MockSequenceBuilder{transport: transport}
}

func (b *MockSequenceBuilder) AT() *MockSequenceBuilder {
	b.transport.Expect("AT\r", "AT\r\r\nOK\r\n")
	return b
}

func (b *MockSequenceBuilder) EchoOff() *MockSequenceBuilder {
	b.transport.Expect("ATE0\r", "ATE0\r\r\nOK\r\n")
	return b
}

func (b *MockSequenceBuilder) ErrorCodes() *MockSequenceBuilder {
	return b.OK("AT+CMEE=1")
}

func (b *MockSequenceBuilder) SimPinRequired() *MockSequenceBuilder {
	return b.Reply("AT+CPIN?", "+CPIN: SIM PIN")
}

func (b *MockSequenceBuilder) SimReady() *MockSequenceBuilder {
	return b.Reply("AT+CPIN?", "+CPIN: READY")
}

func (b *MockSequenceBuilder) SMSTextMode() *MockSequenceBuilder {
	return b.OK("AT+CMGF=1")
}

func (b *MockSequenceBuilder) SMSPDUMode() *MockSequenceBuilder {
	return b.OK("AT+CMGF=0")
}

// Init scripts the setup sequence of the generic profile.
func (b *MockSequenceBuilder) Init() *MockSequenceBuilder {
	return b.AT().EchoOff().ErrorCodes().SimReady().SMSTextMode()
}

// OK scripts cmd answered by a bare OK.
func (b *MockSequenceBuilder) OK(cmd string) *MockSequenceBuilder {
	b.transport.Expect(cmd+"\r", "\r\nOK\r\n")
	return b
}

// Reply scripts cmd answered by lines and OK.
func (b *MockSequenceBuilder) Reply(cmd string, lines ...string) *MockSequenceBuilder {
	var resp strings.Builder
	for _, l := range lines {
		resp.WriteString("\r\n" + l + "\r\n")
	}
	if resp.Len() == 0 {
		return b.OK(cmd)
	}
	b.transport.Expect(cmd+"\r", resp.String(), "\r\nOK\r\n")
	return b
}

// Fail scripts cmd answered by the final error line final.
func (b *MockSequenceBuilder) Fail(cmd, final string) *MockSequenceBuilder {
	b.transport.Expect(cmd+"\r", "\r\n"+final+"\r\n")
	return b
}

// Raw scripts cmd answered by the given chunks as is.
func (b *MockSequenceBuilder) Raw(cmd string, chunks ...string) *MockSequenceBuilder {
	b.transport.Expect(cmd, chunks...)
	return b
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestModem dials transport through a mock dialer and initializes a
// modem on it. The script must already hold the setup sequence.
func newTestModem(t *testing.T, transport *at.TestTransport, configure ...func(*modem.ConfigBuilder)) *modem.Modem {
	t.Helper()
	ctrl := gomock.NewController(t)

	mockDialer := modem.NewMockDialer(ctrl)
	mockDialer.EXPECT().Dial(gomock.Any()).Return(transport, nil)

	builder := modem.NewConfigBuilder().
		WithDialer(mockDialer).
		WithLogger(discardLogger())
	for _, c := range configure {
		c(builder)
	}
	config, err := builder.Build()
	if err != nil {
		t.Fatalf("unexpected error from Build(): %v", err)
	}

	m, err := modem.New(context.Background(), config)
	if err != nil {
		t.Fatalf("failed to create modem: %v", err)
	}
	t.Cleanup(func() {
		m.Close()
		if err := transport.Verify(); err != nil {
			t.Errorf("transport script: %v", err)
		}
	})
	return m
}
