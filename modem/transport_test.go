package modem

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"go.bug.st/serial"
)

var (
	_ Dialer = SerialDialer{}
	_ Dialer = TCPDialer{}
	_ Dialer = (*MockDialer)(nil)
)

func TestDialErrors(t *testing.T) {
	var noContext context.Context
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name    string
		dialer  Dialer
		ctx     context.Context
		message string
		err     error
	}{
		{
			name:    "Serial without a port",
			dialer:  SerialDialer{BaudRate: 9600},
			ctx:     context.Background(),
			message: "gsm: serial port name is required",
		},
		{
			name:    "Serial without a context",
			dialer:  SerialDialer{PortName: "/dev/ttyUSB0"},
			ctx:     noContext,
			message: "gsm: context is nil",
		},
		{
			name:   "Serial with a cancelled context",
			dialer: SerialDialer{PortName: "/dev/atlink-missing"},
			ctx:    cancelled,
			err:    context.Canceled,
		},
		{
			name:    "TCP without an address",
			dialer:  TCPDialer{Timeout: time.Second},
			ctx:     context.Background(),
			message: "gsm: tcp address is required",
		},
		{
			name:    "TCP without a context",
			dialer:  TCPDialer{Address: "127.0.0.1:1"},
			ctx:     noContext,
			message: "gsm: context is nil",
		},
		{
			name:   "TCP with a cancelled context",
			dialer: TCPDialer{Address: "127.0.0.1:1"},
			ctx:    cancelled,
			err:    context.Canceled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport, err := tt.dialer.Dial(tt.ctx)
			if transport != nil {
				t.Errorf("expected no transport, got %T", transport)
			}
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.message != "" && err.Error() != tt.message {
				t.Errorf("unexpected error message: %v", err)
			}
			if tt.err != nil && !errors.Is(err, tt.err) {
				t.Errorf("expected %v, got: %v", tt.err, err)
			}
		})
	}
}

func TestSerialDialerMissingPort(t *testing.T) {
	const port = "/dev/atlink-missing"
	dialers := map[string]SerialDialer{
		"Default line settings": {PortName: port},
		"Baud rate only":        {PortName: port, BaudRate: 9600},
		"Explicit mode": {PortName: port, Mode: &serial.Mode{
			BaudRate: 57600,
			Parity:   serial.EvenParity,
			DataBits: 7,
			StopBits: serial.OneStopBit,
		}},
	}

	for name, dialer := range dialers {
		t.Run(name, func(t *testing.T) {
			transport, err := dialer.Dial(context.Background())
			if err == nil {
				transport.Close()
				t.Fatal("expected error opening a missing port")
			}
			if !strings.HasPrefix(err.Error(), "gsm: open serial port "+port+": ") {
				t.Errorf("unexpected error message: %v", err)
			}
		})
	}
}

func TestTCPDialer(t *testing.T) {
	t.Run("Exchanges bytes with the remote modem", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("listen: %v", err)
		}
		defer ln.Close()

		// the remote end answers the first command with OK
		go func() {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
			buf := make([]byte, 64)
			if _, err := conn.Read(buf); err == nil {
				conn.Write([]byte("\r\nOK\r\n"))
			}
		}()

		transport, err := TCPDialer{Address: ln.Addr().String(), Timeout: time.Second}.Dial(context.Background())
		if err != nil {
			t.Fatalf("unexpected dial error: %v", err)
		}
		defer transport.Close()

		if _, err := transport.Write([]byte("AT\r")); err != nil {
			t.Fatalf("unexpected write error: %v", err)
		}
		buf := make([]byte, 6)
		if _, err := io.ReadFull(transport, buf); err != nil {
			t.Fatalf("unexpected read error: %v", err)
		}
		if string(buf) != "\r\nOK\r\n" {
			t.Errorf("unexpected reply %q", buf)
		}
	})

	t.Run("Refused connection", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("listen: %v", err)
		}
		addr := ln.Addr().String()
		ln.Close()

		_, err = TCPDialer{Address: addr}.Dial(context.Background())
		if err == nil {
			t.Fatal("expected error dialing a closed port")
		}
		if !strings.HasPrefix(err.Error(), "gsm: dial "+addr+": ") {
			t.Errorf("unexpected error message: %v", err)
		}
	})
}
