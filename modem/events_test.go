package modem_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"i4.energy/across/atlink/at"
	"i4.energy/across/atlink/modem"
)

func TestParseEvent(t *testing.T) {
	now := time.Date(2024, 3, 15, 18, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		line string
		want modem.Event
	}{
		{
			name: "Ring",
			line: "RING",
			want: modem.Event{Kind: modem.EventIncomingCall, Time: now},
		},
		{
			name: "Ring with call type",
			line: "+CRING: VOICE",
			want: modem.Event{Kind: modem.EventIncomingCall, Time: now},
		},
		{
			name: "Caller ID",
			line: `+CLIP: "+420603123456",145,"",0,"",0`,
			want: modem.Event{Kind: modem.EventCallerID, Time: now, Number: "+420603123456"},
		},
		{
			name: "Missed call",
			line: "MISSED_CALL: 09:15AM +420603123456",
			want: modem.Event{
				Kind:   modem.EventMissedCall,
				Time:   time.Date(2024, 3, 15, 9, 15, 0, 0, time.UTC),
				Number: "+420603123456",
			},
		},
		{
			name: "Missed call in the afternoon",
			line: "MISSED_CALL: 1:05PM 603123456",
			want: modem.Event{
				Kind:   modem.EventMissedCall,
				Time:   time.Date(2024, 3, 15, 13, 5, 0, 0, time.UTC),
				Number: "603123456",
			},
		},
		{
			name: "New message",
			line: `+CMTI: "SM",3`,
			want: modem.Event{Kind: modem.EventNewMessage, Time: now, Storage: "SM", Index: 3},
		},
		{
			name: "Status report",
			line: `+CDSI: "SR",12`,
			want: modem.Event{Kind: modem.EventStatusReport, Time: now, Storage: "SR", Index: 12},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := modem.ParseEvent(tt.line, now)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.want.Raw = tt.line
			if got.Kind != tt.want.Kind || !got.Time.Equal(tt.want.Time) || got.Number != tt.want.Number ||
				got.Storage != tt.want.Storage || got.Index != tt.want.Index || got.Raw != tt.want.Raw {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestParseEventUSSD(t *testing.T) {
	tests := []struct {
		line   string
		status int
		text   string
		dcs    int
	}{
		{`+CUSD: 0,"Balance: 10.00 EUR",15`, modem.USSDNoActionRequired, "Balance: 10.00 EUR", 15},
		{"+CUSD: 1,\"1. Balance\n2. Data\",15", modem.USSDActionRequired, "1. Balance\n2. Data", 15},
		{"+CUSD: 2", modem.USSDTerminated, "", 0},
		{"+CUSD: 4", modem.USSDNotSupported, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			ev, err := modem.ParseEvent(tt.line, time.Now())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ev.Kind != modem.EventUSSD || ev.USSD == nil {
				t.Fatalf("expected USSD event, got %+v", ev)
			}
			if ev.USSD.Status != tt.status || ev.USSD.Message != tt.text || ev.USSD.DCS != tt.dcs {
				t.Errorf("unexpected reply: %+v", *ev.USSD)
			}
		})
	}
}

func TestParseEventErrors(t *testing.T) {
	for _, line := range []string{
		"+CLIP: 603123456",
		"MISSED_CALL: yesterday",
		"+CMTI: SM",
		"+CUSD: x",
		"+CREG: 1",
	} {
		if _, err := modem.ParseEvent(line, time.Now()); err == nil {
			t.Errorf("expected error for %q", line)
		}
	}
	if _, err := modem.ParseEvent("+CLIP: 603123456", time.Now()); !errors.Is(err, modem.ErrMalformedResponse) {
		t.Errorf("expected ErrMalformedResponse, got: %v", err)
	}
}

func nextEvent(t *testing.T, m *modem.Modem) modem.Event {
	t.Helper()
	select {
	case ev := <-m.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return modem.Event{}
}

func TestEvents(t *testing.T) {
	transport := at.NewTestTransport()
	NewMockSequence(transport).
		Init().
		Raw("AT+CSQ\r", "\r\n+CSQ: 20,99\r\n\r\nRING\r\n", "\r\nOK\r\n")
	m := newTestModem(t, transport)

	// idle notification
	transport.SendData("\r\n+CMTI: \"SM\",4\r\n")
	ev := nextEvent(t, m)
	if ev.Kind != modem.EventNewMessage || ev.Index != 4 {
		t.Errorf("unexpected event: %+v", ev)
	}

	// notification in the middle of an exchange
	s, err := m.SignalStrength(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.RSSI != 20 {
		t.Errorf("unexpected signal: %+v", s)
	}
	if ev := nextEvent(t, m); ev.Kind != modem.EventIncomingCall {
		t.Errorf("expected incoming call, got %+v", ev)
	}

	// unparsable notifications are skipped
	transport.SendData("\r\n+CLIP: garbage\r\n\r\nMISSED_CALL: 09:15AM +420603123456\r\n")
	if ev := nextEvent(t, m); ev.Kind != modem.EventMissedCall {
		t.Errorf("expected missed call, got %+v", ev)
	}
}

func TestSendUSSD(t *testing.T) {
	t.Run("Reply arrives after OK", func(t *testing.T) {
		transport := at.NewTestTransport()
		NewMockSequence(transport).
			Init().
			Raw(`AT+CUSD=1,"*100#",15`+"\r", "\r\nOK\r\n", "\r\n+CUSD: 0,\"Balance: 10.00 EUR\",15\r\n")
		m := newTestModem(t, transport)

		resp, err := m.SendUSSD(context.Background(), "*100#")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.Message != "Balance: 10.00 EUR" || resp.Status != modem.USSDNoActionRequired {
			t.Errorf("unexpected reply: %+v", resp)
		}
		// the reply is published as an event too
		if ev := nextEvent(t, m); ev.Kind != modem.EventUSSD {
			t.Errorf("expected USSD event, got %+v", ev)
		}
	})

	t.Run("Menu reply spans several lines", func(t *testing.T) {
		transport := at.NewTestTransport()
		NewMockSequence(transport).
			Init().
			Raw(`AT+CUSD=1,"*100#",15`+"\r", "\r\nOK\r\n", "\r\n+CUSD: 1,\"1. Balance\r\n2. Data\",15\r\n")
		m := newTestModem(t, transport)

		resp, err := m.SendUSSD(context.Background(), "*100#")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.Message != "1. Balance\n2. Data" || resp.Status != modem.USSDActionRequired || resp.DCS != 15 {
			t.Errorf("unexpected reply: %+v", resp)
		}
	})

	t.Run("UCS2 profile encodes the code and decodes the reply", func(t *testing.T) {
		profile := modem.Profile{
			Name:          "ucs2-test",
			MessageFormat: modem.FormatText,
			USSDEncoding:  modem.EncodingUCS2,
			USSDDCS:       15,
		}
		transport := at.NewTestTransport()
		NewMockSequence(transport).
			Init().
			Raw(`AT+CUSD=1,"002A0031003000300023",15`+"\r", "\r\n+CUSD: 0,\"004F004B\",72\r\n\r\nOK\r\n")
		m := newTestModem(t, transport, func(b *modem.ConfigBuilder) { b.WithProfile(profile) })

		resp, err := m.SendUSSD(context.Background(), "*100#")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.Message != "OK" || resp.Raw != "004F004B" {
			t.Errorf("unexpected reply: %+v", resp)
		}
	})

	t.Run("Quectel sends coding scheme 0", func(t *testing.T) {
		transport := at.NewTestTransport()
		NewMockSequence(transport).
			AT().
			EchoOff().
			ErrorCodes().
			OK("AT+QSIMSTAT=0").
			SimReady().
			OK(`AT+CSCS="UCS2"`).
			OK("AT+CNMI=0,0,0,0,0").
			SMSPDUMode().
			Raw(`AT+CUSD=1,"002A0031003000300023",0`+"\r", "\r\n+CUSD: 0,\"004F004B\",72\r\n\r\nOK\r\n")
		m := newTestModem(t, transport, func(b *modem.ConfigBuilder) { b.WithProfile(modem.QuectelM26) })

		resp, err := m.SendUSSD(context.Background(), "*100#")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.Message != "OK" {
			t.Errorf("unexpected reply: %+v", resp)
		}
	})

	t.Run("Raw code is sent as is", func(t *testing.T) {
		transport := at.NewTestTransport()
		NewMockSequence(transport).
			Init().
			Raw(`AT+CUSD=1,"AA180C3602",15`+"\r", "\r\nOK\r\n\r\n+CUSD: 2\r\n")
		m := newTestModem(t, transport)

		resp, err := m.SendUSSDRaw(context.Background(), "AA180C3602")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.Status != modem.USSDTerminated {
			t.Errorf("unexpected reply: %+v", resp)
		}
	})

	t.Run("Network never replies", func(t *testing.T) {
		transport := at.NewTestTransport()
		NewMockSequence(transport).
			Init().
			OK(`AT+CUSD=1,"*100#",15`)
		m := newTestModem(t, transport, func(b *modem.ConfigBuilder) { b.WithUSSDTimeout(20 * time.Millisecond) })

		if _, err := m.SendUSSD(context.Background(), "*100#"); !errors.Is(err, at.ErrTimeout) {
			t.Errorf("expected ErrTimeout, got: %v", err)
		}
	})

	t.Run("Rejected request", func(t *testing.T) {
		transport := at.NewTestTransport()
		NewMockSequence(transport).
			Init().
			Fail(`AT+CUSD=1,"*100#",15`, "+CME ERROR: 100")
		m := newTestModem(t, transport)

		_, err := m.SendUSSD(context.Background(), "*100#")
		var atErr *at.Error
		if !errors.As(err, &atErr) || atErr.Code != 100 {
			t.Errorf("expected CME error 100, got: %v", err)
		}
	})
}
