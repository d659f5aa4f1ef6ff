package modem_test

import (
	"context"
	"errors"
	"testing"

	"i4.energy/across/atlink/at"
	"i4.energy/across/atlink/modem"
)

func TestReadPhoneBook(t *testing.T) {
	transport := at.NewTestTransport()
	NewMockSequence(transport).
		Init().
		OK(`AT+CPBS="SM"`).
		Reply("AT+CPBS?", `+CPBS: "SM",12,250`).
		Fail(`AT+CPBS="XX"`, "+CME ERROR: 3")
	m := newTestModem(t, transport)
	ctx := context.Background()

	content, err := m.ReadPhoneBook(ctx, modem.StorageSIM)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if content != (modem.PhoneBookContent{Storage: "SM", Used: 12, Capacity: 250}) {
		t.Errorf("unexpected content: %+v", content)
	}

	_, err = m.ReadPhoneBook(ctx, "XX")
	var atErr *at.Error
	if !errors.As(err, &atErr) || atErr.Code != 3 {
		t.Errorf("expected CME error 3, got: %v", err)
	}
}

func TestReadPhoneBookRecord(t *testing.T) {
	tests := []struct {
		name  string
		reply []string
		want  modem.PhoneBookRecord
	}{
		{
			name:  "Plain title",
			reply: []string{`+CPBR: 1,"+420603123456",145,"Mom"`},
			want:  modem.PhoneBookRecord{Index: 1, Number: "+420603123456", Title: "Mom"},
		},
		{
			name:  "UCS2 title",
			reply: []string{`+CPBR: 1,"603123456",129,"004A0061006E"`},
			want:  modem.PhoneBookRecord{Index: 1, Number: "603123456", Title: "Jan"},
		},
		{
			name:  "Service number",
			reply: []string{`+CPBR: 1,"*100#",129,`},
			want:  modem.PhoneBookRecord{Index: 1, Number: "*100#"},
		},
		{
			name: "Empty slot",
			want: modem.PhoneBookRecord{Index: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := at.NewTestTransport()
			NewMockSequence(transport).Init().Reply("AT+CPBR=1", tt.reply...)
			m := newTestModem(t, transport)

			got, err := m.ReadPhoneBookRecord(context.Background(), 1)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}
