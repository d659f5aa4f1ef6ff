package modem_test

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"i4.energy/across/atlink/modem"
)

func TestLookupProfile(t *testing.T) {
	for _, name := range []string{"generic", "SIM800", "sim5320", "Quectel-M26"} {
		p, err := modem.LookupProfile(name)
		if err != nil {
			t.Errorf("LookupProfile(%q): %v", name, err)
			continue
		}
		if !strings.EqualFold(p.Name, name) {
			t.Errorf("LookupProfile(%q) returned %q", name, p.Name)
		}
	}

	if _, err := modem.LookupProfile("nokia-3310"); !errors.Is(err, modem.ErrUnknownProfile) {
		t.Errorf("expected ErrUnknownProfile, got: %v", err)
	}
}

func TestLoadProfiles(t *testing.T) {
	t.Run("Registers profiles with defaults", func(t *testing.T) {
		doc := `
profiles:
  - name: huawei-e173
    after_pin:
      - command: AT^CURC=0
        optional: true
      - command: AT+CSCS="GSM"
    ussd_encoding: ucs2
`
		loaded, err := modem.LoadProfiles(strings.NewReader(doc))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(loaded) != 1 {
			t.Fatalf("expected 1 profile, got %d", len(loaded))
		}

		p, err := modem.LookupProfile("huawei-e173")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.MessageFormat != modem.FormatText || p.USSDEncoding != modem.EncodingUCS2 || p.USSDDCS != 15 {
			t.Errorf("unexpected defaults: %+v", p)
		}
		if len(p.AfterPIN) != 2 || !p.AfterPIN[0].Optional || p.AfterPIN[1].Command != `AT+CSCS="GSM"` {
			t.Errorf("unexpected settings: %+v", p.AfterPIN)
		}
		if !slices.Contains(modem.Profiles(), "huawei-e173") {
			t.Errorf("expected huawei-e173 in %v", modem.Profiles())
		}
	})

	t.Run("Explicit zero coding scheme is kept", func(t *testing.T) {
		doc := "profiles:\n  - name: zero-dcs\n    ussd_dcs: 0\n  - name: dcs-72\n    ussd_dcs: 72\n"
		loaded, err := modem.LoadProfiles(strings.NewReader(doc))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(loaded) != 2 || loaded[0].USSDDCS != 0 || loaded[1].USSDDCS != 72 {
			t.Errorf("unexpected coding schemes: %+v", loaded)
		}
		if p, _ := modem.LookupProfile("zero-dcs"); p.USSDDCS != 0 {
			t.Errorf("expected registered DCS 0, got %d", p.USSDDCS)
		}
	})

	t.Run("Rejects unknown fields", func(t *testing.T) {
		doc := "profiles:\n  - name: x\n    baud: 9600\n"
		if _, err := modem.LoadProfiles(strings.NewReader(doc)); err == nil {
			t.Error("expected error for unknown field")
		}
	})

	t.Run("Rejects invalid profiles", func(t *testing.T) {
		doc := "profiles:\n  - name: x\n    message_format: binary\n"
		if _, err := modem.LoadProfiles(strings.NewReader(doc)); err == nil {
			t.Error("expected error for unknown message format")
		}
	})
}
