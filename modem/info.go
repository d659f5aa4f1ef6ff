package modem

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"i4.energy/across/atlink/at"
)

// BatteryStatus is the power report of AT+CBC.
type BatteryStatus struct {
	// Charging is 0 when not charging, 1 when charging, 2 when done.
	Charging int
	// Level is the capacity in percent.
	Level int
	// Voltage is in millivolts, zero when not reported.
	Voltage int
}

// SignalStrength is the AT+CSQ report.
type SignalStrength struct {
	// RSSI is 0..31, or 99 when unknown.
	RSSI int
	// BER is the bit error rate class 0..7, or 99 when unknown.
	BER int
}

// DBm converts RSSI to dBm. ok is false when the modem does not know
// the signal level.
func (s SignalStrength) DBm() (dbm int, ok bool) {
	if s.RSSI < 0 || s.RSSI > 31 {
		return 0, false
	}
	return -113 + 2*s.RSSI, true
}

// RegistrationStatus is the network registration state of AT+CREG.
type RegistrationStatus int

const (
	NotRegistered RegistrationStatus = iota
	RegisteredHome
	Searching
	RegistrationDenied
	RegistrationUnknown
	RegisteredRoaming
)

func (s RegistrationStatus) String() string {
	switch s {
	case NotRegistered:
		return "not registered"
	case RegisteredHome:
		return "registered, home network"
	case Searching:
		return "searching"
	case RegistrationDenied:
		return "registration denied"
	case RegistrationUnknown:
		return "unknown"
	case RegisteredRoaming:
		return "registered, roaming"
	}
	return fmt.Sprintf("RegistrationStatus(%d)", int(s))
}

// Registered reports whether the modem is attached to a network.
func (s RegistrationStatus) Registered() bool {
	return s == RegisteredHome || s == RegisteredRoaming
}

// Operator is the AT+COPS? report. Name is empty when the modem is not
// registered.
type Operator struct {
	Mode   int
	Format int
	Name   string
}

var (
	digitsPattern = regexp.MustCompile(`\d+`)
	cregPattern   = regexp.MustCompile(`^\s*\d,(\d)`)
	copsPattern   = regexp.MustCompile(`^\s*(\d)(?:,(\d),"([^"]*)")?`)
	cnumPattern   = regexp.MustCompile(`^\+CNUM:\s*"[^"]*","(\+?\d+)"`)
)

// IMEI returns the modem serial number.
func (m *Modem) IMEI(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	line, err := m.singleLine(ctx, "AT+GSN", "")
	if err != nil {
		return "", err
	}
	imei := digitsPattern.FindString(line)
	if imei == "" {
		return "", fmt.Errorf("%w: IMEI %q", ErrMalformedResponse, line)
	}
	return imei, nil
}

// BatteryStatus returns the power supply state.
func (m *Modem) BatteryStatus(ctx context.Context) (BatteryStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, err := m.singleLine(ctx, "AT+CBC", "+CBC:")
	if err != nil {
		return BatteryStatus{}, err
	}
	fields, err := ints(v)
	if err != nil || len(fields) < 2 {
		return BatteryStatus{}, fmt.Errorf("%w: +CBC: %s", ErrMalformedResponse, v)
	}
	st := BatteryStatus{Charging: fields[0], Level: fields[1]}
	if len(fields) > 2 {
		st.Voltage = fields[2]
	}
	return st, nil
}

// SignalStrength returns the received signal quality.
func (m *Modem) SignalStrength(ctx context.Context) (SignalStrength, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, err := m.singleLine(ctx, "AT+CSQ", "+CSQ:")
	if err != nil {
		return SignalStrength{}, err
	}
	fields, err := ints(v)
	if err != nil || len(fields) != 2 {
		return SignalStrength{}, fmt.Errorf("%w: +CSQ: %s", ErrMalformedResponse, v)
	}
	return SignalStrength{RSSI: fields[0], BER: fields[1]}, nil
}

// SimStatus returns the AT+CPIN? state, e.g. "READY" or "SIM PIN".
func (m *Modem) SimStatus(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.simStatus(ctx)
}

func (m *Modem) simStatus(ctx context.Context) (string, error) {
	return m.singleLine(ctx, at.CmdSimStatus, "+CPIN:")
}

// RegistrationStatus returns the network registration state.
func (m *Modem) RegistrationStatus(ctx context.Context) (RegistrationStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, err := m.singleLine(ctx, "AT+CREG?", "+CREG:")
	if err != nil {
		return 0, err
	}
	match := cregPattern.FindStringSubmatch(v)
	if match == nil {
		return 0, fmt.Errorf("%w: +CREG: %s", ErrMalformedResponse, v)
	}
	n, _ := strconv.Atoi(match[1])
	return RegistrationStatus(n), nil
}

// Operator returns the network operator the modem is registered with.
func (m *Modem) Operator(ctx context.Context) (Operator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, err := m.singleLine(ctx, "AT+COPS?", "+COPS:")
	if err != nil {
		return Operator{}, err
	}
	match := copsPattern.FindStringSubmatch(v)
	if match == nil {
		return Operator{}, fmt.Errorf("%w: +COPS: %s", ErrMalformedResponse, v)
	}
	op := Operator{Name: match[3]}
	op.Mode, _ = strconv.Atoi(match[1])
	if match[2] != "" {
		op.Format, _ = strconv.Atoi(match[2])
	}
	return op, nil
}

// OwnNumber returns the subscriber number stored on the SIM. Many SIMs
// do not store it; the result is then empty without an error.
func (m *Modem) OwnNumber(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	resp, err := m.command(ctx, "AT+CNUM")
	if err != nil {
		return "", err
	}
	for _, line := range resp.Intermediates {
		if match := cnumPattern.FindStringSubmatch(line); match != nil {
			return match[1], nil
		}
	}
	return "", nil
}

// SetPower switches the radio on (full functionality) or off.
func (m *Modem) SetPower(ctx context.Context, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cmd := "AT+CFUN=0"
	if on {
		cmd = "AT+CFUN=1"
	}
	return m.expectOK(ctx, cmd)
}

// EnterSimPIN unlocks the SIM.
func (m *Modem) EnterSimPIN(ctx context.Context, pin string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enterSimPIN(ctx, pin)
}

func (m *Modem) enterSimPIN(ctx context.Context, pin string) error {
	return m.expectOK(ctx, fmt.Sprintf(`AT+CPIN="%s"`, pin))
}

// RemoveSimPIN disables the PIN lock of the SIM, unlocking it first
// when it still waits for the PIN.
func (m *Modem) RemoveSimPIN(ctx context.Context, pin string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	status, err := m.simStatus(ctx)
	if err != nil {
		return err
	}
	if strings.Contains(status, at.SimPin) {
		if err := m.enterSimPIN(ctx, pin); err != nil {
			return fmt.Errorf("enter SIM PIN: %w", err)
		}
	}
	return m.expectOK(ctx, fmt.Sprintf(`AT+CLCK="SC",0,"%s"`, pin))
}

// ints parses a comma separated list of integers.
func ints(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
