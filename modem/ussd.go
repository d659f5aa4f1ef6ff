package modem

import (
	"context"
	"fmt"

	"i4.energy/across/atlink/at"
	"i4.energy/across/atlink/pdu"
)

// SendUSSD sends a USSD code such as "*100#" and waits for the network
// reply. The code is written in the encoding of the modem profile.
//
// The modem acknowledges the request with OK; the reply itself arrives
// later as an unsolicited +CUSD line and is returned here, bounded by
// the USSD timeout.
func (m *Modem) SendUSSD(ctx context.Context, code string) (USSDResponse, error) {
	if m.profile.USSDEncoding == EncodingUCS2 {
		code = pdu.RawEncode(code)
	}
	return m.sendUSSD(ctx, code)
}

// SendUSSDRaw sends code exactly as given.
func (m *Modem) SendUSSDRaw(ctx context.Context, code string) (USSDResponse, error) {
	return m.sendUSSD(ctx, code)
}

func (m *Modem) sendUSSD(ctx context.Context, code string) (USSDResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Register before sending; the reply may beat the OK.
	wait := make(chan USSDResponse, 1)
	m.ussdMu.Lock()
	m.ussdWait = wait
	m.ussdMu.Unlock()
	defer func() {
		m.ussdMu.Lock()
		m.ussdWait = nil
		m.ussdMu.Unlock()
	}()

	cmd := fmt.Sprintf(`AT+CUSD=1,"%s",%d`, code, m.profile.USSDDCS)
	if err := m.expectOK(ctx, cmd); err != nil {
		return USSDResponse{}, fmt.Errorf("USSD %s: %w", code, err)
	}

	select {
	case r := <-wait:
		return r, nil
	case <-m.config.Clock.After(m.config.USSDTimeout):
		return USSDResponse{}, fmt.Errorf("%w: no USSD reply to %s after %s", at.ErrTimeout, code, m.config.USSDTimeout)
	case <-ctx.Done():
		return USSDResponse{}, ctx.Err()
	case <-m.channel.Done():
		return USSDResponse{}, at.ErrClosed
	}
}

// CancelUSSD ends an open USSD session.
func (m *Modem) CancelUSSD(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expectOK(ctx, "AT+CUSD=2")
}

// deliverUSSD hands r to the pending SendUSSD, if any.
func (m *Modem) deliverUSSD(r USSDResponse) {
	m.ussdMu.Lock()
	defer m.ussdMu.Unlock()
	if m.ussdWait == nil {
		return
	}
	select {
	case m.ussdWait <- r:
	default:
	}
}
