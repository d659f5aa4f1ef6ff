package modem

import (
	"context"
	"strings"

	"i4.energy/across/atlink/at"
)

// SendRaw runs an arbitrary command and returns the response as
// collected. A final error line yields the response together with an
// *at.Error.
func (m *Modem) SendRaw(ctx context.Context, cmd string) (at.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(cmd)), "AT+CMGF") {
		// the message format is no longer known
		m.format = ""
	}
	return m.command(ctx, cmd)
}
