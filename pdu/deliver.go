package pdu

import (
	"fmt"
	"time"
)

// Deliver is a decoded SMS-DELIVER, the form of every received message.
type Deliver struct {
	SMSC      Address
	Sender    Address
	PID       byte
	DCS       byte
	Timestamp time.Time
	Text      string
	// HasHeader reports that a user data header was present and skipped.
	// Concatenated messages are not reassembled.
	HasHeader bool
}

// DecodeDeliver parses a hex encoded SMS-DELIVER PDU including its SMSC
// block, as listed by AT+CMGL and AT+CMGR in PDU mode.
func DecodeDeliver(pduHex string) (*Deliver, error) {
	r, err := newReader(pduHex)
	if err != nil {
		return nil, err
	}
	d := &Deliver{}
	if d.SMSC, err = r.smsc(); err != nil {
		return nil, err
	}
	flags, err := r.octet("first octet")
	if err != nil {
		return nil, err
	}
	if flags&0x03 != 0x00 {
		return nil, fmt.Errorf("%w: not an SMS-DELIVER (MTI=%d)", ErrUnsupported, flags&0x03)
	}
	d.HasHeader = flags&0x40 != 0
	if d.Sender, err = r.address("originator"); err != nil {
		return nil, err
	}
	if d.PID, err = r.octet("protocol identifier"); err != nil {
		return nil, err
	}
	if d.DCS, err = r.octet("data coding scheme"); err != nil {
		return nil, err
	}
	scts, err := r.next("timestamp", 7)
	if err != nil {
		return nil, err
	}
	if d.Timestamp, err = decodeTimestamp(scts); err != nil {
		return nil, err
	}
	if d.Text, err = r.userData(d.DCS, d.HasHeader); err != nil {
		return nil, err
	}
	return d, nil
}

// decodeTimestamp reads a 7 octet service centre time stamp. The last
// octet is the offset from UTC in quarter hours, with bit 3 as the sign.
func decodeTimestamp(b []byte) (time.Time, error) {
	var f [6]int
	for i := range f {
		v, ok := swappedDecimal(b[i])
		if !ok {
			return time.Time{}, fmt.Errorf("pdu: invalid timestamp octet %02X", b[i])
		}
		f[i] = v
	}
	if f[1] < 1 || f[1] > 12 || f[2] < 1 || f[2] > 31 || f[3] > 23 || f[4] > 59 || f[5] > 59 {
		return time.Time{}, fmt.Errorf("pdu: invalid timestamp % X", b)
	}
	tz := b[6]
	quarters := int(tz&0x07)*10 + int(tz>>4)
	offset := quarters * 15 * 60
	if tz&0x08 != 0 {
		offset = -offset
	}
	loc := time.FixedZone("", offset)
	return time.Date(2000+f[0], time.Month(f[1]), f[2], f[3], f[4], f[5], 0, loc), nil
}

func swappedDecimal(b byte) (int, bool) {
	lo, hi := b&0x0F, b>>4
	if lo > 9 || hi > 9 {
		return 0, false
	}
	return int(lo)*10 + int(hi), true
}
