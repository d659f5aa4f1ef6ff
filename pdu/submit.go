package pdu

import (
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// MaxSeptets is the user data capacity of a single SMS-SUBMIT in the
	// 7-bit default alphabet.
	MaxSeptets = 160

	submitFlags      = 0x11 // SMS-SUBMIT, relative validity period
	messageReference = 0x00 // assigned by the device
	protocolID       = 0x00 // SME-to-SME
	dataCoding7Bit   = 0x00
	validity24h      = 0xA7
)

// EncodeSubmit builds an SMS-SUBMIT PDU for message addressed to
// destination. An empty smsc makes the modem use its stored service
// centre. The returned length is the TPDU octet count, which excludes
// the SMSC block, as AT+CMGS expects.
func EncodeSubmit(destination, message, smsc string) (string, int, error) {
	septets, err := EncodeText(message)
	if err != nil {
		return "", 0, err
	}

	var tpdu strings.Builder
	fmt.Fprintf(&tpdu, "%02X%02X", submitFlags, messageReference)
	tpdu.WriteString(ParseAddress(destination).encodeDestination())
	fmt.Fprintf(&tpdu, "%02X%02X%02X%02X", protocolID, dataCoding7Bit, validity24h, len(septets))
	tpdu.WriteString(strings.ToUpper(hex.EncodeToString(Pack(septets))))

	length := tpdu.Len() / 2
	return ParseAddress(smsc).encodeSMSC() + tpdu.String(), length, nil
}

// EncodeText converts message into septets, rejecting text that does not
// fit in a single PDU. Escaped characters count as two septets.
func EncodeText(message string) ([]byte, error) {
	septets := EncodeString(message)
	if len(septets) > MaxSeptets {
		return nil, &TooLongError{Limit: MaxSeptets, Actual: len(septets)}
	}
	return septets, nil
}

// Submit is a decoded SMS-SUBMIT, as found among stored outgoing
// messages.
type Submit struct {
	SMSC        Address
	Reference   byte
	Destination Address
	PID         byte
	DCS         byte
	Text        string
}

// DecodeSubmit parses a hex encoded SMS-SUBMIT PDU including its SMSC
// block.
func DecodeSubmit(pduHex string) (*Submit, error) {
	r, err := newReader(pduHex)
	if err != nil {
		return nil, err
	}
	s := &Submit{}
	if s.SMSC, err = r.smsc(); err != nil {
		return nil, err
	}
	flags, err := r.octet("first octet")
	if err != nil {
		return nil, err
	}
	if flags&0x03 != 0x01 {
		return nil, fmt.Errorf("%w: not an SMS-SUBMIT (MTI=%d)", ErrUnsupported, flags&0x03)
	}
	if s.Reference, err = r.octet("message reference"); err != nil {
		return nil, err
	}
	if s.Destination, err = r.address("destination"); err != nil {
		return nil, err
	}
	if s.PID, err = r.octet("protocol identifier"); err != nil {
		return nil, err
	}
	if s.DCS, err = r.octet("data coding scheme"); err != nil {
		return nil, err
	}
	switch (flags >> 3) & 0x03 {
	case 0x02: // relative
		_, err = r.next("validity period", 1)
	case 0x01, 0x03: // enhanced, absolute
		_, err = r.next("validity period", 7)
	}
	if err != nil {
		return nil, err
	}
	if s.Text, err = r.userData(s.DCS, flags&0x40 != 0); err != nil {
		return nil, err
	}
	return s, nil
}
