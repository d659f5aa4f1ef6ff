package pdu

import (
	"fmt"
	"strings"
)

// AddressType is the type-of-address octet of a PDU address field.
type AddressType byte

const (
	// International is telephone/ISDN numbering, international format.
	International AddressType = 0x91
	// Unknown is telephone/ISDN numbering, unknown format.
	Unknown AddressType = 0x81
	// Alphanumeric marks a GSM 7-bit encoded sender name.
	Alphanumeric AddressType = 0xD0
)

func (t AddressType) isAlphanumeric() bool {
	return byte(t)&0x70 == 0x50
}

func (t AddressType) isInternational() bool {
	return byte(t)&0x70 == 0x10
}

// Address is a phone number as carried in a PDU. Digits never include
// the leading "+"; it is expressed by Type.
type Address struct {
	Digits string
	Type   AddressType
}

// ParseAddress classifies a phone number by its leading "+".
func ParseAddress(number string) Address {
	if digits, ok := strings.CutPrefix(number, "+"); ok {
		return Address{Digits: digits, Type: International}
	}
	return Address{Digits: number, Type: Unknown}
}

// String renders the number with a "+" prefix for international
// addresses.
func (a Address) String() string {
	if a.Type.isInternational() && a.Digits != "" {
		return "+" + a.Digits
	}
	return a.Digits
}

// DigitCount is the number of digits in the address, not the number of
// encoded octets.
func (a Address) DigitCount() int {
	return len(a.Digits)
}

// encodeSMSC renders the service centre block. Its length octet counts
// the encoded octets plus the type octet; an empty address is a single
// zero octet, which tells the modem to use its stored SMSC.
func (a Address) encodeSMSC() string {
	if a.Digits == "" {
		return "00"
	}
	encoded := EncodeSemiOctets(a.Digits)
	return fmt.Sprintf("%02X%02X", len(encoded)/2+1, byte(a.Type)) + encoded
}

// encodeDestination renders a TP-DA field. Unlike the SMSC block its
// length octet is the digit count, and the type octet is present even
// for an empty address.
func (a Address) encodeDestination() string {
	if a.Digits == "" {
		return fmt.Sprintf("00%02X", byte(a.Type))
	}
	return fmt.Sprintf("%02X%02X", a.DigitCount(), byte(a.Type)) + EncodeSemiOctets(a.Digits)
}
