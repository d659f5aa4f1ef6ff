package pdu

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// reader walks a decoded PDU octet by octet.
type reader struct {
	b   []byte
	pos int
}

func newReader(pduHex string) (*reader, error) {
	b, err := hex.DecodeString(strings.TrimSpace(pduHex))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	return &reader{b: b}, nil
}

func (r *reader) next(field string, n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.b) {
		return nil, &TruncatedError{Field: field, Want: n, Have: len(r.b) - r.pos}
	}
	out := r.b[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *reader) octet(field string) (byte, error) {
	b, err := r.next(field, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// smsc reads the leading service centre block.
func (r *reader) smsc() (Address, error) {
	n, err := r.octet("SMSC length")
	if err != nil || n == 0 {
		return Address{}, err
	}
	block, err := r.next("SMSC", int(n))
	if err != nil {
		return Address{}, err
	}
	t := AddressType(block[0])
	return Address{Digits: decodeBCD(block[1:], (len(block)-1)*2), Type: t}, nil
}

// address reads a TP-OA or TP-DA field whose length octet is a digit
// count.
func (r *reader) address(field string) (Address, error) {
	count, err := r.octet(field + " length")
	if err != nil {
		return Address{}, err
	}
	tb, err := r.octet(field + " type")
	if err != nil {
		return Address{}, err
	}
	t := AddressType(tb)
	octets, err := r.next(field, (int(count)+1)/2)
	if err != nil {
		return Address{}, err
	}
	if t.isAlphanumeric() {
		septets, err := Unpack(octets, int(count)*4/7)
		if err != nil {
			return Address{}, err
		}
		return Address{Digits: DecodeString(septets), Type: t}, nil
	}
	return Address{Digits: decodeBCD(octets, int(count)), Type: t}, nil
}

type alphabet int

const (
	alphabet7Bit alphabet = iota
	alphabet8Bit
	alphabetUCS2
)

func alphabetOf(dcs byte) (alphabet, error) {
	switch {
	case dcs&0x80 == 0x00: // general data coding, bit 6 marks automatic deletion
		if dcs&0x20 != 0 {
			return 0, fmt.Errorf("%w: compressed user data (DCS=%02X)", ErrUnsupported, dcs)
		}
		if a := alphabet((dcs >> 2) & 0x03); a <= alphabetUCS2 {
			return a, nil
		}
		return 0, fmt.Errorf("%w: reserved alphabet (DCS=%02X)", ErrUnsupported, dcs)
	case dcs&0xF0 == 0xF0: // data coding / message class
		if dcs&0x04 != 0 {
			return alphabet8Bit, nil
		}
		return alphabet7Bit, nil
	case dcs&0xF0 == 0xE0: // message waiting, UCS2
		return alphabetUCS2, nil
	case dcs&0xF0 == 0xC0, dcs&0xF0 == 0xD0:
		return alphabet7Bit, nil
	}
	return 0, fmt.Errorf("%w: data coding scheme %02X", ErrUnsupported, dcs)
}

// userData reads TP-UDL and TP-UD and decodes the text. A user data
// header is skipped, not interpreted.
func (r *reader) userData(dcs byte, hasHeader bool) (string, error) {
	udl, err := r.octet("user data length")
	if err != nil {
		return "", err
	}
	a, err := alphabetOf(dcs)
	if err != nil {
		return "", err
	}
	if a == alphabet7Bit {
		ud, err := r.next("user data", PackedLen(int(udl)))
		if err != nil {
			return "", err
		}
		septets, err := Unpack(ud, int(udl))
		if err != nil {
			return "", err
		}
		if hasHeader && len(ud) > 0 {
			skip := ((int(ud[0])+1)*8 + 6) / 7
			if skip > len(septets) {
				return "", &TruncatedError{Field: "user data header", Want: int(ud[0]) + 1, Have: len(ud)}
			}
			septets = septets[skip:]
		}
		return DecodeString(septets), nil
	}

	ud, err := r.next("user data", int(udl))
	if err != nil {
		return "", err
	}
	if hasHeader && len(ud) > 0 {
		n := int(ud[0]) + 1
		if n > len(ud) {
			return "", &TruncatedError{Field: "user data header", Want: n, Have: len(ud)}
		}
		ud = ud[n:]
	}
	if a == alphabetUCS2 {
		return decodeUCS2(ud)
	}
	text, err := charmap.ISO8859_1.NewDecoder().Bytes(ud)
	if err != nil {
		return "", err
	}
	return string(text), nil
}

func decodeUCS2(b []byte) (string, error) {
	if len(b)%2 != 0 {
		return "", fmt.Errorf("%w: odd UCS2 length %d", ErrTruncated, len(b))
	}
	text, err := utf16be.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(text), nil
}
