package pdu

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

var utf16be = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)

// RawEncode renders text as the concatenation of its UTF-16 code units,
// four uppercase hex digits each. This is the form modems expect for
// USSD and phone book text when the character set is UCS2.
func RawEncode(text string) string {
	b, err := utf16be.NewEncoder().Bytes([]byte(text))
	if err != nil {
		// the UTF-16 encoder replaces invalid input rather than failing
		return ""
	}
	return strings.ToUpper(hex.EncodeToString(b))
}

// RawDecode regroups every four hex digits into one UTF-16 code unit.
// Input whose length is not a multiple of four is rejected.
func RawDecode(raw string) (string, error) {
	if len(raw)%4 != 0 {
		return "", fmt.Errorf("%w: length %d is not a multiple of 4", ErrInvalidHex, len(raw))
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	return decodeUCS2(b)
}
