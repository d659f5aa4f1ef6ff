package pdu

import "strings"

// EncodeSemiOctets swaps each pair of characters of a digit string,
// padding odd-length input with a trailing "F" first:
//
//	"12345678" -> "21436587"
//	"1234567"  -> "214365F7"
//
// The content is not validated.
func EncodeSemiOctets(digits string) string {
	if len(digits)%2 != 0 {
		digits += "F"
	}
	var b strings.Builder
	b.Grow(len(digits))
	for i := 0; i < len(digits); i += 2 {
		b.WriteByte(digits[i+1])
		b.WriteByte(digits[i])
	}
	return b.String()
}

// DecodeSemiOctets reverses EncodeSemiOctets, dropping the pad nibble
// added for odd-length input.
func DecodeSemiOctets(swapped string) string {
	if len(swapped)%2 != 0 {
		swapped += "F"
	}
	var b strings.Builder
	b.Grow(len(swapped))
	for i := 0; i < len(swapped); i += 2 {
		b.WriteByte(swapped[i+1])
		b.WriteByte(swapped[i])
	}
	return strings.TrimRight(b.String(), "Ff")
}

const bcdDigits = "0123456789*#abc"

// decodeBCD reads count digits from nibble-swapped octets.
func decodeBCD(octets []byte, count int) string {
	var b strings.Builder
	b.Grow(count)
	for _, o := range octets {
		for _, n := range [2]byte{o & 0x0F, o >> 4} {
			if b.Len() == count || n == 0x0F {
				return b.String()
			}
			b.WriteByte(bcdDigits[n])
		}
	}
	return b.String()
}
