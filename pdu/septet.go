package pdu

// Pack compacts 7-bit values into octets, least significant bit first,
// so that eight septets occupy seven octets. A trailing partial octet is
// emitted only when it carries bits.
func Pack(septets []byte) []byte {
	out := make([]byte, 0, PackedLen(len(septets)))
	var acc uint16
	var bits uint
	for _, s := range septets {
		acc |= uint16(s&0x7F) << bits
		bits += 7
		if bits >= 8 {
			out = append(out, byte(acc))
			acc >>= 8
			bits -= 8
		}
	}
	if bits > 0 {
		out = append(out, byte(acc))
	}
	return out
}

// PackedLen is the number of octets needed to hold n septets.
func PackedLen(n int) int {
	return (n*7 + 7) / 8
}

// Unpack extracts count septets from packed octets.
func Unpack(octets []byte, count int) ([]byte, error) {
	if count < 0 || PackedLen(count) > len(octets) {
		return nil, &TruncatedError{Field: "user data", Want: PackedLen(count), Have: len(octets)}
	}
	septets := make([]byte, count)
	for i := range septets {
		bit := i * 7
		idx, shift := bit/8, uint(bit%8)
		v := uint16(octets[idx]) >> shift
		if shift > 1 && idx+1 < len(octets) {
			v |= uint16(octets[idx+1]) << (8 - shift)
		}
		septets[i] = byte(v) & 0x7F
	}
	return septets, nil
}
