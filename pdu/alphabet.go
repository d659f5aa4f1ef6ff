package pdu

// Escape introduces a character from the GSM 7-bit extension table.
const Escape byte = 0x1B

// defaultTable maps host characters whose GSM 7-bit code differs from
// their code point. Anything not listed here (or in extensionTable) is
// encoded with its own value.
var defaultTable = map[rune]byte{
	'@': 0x00, '£': 0x01, '$': 0x02, '¥': 0x03, 'è': 0x04, 'é': 0x05, 'ù': 0x06, 'ì': 0x07,
	'ò': 0x08, 'Ç': 0x09, 'Ø': 0x0B, 'ø': 0x0C, 'Å': 0x0E, 'å': 0x0F,
	'Δ': 0x10, '_': 0x11, 'Φ': 0x12, 'Γ': 0x13, 'Λ': 0x14, 'Ω': 0x15, 'Π': 0x16, 'Ψ': 0x17,
	'Σ': 0x18, 'Θ': 0x19, 'Ξ': 0x1A, 'Æ': 0x1C, 'æ': 0x1D, 'ß': 0x1E, 'É': 0x1F,
	'¤': 0x24, '¡': 0x40, 'Ä': 0x5B, 'Ö': 0x5C, 'Ñ': 0x5D, 'Ü': 0x5E, '§': 0x5F,
	'¿': 0x60, 'ä': 0x7B, 'ö': 0x7C, 'ñ': 0x7D, 'ü': 0x7E, 'à': 0x7F,
}

// extensionTable holds characters that are sent as Escape followed by
// the listed code.
var extensionTable = map[rune]byte{
	'\f': 0x0A, '^': 0x14, '{': 0x28, '}': 0x29, '\\': 0x2F,
	'[': 0x3C, '~': 0x3D, ']': 0x3E, '|': 0x40, '€': 0x65,
}

var (
	defaultReverse   = reverse(defaultTable)
	extensionReverse = reverse(extensionTable)
)

func reverse(table map[rune]byte) map[byte]rune {
	r := make(map[byte]rune, len(table))
	for c, code := range table {
		r[code] = c
	}
	return r
}

// EncodeChar converts a host character into one or two GSM 7-bit code
// units. Characters outside both tables fall back to their own value,
// truncated to seven bits.
func EncodeChar(c rune) []byte {
	if code, ok := defaultTable[c]; ok {
		return []byte{code}
	}
	if code, ok := extensionTable[c]; ok {
		return []byte{Escape, code}
	}
	return []byte{byte(c) & 0x7F}
}

// DecodeChar converts a GSM 7-bit code from the default table into a
// host character.
func DecodeChar(code byte) rune {
	code &= 0x7F
	if c, ok := defaultReverse[code]; ok {
		return c
	}
	return rune(code)
}

// DecodeExtension converts the code following an Escape. Codes with no
// extension mapping decode through the default table, which is what
// handsets do with unknown escapes.
func DecodeExtension(code byte) rune {
	if c, ok := extensionReverse[code&0x7F]; ok {
		return c
	}
	return DecodeChar(code)
}

// EncodeString converts text into a sequence of septets.
func EncodeString(s string) []byte {
	septets := make([]byte, 0, len(s))
	for _, c := range s {
		septets = append(septets, EncodeChar(c)...)
	}
	return septets
}

// DecodeString converts a sequence of septets back into text.
func DecodeString(septets []byte) string {
	out := make([]rune, 0, len(septets))
	for i := 0; i < len(septets); i++ {
		if septets[i] == Escape && i+1 < len(septets) {
			i++
			out = append(out, DecodeExtension(septets[i]))
			continue
		}
		out = append(out, DecodeChar(septets[i]))
	}
	return string(out)
}
