package pdu_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"i4.energy/across/atlink/pdu"
)

func TestEncodeSubmit(t *testing.T) {
	tests := []struct {
		name        string
		destination string
		message     string
		smsc        string
		expected    string
		length      int
	}{
		{
			name:        "International destination, stored SMSC",
			destination: "+46708251358",
			message:     "hellohello",
			expected:    "0011000B916407281553F80000A70AE8329BFD4697D9EC37",
			length:      23,
		},
		{
			name:        "National destination with explicit SMSC",
			destination: "0123",
			message:     "Test",
			smsc:        "+420603052000",
			expected:    "0791246030500200" + "1100048110320000A704D4F29C0E",
			length:      14,
		},
		{
			name:        "Empty destination keeps the type octet",
			destination: "",
			message:     "Test",
			expected:    "00" + "1100008100" + "00A704D4F29C0E",
			length:      12,
		},
		{
			name:        "Extension character counts two septets",
			destination: "+1",
			message:     "€",
			expected:    "00" + "110001" + "91F1" + "0000A7029B32",
			length:      11,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, length, err := pdu.EncodeSubmit(tt.destination, tt.message, tt.smsc)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
			assert.Equal(t, tt.length, length)
		})
	}
}

func TestEncodeSubmitLengthExcludesSMSC(t *testing.T) {
	for _, smsc := range []string{"", "+420603052000", "12345"} {
		got, length, err := pdu.EncodeSubmit("+46708251358", "hello", smsc)
		require.NoError(t, err)

		smscOctets := 1
		if smsc != "" {
			smscOctets += len(pdu.EncodeSemiOctets(strings.TrimPrefix(smsc, "+")))/2 + 1
		}
		assert.Equal(t, len(got)/2-smscOctets, length, "smsc %q", smsc)
		assert.Equal(t, strings.ToUpper(got), got)
	}
}

func TestEncodeSubmitTooLong(t *testing.T) {
	_, _, err := pdu.EncodeSubmit("+1", strings.Repeat("a", pdu.MaxSeptets), "")
	require.NoError(t, err)

	_, _, err = pdu.EncodeSubmit("+1", strings.Repeat("a", pdu.MaxSeptets+1), "")
	require.ErrorIs(t, err, pdu.ErrTooLong)

	var tooLong *pdu.TooLongError
	require.ErrorAs(t, err, &tooLong)
	assert.Equal(t, pdu.MaxSeptets, tooLong.Limit)
	assert.Equal(t, pdu.MaxSeptets+1, tooLong.Actual)

	// 80 escaped characters fill the message exactly.
	_, _, err = pdu.EncodeSubmit("+1", strings.Repeat("€", 80), "")
	require.NoError(t, err)
	_, _, err = pdu.EncodeSubmit("+1", strings.Repeat("€", 80)+"a", "")
	require.ErrorIs(t, err, pdu.ErrTooLong)
}

func TestSubmitRoundTrip(t *testing.T) {
	messages := []string{
		"hellohello",
		"Ahoj, jak se máš? {ok} [1] ~ € 100 @ 5£",
		"",
		strings.Repeat("x", pdu.MaxSeptets),
	}
	for _, message := range messages {
		encoded, _, err := pdu.EncodeSubmit("+420123456789", message, "+420603052000")
		require.NoError(t, err)

		decoded, err := pdu.DecodeSubmit(encoded)
		require.NoError(t, err)

		// characters outside the alphabet fall back to seven bits:
		// U+00E1 and U+0161 both truncate to 0x61
		want := strings.NewReplacer("á", "a", "š", "a").Replace(message)
		assert.Equal(t, want, decoded.Text)
		assert.Equal(t, "+420123456789", decoded.Destination.String())
		assert.Equal(t, "+420603052000", decoded.SMSC.String())
		assert.Equal(t, pdu.International, decoded.Destination.Type)
	}
}

func TestSubmitFallbackCharacters(t *testing.T) {
	encoded, _, err := pdu.EncodeSubmit("+420123456789", "máš", "")
	require.NoError(t, err)

	decoded, err := pdu.DecodeSubmit(encoded)
	require.NoError(t, err)
	assert.Equal(t, "maa", decoded.Text)
}

func TestDecodeSubmitRejectsDeliver(t *testing.T) {
	_, err := pdu.DecodeSubmit("07917283010010F5040B917238880900F1000042305121436580" + "0AE8329BFD4697D9EC37")
	require.ErrorIs(t, err, pdu.ErrUnsupported)
}
