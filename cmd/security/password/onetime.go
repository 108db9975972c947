package password

import (
	"crypto/rand"
	"fmt"
	"io"
)

// codeAlphabet holds 32 visually unambiguous characters: uppercase letters and
// digits, excluding 0/1/I/O. Codes are read aloud and typed back, so every
// glyph must survive voice and email without confusion.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// codeLength is the number of characters per one-time code. Eight characters
// over a 32-symbol alphabet carry 40 bits of entropy.
const codeLength = 8

// GenerateOneTimeCode returns a fresh 8-character human-readable code drawn
// from crypto/rand. Each call is independent; no shared state is consumed.
func GenerateOneTimeCode() (string, error) {
	return generateOneTimeCode(rand.Reader)
}

func generateOneTimeCode(r io.Reader) (string, error) {
	raw := make([]byte, codeLength)
	if _, err := io.ReadFull(r, raw); err != nil {
		return "", fmt.Errorf("one-time code: %w", err)
	}

	// Each byte selects one alphabet entry: alphabet[b / (256/32)].
	const divider = 256 / len(codeAlphabet)
	code := make([]byte, codeLength)
	for i, b := range raw {
		code[i] = codeAlphabet[int(b)/divider]
	}
	return string(code), nil
}
