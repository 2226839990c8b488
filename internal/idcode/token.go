package idcode

import (
	"crypto/rand"
	"io"
)

const tokenLength = 8

// URL-safe and filename-safe, with the visually ambiguous symbols
// (0/O, 1/I/l) left out. 57 symbols over 8 positions is roughly 2^46 of
// space, so uniqueness is probabilistic, not enforced against storage.
const tokenAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnpqrstuvwxyz_"

// TokenGenerator produces the opaque issuance tokens embedded in envelopes.
// The random source is injectable so tests can run deterministically; a nil
// source falls back to crypto/rand.
type TokenGenerator struct {
	rand io.Reader
}

func NewTokenGenerator(source io.Reader) *TokenGenerator {
	if source == nil {
		source = rand.Reader
	}
	return &TokenGenerator{rand: source}
}

// Generate returns a fresh fixed-length token. Rejection sampling over a
// 6-bit mask keeps the symbol distribution uniform.
func (g *TokenGenerator) Generate() (string, error) {
	token := make([]byte, 0, tokenLength)
	buf := make([]byte, 2*tokenLength)
	for {
		if _, err := io.ReadFull(g.rand, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			index := int(b & 0x3f)
			if index >= len(tokenAlphabet) {
				continue
			}
			token = append(token, tokenAlphabet[index])
			if len(token) == tokenLength {
				return string(token), nil
			}
		}
	}
}
