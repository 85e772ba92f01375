package identifiers

import "math/rand/v2"

const randomAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Generatable is implemented by kinds whose identifiers may be minted from
// random text.
type Generatable interface {
	Kind
	generatable()
}

// GenerateRandom returns an owned identifier of n random alphanumeric
// characters. n values below 1 are treated as 1.
func GenerateRandom[K Generatable](n int) ID[K] {
	if n < 1 {
		n = 1
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = randomAlphabet[rand.IntN(len(randomAlphabet))]
	}
	return ID[K]{s: string(b)}
}
