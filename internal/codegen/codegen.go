// Package codegen produces random short-link codes.
// Generators are safe for concurrent use.
package codegen

import (
	"crypto/rand"
	"errors"
)

// Alphabet is the URL-safe code alphabet. Its size divides 256, so mapping
// random bytes onto it carries no modulo bias.
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_-"

// DefaultLength is the code length used when none is configured.
const DefaultLength = 10

// Generator generates short-link codes of a fixed length.
type Generator interface {
	Generate() (string, error)
}

// Func adapts a function to Generator.
type Func func() (string, error)

func (f Func) Generate() (string, error) { return f() }

type randomGenerator struct {
	length int
}

// NewRandom returns a crypto/rand backed generator of codes with the given
// length.
func NewRandom(length int) (Generator, error) {
	if length <= 0 {
		return nil, errors.New("length must be positive")
	}
	return &randomGenerator{length: length}, nil
}

func (g *randomGenerator) Generate() (string, error) {
	b := make([]byte, g.length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = Alphabet[int(b[i])&(len(Alphabet)-1)]
	}
	return string(b), nil
}

// Valid reports whether code has the given length and uses only Alphabet.
func Valid(code string, length int) bool {
	if len(code) != length {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '_', c == '-':
		default:
			return false
		}
	}
	return true
}
