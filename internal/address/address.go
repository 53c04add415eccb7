// Package address generates the short-lived numeric addresses that peers
// share out-of-band to find each other on the signaling channel.
package address

import (
	"crypto/rand"
	"errors"
	"io"
	"math/big"
	"strconv"
	"strings"
	"sync"
)

// Address is a 9-digit decimal session identifier. It is unauthenticated
// and only probabilistically unique.
type Address string

const (
	lowest = 100_000_000
	span   = 900_000_000 // [100 000 000, 999 999 999]
	digits = 9
)

// ErrInvalid is returned by Parse for input that is not a 9-digit address.
var ErrInvalid = errors.New("address must be 9 digits")

// entropy is the source Generate draws from.
var entropy io.Reader = rand.Reader

// Generate draws an address uniformly from the 9-digit range. It panics if
// the system random source fails.
func Generate() Address {
	n, err := rand.Int(entropy, big.NewInt(span))
	if err != nil {
		panic("address: random source failed: " + err.Error())
	}
	return Address(strconv.FormatInt(n.Int64()+lowest, 10))
}

// Valid reports whether a is exactly 9 digits without a leading zero.
func (a Address) Valid() bool {
	if len(a) != digits || a[0] == '0' {
		return false
	}
	for i := 0; i < len(a); i++ {
		if a[i] < '0' || a[i] > '9' {
			return false
		}
	}
	return true
}

// Format renders the address in groups of three, e.g. "123 456 789".
func (a Address) Format() string {
	if !a.Valid() {
		return string(a)
	}
	return string(a[0:3]) + " " + string(a[3:6]) + " " + string(a[6:9])
}

func (a Address) String() string { return string(a) }

// Parse accepts user input such as "123 456 789" or "123-456-789".
func Parse(raw string) (Address, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '\t':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))

	a := Address(cleaned)
	if !a.Valid() {
		return "", ErrInvalid
	}
	return a, nil
}

// Generator hands out addresses for consecutive sessions. Two consecutive
// calls to Next never return the same address.
type Generator struct {
	mu   sync.Mutex
	last Address
	draw func() Address
}

// NewGenerator returns a Generator backed by Generate.
func NewGenerator() *Generator {
	return &Generator{draw: Generate}
}

// Next returns a fresh address that differs from the previous one.
func (g *Generator) Next() Address {
	g.mu.Lock()
	defer g.mu.Unlock()

	for {
		a := g.draw()
		if a != g.last {
			g.last = a
			return a
		}
	}
}
