package types

import (
	"crypto/rand"
	"errors"
	"sync"
	"time"
)

var (
	// ErrInvalidULIDLength is returned when a ULID string has incorrect length
	ErrInvalidULIDLength = errors.New("invalid ULID length")

	// ErrInvalidULIDCharacter is returned when a ULID string contains invalid characters
	ErrInvalidULIDCharacter = errors.New("invalid ULID character")
)

// ULID is a 128-bit lexicographically sortable identifier:
// 48-bit millisecond timestamp followed by 80 random bits.
// eventlens uses ULIDs to name export objects so listings sort by time.
type ULID [16]byte

// Crockford's Base32 alphabet (excludes I, L, O, U)
const crockfordBase32 = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// ULIDGenerator produces ULIDs that increase monotonically within a millisecond.
type ULIDGenerator struct {
	mu            sync.Mutex
	lastTimestamp uint64
	lastRandom    [10]byte
}

// NewULIDGenerator creates a new ULID generator.
func NewULIDGenerator() *ULIDGenerator {
	return &ULIDGenerator{}
}

// Generate creates a ULID for the current time.
func (g *ULIDGenerator) Generate() (ULID, error) {
	return g.GenerateWithTime(time.Now())
}

// GenerateWithTime creates a ULID for t.
func (g *ULIDGenerator) GenerateWithTime(t time.Time) (ULID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := uint64(t.UnixMilli())
	var u ULID
	for i := 0; i < 6; i++ {
		u[i] = byte(ms >> (40 - 8*i))
	}

	if ms == g.lastTimestamp {
		for i := 9; i >= 0; i-- {
			g.lastRandom[i]++
			if g.lastRandom[i] != 0 {
				break
			}
		}
	} else {
		if _, err := rand.Read(g.lastRandom[:]); err != nil {
			return ULID{}, err
		}
		g.lastTimestamp = ms
	}
	copy(u[6:], g.lastRandom[:])
	return u, nil
}

// Time returns the embedded timestamp.
func (u ULID) Time() time.Time {
	var ms uint64
	for i := 0; i < 6; i++ {
		ms = ms<<8 | uint64(u[i])
	}
	return time.UnixMilli(int64(ms))
}

// String renders the ULID as 26 Crockford Base32 characters.
func (u ULID) String() string {
	var buf [26]byte
	// 130 output bits for 128 input bits: the first character carries 3 bits.
	var acc uint32
	bits := 2
	pos := 0
	for _, b := range u {
		acc = acc<<8 | uint32(b)
		bits += 8
		for bits >= 5 {
			bits -= 5
			buf[pos] = crockfordBase32[(acc>>uint(bits))&31]
			pos++
		}
	}
	return string(buf[:])
}

// Compare returns -1, 0 or 1 comparing u and other lexicographically.
func (u ULID) Compare(other ULID) int {
	for i := range u {
		switch {
		case u[i] < other[i]:
			return -1
		case u[i] > other[i]:
			return 1
		}
	}
	return 0
}

// ParseULID parses a 26-character Crockford Base32 string.
func ParseULID(s string) (ULID, error) {
	if len(s) != 26 {
		return ULID{}, ErrInvalidULIDLength
	}
	if decodeBase32(s[0]) > 7 {
		return ULID{}, ErrInvalidULIDCharacter
	}

	var u ULID
	var acc uint32
	bits := -2
	pos := 0
	for i := 0; i < len(s); i++ {
		v := decodeBase32(s[i])
		if v == 0xFF {
			return ULID{}, ErrInvalidULIDCharacter
		}
		acc = acc<<5 | uint32(v)
		bits += 5
		if bits >= 8 {
			bits -= 8
			u[pos] = byte(acc >> uint(bits))
			pos++
		}
	}
	return u, nil
}

func decodeBase32(c byte) byte {
	if c >= 'a' && c <= 'z' {
		c -= 'a' - 'A'
	}
	for i := 0; i < len(crockfordBase32); i++ {
		if crockfordBase32[i] == c {
			return byte(i)
		}
	}
	return 0xFF
}
