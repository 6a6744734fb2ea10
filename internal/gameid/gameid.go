// Package gameid generates prefixed, time-sortable identifiers for matches,
// bets and callouts: "<prefix>_<26 chars of base32 UUIDv7>".
package gameid

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/coder/quartz"
)

// Base32 alphabet used by TypeID (Crockford's base32)
const alphabet = "0123456789abcdefghjkmnpqrstvwxyz"

const suffixLen = 26

// Prefix names the kind of object an id refers to.
type Prefix string

const (
	Match   Prefix = "match"
	Bet     Prefix = "bet"
	Callout Prefix = "callout"
)

// RandSource interface for dependency injection of randomness
type RandSource interface {
	IntN(n int) int
}

// Generator produces ids. A nil RandSource uses crypto/rand.
type Generator struct {
	clock quartz.Clock
	mu    sync.Mutex
	rand  RandSource
}

// NewGenerator creates a generator reading time from clock.
func NewGenerator(clock quartz.Clock, rand RandSource) *Generator {
	return &Generator{clock: clock, rand: rand}
}

// New returns a fresh id for prefix p.
func (g *Generator) New(p Prefix) string {
	return string(p) + "_" + encodeBase32(g.uuidV7())
}

func (g *Generator) uuidV7() [16]byte {
	var uuid [16]byte

	// 48-bit big-endian millisecond timestamp
	ms := uint64(g.clock.Now().UnixMilli())
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], ms)
	copy(uuid[0:6], ts[2:8])

	if g.rand != nil {
		g.mu.Lock()
		for i := 6; i < 16; i++ {
			uuid[i] = byte(g.rand.IntN(256))
		}
		g.mu.Unlock()
	} else if _, err := rand.Read(uuid[6:]); err != nil {
		panic("gameid: failed to read random bytes: " + err.Error())
	}

	uuid[6] = (uuid[6] & 0x0f) | 0x70 // version 7
	uuid[8] = (uuid[8] & 0x3f) | 0x80 // variant 10
	return uuid
}

// encodeBase32 writes the 128-bit value as 26 base32 characters. The first
// character only carries the top 3 bits, so it is always 0-7.
func encodeBase32(data [16]byte) string {
	hi := binary.BigEndian.Uint64(data[0:8])
	lo := binary.BigEndian.Uint64(data[8:16])

	out := make([]byte, suffixLen)
	for i := suffixLen - 1; i >= 0; i-- {
		out[i] = alphabet[lo&0x1f]
		lo = lo>>5 | hi<<59
		hi >>= 5
	}
	return string(out)
}

// Validate checks that id has the expected prefix and a well-formed suffix.
func Validate(p Prefix, id string) error {
	rest, ok := strings.CutPrefix(id, string(p)+"_")
	if !ok {
		return fmt.Errorf("id %q does not have prefix %q", id, p)
	}
	if len(rest) != suffixLen {
		return fmt.Errorf("id suffix must be exactly %d characters, got %d", suffixLen, len(rest))
	}
	if rest[0] > '7' {
		return fmt.Errorf("id suffix first character must be 0-7, got %c", rest[0])
	}
	for i, c := range rest {
		if !strings.ContainsRune(alphabet, c) {
			return fmt.Errorf("invalid character %c at position %d", c, i)
		}
	}
	return nil
}
