package requests

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"time"
)

const idAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// NewID returns "Q" + the last six digits of now in unix milliseconds + six
// random upper-case base36 characters, e.g. Q482913K7QZ2A.
func NewID(now time.Time) string {
	return newID(now, rand.IntN)
}

func newID(now time.Time, intn func(int) int) string {
	millis := strconv.FormatInt(now.UnixMilli(), 10)
	if len(millis) > 6 {
		millis = millis[len(millis)-6:]
	}
	var b strings.Builder
	b.Grow(13)
	b.WriteByte('Q')
	b.WriteString(millis)
	for i := 0; i < 6; i++ {
		b.WriteByte(idAlphabet[intn(len(idAlphabet))])
	}
	return b.String()
}
