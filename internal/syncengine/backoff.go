package syncengine

import (
	"math"
	"time"

	"github.com/prabhask5/goalsync/internal/outbox"
)

// maxRetries is the retry ceiling of spec §4.4: after this many failed
// push attempts, the operation is dropped and the affected table names
// are logged at error level. The drop is not reported to the sync status
// observer (C9).
const maxRetries = 5

// backoffFor returns the delay an operation with the given retry count
// must wait since its last timestamp before it is eligible again
// (spec §4.4: "2^(retries-1) seconds for retries >= 1; the first attempt
// is immediate").
func backoffFor(retries int) time.Duration {
	if retries <= 0 {
		return 0
	}
	seconds := math.Pow(2, float64(retries-1))
	return time.Duration(seconds) * time.Second
}

// eligible reports whether op may be attempted now, per its backoff
// schedule.
func eligible(op outbox.Op, now time.Time) bool {
	return now.Sub(op.Timestamp) >= backoffFor(op.Retries)
}
