package record

import (
	"errors"
	"fmt"
)

// ErrNoConfig marks a source whose config lacks what its tier requires.
// Fatal only for that source; surfaced as a failed ScrapeResult.
var ErrNoConfig = errors.New("source has no usable scraping config")

// BlockedError is the blocking signal: a CAPTCHA/challenge page or an
// explicit 403/429. Never retried blindly; the router escalates exactly
// once on it.
type BlockedError struct {
	Reason     string
	StatusCode int
}

func (e *BlockedError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("blocked by source (%s, status %d)", e.Reason, e.StatusCode)
	}
	return fmt.Sprintf("blocked by source (%s)", e.Reason)
}

// IsBlocked reports whether err is (or wraps) a blocking signal.
func IsBlocked(err error) bool {
	var be *BlockedError
	return errors.As(err, &be)
}
