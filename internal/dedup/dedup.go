// Package dedup provides the alert cooldown: a rule fires at most once per
// TTL for a given (rule, src, dst) triple.
package dedup

import "time"

// Interface reports whether key was already seen within ttl, recording it
// as seen either way.
type Interface interface {
	Seen(key string, ttl time.Duration) bool
}
