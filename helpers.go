package entitygraph

import "time"

// Now returns the current time. Centralised so tests can be confident
// every timestamp in the package goes through one seam.
func Now() time.Time {
	return time.Now()
}
