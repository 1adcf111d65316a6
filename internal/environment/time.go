package environment

import "time"

// nowFunc returns the current time in milliseconds, used only to compute
// audit DurationMs. Defined so tests could override it if ever needed.
var nowFunc = func() int64 {
	return time.Now().UnixMilli()
}
