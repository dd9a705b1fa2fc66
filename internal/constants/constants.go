// Package constants provides shared constants used across the codebase.
package constants

import "time"

// Person search constants
const (
	// DefaultSearchLimit is the number of persons returned by a search when no limit is given
	DefaultSearchLimit = 50

	// MaxSearchLimit caps the limit query parameter of person searches
	MaxSearchLimit = 500
)

// Job constants
const (
	// EventChannelBuffer is the buffer size for event channels
	EventChannelBuffer = 100

	// FinishedJobTTL is how long a finished job stays readable
	FinishedJobTTL = time.Hour
)

// Upload constants
const (
	// MultipartMemory is how much of a multipart form is kept in memory before spilling to disk
	MultipartMemory = 32 << 20
)
