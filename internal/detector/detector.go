package detector

import "context"

// Detector is a strategy that determines if a process is running.
// Implementations probe through a native tool so the answer can be
// mocked in tests. It must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the process is detected as running.
	// An error means the probe itself could not produce an answer.
	Alive(ctx context.Context) (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}
