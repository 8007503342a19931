package detector

// Detector is a strategy that determines if an agent's process is running.
// Implementations may check a PID registration file, a PID number, or the
// OS process table. It must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the process is detected as running.
	Alive() (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}
