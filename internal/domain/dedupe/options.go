package dedupe

type settings struct {
	maxSize int
}

// Option applies a configuration option to the in-memory deduper.
type Option func(*settings)

// WithMaxSize sets the maximum number of ids kept in memory.
// If maxSize > 0 the oldest id is evicted first; otherwise the set is unbounded.
func WithMaxSize(maxSize int) Option {
	return func(s *settings) {
		s.maxSize = maxSize
	}
}
