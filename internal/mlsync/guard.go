package mlsync

// ParseWriteEnabled interprets ML_WRITE_ENABLED. Only the literal "true"
// enables writes; anything else, including an unset variable, keeps them off.
func ParseWriteEnabled(value string) bool {
	return value == "true"
}

// WriteGuard gates every outbound mutation to the marketplace.
type WriteGuard struct {
	enabled bool
}

// NewWriteGuard returns a guard in the given state.
func NewWriteGuard(enabled bool) WriteGuard {
	return WriteGuard{enabled: enabled}
}

// Enabled reports whether writes are allowed.
func (g WriteGuard) Enabled() bool {
	return g.enabled
}

// Check returns ErrWriteDisabled when writes are off.
func (g WriteGuard) Check() error {
	if !g.enabled {
		return ErrWriteDisabled
	}
	return nil
}
