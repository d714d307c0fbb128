package processlock

// Mock is a no-op Interface implementation for tests that need a
// processlock.Interface but don't care about real exclusion.
type Mock struct {
	LockErr   error
	UnlockErr error
	Locked    bool
}

func (m *Mock) Lock() error {
	if m.LockErr != nil {
		return m.LockErr
	}
	m.Locked = true
	return nil
}

func (m *Mock) Unlock() error {
	if m.UnlockErr != nil {
		return m.UnlockErr
	}
	m.Locked = false
	return nil
}
