package registry

// Canceller aborts the backend work behind one transfer. Pausing reuses
// the same mechanism: the registry records the Paused status first and the
// backend consults it to tell pause intent from a true cancel.
type Canceller interface {
	CancelTransfer()
}

// CancelFunc adapts a plain function into a Canceller.
type CancelFunc func()

func (f CancelFunc) CancelTransfer() { f() }

// Resumer restarts a paused transfer. It is responsible for flipping the
// status back to InProgress once it actually starts transferring.
type Resumer interface {
	ResumeTransfer()
}

// ResumeFunc adapts a plain function into a Resumer.
type ResumeFunc func()

func (f ResumeFunc) ResumeTransfer() { f() }
