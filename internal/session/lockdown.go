package session

import "sync/atomic"

// Lockdown is the process-wide kill switch. It is tripped only by the token
// integrity escalation path and is never cleared in-process: recovery requires
// operator intervention (a restart after investigation).
type Lockdown struct {
	tripped atomic.Bool
}

func NewLockdown() *Lockdown {
	return &Lockdown{}
}

func (l *Lockdown) Trip() {
	l.tripped.Store(true)
}

func (l *Lockdown) Tripped() bool {
	return l.tripped.Load()
}
