package proxy

import "fmt"

// Phase is the proxy mode of a running harvest.
type Phase int

const (
	// Direct fetches without a proxy.
	Direct Phase = iota
	// UsingProxy fetches through a proxy that has proven itself.
	UsingProxy
	// PendingRetest holds a freshly selected proxy that must pass a probe
	// before it is trusted.
	PendingRetest
)

func (p Phase) String() string {
	switch p {
	case Direct:
		return "direct"
	case UsingProxy:
		return "proxy"
	case PendingRetest:
		return "pending-retest"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Session is the proxy state of one run. Transitions are pure: they return
// the next state and never do I/O.
type Session struct {
	Phase Phase
	Proxy string
}

// Start opens a session. A candidate must be probed before use.
func Start(candidate string, ok bool) Session {
	if !ok || candidate == "" {
		return Session{Phase: Direct}
	}
	return Session{Phase: PendingRetest, Proxy: candidate}
}

// Through returns the proxy to fetch through, or "" for direct.
func (s Session) Through() string {
	if s.Phase == Direct {
		return ""
	}
	return s.Proxy
}

// ProbeSucceeded promotes a pending proxy.
func (s Session) ProbeSucceeded() Session {
	if s.Phase != PendingRetest {
		return s
	}
	return Session{Phase: UsingProxy, Proxy: s.Proxy}
}

// ProbeFailed drops a pending proxy and goes direct.
func (s Session) ProbeFailed() Session {
	return Session{Phase: Direct}
}

// ProxyFailed drops the current proxy after a failed fetch and goes direct.
func (s Session) ProxyFailed() Session {
	return Session{Phase: Direct}
}

// Checkpoint applies the rotation policy. A direct session retests a fresh
// candidate; a proxied session switches to the candidate without a probe.
func (s Session) Checkpoint(candidate string, ok bool) Session {
	if !ok || candidate == "" {
		return Session{Phase: Direct}
	}
	switch s.Phase {
	case Direct:
		return Session{Phase: PendingRetest, Proxy: candidate}
	case UsingProxy:
		return Session{Phase: UsingProxy, Proxy: candidate}
	default:
		return Session{Phase: PendingRetest, Proxy: candidate}
	}
}

func (s Session) String() string {
	if s.Phase == Direct {
		return s.Phase.String()
	}
	return s.Phase.String() + "(" + s.Proxy + ")"
}

// RotationPolicy fires once for every Every items counted.
type RotationPolicy struct {
	Every int
	next  int
}

// NewRotationPolicy returns a policy firing every n items, defaulting to 5000.
func NewRotationPolicy(n int) *RotationPolicy {
	if n <= 0 {
		n = 5000
	}
	return &RotationPolicy{Every: n, next: n}
}

// Due reports whether count has reached the next checkpoint. Several
// checkpoints crossed at once fire a single time.
func (r *RotationPolicy) Due(count int) bool {
	if count < r.next {
		return false
	}
	for r.next <= count {
		r.next += r.Every
	}
	return true
}
