package lifecycle

import "github.com/ThreeDotsLabs/watermill/message"

// Reporter forwards handler faults to the Manager that built the topology.
// Faults from a replaced topology are ignored.
type Reporter struct {
	manager *Manager
	gen     uint64
}

// Report hands err to the manager without blocking the caller.
// Cancellation errors are ignored.
func (r *Reporter) Report(err error) {
	if r == nil || r.manager == nil {
		return
	}
	r.manager.report(r.gen, err)
}

// Generation identifies the topology instance the reporter belongs to.
func (r *Reporter) Generation() uint64 {
	if r == nil {
		return 0
	}
	return r.gen
}

// Middleware reports every handler error. Install it outside the recoverer
// so panics are reported too.
func (r *Reporter) Middleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		produced, err := h(msg)
		if err != nil {
			r.Report(err)
		}
		return produced, err
	}
}
