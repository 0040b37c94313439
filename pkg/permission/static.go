package permission

import (
	"context"
	"sync"
)

// StaticRequester answers requests from a fixed table, typically loaded from configuration.
// Capabilities missing from the table are denied.
type StaticRequester struct {
	mu     sync.Mutex
	grants map[Capability]Status
	calls  int
}

func NewStaticRequester(grants map[Capability]Status) *StaticRequester {
	table := make(map[Capability]Status, len(grants))
	for c, s := range grants {
		table[c] = s
	}
	return &StaticRequester{grants: table}
}

func (r *StaticRequester) RequestPermission(ctx context.Context, c Capability, _ Prompt) (Status, error) {
	if err := ctx.Err(); err != nil {
		return StatusUnrequested, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if s, ok := r.grants[c]; ok && s == StatusGranted {
		return StatusGranted, nil
	}
	return StatusDenied, nil
}

// Calls returns the number of requests answered so far.
func (r *StaticRequester) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}
