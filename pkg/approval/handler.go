package approval

import "context"

// Handler is the swappable approval surface — a TUI prompt, a chat
// connector, or any other synchronous approver. Returning (nil, nil)
// from RequestApproval means "no handler available", which the manager
// treats as a defer.
type Handler interface {
	RequestApproval(ctx context.Context, req Request) (*Response, error)
	IsAvailable() bool
}
