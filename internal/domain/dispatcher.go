package domain

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"servicebox.io/fsmcore/internal/pkg/logger"
)

// PostAcceptHook observes an event after it has been durably appended and
// applied to projections in the same transaction. Hooks never gate
// acceptance — they exist for internal side effects (metrics, audit trail)
// that must not affect the ingestion decision itself, and are explicitly
// not a notification-delivery mechanism (push notifications are out of
// scope for this module).
type PostAcceptHook func(ctx context.Context, envelope Envelope) error

// HookRegistry routes accepted events to registered post-accept hooks.
type HookRegistry struct {
	hooks map[EventType][]PostAcceptHook
	all   []PostAcceptHook
	mu    sync.RWMutex
}

// NewHookRegistry creates an empty HookRegistry.
func NewHookRegistry() *HookRegistry {
	return &HookRegistry{
		hooks: make(map[EventType][]PostAcceptHook),
	}
}

// Register adds a hook for a specific event type.
func (r *HookRegistry) Register(eventType EventType, hook PostAcceptHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[eventType] = append(r.hooks[eventType], hook)
}

// RegisterAll adds a hook invoked for every accepted event type.
func (r *HookRegistry) RegisterAll(hook PostAcceptHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = append(r.all, hook)
}

// Notify runs every hook registered for envelope's event type plus every
// catch-all hook. All hooks run even if one fails (best-effort delivery);
// the first error is returned after every hook has had a chance to run.
func (r *HookRegistry) Notify(ctx context.Context, envelope Envelope) error {
	r.mu.RLock()
	handlers := append(append([]PostAcceptHook{}, r.all...), r.hooks[envelope.EventType]...)
	r.mu.RUnlock()

	var firstErr error
	for _, h := range handlers {
		if err := h(ctx, envelope); err != nil {
			logger.Error("post-accept hook failed",
				zap.String("event_type", string(envelope.EventType)),
				zap.String("event_id", envelope.EventID),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = fmt.Errorf("hook for %s failed: %w", envelope.EventType, err)
			}
		}
	}
	return firstErr
}
