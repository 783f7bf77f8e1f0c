package mq

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

type TypedHandlerFunc func(ctx context.Context, data json.RawMessage) error

// Router 按事件名分发
type Router struct {
	routes map[string]TypedHandlerFunc
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		routes: make(map[string]TypedHandlerFunc),
		logger: logger,
	}
}

func (r *Router) Register(event string, h TypedHandlerFunc) {
	r.routes[event] = h
}

// Events returns the registered event names, used as queue bindings.
func (r *Router) Events() []string {
	names := make([]string, 0, len(r.routes))
	for name := range r.routes {
		names = append(names, name)
	}
	return names
}

// Handle 未注册的事件直接忽略（返回 nil → ack）
func (r *Router) Handle(ctx context.Context, event string, data json.RawMessage) (err error) {
	h, ok := r.routes[event]
	if !ok {
		r.logger.Info("No handler for event, ignoring", zap.String("event", event))
		return nil
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler for %s panicked: %v", event, rec)
		}
	}()
	return h(ctx, data)
}
