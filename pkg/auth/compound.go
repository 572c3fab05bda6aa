package auth

import (
	"context"
	"net/http"
)

type CompoundAuthEngine struct {
	engines []AuthEngine
}

// NewCompoundAuthEngine creates an engine accepting whatever one of engines
// accepts. Engines are tried in order.
func NewCompoundAuthEngine(engines ...AuthEngine) *CompoundAuthEngine {
	return &CompoundAuthEngine{
		engines: engines,
	}
}

func (e *CompoundAuthEngine) AuthenticateRequest(ctx context.Context, r *http.Request) (*User, error) {
	for _, engine := range e.engines {
		user, err := engine.AuthenticateRequest(ctx, r)
		if err != nil {
			return nil, err
		}
		if user != nil {
			return user, nil
		}
	}
	return nil, nil
}

// Len returns the number of engines.
func (e *CompoundAuthEngine) Len() int {
	return len(e.engines)
}
