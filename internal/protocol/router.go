package protocol

import (
	"context"
	"fmt"
	"sync"
)

type route struct {
	protocolName   string
	protocolDigest string
	handler        *handler
}

// Router maps schema digests to exactly one handler across all included protocols.
type Router struct {
	mu        sync.RWMutex
	routes    map[string]route
	protocols []*Protocol
}

func NewRouter() *Router {
	return &Router{
		routes: make(map[string]route),
	}
}

// Include adds every handler of p. It fails without changing the router when
// p is empty or any of its message kinds is already routed.
func (r *Router) Include(p *Protocol) error {
	if len(p.handlers) == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyProtocol, p.name)
	}

	digest, err := p.Digest()
	if err != nil {
		return fmt.Errorf("compute protocol digest: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for schemaDigest, h := range p.handlers {
		if existing, ok := r.routes[schemaDigest]; ok {
			return fmt.Errorf("%w: %s is handled by %s and %s",
				ErrDuplicateHandler, h.request.name, existing.protocolName, p.name)
		}
	}

	for schemaDigest, h := range p.handlers {
		r.routes[schemaDigest] = route{
			protocolName:   p.name,
			protocolDigest: digest,
			handler:        h,
		}
	}

	r.protocols = append(r.protocols, p)

	return nil
}

func (r *Router) Protocols() []*Protocol {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]*Protocol(nil), r.protocols...)
}

// ProtocolDigest returns the digest of the protocol routing schemaDigest.
func (r *Router) ProtocolDigest(schemaDigest string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rt, ok := r.routes[schemaDigest]

	return rt.protocolDigest, ok
}

func (r *Router) Dispatch(
	ctx context.Context,
	c Context,
	schemaDigest string,
	payload []byte,
) error {
	r.mu.RLock()
	rt, ok := r.routes[schemaDigest]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSchema, schemaDigest)
	}

	return rt.handler.fn(ctx, c, payload)
}
