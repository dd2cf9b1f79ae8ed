package carriers

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Registry keeps the configured carrier clients, keyed by carrier code.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]Client)}
}

func (r *Registry) Register(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.Code()] = c
}

// Get returns the client for a carrier code, or a NotFound carrier error.
func (r *Registry) Get(code string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.clients[code]; ok {
		return c, nil
	}
	return nil, NewError(code, KindInvalidRequest, "carrier not configured")
}

func (r *Registry) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.clients))
	for code := range r.clients {
		out = append(out, code)
	}
	return out
}

// Quoters returns the registered clients that offer quoting.
func (r *Registry) Quoters() map[string]Quoter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Quoter)
	for code, c := range r.clients {
		if q, ok := c.(Quoter); ok {
			out[code] = q
		}
	}
	return out
}

// QuoteAll fans the request out to every quoting carrier in parallel.
// Individual carrier failures don't fail the whole request; they are
// returned alongside the quotes that succeeded.
func (r *Registry) QuoteAll(ctx context.Context, req QuoteRequest) ([]Quote, []error) {
	quoters := r.Quoters()
	if len(quoters) == 0 {
		return nil, nil
	}

	var (
		mu     sync.Mutex
		quotes []Quote
		errs   []error
	)
	g, ctx := errgroup.WithContext(ctx)
	for _, q := range quoters {
		q := q
		g.Go(func() error {
			qs, err := q.FetchQuote(ctx, req)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return nil
			}
			quotes = append(quotes, qs...)
			return nil
		})
	}
	_ = g.Wait()
	return quotes, errs
}
