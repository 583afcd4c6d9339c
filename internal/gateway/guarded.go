package gateway

import (
	"context"

	"github.com/smallbiznis/hookrelay/internal/breaker"
)

// guardedClient routes every fetch through the gateway circuit breaker.
// ErrNotFound is listed as expected so a missing entity never trips the
// circuit.
type guardedClient struct {
	next Client
	br   *breaker.Breaker
}

func Guard(next Client, br *breaker.Breaker) Client {
	return &guardedClient{next: next, br: br}
}

func (g *guardedClient) FetchEntity(ctx context.Context, kind, id string) (map[string]interface{}, error) {
	var entity map[string]interface{}
	err := g.br.Execute(ctx, func(ctx context.Context) error {
		var opErr error
		entity, opErr = g.next.FetchEntity(ctx, kind, id)
		return opErr
	})
	if err != nil {
		return nil, err
	}
	return entity, nil
}
