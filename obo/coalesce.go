package obo

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/adeilh/oasis/auth"
)

// CoalescingExchanger lets concurrent exchanges of the same token and
// audience share one call to next. A waiter whose context ends stops waiting
// without cancelling the shared call.
type CoalescingExchanger struct {
	next     Exchanger
	provider string
	group    singleflight.Group
}

var _ Named = (*CoalescingExchanger)(nil)

func NewCoalescingExchanger(next Exchanger) *CoalescingExchanger {
	return &CoalescingExchanger{next: next, provider: ProviderOf(next)}
}

func (c *CoalescingExchanger) Provider() string { return c.provider }

func (c *CoalescingExchanger) Exchange(ctx context.Context, token, audience string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", auth.Cancelled(ctx, err)
	}
	key := CacheKey(c.provider, token, audience)
	ch := c.group.DoChan(key, func() (any, error) {
		return c.next.Exchange(context.WithoutCancel(ctx), token, audience)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", auth.Cancelled(ctx, ctx.Err())
	}
}
