// Package mock provides a recording test double for the commit boundary.
package mock

import (
	"context"
	"sync"

	"github.com/torqueshop/voicedesk/pkg/shop"
)

// Committer records every record it is asked to commit.
type Committer struct {
	mu sync.Mutex

	// Receipt is returned on success. Its Kind is overwritten with the
	// record's kind.
	Receipt shop.Receipt

	// Err, if non-nil, is returned by every Commit.
	Err error

	// Records holds every record passed to Commit, in order.
	Records []shop.Record
}

// Commit records rec and returns Receipt or Err.
func (c *Committer) Commit(ctx context.Context, rec shop.Record) (shop.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return shop.Receipt{}, err
	}
	cp := rec
	cp.Items = append([]shop.LineItem(nil), rec.Items...)
	c.Records = append(c.Records, cp)
	if c.Err != nil {
		return shop.Receipt{}, c.Err
	}
	r := c.Receipt
	r.Kind = rec.Kind
	return r, nil
}

// Calls returns a copy of the committed records.
func (c *Committer) Calls() []shop.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]shop.Record(nil), c.Records...)
}
