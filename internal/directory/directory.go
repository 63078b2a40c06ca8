// Package directory loads the read-only customer and vehicle collections the
// voice flow resolves against.
//
// A [Source] is any backing store: the shop's HTTP API (httpdir), its
// PostgreSQL database (postgres), or a YAML fixture file (yamlfile). [Load]
// reads a Source once and returns an immutable [Snapshot]; a conversation
// holds the same snapshot for its whole lifetime.
package directory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/torqueshop/voicedesk/pkg/shop"
)

// Source reads customers and vehicles.
type Source interface {
	// Customers returns every customer.
	Customers(ctx context.Context) ([]shop.Customer, error)

	// Vehicles returns the vehicles owned by customerID, or every vehicle when
	// customerID is empty.
	Vehicles(ctx context.Context, customerID string) ([]shop.Vehicle, error)
}

// Snapshot is an immutable view of the directory. It is safe for concurrent
// use.
type Snapshot struct {
	customers []shop.Customer
	byID      map[string]shop.Customer
	byOwner   map[string][]shop.Vehicle
	vehicles  int
}

// Load reads customers and vehicles from src concurrently and indexes them.
func Load(ctx context.Context, src Source) (*Snapshot, error) {
	var (
		customers []shop.Customer
		vehicles  []shop.Vehicle
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		customers, err = src.Customers(gctx)
		if err != nil {
			return fmt.Errorf("directory: load customers: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		vehicles, err = src.Vehicles(gctx, "")
		if err != nil {
			return fmt.Errorf("directory: load vehicles: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return NewSnapshot(customers, vehicles), nil
}

// NewSnapshot builds a snapshot from in-memory collections. Vehicles whose
// owner is not among customers are kept but can only be reached through
// [Snapshot.VehiclesOf] with that owner's ID.
func NewSnapshot(customers []shop.Customer, vehicles []shop.Vehicle) *Snapshot {
	s := &Snapshot{
		customers: append([]shop.Customer(nil), customers...),
		byID:      make(map[string]shop.Customer, len(customers)),
		byOwner:   make(map[string][]shop.Vehicle),
		vehicles:  len(vehicles),
	}
	for _, c := range s.customers {
		s.byID[c.ID] = c
	}
	for _, v := range vehicles {
		s.byOwner[v.CustomerID] = append(s.byOwner[v.CustomerID], v)
	}
	return s
}

// Customers returns a copy of every customer in load order.
func (s *Snapshot) Customers() []shop.Customer {
	return append([]shop.Customer(nil), s.customers...)
}

// Customer looks up a customer by ID.
func (s *Snapshot) Customer(id string) (shop.Customer, bool) {
	c, ok := s.byID[id]
	return c, ok
}

// VehiclesOf returns a copy of the vehicles owned by customerID.
func (s *Snapshot) VehiclesOf(customerID string) []shop.Vehicle {
	return append([]shop.Vehicle(nil), s.byOwner[customerID]...)
}

// Counts returns the number of customers and vehicles in the snapshot.
func (s *Snapshot) Counts() (customers, vehicles int) {
	return len(s.customers), s.vehicles
}

// CustomerHints returns the distinct customer names, sorted, for use as
// speech recognition vocabulary.
func (s *Snapshot) CustomerHints() []string {
	seen := make(map[string]struct{}, len(s.customers))
	var out []string
	for _, c := range s.customers {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// VehicleHints returns the makes and models of vehicles, deduplicated,
// sorted, for use as recognition vocabulary.
func VehicleHints(vehicles []shop.Vehicle) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, v := range vehicles {
		for _, w := range []string{v.Make, v.Model} {
			w = strings.TrimSpace(w)
			if w == "" {
				continue
			}
			if _, ok := seen[w]; ok {
				continue
			}
			seen[w] = struct{}{}
			out = append(out, w)
		}
	}
	sort.Strings(out)
	return out
}

// Static is an in-memory [Source].
type Static struct {
	CustomerList []shop.Customer
	VehicleList  []shop.Vehicle
}

var _ Source = (*Static)(nil)

// Customers implements [Source].
func (s *Static) Customers(ctx context.Context) ([]shop.Customer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]shop.Customer(nil), s.CustomerList...), nil
}

// Vehicles implements [Source].
func (s *Static) Vehicles(ctx context.Context, customerID string) ([]shop.Vehicle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []shop.Vehicle
	for _, v := range s.VehicleList {
		if customerID == "" || v.CustomerID == customerID {
			out = append(out, v)
		}
	}
	return out, nil
}
