// Package yamlfile serves customers and vehicles from a YAML file. It backs
// offline demos and local development when the shop backend is unreachable.
//
// Example file:
//
//	customers:
//	  - id: c1
//	    name: John Smith
//	    email: john@example.com
//	vehicles:
//	  - id: v1
//	    customer_id: c1
//	    year: 2020
//	    make: Honda
//	    model: Accord
//	    mileage: 42000
package yamlfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/torqueshop/voicedesk/internal/directory"
	"github.com/torqueshop/voicedesk/pkg/shop"
)

var _ directory.Source = (*Source)(nil)

type document struct {
	Customers []shop.Customer `yaml:"customers"`
	Vehicles  []shop.Vehicle  `yaml:"vehicles"`
}

// Source is a [directory.Source] read once from YAML. It is immutable and safe
// for concurrent use.
type Source struct {
	static directory.Static
}

// Load reads the YAML file at path.
func Load(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("yamlfile: open %q: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes YAML from r. Unknown keys are rejected and every vehicle must
// belong to a listed customer.
func Parse(r io.Reader) (*Source, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("yamlfile: decode: %w", err)
	}
	if err := doc.validate(); err != nil {
		return nil, err
	}
	return &Source{static: directory.Static{CustomerList: doc.Customers, VehicleList: doc.Vehicles}}, nil
}

func (d document) validate() error {
	var errs []error
	ids := make(map[string]bool, len(d.Customers))
	for i, c := range d.Customers {
		switch {
		case c.ID == "":
			errs = append(errs, fmt.Errorf("customers[%d]: id is required", i))
		case ids[c.ID]:
			errs = append(errs, fmt.Errorf("customers[%d]: duplicate id %q", i, c.ID))
		}
		if c.Name == "" {
			errs = append(errs, fmt.Errorf("customers[%d]: name is required", i))
		}
		ids[c.ID] = true
	}
	seen := make(map[string]bool, len(d.Vehicles))
	for i, v := range d.Vehicles {
		switch {
		case v.ID == "":
			errs = append(errs, fmt.Errorf("vehicles[%d]: id is required", i))
		case seen[v.ID]:
			errs = append(errs, fmt.Errorf("vehicles[%d]: duplicate id %q", i, v.ID))
		}
		seen[v.ID] = true
		if !ids[v.CustomerID] {
			errs = append(errs, fmt.Errorf("vehicles[%d]: unknown customer_id %q", i, v.CustomerID))
		}
		if v.Mileage < 0 {
			errs = append(errs, fmt.Errorf("vehicles[%d]: mileage must not be negative", i))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("yamlfile: %w", err)
	}
	return nil
}

// Customers implements [directory.Source].
func (s *Source) Customers(ctx context.Context) ([]shop.Customer, error) {
	return s.static.Customers(ctx)
}

// Vehicles implements [directory.Source].
func (s *Source) Vehicles(ctx context.Context, customerID string) ([]shop.Vehicle, error) {
	return s.static.Vehicles(ctx, customerID)
}
