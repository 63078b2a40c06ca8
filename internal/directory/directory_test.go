package directory_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/torqueshop/voicedesk/internal/directory"
	"github.com/torqueshop/voicedesk/pkg/shop"
)

var fixture = &directory.Static{
	CustomerList: []shop.Customer{
		{ID: "c1", Name: "John Smith"},
		{ID: "c2", Name: "Maria Garcia"},
		{ID: "c3", Name: "John Smith"},
	},
	VehicleList: []shop.Vehicle{
		{ID: "v1", CustomerID: "c1", Year: 2020, Make: "Honda", Model: "Accord"},
		{ID: "v2", CustomerID: "c2", Year: 2018, Make: "Toyota", Model: "Camry"},
		{ID: "v3", CustomerID: "c2", Year: 2015, Make: "Ford", Model: "F-150"},
	},
}

func TestLoad(t *testing.T) {
	t.Parallel()

	snap, err := directory.Load(context.Background(), fixture)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c, v := snap.Counts(); c != 3 || v != 3 {
		t.Errorf("Counts = %d, %d; want 3, 3", c, v)
	}
	if got := snap.VehiclesOf("c2"); len(got) != 2 || got[0].ID != "v2" || got[1].ID != "v3" {
		t.Errorf("VehiclesOf(c2) = %+v", got)
	}
	if got := snap.VehiclesOf("nobody"); len(got) != 0 {
		t.Errorf("VehiclesOf(nobody) = %+v, want empty", got)
	}
	if c, ok := snap.Customer("c2"); !ok || c.Name != "Maria Garcia" {
		t.Errorf("Customer(c2) = %+v, %v", c, ok)
	}
	if want := []string{"John Smith", "Maria Garcia"}; !slices.Equal(snap.CustomerHints(), want) {
		t.Errorf("CustomerHints = %v, want %v", snap.CustomerHints(), want)
	}
}

func TestSnapshot_IsImmutable(t *testing.T) {
	t.Parallel()

	snap, _ := directory.Load(context.Background(), fixture)
	cs := snap.Customers()
	cs[0].Name = "changed"
	vs := snap.VehiclesOf("c1")
	vs[0].Make = "changed"

	if snap.Customers()[0].Name != "John Smith" {
		t.Error("Customers() exposes internal state")
	}
	if snap.VehiclesOf("c1")[0].Make != "Honda" {
		t.Error("VehiclesOf() exposes internal state")
	}
}

type failingSource struct{ *directory.Static }

func (failingSource) Vehicles(context.Context, string) ([]shop.Vehicle, error) {
	return nil, errors.New("timeout")
}

func TestLoad_Error(t *testing.T) {
	t.Parallel()

	_, err := directory.Load(context.Background(), failingSource{fixture})
	if err == nil {
		t.Fatal("Load returned no error")
	}
}

func TestVehicleHints(t *testing.T) {
	t.Parallel()

	got := directory.VehicleHints(fixture.VehicleList)
	want := []string{"Accord", "Camry", "F-150", "Ford", "Honda", "Toyota"}
	if !slices.Equal(got, want) {
		t.Errorf("VehicleHints = %v, want %v", got, want)
	}
}

func TestStatic_Filter(t *testing.T) {
	t.Parallel()

	got, err := fixture.Vehicles(context.Background(), "c1")
	if err != nil || len(got) != 1 || got[0].ID != "v1" {
		t.Errorf("Vehicles(c1) = %+v, %v", got, err)
	}
}
