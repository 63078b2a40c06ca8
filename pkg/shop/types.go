// Package shop defines the shop-management value types that the voice capture
// flow reads and produces.
//
// Customers and vehicles are owned by the CRUD subsystem; the voice layer only
// ever holds read-only snapshots of them. LineItem and Record are produced by a
// conversation and handed to the commit boundary exactly once.
package shop

import (
	"fmt"
	"time"
)

// Customer is a read-only customer record from the CRUD subsystem.
type Customer struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Email string `json:"email,omitempty" yaml:"email"`
}

// Vehicle is a read-only vehicle record from the CRUD subsystem.
type Vehicle struct {
	ID         string `json:"id" yaml:"id"`
	CustomerID string `json:"customerId" yaml:"customer_id"`
	Year       int    `json:"year" yaml:"year"`
	Make       string `json:"make" yaml:"make"`
	Model      string `json:"model" yaml:"model"`
	Mileage    int    `json:"mileage" yaml:"mileage"`
}

// Description returns the spoken form "{year} {make} {model}" used both for
// prompts and for entity resolution.
func (v Vehicle) Description() string {
	if v.Year <= 0 {
		return fmt.Sprintf("%s %s", v.Make, v.Model)
	}
	return fmt.Sprintf("%d %s %s", v.Year, v.Make, v.Model)
}

// LineItem is one service performed on a vehicle. Hours and Price are never
// negative.
type LineItem struct {
	Name  string  `json:"name"`
	Hours float64 `json:"hours"`
	Price float64 `json:"price"`
}

// RecordKind selects which backend entity a finished conversation creates.
type RecordKind string

const (
	// KindServiceLog creates a service log entry for the vehicle.
	KindServiceLog RecordKind = "service_log"

	// KindInvoice creates a quick invoice for the customer.
	KindInvoice RecordKind = "invoice"
)

// IsValid reports whether k is a recognised record kind.
func (k RecordKind) IsValid() bool {
	return k == KindServiceLog || k == KindInvoice
}

// Record is the full payload submitted to the commit boundary at the end of a
// successful conversation.
type Record struct {
	// Kind selects the backend endpoint.
	Kind RecordKind `json:"kind"`

	// SessionID identifies the conversation that produced the record. It is
	// used as the idempotency key for the commit.
	SessionID string `json:"sessionId"`

	CustomerID string     `json:"customerId"`
	VehicleID  string     `json:"vehicleId"`
	Mileage    int        `json:"mileage"`
	Date       time.Time  `json:"date"`
	Items      []LineItem `json:"items"`
}

// Receipt describes the entity created by a successful commit.
type Receipt struct {
	// ID is the backend identifier of the created service log or invoice.
	ID string `json:"id"`

	Kind     RecordKind `json:"kind"`
	Subtotal float64    `json:"subtotal"`
	Tax      float64    `json:"tax"`
	Total    float64    `json:"total"`

	// PDFPath is the local path of the downloaded invoice PDF, if one was
	// fetched.
	PDFPath string `json:"pdfPath,omitempty"`
}
