package testutil

import (
	"time"

	"github.com/aamira/courier-tracker/internal/shared/types"
)

// Epoch is a fixed base time for fixtures
var Epoch = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

// At returns Epoch plus the given number of minutes
func At(minutes int) time.Time {
	return Epoch.Add(time.Duration(minutes) * time.Minute)
}

// Package builds a package fixture updated at the given minute offset
func Package(id string, status types.Status, minute int) types.Package {
	return types.Package{
		ID:          id,
		Status:      status,
		OrdererName: "Orderer " + id,
		HomeAddress: "12 Harbour Road",
		PhoneNumber: "+8801700000000",
		Sender:      "Aamira Ltd",
		Recipient:   "Recipient " + id,
		CreatedAt:   Epoch,
		UpdatedAt:   At(minute),
	}
}

// Courier builds a courier fixture
func Courier(id, name string, minute int) types.Courier {
	return types.Courier{
		ID:        id,
		Name:      name,
		Email:     name + "@example.com",
		Status:    types.CourierActive,
		CreatedAt: Epoch,
		UpdatedAt: At(minute),
	}
}

// Ptr returns a pointer to v
func Ptr[T any](v T) *T {
	return &v
}
