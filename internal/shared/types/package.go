package types

import (
	"strings"
	"time"
)

// Status is the delivery status of a package
type Status string

const (
	StatusCreated        Status = "created"
	StatusAccepted       Status = "accepted"
	StatusInTransit      Status = "in_transit"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusException      Status = "exception"
	StatusCancelled      Status = "cancelled"
)

// statusAliases maps legacy dashboard statuses onto the canonical set
var statusAliases = map[string]Status{
	"pending":          StatusCreated,
	"stuck":            StatusException,
	"out_for_del":      StatusOutForDelivery,
	"in-transit":       StatusInTransit,
	"out-for-delivery": StatusOutForDelivery,
}

// Statuses lists every canonical status in happy-path order
func Statuses() []Status {
	return []Status{
		StatusCreated,
		StatusAccepted,
		StatusInTransit,
		StatusOutForDelivery,
		StatusDelivered,
		StatusException,
		StatusCancelled,
	}
}

// ParseStatus normalizes a wire status. Unknown values are kept verbatim.
func ParseStatus(s string) Status {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.TrimSuffix(norm, ".")
	norm = strings.TrimSuffix(norm, "!")
	if alias, ok := statusAliases[norm]; ok {
		return alias
	}
	return Status(norm)
}

// Known reports whether s is one of the canonical statuses
func (s Status) Known() bool {
	for _, known := range Statuses() {
		if s == known {
			return true
		}
	}
	return false
}

// Active reports whether the package is still moving through the network
func (s Status) Active() bool {
	return s != StatusDelivered && s != StatusCancelled
}

// Package represents one shipment
type Package struct {
	ID             string     `json:"id"`
	Status         Status     `json:"status"`
	OrdererName    string     `json:"ordererName"`
	HomeAddress    string     `json:"homeAddress"`
	PhoneNumber    string     `json:"phoneNumber"`
	Sender         string     `json:"sender,omitempty"`
	Recipient      string     `json:"recipient,omitempty"`
	Origin         string     `json:"origin,omitempty"`
	Destination    string     `json:"destination,omitempty"`
	Weight         float64    `json:"weight,omitempty"`
	CourierID      *string    `json:"courierId"`
	Lat            *float64   `json:"lat"`
	Lon            *float64   `json:"lon"`
	Note           *string    `json:"note"`
	ETA            *time.Time `json:"eta"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	EventTimestamp *time.Time `json:"eventTimestamp"`
	ReceivedAt     time.Time  `json:"receivedAt"`
}

// Key returns the identity of the package
func (p Package) Key() string {
	return p.ID
}

// Version returns the ordering timestamp used for last-writer-wins merges
func (p Package) Version() time.Time {
	if p.EventTimestamp != nil && p.EventTimestamp.After(p.UpdatedAt) {
		return *p.EventTimestamp
	}
	return p.UpdatedAt
}

// SameContent compares every field except the local ReceivedAt stamp
func (p Package) SameContent(o Package) bool {
	return p.ID == o.ID &&
		p.Status == o.Status &&
		p.OrdererName == o.OrdererName &&
		p.HomeAddress == o.HomeAddress &&
		p.PhoneNumber == o.PhoneNumber &&
		p.Sender == o.Sender &&
		p.Recipient == o.Recipient &&
		p.Origin == o.Origin &&
		p.Destination == o.Destination &&
		p.Weight == o.Weight &&
		equalPtr(p.CourierID, o.CourierID) &&
		equalPtr(p.Lat, o.Lat) &&
		equalPtr(p.Lon, o.Lon) &&
		equalPtr(p.Note, o.Note) &&
		equalTime(p.ETA, o.ETA) &&
		p.CreatedAt.Equal(o.CreatedAt) &&
		p.UpdatedAt.Equal(o.UpdatedAt) &&
		equalTime(p.EventTimestamp, o.EventTimestamp)
}

// LastActivity returns the most recent known activity time
func (p Package) LastActivity() time.Time {
	return p.Version()
}

// Stuck reports whether the package needs attention: an exception status,
// or an active package with no activity for longer than threshold.
func (p Package) Stuck(now time.Time, threshold time.Duration) bool {
	if p.Status == StatusException {
		return true
	}
	if !p.Status.Active() || threshold <= 0 {
		return false
	}
	last := p.LastActivity()
	if last.IsZero() {
		return false
	}
	return now.Sub(last) > threshold
}

// Located reports whether the package carries usable coordinates
func (p Package) Located() bool {
	if p.Lat == nil || p.Lon == nil {
		return false
	}
	return *p.Lat != 0 || *p.Lon != 0
}

// PackageDraft is the create payload; the directory assigns id and timestamps
type PackageDraft struct {
	OrdererName string     `json:"ordererName" validate:"required"`
	HomeAddress string     `json:"homeAddress" validate:"required"`
	PhoneNumber string     `json:"phoneNumber" validate:"required"`
	Sender      string     `json:"sender,omitempty"`
	Recipient   string     `json:"recipient,omitempty"`
	Origin      string     `json:"origin,omitempty"`
	Destination string     `json:"destination,omitempty"`
	Weight      float64    `json:"weight,omitempty" validate:"omitempty,gt=0"`
	Status      Status     `json:"status,omitempty" validate:"omitempty,status"`
	CourierID   *string    `json:"courierId,omitempty"`
	Note        *string    `json:"note,omitempty"`
	ETA         *time.Time `json:"eta,omitempty"`
}

// PackagePatch is a partial update; nil fields are not sent
type PackagePatch struct {
	Status      *Status    `json:"status,omitempty" validate:"omitempty,status"`
	OrdererName *string    `json:"ordererName,omitempty" validate:"omitempty,min=1"`
	HomeAddress *string    `json:"homeAddress,omitempty" validate:"omitempty,min=1"`
	PhoneNumber *string    `json:"phoneNumber,omitempty" validate:"omitempty,min=1"`
	Sender      *string    `json:"sender,omitempty"`
	Recipient   *string    `json:"recipient,omitempty"`
	Origin      *string    `json:"origin,omitempty"`
	Destination *string    `json:"destination,omitempty"`
	Weight      *float64   `json:"weight,omitempty" validate:"omitempty,gt=0"`
	CourierID   *string    `json:"courierId,omitempty"`
	Lat         *float64   `json:"lat,omitempty" validate:"omitempty,latitude"`
	Lon         *float64   `json:"lon,omitempty" validate:"omitempty,longitude"`
	Note        *string    `json:"note,omitempty"`
	ETA         *time.Time `json:"eta,omitempty"`
}

// StatusUpdate is emitted by courier-side flows over the live channel
type StatusUpdate struct {
	PackageID      string    `json:"packageId" validate:"required"`
	Status         Status    `json:"status" validate:"required,status"`
	Lat            *float64  `json:"lat,omitempty" validate:"omitempty,latitude"`
	Lon            *float64  `json:"lon,omitempty" validate:"omitempty,longitude"`
	EventTimestamp time.Time `json:"eventTimestamp"`
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
