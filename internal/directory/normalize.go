package directory

import (
	"html"
	"strings"
	"time"

	"github.com/aamira/courier-tracker/internal/shared/types"
	"github.com/microcosm-cc/bluemonday"
)

// Normalizer cleans records as they enter the cache: markup is stripped
// from descriptive strings, statuses are canonicalized and ReceivedAt is
// stamped.
type Normalizer struct {
	policy *bluemonday.Policy
	now    func() time.Time
}

// NewNormalizer creates a normalizer using the strict (text only) policy
func NewNormalizer() *Normalizer {
	return &Normalizer{
		policy: bluemonday.StrictPolicy(),
		now:    time.Now,
	}
}

func (n *Normalizer) text(s string) string {
	if s == "" {
		return s
	}
	return strings.TrimSpace(html.UnescapeString(n.policy.Sanitize(s)))
}

func (n *Normalizer) textPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := n.text(*s)
	return &v
}

// Package normalizes a package record
func (n *Normalizer) Package(p types.Package) types.Package {
	p.ID = strings.TrimSpace(p.ID)
	p.Status = types.ParseStatus(string(p.Status))
	p.OrdererName = n.text(p.OrdererName)
	p.HomeAddress = n.text(p.HomeAddress)
	p.PhoneNumber = n.text(p.PhoneNumber)
	p.Sender = n.text(p.Sender)
	p.Recipient = n.text(p.Recipient)
	p.Origin = n.text(p.Origin)
	p.Destination = n.text(p.Destination)
	p.Note = n.textPtr(p.Note)
	p.ReceivedAt = n.now()
	return p
}

// Courier normalizes a courier record
func (n *Normalizer) Courier(c types.Courier) types.Courier {
	c.ID = strings.TrimSpace(c.ID)
	c.Name = n.text(c.Name)
	c.Email = strings.ToLower(n.text(c.Email))
	c.Status = types.CourierStatus(strings.ToLower(strings.TrimSpace(string(c.Status))))
	return c
}
