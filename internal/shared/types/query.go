package types

import (
	"strconv"
	"strings"
)

// DefaultPageSize is used when a query does not set Limit
const DefaultPageSize = 20

// Query holds the filter and pagination parameters of a listing
type Query struct {
	SearchTerm string `json:"searchTerm,omitempty" yaml:"searchTerm" toml:"searchTerm"`
	Status     Status `json:"status,omitempty" yaml:"status" toml:"status"`
	Sender     string `json:"sender,omitempty" yaml:"sender" toml:"sender"`
	Recipient  string `json:"recipient,omitempty" yaml:"recipient" toml:"recipient"`
	CourierID  string `json:"courierId,omitempty" yaml:"courierId" toml:"courierId"`
	Page       int    `json:"page,omitempty" yaml:"page" toml:"page"`
	Limit      int    `json:"limit,omitempty" yaml:"limit" toml:"limit"`
}

// Normalize fills pagination defaults and canonicalizes the status
func (q Query) Normalize() Query {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = DefaultPageSize
	}
	if q.Status != "" {
		q.Status = ParseStatus(string(q.Status))
	}
	q.SearchTerm = strings.TrimSpace(q.SearchTerm)
	return q
}

// Params renders the query as directory query parameters, skipping empty filters
func (q Query) Params() map[string]string {
	q = q.Normalize()
	params := map[string]string{
		"page":  strconv.Itoa(q.Page),
		"limit": strconv.Itoa(q.Limit),
	}
	if q.SearchTerm != "" {
		params["searchTerm"] = q.SearchTerm
	}
	if q.Status != "" {
		params["status"] = string(q.Status)
	}
	if q.Sender != "" {
		params["sender"] = q.Sender
	}
	if q.Recipient != "" {
		params["recipient"] = q.Recipient
	}
	if q.CourierID != "" {
		params["courierId"] = q.CourierID
	}
	return params
}

// Page is one page of a filtered listing
type Page[T any] struct {
	Records []T `json:"data"`
	Total   int `json:"total"`
	Page    int `json:"page"`
	Limit   int `json:"limit"`
}

// MatchPackage returns the client-side predicate equivalent of q.
// Pagination fields do not participate in matching.
func MatchPackage(q Query) func(Package) bool {
	q = q.Normalize()
	term := strings.ToLower(q.SearchTerm)
	return func(p Package) bool {
		if q.Status != "" && p.Status != q.Status {
			return false
		}
		if q.CourierID != "" && (p.CourierID == nil || *p.CourierID != q.CourierID) {
			return false
		}
		if q.Sender != "" && !containsFold(p.Sender, q.Sender) {
			return false
		}
		if q.Recipient != "" && !containsFold(p.Recipient, q.Recipient) {
			return false
		}
		if term == "" {
			return true
		}
		for _, field := range []string{p.ID, p.OrdererName, p.HomeAddress, p.PhoneNumber, p.Sender, p.Recipient} {
			if strings.Contains(strings.ToLower(field), term) {
				return true
			}
		}
		return false
	}
}

// MatchCourier returns the client-side predicate for courier listings.
// Status compares against the courier availability.
func MatchCourier(q Query) func(Courier) bool {
	q = q.Normalize()
	term := strings.ToLower(q.SearchTerm)
	return func(c Courier) bool {
		if q.Status != "" && string(c.Status) != string(q.Status) {
			return false
		}
		if term == "" {
			return true
		}
		return strings.Contains(strings.ToLower(c.Name), term) ||
			strings.Contains(strings.ToLower(c.Email), term)
	}
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
