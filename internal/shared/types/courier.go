package types

import "time"

// CourierStatus is the availability of a courier
type CourierStatus string

const (
	CourierActive   CourierStatus = "active"
	CourierInactive CourierStatus = "inactive"
)

// Courier represents a courier account
type Courier struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Email     string        `json:"email"`
	Status    CourierStatus `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Key returns the identity of the courier
func (c Courier) Key() string {
	return c.ID
}

// Version returns the ordering timestamp
func (c Courier) Version() time.Time {
	return c.UpdatedAt
}

// SameContent compares every field
func (c Courier) SameContent(o Courier) bool {
	return c.ID == o.ID &&
		c.Name == o.Name &&
		c.Email == o.Email &&
		c.Status == o.Status &&
		c.CreatedAt.Equal(o.CreatedAt) &&
		c.UpdatedAt.Equal(o.UpdatedAt)
}

// CourierDraft is the create payload for a courier.
// Password is forwarded to the directory and never cached.
type CourierDraft struct {
	Name     string        `json:"name" validate:"required"`
	Email    string        `json:"email" validate:"required,email"`
	Password string        `json:"password" validate:"required,min=6"`
	Status   CourierStatus `json:"status" validate:"required,oneof=active inactive"`
}

// CourierPatch is a partial courier update
type CourierPatch struct {
	Name     *string        `json:"name,omitempty" validate:"omitempty,min=1"`
	Email    *string        `json:"email,omitempty" validate:"omitempty,email"`
	Password *string        `json:"password,omitempty" validate:"omitempty,min=6"`
	Status   *CourierStatus `json:"status,omitempty" validate:"omitempty,oneof=active inactive"`
}
