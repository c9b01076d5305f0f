package models

import "time"

// Role is the marketplace role a user registers with
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleBuyer, RoleSeller, RoleAdmin:
		return true
	}
	return false
}

// Company is the seller profile, required when Role is seller
type Company struct {
	Name        string `json:"name" example:"Acme Goods"`
	Description string `json:"description" example:"Handmade kitchenware"`
}

type User struct {
	ID        string    `json:"id" db:"id" example:"5b1c6a1e-1f7a-4d2b-9a53-3d0b4f8c2e11"`
	Name      string    `json:"name" db:"name" example:"Jane Doe"`
	Email     string    `json:"email" db:"email" example:"jane@example.com"`
	Role      Role      `json:"role" db:"role" example:"buyer"`
	Company   *Company  `json:"company,omitempty"`
	IsBlocked bool      `json:"isBlocked" db:"is_blocked"`
	Balances  Balances  `json:"balances,omitempty"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// Caller is the authenticated identity handed to the services by the auth middleware
type Caller struct {
	UserID    string
	Role      Role
	IsBlocked bool
}

func (c Caller) IsAdmin() bool {
	return c.Role == RoleAdmin
}
