package models

import "time"

const (
	RoleCitizen     = "citizen"
	RoleWardOfficer = "ward_officer"
	RoleMaintenance = "maintenance"
	RoleAdmin       = "admin"
)

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Role      string    `json:"role"` // citizen | ward_officer | maintenance | admin
	WardID    *string   `json:"wardId,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
