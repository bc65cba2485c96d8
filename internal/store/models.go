package store

import (
	"time"

	"polity/engine/internal/poll"
)

type Tenant struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

type Policy struct {
	ID        string
	TenantID  string
	Title     string
	Body      string
	Status    poll.PolicyStatus
	OwnerID   string
	CreatedAt time.Time
	UpdatedAt time.Time
}
