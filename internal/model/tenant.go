package model

import "time"

// Tenant is the isolation boundary. Each tenant owns one working table,
// one pending-categorization table, two terminal category tables, and a
// blob-storage root with staging/inflow/outflow subtrees. Tenants are
// never deleted, only deactivated.
type Tenant struct {
	ID        string    `yaml:"id" json:"id"`
	Name      string    `yaml:"name" json:"name"`
	BlobRoot  string    `yaml:"blob_root" json:"blob_root"`
	Active    bool      `yaml:"active" json:"active"`
	CreatedAt time.Time `yaml:"created_at,omitempty" json:"created_at,omitempty"`
}
