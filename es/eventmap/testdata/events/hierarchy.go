package scopes

import core "github.com/getpup/eventlog/es"

// ParentChanged uses an aliased import of the es package.
type ParentChanged struct {
	core.Base
	ParentID string `json:"parentId"`
}
