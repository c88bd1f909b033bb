package scopes

import "github.com/getpup/eventlog/es"

// ScopeCreated is emitted when a scope is created.
type ScopeCreated struct {
	es.Base
	Name     string `json:"name"`
	ParentID string `json:"parentId,omitempty"`
}

// AliasAssigned is emitted when a scope gets an alias.
//
//eventlog:pointer
type AliasAssigned struct {
	es.Base
	Alias string `json:"alias"`
}

type (
	// ScopeRenamed is registered under a dotted tag.
	//
	//eventlog:type scope.renamed
	ScopeRenamed struct {
		es.Base
		Name string `json:"name"`
	}

	// scopeArchived is unexported and ignored.
	scopeArchived struct {
		es.Base
	}
)

// Snapshot embeds Base but is not an event.
//
//eventlog:skip
type Snapshot struct {
	es.Base
	State []byte
}

// Scope is a read model, not an event.
type Scope struct {
	ID   string
	Name string
}
