package scopes

import "github.com/getpup/eventlog/es"

type TestOnlyEvent struct {
	es.Base
}
