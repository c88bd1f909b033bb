// Package eventmap generates codec registration code for a package of
// domain events.
//
// Every exported struct that embeds es.Base is an event. The generated
// file lives in the events package and declares:
//   - RegisterEvents(registry *codec.Registry) error, binding each event
//     type to its tag
//   - EventTypes() []string, the tags in sorted order, suitable for a
//     projection's EventTypes method
//
// The tag defaults to the struct name. Doc comment directives change it:
//
//	//eventlog:type scope.created   register under a different tag
//	//eventlog:pointer              register a pointer prototype
//	//eventlog:skip                 do not register this struct
package eventmap
