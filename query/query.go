// Package query exposes the state machine's read-only query surface
// (§4.7): a Router dispatching a QueryRequest against a committed App
// view, and an HTTP boundary (§6) that JSON-encodes the same request/
// response shapes over POST /query.
package query

import (
	"cwchain/core"
)

// Backend is the subset of *app.App the router needs, kept narrow so the
// router can be tested against a fake without pulling in the whole
// execution pipeline.
type Backend interface {
	RouteQuery(req core.QueryRequest) (core.QueryResponse, error)
}

// Router dispatches a QueryRequest to the backend. It exists mostly to
// give the query surface a stable name to hang the HTTP boundary and
// future cross-cutting concerns (metrics, request logging) off of,
// without every caller needing to reach into App directly.
type Router struct {
	backend Backend
}

func NewRouter(backend Backend) *Router {
	return &Router{backend: backend}
}

func (rt *Router) Route(req core.QueryRequest) (core.QueryResponse, error) {
	return rt.backend.RouteQuery(req)
}
