// Package router matches internal navigation paths against an ordered
// pattern table. Patterns starting with "^" are regular expressions with
// capture groups as parameters; anything else matches the path exactly.
// First match wins, so a broad regexp at the end acts as the catch-all.
package router

import (
	"net/url"
	"regexp"
	"strings"
)

// Match carries what a dispatched factory gets to see of the path.
type Match struct {
	Path   string
	Params []string
	Query  url.Values
}

type route[H any] struct {
	exact   string
	pattern *regexp.Regexp
	handler H
}

// Router is the ordered route table. H is whatever the application
// dispatches to; the router itself never invokes it.
type Router[H any] struct {
	routes []route[H]
}

// New creates an empty router.
func New[H any]() *Router[H] {
	return &Router[H]{}
}

// Handle appends a route. Panics on an invalid regexp pattern, which is
// a programming error in the route table.
func (r *Router[H]) Handle(pattern string, handler H) {
	if strings.HasPrefix(pattern, "^") {
		r.routes = append(r.routes, route[H]{pattern: regexp.MustCompile(pattern), handler: handler})
		return
	}
	r.routes = append(r.routes, route[H]{exact: pattern, handler: handler})
}

// Dispatch resolves a path (with optional query string) to the first
// matching handler. ok is false only when no route matches, which a
// table ending in a catch-all never produces.
func (r *Router[H]) Dispatch(path string) (handler H, m Match, ok bool) {
	m.Path = path
	if i := strings.IndexByte(path, '?'); i != -1 {
		m.Path = path[:i]
		q, err := url.ParseQuery(path[i+1:])
		if err == nil {
			m.Query = q
		}
	}
	if m.Query == nil {
		m.Query = url.Values{}
	}

	for _, rt := range r.routes {
		if rt.pattern == nil {
			if rt.exact == m.Path {
				return rt.handler, m, true
			}
			continue
		}
		if sub := rt.pattern.FindStringSubmatch(m.Path); sub != nil {
			m.Params = sub[1:]
			return rt.handler, m, true
		}
	}

	var zero H
	return zero, m, false
}
