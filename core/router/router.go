// Package router maps (method, path) pairs to handler identifiers using a
// radix tree. The tree is built during application setup and is immutable
// once the server starts serving, so lookups need no locking.
//
// Path patterns may contain named parameter segments ("/orders/{id}") and a
// trailing catch-all ("/static/{*filepath}"). Precedence is structural: at
// every tree level static children are tried before the parameter child,
// and the catch-all child is consulted last, so exact literal routes always
// win over parameterized ones. Registering the same method and pattern
// twice replaces the previous handler.
package router

import (
	"fmt"
	"strings"
)

// RouteMatch is the ephemeral result of a lookup: a stable handler ID and
// the extracted path parameters. Params is freshly allocated per match and
// owned by the caller for the request's duration.
type RouteMatch struct {
	HandlerID int
	Params    map[string]string
}

// Router is a radix tree keyed by path, holding per-method handler IDs at
// terminal nodes.
type Router struct {
	root   *node
	routes int
}

type nodeType uint8

const (
	static nodeType = iota
	param
	catchAll
)

type node struct {
	path      string
	indices   string
	children  []*node
	handlers  map[string]int
	nType     nodeType
	paramName string
}

// New creates an empty router.
func New() *Router {
	return &Router{root: &node{handlers: map[string]int{}}}
}

// Len reports the number of registered routes.
func (r *Router) Len() int { return r.routes }

// Add registers a route pattern for a method, bound to a handler ID.
func (r *Router) Add(method, pattern string, handlerID int) {
	if pattern == "" || pattern[0] != '/' {
		panic(fmt.Sprintf("router: pattern %q must begin with '/'", pattern))
	}
	r.root.addRoute(method, normalize(pattern), handlerID)
	r.routes++
}

// Match resolves a request method and path against the route table.
func (r *Router) Match(method, path string) (*RouteMatch, bool) {
	id, params, ok := r.root.getValue(method, path)
	if !ok {
		return nil, false
	}
	if params == nil {
		params = map[string]string{}
	}
	return &RouteMatch{HandlerID: id, Params: params}, true
}

// normalize rewrites "{name}" segments to the internal ":name" form and
// "{*name}" to the catch-all "*name" form.
func normalize(pattern string) string {
	if !strings.ContainsRune(pattern, '{') {
		return pattern
	}
	var b strings.Builder
	b.Grow(len(pattern))
	for _, seg := range strings.Split(pattern, "/") {
		if seg == "" {
			continue
		}
		b.WriteByte('/')
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			name := seg[1 : len(seg)-1]
			if strings.HasPrefix(name, "*") {
				b.WriteString("*" + name[1:])
			} else {
				b.WriteString(":" + name)
			}
			continue
		}
		b.WriteString(seg)
	}
	if b.Len() == 0 {
		return "/"
	}
	if strings.HasSuffix(pattern, "/") {
		b.WriteByte('/')
	}
	return b.String()
}

func (n *node) addRoute(method, path string, handlerID int) {
	// Empty tree
	if n.path == "" && len(n.children) == 0 {
		n.insertChild(method, path, handlerID)
		n.nType = static
		return
	}

	for {
		i := longestCommonPrefix(path, n.path)

		// Split edge
		if i < len(n.path) {
			child := &node{
				path:      n.path[i:],
				indices:   n.indices,
				children:  n.children,
				handlers:  n.handlers,
				nType:     n.nType,
				paramName: n.paramName,
			}

			n.children = []*node{child}
			n.indices = string([]byte{n.path[i]})
			n.path = path[:i]
			n.handlers = map[string]int{}
			n.nType = static
			n.paramName = ""
		}

		if i < len(path) {
			path = path[i:]
			idxc := path[0]

			// '/' after param
			if n.nType == param && idxc == '/' && len(n.children) == 1 {
				n = n.children[0]
				continue
			}

			// Child with the next path byte exists
			childFound := false
			for j, c := range []byte(n.indices) {
				if c == idxc {
					n = n.children[j]
					childFound = true
					break
				}
			}
			if childFound {
				continue
			}

			if idxc != ':' && idxc != '*' {
				// Static children occupy the first len(indices) slots;
				// param and catch-all children stay last.
				pos := len(n.indices)
				n.indices += string([]byte{idxc})
				child := &node{handlers: map[string]int{}}
				n.children = append(n.children, nil)
				copy(n.children[pos+1:], n.children[pos:])
				n.children[pos] = child
				n = child
			} else if len(n.children) > 0 {
				last := n.children[len(n.children)-1]
				if last.nType != static && last.path == wildcardSegment(path) {
					n = last
					continue
				}
			}
			n.insertChild(method, path, handlerID)
			return
		}

		// Pattern already present for this node; bind (or replace) handler.
		if n.handlers == nil {
			n.handlers = map[string]int{}
		}
		n.handlers[method] = handlerID
		return
	}
}

func wildcardSegment(path string) string {
	wildcard, i, _ := findWildcard(path)
	if i != 0 {
		return ""
	}
	return wildcard
}

func (n *node) insertChild(method, path string, handlerID int) {
	for {
		wildcard, i, valid := findWildcard(path)
		if i < 0 {
			break
		}
		if !valid {
			panic("router: only one wildcard per path segment is allowed")
		}
		if len(wildcard) < 2 {
			panic("router: wildcards must be named")
		}

		if wildcard[0] == ':' {
			if i > 0 {
				n.path = path[:i]
				path = path[i:]
			}

			child := &node{
				nType:     param,
				path:      wildcard,
				paramName: wildcard[1:],
				handlers:  map[string]int{},
			}
			n.children = append(n.children, child)
			n = child

			// More pattern after the parameter segment
			if len(wildcard) < len(path) {
				path = path[len(wildcard):]
				child := &node{handlers: map[string]int{}}
				n.children = append(n.children, child)
				n = child
				continue
			}

			n.handlers[method] = handlerID
			return
		}

		// Catch-all must terminate the pattern.
		if i+len(wildcard) != len(path) {
			panic("router: catch-all routes are only allowed at the end of the path")
		}

		n.path = path[:i]
		child := &node{
			nType:     catchAll,
			path:      wildcard,
			paramName: wildcard[1:],
			handlers:  map[string]int{method: handlerID},
		}
		n.children = append(n.children, child)
		return
	}

	n.path = path
	if n.handlers == nil {
		n.handlers = map[string]int{}
	}
	n.handlers[method] = handlerID
}

func (n *node) getValue(method, path string) (int, map[string]string, bool) {
	var params map[string]string

	for {
		prefix := n.path

		if len(path) > len(prefix) {
			if path[:len(prefix)] == prefix {
				path = path[len(prefix):]

				// Static children first: exact literals outrank params.
				idxc := path[0]
				childFound := false
				for i, c := range []byte(n.indices) {
					if c == idxc {
						n = n.children[i]
						childFound = true
						break
					}
				}
				if childFound {
					continue
				}

				if len(n.children) > 0 {
					last := n.children[len(n.children)-1]
					if last.nType != static {
						n = last
						if params == nil {
							params = make(map[string]string, 2)
						}

						switch n.nType {
						case param:
							end := 0
							for end < len(path) && path[end] != '/' {
								end++
							}
							params[n.paramName] = path[:end]

							if end < len(path) {
								if len(n.children) > 0 {
									path = path[end:]
									n = n.children[0]
									continue
								}
								return 0, nil, false
							}

							if id, ok := n.handlers[method]; ok {
								return id, params, true
							}
							return 0, nil, false

						case catchAll:
							params[n.paramName] = path
							if id, ok := n.handlers[method]; ok {
								return id, params, true
							}
							return 0, nil, false
						}
					}
				}

				return 0, nil, false
			}
		}

		if path != prefix {
			return 0, nil, false
		}

		if id, ok := n.handlers[method]; ok {
			return id, params, true
		}
		return 0, nil, false
	}
}

func findWildcard(path string) (wildcard string, i int, valid bool) {
	for start, c := range []byte(path) {
		if c != ':' && c != '*' {
			continue
		}
		valid = true
		for end, c := range []byte(path[start+1:]) {
			switch c {
			case '/':
				return path[start : start+1+end], start, valid
			case ':', '*':
				valid = false
			}
		}
		return path[start:], start, valid
	}
	return "", -1, false
}

func longestCommonPrefix(a, b string) int {
	i := 0
	max := len(a)
	if len(b) < max {
		max = len(b)
	}
	for i < max && a[i] == b[i] {
		i++
	}
	return i
}
