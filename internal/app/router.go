package app

import "sync"

// Route is an entry point of the client.
type Route string

const (
	RouteLogin    Route = "/login"
	RouteRegister Route = "/register"
	RouteChat     Route = "/chat"
)

// Router tracks the current entry point. A message typed while signed out
// can be parked and picked up after login.
type Router struct {
	mu        sync.Mutex
	current   Route
	pending   string
	listeners []func(Route)
}

func NewRouter(initial Route) *Router {
	return &Router{current: initial}
}

// Navigate switches to route and notifies listeners when it changed.
func (r *Router) Navigate(to Route) {
	r.mu.Lock()
	if r.current == to {
		r.mu.Unlock()
		return
	}
	r.current = to
	listeners := append([]func(Route){}, r.listeners...)
	r.mu.Unlock()
	for _, fn := range listeners {
		fn(to)
	}
}

func (r *Router) Current() Route {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Subscribe registers fn to run after every route change.
func (r *Router) Subscribe(fn func(Route)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// SetPending parks a message to send once the user reaches the chat.
func (r *Router) SetPending(message string) {
	r.mu.Lock()
	r.pending = message
	r.mu.Unlock()
}

// TakePending returns and clears the parked message.
func (r *Router) TakePending() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg := r.pending
	r.pending = ""
	return msg
}
