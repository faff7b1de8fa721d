// Package page models the parts of a rendered page the session guard
// interacts with: attribute tagged elements, a stream of user activity
// events and the dialogs used to talk to the user.
package page

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Attributes used to discover elements at page-ready time.
const (
	AttrLogout        = "data-logout"
	AttrExtendSession = "data-extend-session"
	AttrUserEmail     = "data-user-email"
	AttrSessionTime   = "data-session-time"
)

// EventKind is the kind of a user interaction event.
type EventKind string

const (
	EventPointerDown EventKind = "pointerdown"
	EventKeyDown     EventKind = "keydown"
	EventScroll      EventKind = "scroll"
	EventTouchStart  EventKind = "touchstart"
	EventClick       EventKind = "click"
)

// ActivityEvents are the interactions that count as user activity.
var ActivityEvents = []EventKind{
	EventPointerDown,
	EventKeyDown,
	EventScroll,
	EventTouchStart,
	EventClick,
}

// Event is a single user interaction.
type Event struct {
	Kind   EventKind
	Target *Element
}

// Prompter asks the user a yes/no question. Implementations must not hold
// up unrelated event processing while waiting for an answer; callers await
// the result from their own goroutine.
type Prompter interface {
	Confirm(ctx context.Context, message string) (bool, error)
}

// Alerter shows a message the user must see.
type Alerter interface {
	Alert(ctx context.Context, message string)
}

// Navigator moves the user to another page.
type Navigator interface {
	Navigate(ctx context.Context, path string)
}

// Element is a tagged region of the page.
type Element struct {
	mu       sync.RWMutex
	text     string
	attrs    map[string]struct{}
	handlers []func(ctx context.Context, el *Element)
}

// NewElement creates an element carrying attrs with the initial text.
func NewElement(text string, attrs ...string) *Element {
	el := &Element{text: text, attrs: make(map[string]struct{}, len(attrs))}
	for _, attr := range attrs {
		el.attrs[attr] = struct{}{}
	}
	return el
}

// Has reports whether the element carries attr.
func (e *Element) Has(attr string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.attrs[attr]
	return ok
}

// Text returns the element's text.
func (e *Element) Text() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.text
}

// SetText replaces the element's text.
func (e *Element) SetText(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.text = text
}

// OnClick registers a click handler.
func (e *Element) OnClick(fn func(ctx context.Context, el *Element)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, fn)
}

func (e *Element) clickHandlers() []func(ctx context.Context, el *Element) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.handlers)
}

type listener struct {
	id int
	fn func(Event)
}

// Document is one page load.
type Document struct {
	id string

	mu        sync.RWMutex
	elements  []*Element
	nextID    int
	listeners map[EventKind][]listener
}

// NewDocument creates an empty document with a fresh page ID.
func NewDocument() *Document {
	return &Document{
		id:        uuid.NewString(),
		listeners: make(map[EventKind][]listener),
	}
}

// ID identifies this page load in logs.
func (d *Document) ID() string {
	return d.id
}

// Add appends elements to the document.
func (d *Document) Add(elements ...*Element) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.elements = append(d.elements, elements...)
}

// Query returns every element carrying attr, in document order.
func (d *Document) Query(attr string) []*Element {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var matches []*Element
	for _, el := range d.elements {
		if el.Has(attr) {
			matches = append(matches, el)
		}
	}
	return matches
}

// Listen registers fn for events of kind and returns a function removing it.
func (d *Document) Listen(kind EventKind, fn func(Event)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.nextID
	d.nextID++
	d.listeners[kind] = append(d.listeners[kind], listener{id: id, fn: fn})

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.listeners[kind] = slices.DeleteFunc(d.listeners[kind], func(l listener) bool {
			return l.id == id
		})
	}
}

// ListenerCount returns the number of listeners registered for kind.
func (d *Document) ListenerCount(kind EventKind) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners[kind])
}

// Dispatch delivers ev to the listeners for its kind.
func (d *Document) Dispatch(ev Event) {
	d.mu.RLock()
	fns := make([]func(Event), 0, len(d.listeners[ev.Kind]))
	for _, l := range d.listeners[ev.Kind] {
		fns = append(fns, l.fn)
	}
	d.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Click dispatches a click activity event for el and then runs its handlers.
func (d *Document) Click(ctx context.Context, el *Element) {
	d.Dispatch(Event{Kind: EventClick, Target: el})
	for _, fn := range el.clickHandlers() {
		fn(ctx, el)
	}
}
