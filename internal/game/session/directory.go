package session

import (
	"fmt"
	"slices"
)

// Directory maps live connections to their Users.
//
// A Directory is not safe for concurrent use. It is owned by the game
// server's event loop, which is the only goroutine allowed to touch it.
type Directory struct {
	byConn map[Transport]*User
	byID   map[string]*User
	order  []*User
}

// NewDirectory creates an empty Directory.
func NewDirectory() *Directory {
	return &Directory{
		byConn: make(map[Transport]*User),
		byID:   make(map[string]*User),
	}
}

// Add registers a new unauthenticated User for conn.
//
// Precondition: id must be non-empty; conn must be non-nil.
// Postcondition: Returns the created User with Alive set, or an error if conn
// or id is already registered.
func (d *Directory) Add(id string, conn Transport) (*User, error) {
	if _, exists := d.byConn[conn]; exists {
		return nil, fmt.Errorf("connection %s already registered", conn.RemoteAddr())
	}
	if _, exists := d.byID[id]; exists {
		return nil, fmt.Errorf("user %q already registered", id)
	}
	u := &User{ID: id, Conn: conn, Alive: true}
	d.byConn[conn] = u
	d.byID[id] = u
	d.order = append(d.order, u)
	return u, nil
}

// Remove deletes the User registered for conn.
//
// Postcondition: Returns the removed User and true, or nil and false if conn
// was not registered.
func (d *Directory) Remove(conn Transport) (*User, bool) {
	u, ok := d.byConn[conn]
	if !ok {
		return nil, false
	}
	delete(d.byConn, conn)
	delete(d.byID, u.ID)
	d.order = slices.DeleteFunc(d.order, func(o *User) bool { return o == u })
	return u, true
}

// Lookup returns the User registered for conn.
func (d *Directory) Lookup(conn Transport) (*User, bool) {
	u, ok := d.byConn[conn]
	return u, ok
}

// ByID returns the User with the given id.
func (d *Directory) ByID(id string) (*User, bool) {
	u, ok := d.byID[id]
	return u, ok
}

// Users returns a snapshot of every registered User in registration order.
// Callers may remove users while iterating the snapshot.
func (d *Directory) Users() []*User {
	return slices.Clone(d.order)
}

// Count returns the number of registered Users.
func (d *Directory) Count() int {
	return len(d.order)
}
