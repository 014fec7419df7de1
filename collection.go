package leadpulse

import (
	"errors"
	"strings"
)

// Collection identifies a CRM record collection and the API path that lists it.
type Collection struct {
	Name string
	Path string
}

// Built-in CRM collections.
var (
	Leads         = Collection{Name: "leads", Path: "/api/leads"}
	Contacts      = Collection{Name: "contacts", Path: "/api/contacts"}
	Accounts      = Collection{Name: "accounts", Path: "/api/accounts"}
	Properties    = Collection{Name: "properties", Path: "/api/properties"}
	Opportunities = Collection{Name: "opportunities", Path: "/api/opportunities"}
)

var knownCollections = []Collection{Leads, Contacts, Accounts, Properties, Opportunities}

// KnownCollections returns the built-in collections, leads first.
func KnownCollections() []Collection {
	return append([]Collection(nil), knownCollections...)
}

// LookupCollection returns the built-in collection with the given name.
func LookupCollection(name string) (Collection, bool) {
	for _, c := range knownCollections {
		if c.Name == name {
			return c, true
		}
	}
	return Collection{}, false
}

// NewCollection validates and returns a custom collection.
//
// The name must be non-empty and contain no whitespace or slashes; the path
// must start with "/".
func NewCollection(name, path string) (Collection, error) {
	if name == "" {
		return Collection{}, errors.New("collection name cannot be empty")
	}
	if strings.ContainsAny(name, " \t\n/") {
		return Collection{}, errors.New("collection name cannot contain whitespace or '/'")
	}
	if !strings.HasPrefix(path, "/") {
		return Collection{}, errors.New("collection path must start with '/'")
	}
	return Collection{Name: name, Path: path}, nil
}
