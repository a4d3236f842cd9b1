// README: Opaque identifiers shared by orders, drivers, customers and quote sessions.
package types

import "github.com/oklog/ulid/v2"

type ID string

// NewID returns a lexically sortable ULID.
func NewID() ID {
	return ID(ulid.Make().String())
}
