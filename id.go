package retainer

import "github.com/xraph/retainer/id"

// ID is the primary identifier type for all Retainer entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
