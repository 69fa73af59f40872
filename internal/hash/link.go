package hash

import (
	"fmt"
	"time"
)

// Stater is implemented by anything that can be hash chained.
type Stater interface {
	StateString() string
}

// Link is the hash chain link between a row and its predecessor.
// StringToHash is never persisted; it is rebuilt from the stored facts.
type Link struct {
	WriteTimestamp time.Time `json:"write_timestamp"`
	StringToHash   string    `json:"string_to_hash"`
}

// Now returns the current UTC time at the resolution the database keeps.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func NewLink(priorHash string, content Stater) Link {
	return LinkAt(priorHash, Now(), content)
}

// LinkAt builds the link for a previously recorded write timestamp.
func LinkAt(priorHash string, writeTimestamp time.Time, content Stater) Link {
	return Link{
		WriteTimestamp: writeTimestamp.UTC(),
		StringToHash: fmt.Sprintf("%s write_timestamp=%s prior_sha256=%s",
			content.StateString(), FormatTimestamp(writeTimestamp), priorHash),
	}
}

func (l Link) NewHash() string {
	return CalculateString(l.StringToHash)
}
