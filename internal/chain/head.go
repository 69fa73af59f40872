package chain

import (
	"github.com/xtchd/xtchd/internal/content"
	"github.com/xtchd/xtchd/internal/hash"
)

// Head is the latest row of a chain. An empty chain is a valid head whose
// hash is the genesis sentinel.
type Head struct {
	Empty bool   `json:"empty"`
	ID    int32  `json:"id"`
	Hash  string `json:"hash"`
}

func GenesisHead() Head {
	return Head{Empty: true, Hash: hash.Genesis}
}

func (h Head) NextID() int32 {
	if h.Empty {
		return 0
	}
	return h.ID + 1
}

// PriorID is the prior id of the row appended after h.
func (h Head) PriorID() *int32 {
	if h.Empty {
		return nil
	}
	id := h.ID
	return &id
}

// AppendFunc builds the next envelope of a chain from its locked head.
type AppendFunc func(head Head) (Envelope[content.Record], error)
