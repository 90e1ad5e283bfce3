package keyring

import (
	"github.com/ccoin/zams/internal/signer"
	"github.com/ccoin/zams/pkg/types"
)

// AddressDeriver implements internal/store.AddressDeriver: given an
// imported FVK string and a cursor, it decodes the FVK and walks the
// diversifier index forward to the next valid address (spec.md §4.2
// "next-unused index, not the last-used, is stored").
type AddressDeriver struct {
	Network types.Network
}

// NextAddress decodes fvkKey and derives the next diversified address
// at or after cursor.
func (d AddressDeriver) NextAddress(fvkKey string, cursor uint64) (address string, diversifier [11]byte, nextCursor uint64, err error) {
	fvkBytes, err := signer.DecodeFVK(fvkKey)
	if err != nil {
		return "", diversifier, 0, err
	}
	return signer.NextDiversifiedAddress(fvkBytes, d.Network, cursor)
}
