package auctions

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// escrowNamespace seeds deterministic escrow account derivation. Changing it
// would strand funds held by existing escrow accounts.
var escrowNamespace = uuid.MustParse("6cf34d7e-7570-4161-8273-5c7579706e66")

// EscrowAccount derives the ledger account holding a TopUp auction's funds in
// custody. The derivation is a pure function of the auction id, so every
// participant computes the same account without coordination.
func EscrowAccount(id AuctionID) AccountID {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(id))
	return AccountID(fmt.Sprintf("escrow:%s", uuid.NewSHA1(escrowNamespace, buf[:])))
}

// auctionLockTag derives the per-auction lock name used by English custody.
func auctionLockTag(id AuctionID) LockTag {
	return LockTag(fmt.Sprintf("auction:%d", id))
}
