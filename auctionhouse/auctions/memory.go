package auctions

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var (
	errInsufficientBalance = errors.New("insufficient free balance")
	errBelowMinimumBalance = errors.New("transfer would leave balance below the existential minimum")
	errUnknownToken        = errors.New("unknown token")
	errNoTokenPermission   = errors.New("caller has no permission over token")
)

type tokenRecord struct {
	Owner  AccountID
	Frozen bool
}

// memoryState is one consistent snapshot of the whole world: auctions, owner
// index, contributions, ledger and token registry.
type memoryState struct {
	nextID        AuctionID
	auctions      map[AuctionID]*Auction
	owners        map[AuctionID]AccountID
	contributions map[AuctionID]map[AccountID]Balance
	balances      map[AccountID]Balance
	locks         map[AccountID]map[LockTag]Balance
	tokens        map[Token]tokenRecord
}

func newMemoryState() *memoryState {
	return &memoryState{
		auctions:      make(map[AuctionID]*Auction),
		owners:        make(map[AuctionID]AccountID),
		contributions: make(map[AuctionID]map[AccountID]Balance),
		balances:      make(map[AccountID]Balance),
		locks:         make(map[AccountID]map[LockTag]Balance),
		tokens:        make(map[Token]tokenRecord),
	}
}

func (s *memoryState) clone() *memoryState {
	c := newMemoryState()
	c.nextID = s.nextID
	for id, a := range s.auctions {
		c.auctions[id] = a.Clone()
	}
	for id, owner := range s.owners {
		c.owners[id] = owner
	}
	for id, m := range s.contributions {
		cm := make(map[AccountID]Balance, len(m))
		for acct, amount := range m {
			cm[acct] = amount
		}
		c.contributions[id] = cm
	}
	for acct, b := range s.balances {
		c.balances[acct] = b
	}
	for acct, m := range s.locks {
		lm := make(map[LockTag]Balance, len(m))
		for tag, amount := range m {
			lm[tag] = amount
		}
		c.locks[acct] = lm
	}
	for tok, rec := range s.tokens {
		c.tokens[tok] = rec
	}
	return c
}

// frozenOf is the largest active lock on the account. Locks overlap rather
// than stack, so only the maximum is unspendable.
func (s *memoryState) frozenOf(account AccountID) Balance {
	var frozen Balance
	for _, amount := range s.locks[account] {
		if amount > frozen {
			frozen = amount
		}
	}
	return frozen
}

// MemoryBackend keeps everything in process. Begin takes an exclusive
// snapshot of the state; Commit swaps it in, Rollback discards it. The mutex
// is held for the whole transaction, which serializes operations the way a
// single-threaded chain runtime would.
type MemoryBackend struct {
	mu    sync.Mutex
	state *memoryState

	// existentialDeposit is the minimum balance a non-empty account must
	// hold after any transfer.
	existentialDeposit Balance
}

func NewMemoryBackend(existentialDeposit Balance) *MemoryBackend {
	return &MemoryBackend{
		state:              newMemoryState(),
		existentialDeposit: existentialDeposit,
	}
}

// Credit adds free balance to an account, for seeding.
func (b *MemoryBackend) Credit(account AccountID, amount Balance) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.balances[account] += amount
}

// MintToken registers a token under an owner, for seeding.
func (b *MemoryBackend) MintToken(token Token, owner AccountID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.tokens[token] = tokenRecord{Owner: owner}
}

// Balance reports the account's total balance, locks included.
func (b *MemoryBackend) Balance(account AccountID) Balance {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.balances[account]
}

// TokenOwner reports the current registry owner of token.
func (b *MemoryBackend) TokenOwner(token Token) (AccountID, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.state.tokens[token]
	return rec.Owner, ok
}

func (b *MemoryBackend) Begin(ctx context.Context) (Txn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	return &memoryTxn{backend: b, state: b.state.clone()}, nil
}

// memoryTxn works on a private clone; nothing is visible outside until
// Commit swaps the clone in.
type memoryTxn struct {
	backend *MemoryBackend
	state   *memoryState
	done    bool
}

func (t *memoryTxn) Commit() error {
	if t.done {
		return errors.New("transaction already finished")
	}
	t.done = true
	t.backend.state = t.state
	t.backend.mu.Unlock()
	return nil
}

func (t *memoryTxn) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.backend.mu.Unlock()
	return nil
}

func (t *memoryTxn) Auction(_ context.Context, id AuctionID) (*Auction, error) {
	a, ok := t.state.auctions[id]
	if !ok {
		return nil, ErrAuctionNotExist
	}
	return a, nil
}

func (t *memoryTxn) InsertAuction(_ context.Context, id AuctionID, a *Auction) error {
	t.state.auctions[id] = a.Clone()
	return nil
}

func (t *memoryTxn) UpdateAuction(_ context.Context, id AuctionID, a *Auction) error {
	if _, ok := t.state.auctions[id]; !ok {
		return ErrAuctionNotExist
	}
	t.state.auctions[id] = a.Clone()
	return nil
}

func (t *memoryTxn) RemoveAuction(_ context.Context, id AuctionID) error {
	if _, ok := t.state.auctions[id]; !ok {
		return ErrAuctionNotExist
	}
	delete(t.state.auctions, id)
	delete(t.state.contributions, id)
	return nil
}

func (t *memoryTxn) NextAuctionID(_ context.Context) (AuctionID, error) {
	if t.state.nextID > MaxAuctionID {
		return 0, ErrNoAvailableAuctionID
	}
	id := t.state.nextID
	t.state.nextID++
	return id, nil
}

func (t *memoryTxn) AuctionOwner(_ context.Context, id AuctionID) (AccountID, error) {
	owner, ok := t.state.owners[id]
	if !ok {
		return "", ErrAuctionNotExist
	}
	return owner, nil
}

func (t *memoryTxn) SetAuctionOwner(_ context.Context, id AuctionID, owner AccountID) error {
	t.state.owners[id] = owner
	return nil
}

func (t *memoryTxn) RemoveAuctionOwner(_ context.Context, id AuctionID) error {
	delete(t.state.owners, id)
	return nil
}

func (t *memoryTxn) Contribution(_ context.Context, id AuctionID, bidder AccountID) (Balance, error) {
	return t.state.contributions[id][bidder], nil
}

func (t *memoryTxn) SetContribution(_ context.Context, id AuctionID, bidder AccountID, amount Balance) error {
	m, ok := t.state.contributions[id]
	if !ok {
		m = make(map[AccountID]Balance)
		t.state.contributions[id] = m
	}
	m[bidder] = amount
	return nil
}

func (t *memoryTxn) RemoveContribution(_ context.Context, id AuctionID, bidder AccountID) error {
	delete(t.state.contributions[id], bidder)
	return nil
}

func (t *memoryTxn) Contributions(_ context.Context, id AuctionID) (map[AccountID]Balance, error) {
	out := make(map[AccountID]Balance, len(t.state.contributions[id]))
	for acct, amount := range t.state.contributions[id] {
		out[acct] = amount
	}
	return out, nil
}

func (t *memoryTxn) ListOpen(_ context.Context) ([]ListedAuction, error) {
	out := make([]ListedAuction, 0, len(t.state.auctions))
	for id, a := range t.state.auctions {
		if a.General.Closed {
			continue
		}
		out = append(out, ListedAuction{ID: id, Auction: a.Clone()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memoryTxn) Transfer(_ context.Context, from, to AccountID, amount Balance) error {
	if amount == 0 {
		return nil
	}
	bal := t.state.balances[from]
	if bal < amount {
		return errInsufficientBalance
	}
	remaining := bal - amount
	if remaining < t.state.frozenOf(from) {
		return errInsufficientBalance
	}
	if remaining != 0 && remaining < t.backend.existentialDeposit {
		return errBelowMinimumBalance
	}
	if remaining == 0 {
		delete(t.state.balances, from)
	} else {
		t.state.balances[from] = remaining
	}
	t.state.balances[to] += amount
	return nil
}

func (t *memoryTxn) SetLock(_ context.Context, tag LockTag, account AccountID, amount Balance) error {
	if t.state.balances[account] < amount {
		return errInsufficientBalance
	}
	m, ok := t.state.locks[account]
	if !ok {
		m = make(map[LockTag]Balance)
		t.state.locks[account] = m
	}
	m[tag] = amount
	return nil
}

func (t *memoryTxn) RemoveLock(_ context.Context, tag LockTag, account AccountID) error {
	delete(t.state.locks[account], tag)
	return nil
}

func (t *memoryTxn) BalanceOf(_ context.Context, account AccountID) (Balance, error) {
	return t.state.balances[account], nil
}

func (t *memoryTxn) OwnerOf(_ context.Context, token Token) (AccountID, bool, error) {
	rec, ok := t.state.tokens[token]
	if !ok {
		return "", false, nil
	}
	return rec.Owner, true, nil
}

func (t *memoryTxn) CanTransfer(_ context.Context, token Token) (bool, error) {
	rec, ok := t.state.tokens[token]
	if !ok {
		return false, errUnknownToken
	}
	return !rec.Frozen, nil
}

func (t *memoryTxn) FreezeToken(_ context.Context, caller AccountID, token Token) error {
	rec, ok := t.state.tokens[token]
	if !ok {
		return errUnknownToken
	}
	if rec.Owner != caller {
		return errNoTokenPermission
	}
	rec.Frozen = true
	t.state.tokens[token] = rec
	return nil
}

func (t *memoryTxn) ThawToken(_ context.Context, caller AccountID, token Token) error {
	rec, ok := t.state.tokens[token]
	if !ok {
		return errUnknownToken
	}
	if rec.Owner != caller {
		return errNoTokenPermission
	}
	rec.Frozen = false
	t.state.tokens[token] = rec
	return nil
}

func (t *memoryTxn) TransferToken(_ context.Context, caller AccountID, token Token, to AccountID) error {
	rec, ok := t.state.tokens[token]
	if !ok {
		return errUnknownToken
	}
	if rec.Owner != caller {
		return errNoTokenPermission
	}
	if rec.Frozen {
		return ErrTokenFrozen
	}
	rec.Owner = to
	t.state.tokens[token] = rec
	return nil
}
