package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/uptrace/bun"

	"github.com/chainhouse/auctionhouse/auctionhouse/auctions"
	"github.com/chainhouse/auctionhouse/auctionhouse/database/models"
)

var (
	errInsufficientBalance = errors.New("insufficient free balance")
	errBelowMinimumBalance = errors.New("transfer would leave balance below the existential minimum")
	errUnknownToken        = errors.New("unknown token")
	errNoTokenPermission   = errors.New("caller has no permission over token")
	errValueOutOfRange     = errors.New("value exceeds the signed 64-bit column range")
)

// pgInt converts to the BIGINT column range. The columns are signed, so
// values above MaxInt64 cannot be stored and are rejected rather than
// silently flipped.
func pgInt(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, errValueOutOfRange
	}
	return int64(v), nil
}

// EngineBackend runs auction engine transactions on Postgres. Each Txn is one
// SERIALIZABLE database transaction; rows read for mutation are locked with
// FOR UPDATE so concurrent operations on the same auction serialize instead
// of conflicting at commit.
type EngineBackend struct {
	db *bun.DB

	// existentialDeposit is the minimum balance a non-empty account must
	// hold after any transfer.
	existentialDeposit auctions.Balance
}

func NewEngineBackend(db *bun.DB, existentialDeposit auctions.Balance) *EngineBackend {
	return &EngineBackend{db: db, existentialDeposit: existentialDeposit}
}

func (b *EngineBackend) Begin(ctx context.Context) (auctions.Txn, error) {
	tx, err := b.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	return &engineTxn{tx: tx, existentialDeposit: b.existentialDeposit}, nil
}

// Credit adds free balance to an account outside any engine transaction, for
// seeding and imports.
func (b *EngineBackend) Credit(ctx context.Context, account auctions.AccountID, amount auctions.Balance) error {
	_, err := b.db.NewInsert().
		Model(&models.Account{ID: string(account), Balance: int64(amount), UpdatedAt: time.Now()}).
		On("CONFLICT (id) DO UPDATE").
		Set("balance = acct.balance + EXCLUDED.balance").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to credit account: %w", err)
	}
	return nil
}

// MintToken registers a token under an owner, for seeding and imports.
func (b *EngineBackend) MintToken(ctx context.Context, token auctions.Token, owner auctions.AccountID) error {
	_, err := b.db.NewInsert().
		Model(&models.Token{
			Collection: int64(token.Collection),
			Item:       int64(token.Item),
			Owner:      string(owner),
		}).
		On("CONFLICT (collection, item) DO UPDATE").
		Set("owner = EXCLUDED.owner").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to mint token: %w", err)
	}
	return nil
}

type engineTxn struct {
	tx                 bun.Tx
	existentialDeposit auctions.Balance
	done               bool
}

func (t *engineTxn) Commit() error {
	if t.done {
		return errors.New("transaction already finished")
	}
	t.done = true
	return t.tx.Commit()
}

func (t *engineTxn) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback()
}

func toAuctionModel(id auctions.AuctionID, a *auctions.Auction) (*models.Auction, error) {
	m := &models.Auction{
		Kind:      string(a.Kind),
		Owner:     string(a.General.Owner),
		Name:      a.General.Name,
		Closed:    a.General.Closed,
		UpdatedAt: time.Now(),
	}
	var err error
	if m.ID, err = pgInt(uint64(id)); err != nil {
		return nil, fmt.Errorf("auction id %d: %w", id, err)
	}
	if m.Collection, err = pgInt(uint64(a.General.Token.Collection)); err != nil {
		return nil, fmt.Errorf("collection %d: %w", a.General.Token.Collection, err)
	}
	if m.Item, err = pgInt(uint64(a.General.Token.Item)); err != nil {
		return nil, fmt.Errorf("item %d: %w", a.General.Token.Item, err)
	}
	if m.StartHeight, err = pgInt(a.General.Start); err != nil {
		return nil, fmt.Errorf("start height %d: %w", a.General.Start, err)
	}
	if m.EndHeight, err = pgInt(a.General.End); err != nil {
		return nil, fmt.Errorf("end height %d: %w", a.General.End, err)
	}
	if m.NextBidMin, err = pgInt(uint64(a.General.NextBidMin)); err != nil {
		return nil, fmt.Errorf("next bid minimum %d: %w", a.General.NextBidMin, err)
	}
	if a.General.ReservePrice != nil {
		rp, err := pgInt(uint64(*a.General.ReservePrice))
		if err != nil {
			return nil, fmt.Errorf("reserve price %d: %w", *a.General.ReservePrice, err)
		}
		m.ReservePrice = &rp
	}
	if a.General.LastBid != nil {
		m.LastBidder = string(a.General.LastBid.Bidder)
		if m.LastBidAmount, err = pgInt(uint64(a.General.LastBid.Amount)); err != nil {
			return nil, fmt.Errorf("last bid amount %d: %w", a.General.LastBid.Amount, err)
		}
	}
	return m, nil
}

func fromAuctionModel(m *models.Auction) *auctions.Auction {
	a := &auctions.Auction{
		Kind: auctions.Kind(m.Kind),
		General: auctions.GeneralData{
			Owner: auctions.AccountID(m.Owner),
			Token: auctions.Token{
				Collection: auctions.CollectionID(m.Collection),
				Item:       auctions.ItemID(m.Item),
			},
			Name:       m.Name,
			Start:      uint64(m.StartHeight),
			End:        uint64(m.EndHeight),
			NextBidMin: auctions.Balance(m.NextBidMin),
			Closed:     m.Closed,
		},
	}
	if m.ReservePrice != nil {
		rp := auctions.Balance(*m.ReservePrice)
		a.General.ReservePrice = &rp
	}
	if m.LastBidder != "" {
		a.General.LastBid = &auctions.LastBid{
			Bidder: auctions.AccountID(m.LastBidder),
			Amount: auctions.Balance(m.LastBidAmount),
		}
	}
	return a
}

func (t *engineTxn) Auction(ctx context.Context, id auctions.AuctionID) (*auctions.Auction, error) {
	m := new(models.Auction)
	err := t.tx.NewSelect().
		Model(m).
		Where("a.id = ?", int64(id)).
		For("UPDATE").
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auctions.ErrAuctionNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}
	return fromAuctionModel(m), nil
}

func (t *engineTxn) InsertAuction(ctx context.Context, id auctions.AuctionID, a *auctions.Auction) error {
	m, err := toAuctionModel(id, a)
	if err != nil {
		return err
	}
	m.CreatedAt = time.Now()
	if _, err := t.tx.NewInsert().Model(m).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert auction: %w", err)
	}
	return nil
}

func (t *engineTxn) UpdateAuction(ctx context.Context, id auctions.AuctionID, a *auctions.Auction) error {
	m, err := toAuctionModel(id, a)
	if err != nil {
		return err
	}
	res, err := t.tx.NewUpdate().
		Model(m).
		WherePK().
		ExcludeColumn("created_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update auction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return auctions.ErrAuctionNotExist
	}
	return nil
}

func (t *engineTxn) RemoveAuction(ctx context.Context, id auctions.AuctionID) error {
	res, err := t.tx.NewDelete().
		Model((*models.Auction)(nil)).
		Where("id = ?", int64(id)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to remove auction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return auctions.ErrAuctionNotExist
	}
	if _, err := t.tx.NewDelete().
		Model((*models.Contribution)(nil)).
		Where("auction_id = ?", int64(id)).
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove contributions: %w", err)
	}
	return nil
}

func (t *engineTxn) NextAuctionID(ctx context.Context) (auctions.AuctionID, error) {
	counter := new(models.Counter)
	err := t.tx.NewSelect().
		Model(counter).
		Where("name = ?", models.AuctionIDCounter).
		For("UPDATE").
		Scan(ctx)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		counter = &models.Counter{Name: models.AuctionIDCounter, Value: 1}
		if _, err := t.tx.NewInsert().Model(counter).Exec(ctx); err != nil {
			return 0, fmt.Errorf("failed to seed id counter: %w", err)
		}
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("failed to read id counter: %w", err)
	}

	id := auctions.AuctionID(counter.Value)
	if id > auctions.MaxAuctionID {
		return 0, auctions.ErrNoAvailableAuctionID
	}
	counter.Value++
	if _, err := t.tx.NewUpdate().Model(counter).WherePK().Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to advance id counter: %w", err)
	}
	return id, nil
}

func (t *engineTxn) AuctionOwner(ctx context.Context, id auctions.AuctionID) (auctions.AccountID, error) {
	m := new(models.AuctionOwner)
	err := t.tx.NewSelect().
		Model(m).
		Where("ao.auction_id = ?", int64(id)).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", auctions.ErrAuctionNotExist
	}
	if err != nil {
		return "", fmt.Errorf("failed to get auction owner: %w", err)
	}
	return auctions.AccountID(m.Owner), nil
}

func (t *engineTxn) SetAuctionOwner(ctx context.Context, id auctions.AuctionID, owner auctions.AccountID) error {
	_, err := t.tx.NewInsert().
		Model(&models.AuctionOwner{AuctionID: int64(id), Owner: string(owner)}).
		On("CONFLICT (auction_id) DO UPDATE").
		Set("owner = EXCLUDED.owner").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to set auction owner: %w", err)
	}
	return nil
}

func (t *engineTxn) RemoveAuctionOwner(ctx context.Context, id auctions.AuctionID) error {
	_, err := t.tx.NewDelete().
		Model((*models.AuctionOwner)(nil)).
		Where("auction_id = ?", int64(id)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to remove auction owner: %w", err)
	}
	return nil
}

func (t *engineTxn) Contribution(ctx context.Context, id auctions.AuctionID, bidder auctions.AccountID) (auctions.Balance, error) {
	m := new(models.Contribution)
	err := t.tx.NewSelect().
		Model(m).
		Where("ac.auction_id = ? AND ac.bidder = ?", int64(id), string(bidder)).
		For("UPDATE").
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get contribution: %w", err)
	}
	return auctions.Balance(m.Amount), nil
}

func (t *engineTxn) SetContribution(ctx context.Context, id auctions.AuctionID, bidder auctions.AccountID, amount auctions.Balance) error {
	_, err := t.tx.NewInsert().
		Model(&models.Contribution{
			AuctionID: int64(id),
			Bidder:    string(bidder),
			Amount:    int64(amount),
			UpdatedAt: time.Now(),
		}).
		On("CONFLICT (auction_id, bidder) DO UPDATE").
		Set("amount = EXCLUDED.amount").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to set contribution: %w", err)
	}
	return nil
}

func (t *engineTxn) RemoveContribution(ctx context.Context, id auctions.AuctionID, bidder auctions.AccountID) error {
	_, err := t.tx.NewDelete().
		Model((*models.Contribution)(nil)).
		Where("auction_id = ? AND bidder = ?", int64(id), string(bidder)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to remove contribution: %w", err)
	}
	return nil
}

func (t *engineTxn) Contributions(ctx context.Context, id auctions.AuctionID) (map[auctions.AccountID]auctions.Balance, error) {
	var rows []*models.Contribution
	err := t.tx.NewSelect().
		Model(&rows).
		Where("ac.auction_id = ?", int64(id)).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list contributions: %w", err)
	}
	out := make(map[auctions.AccountID]auctions.Balance, len(rows))
	for _, m := range rows {
		out[auctions.AccountID(m.Bidder)] = auctions.Balance(m.Amount)
	}
	return out, nil
}

func (t *engineTxn) ListOpen(ctx context.Context) ([]auctions.ListedAuction, error) {
	var rows []*models.Auction
	err := t.tx.NewSelect().
		Model(&rows).
		Where("a.closed = ?", false).
		Order("a.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list open auctions: %w", err)
	}
	out := make([]auctions.ListedAuction, 0, len(rows))
	for _, m := range rows {
		out = append(out, auctions.ListedAuction{
			ID:      auctions.AuctionID(m.ID),
			Auction: fromAuctionModel(m),
		})
	}
	return out, nil
}

// accountForUpdate loads (and row-locks) the account, returning a zero-value
// row for unknown accounts.
func (t *engineTxn) accountForUpdate(ctx context.Context, account auctions.AccountID) (*models.Account, bool, error) {
	m := new(models.Account)
	err := t.tx.NewSelect().
		Model(m).
		Where("acct.id = ?", string(account)).
		For("UPDATE").
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.Account{ID: string(account)}, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get account: %w", err)
	}
	return m, true, nil
}

func (t *engineTxn) frozenOf(ctx context.Context, account auctions.AccountID) (auctions.Balance, error) {
	var frozen int64
	err := t.tx.NewSelect().
		Model((*models.BalanceLock)(nil)).
		ColumnExpr("COALESCE(MAX(amount), 0)").
		Where("account = ?", string(account)).
		Scan(ctx, &frozen)
	if err != nil {
		return 0, fmt.Errorf("failed to read locks: %w", err)
	}
	return auctions.Balance(frozen), nil
}

func (t *engineTxn) Transfer(ctx context.Context, from, to auctions.AccountID, amount auctions.Balance) error {
	if amount == 0 {
		return nil
	}
	src, _, err := t.accountForUpdate(ctx, from)
	if err != nil {
		return err
	}
	bal := auctions.Balance(src.Balance)
	if bal < amount {
		return errInsufficientBalance
	}
	remaining := bal - amount
	frozen, err := t.frozenOf(ctx, from)
	if err != nil {
		return err
	}
	if remaining < frozen {
		return errInsufficientBalance
	}
	if remaining != 0 && remaining < t.existentialDeposit {
		return errBelowMinimumBalance
	}

	src.Balance = int64(remaining)
	src.UpdatedAt = time.Now()
	if _, err := t.tx.NewUpdate().Model(src).WherePK().Exec(ctx); err != nil {
		return fmt.Errorf("failed to debit account: %w", err)
	}
	_, err = t.tx.NewInsert().
		Model(&models.Account{ID: string(to), Balance: int64(amount), UpdatedAt: time.Now()}).
		On("CONFLICT (id) DO UPDATE").
		Set("balance = acct.balance + EXCLUDED.balance").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to credit account: %w", err)
	}
	return nil
}

func (t *engineTxn) SetLock(ctx context.Context, tag auctions.LockTag, account auctions.AccountID, amount auctions.Balance) error {
	acct, _, err := t.accountForUpdate(ctx, account)
	if err != nil {
		return err
	}
	if auctions.Balance(acct.Balance) < amount {
		return errInsufficientBalance
	}
	_, err = t.tx.NewInsert().
		Model(&models.BalanceLock{Account: string(account), Tag: string(tag), Amount: int64(amount)}).
		On("CONFLICT (account, tag) DO UPDATE").
		Set("amount = EXCLUDED.amount").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to set lock: %w", err)
	}
	return nil
}

func (t *engineTxn) RemoveLock(ctx context.Context, tag auctions.LockTag, account auctions.AccountID) error {
	_, err := t.tx.NewDelete().
		Model((*models.BalanceLock)(nil)).
		Where("account = ? AND tag = ?", string(account), string(tag)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to remove lock: %w", err)
	}
	return nil
}

func (t *engineTxn) BalanceOf(ctx context.Context, account auctions.AccountID) (auctions.Balance, error) {
	m := new(models.Account)
	err := t.tx.NewSelect().
		Model(m).
		Where("acct.id = ?", string(account)).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return auctions.Balance(m.Balance), nil
}

// tokenForUpdate loads (and row-locks) the token row.
func (t *engineTxn) tokenForUpdate(ctx context.Context, token auctions.Token) (*models.Token, error) {
	m := new(models.Token)
	err := t.tx.NewSelect().
		Model(m).
		Where("t.collection = ? AND t.item = ?", int64(token.Collection), int64(token.Item)).
		For("UPDATE").
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errUnknownToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return m, nil
}

func (t *engineTxn) OwnerOf(ctx context.Context, token auctions.Token) (auctions.AccountID, bool, error) {
	m := new(models.Token)
	err := t.tx.NewSelect().
		Model(m).
		Where("t.collection = ? AND t.item = ?", int64(token.Collection), int64(token.Item)).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get token: %w", err)
	}
	return auctions.AccountID(m.Owner), true, nil
}

func (t *engineTxn) CanTransfer(ctx context.Context, token auctions.Token) (bool, error) {
	m, err := t.tokenForUpdate(ctx, token)
	if err != nil {
		return false, err
	}
	return !m.Frozen, nil
}

func (t *engineTxn) FreezeToken(ctx context.Context, caller auctions.AccountID, token auctions.Token) error {
	return t.setTokenFrozen(ctx, caller, token, true)
}

func (t *engineTxn) ThawToken(ctx context.Context, caller auctions.AccountID, token auctions.Token) error {
	return t.setTokenFrozen(ctx, caller, token, false)
}

func (t *engineTxn) setTokenFrozen(ctx context.Context, caller auctions.AccountID, token auctions.Token, frozen bool) error {
	m, err := t.tokenForUpdate(ctx, token)
	if err != nil {
		return err
	}
	if m.Owner != string(caller) {
		return errNoTokenPermission
	}
	m.Frozen = frozen
	if _, err := t.tx.NewUpdate().Model(m).WherePK().Exec(ctx); err != nil {
		return fmt.Errorf("failed to update token: %w", err)
	}
	return nil
}

func (t *engineTxn) TransferToken(ctx context.Context, caller auctions.AccountID, token auctions.Token, to auctions.AccountID) error {
	m, err := t.tokenForUpdate(ctx, token)
	if err != nil {
		return err
	}
	if m.Owner != string(caller) {
		return errNoTokenPermission
	}
	if m.Frozen {
		return auctions.ErrTokenFrozen
	}
	m.Owner = string(to)
	if _, err := t.tx.NewUpdate().Model(m).WherePK().Exec(ctx); err != nil {
		return fmt.Errorf("failed to transfer token: %w", err)
	}
	return nil
}
