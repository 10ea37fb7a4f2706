// Package marketplace implements the trading core: fixed-price direct
// listings and ascending English auctions over assets held by an external
// asset registry, paid for through an external value ledger. The
// marketplace escrows both the asset and the highest bid for the lifetime
// of a listing or auction, and guarantees that asset custody and value
// custody always change together or not at all.
package marketplace

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Goshimadev/HeroesMarketplace/internal/ledger"
	"github.com/Goshimadev/HeroesMarketplace/internal/registry"
)

// Config is the shared auction configuration. It is mutated only through
// the owner-gated setters and read under a snapshot by every auction
// operation, so a duration/minBids pair is never observed torn.
type Config struct {
	// AuctionDuration keeps an auction open while now < start + duration.
	AuctionDuration time.Duration
	// MinBids is the minimum accepted-bid count for an auction to resolve
	// as a sale instead of a cancellation.
	MinBids uint64
}

const (
	DefaultAuctionDuration = 3 * 24 * time.Hour
	DefaultMinBids         = 2
	// DefaultAccount is the escrow identity the marketplace acts under
	// towards the registry and the ledger.
	DefaultAccount = "marketplace"
)

// Listing is a read snapshot of an active fixed-price sale.
type Listing struct {
	Seller string
	Price  decimal.Decimal
}

// Auction is a read snapshot of an open auction. Bidder is empty exactly
// when CurrentBid is zero and BidsCount is zero.
type Auction struct {
	Seller     string
	StartTime  time.Time
	CurrentBid decimal.Decimal
	Bidder     string
	BidsCount  uint64
}

// Per-asset sale state, modeled as an explicit tagged variant rather than
// record presence.
type phase int

const (
	phaseEmpty phase = iota
	phaseListed
	phaseOnAuction
)

type itemState struct {
	mu      sync.Mutex
	phase   phase
	listing Listing
	auction Auction
}

// Marketplace owns the Listing and Auction records exclusively and
// serializes all operations touching the same asset id. Operations on
// unrelated assets run concurrently.
type Marketplace struct {
	registry registry.Registry
	ledger   ledger.Ledger
	owner    string
	account  string
	sink     Sink
	logger   *zap.SugaredLogger
	now      func() time.Time

	cfgMu sync.RWMutex
	cfg   Config

	mu    sync.Mutex
	items map[uint64]*itemState
}

type Options struct {
	// Owner is the identity allowed to change auction configuration.
	Owner string
	// Account is the escrow identity; defaults to DefaultAccount.
	Account string
	// Config seeds the auction configuration; zero fields get defaults.
	Config Config
	// Sink receives every emitted event; nil drops events.
	Sink Sink
	// Now overrides the clock, for tests.
	Now    func() time.Time
	Logger *zap.SugaredLogger
}

func New(reg registry.Registry, led ledger.Ledger, opts Options) *Marketplace {
	if opts.Account == "" {
		opts.Account = DefaultAccount
	}
	if opts.Config.AuctionDuration <= 0 {
		opts.Config.AuctionDuration = DefaultAuctionDuration
	}
	if opts.Config.MinBids == 0 {
		opts.Config.MinBids = DefaultMinBids
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &Marketplace{
		registry: reg,
		ledger:   led,
		owner:    opts.Owner,
		account:  opts.Account,
		sink:     opts.Sink,
		logger:   opts.Logger,
		now:      opts.Now,
		cfg:      opts.Config,
		items:    make(map[uint64]*itemState),
	}
}

// Account returns the escrow identity the marketplace operates under.
func (m *Marketplace) Account() string { return m.account }

// Owner returns the administration identity.
func (m *Marketplace) Owner() string { return m.owner }

func (m *Marketplace) item(assetID uint64) *itemState {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.items[assetID]
	if !ok {
		st = &itemState{}
		m.items[assetID] = st
	}
	return st
}

// ConfigSnapshot returns a consistent copy of the shared configuration.
func (m *Marketplace) ConfigSnapshot() Config {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	return m.cfg
}

// custodyStep is one external transfer plus its reversal. Steps run in
// order; when one fails, the already-applied steps are compensated in
// reverse so the whole operation leaves no partial custody change.
type custodyStep struct {
	name string
	do   func() error
	undo func() error
}

func (m *Marketplace) runAtomic(steps ...custodyStep) *Error {
	for i, s := range steps {
		err := s.do()
		if err == nil {
			continue
		}
		for j := i - 1; j >= 0; j-- {
			if uerr := steps[j].undo(); uerr != nil {
				// Nothing left to do but scream: custody is now
				// inconsistent and needs operator attention.
				m.logger.Errorw("custody compensation failed",
					"step", steps[j].name,
					"failed_step", s.name,
					"error", uerr,
				)
			}
		}
		return collaboratorError(s.name, err)
	}
	return nil
}

// requireSellerCustody verifies the caller owns the asset and has approved
// the marketplace to move it. Assets already escrowed are rejected here
// too, since the registry reports the marketplace as their owner.
func (m *Marketplace) requireSellerCustody(caller string, assetID uint64) error {
	owner, err := m.registry.OwnerOf(assetID)
	if err != nil {
		return collaboratorError("resolve asset owner", err)
	}
	if owner != caller {
		return ErrNotAssetOwner
	}
	ok, err := m.registry.IsApprovedForTransfer(assetID, m.account)
	if err != nil {
		return collaboratorError("check transfer approval", err)
	}
	if !ok {
		return ErrNotApproved
	}
	return nil
}

// CreateItem mints a new asset for the caller through the registry.
func (m *Marketplace) CreateItem(ctx context.Context, caller, uri string) (uint64, error) {
	assetID, err := m.registry.Mint(caller, uri)
	if err != nil {
		return 0, collaboratorError("mint asset", err)
	}
	m.emit(ctx, Event{Type: EventItemCreated, AssetID: assetID, Seller: caller, URI: uri})
	return assetID, nil
}

// ListItem escrows the caller's asset and records a fixed-price listing.
func (m *Marketplace) ListItem(ctx context.Context, caller string, assetID uint64, price decimal.Decimal) error {
	if !price.IsPositive() {
		return ErrZeroPrice
	}

	st := m.item(assetID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := m.requireSellerCustody(caller, assetID); err != nil {
		return err
	}
	if err := m.registry.TransferFrom(m.account, caller, m.account, assetID); err != nil {
		return collaboratorError("escrow asset", err)
	}

	st.phase = phaseListed
	st.listing = Listing{Seller: caller, Price: price}

	m.emit(ctx, Event{Type: EventListing, AssetID: assetID, Seller: caller, Amount: price.String()})
	return nil
}

// Cancel returns a listed asset to its seller and removes the listing.
func (m *Marketplace) Cancel(ctx context.Context, caller string, assetID uint64) error {
	st := m.item(assetID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.phase != phaseListed {
		return ErrNotListed
	}
	if st.listing.Seller != caller {
		return ErrNotSeller
	}
	if err := m.registry.TransferFrom(m.account, m.account, caller, assetID); err != nil {
		return collaboratorError("return asset", err)
	}

	seller := st.listing.Seller
	st.phase = phaseEmpty
	st.listing = Listing{}

	m.emit(ctx, Event{Type: EventCancel, AssetID: assetID, Seller: seller})
	return nil
}

// BuyItem sells a listed asset to the caller. The payment is routed
// through the escrow account so a registry failure can be compensated by
// refunding funds the marketplace itself holds.
func (m *Marketplace) BuyItem(ctx context.Context, caller string, assetID uint64) error {
	st := m.item(assetID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.phase != phaseListed {
		return ErrNotListed
	}
	l := st.listing

	if err := m.runAtomic(
		custodyStep{
			name: "collect payment",
			do:   func() error { return m.ledger.TransferFrom(m.account, caller, m.account, l.Price) },
			undo: func() error { return m.ledger.Transfer(m.account, caller, l.Price) },
		},
		custodyStep{
			name: "deliver asset",
			do:   func() error { return m.registry.TransferFrom(m.account, m.account, caller, assetID) },
			undo: func() error { return m.registry.TransferFrom(caller, caller, m.account, assetID) },
		},
		custodyStep{
			name: "pay seller",
			do:   func() error { return m.ledger.Transfer(m.account, l.Seller, l.Price) },
			undo: func() error { return m.ledger.Transfer(l.Seller, m.account, l.Price) },
		},
	); err != nil {
		return err
	}

	st.phase = phaseEmpty
	st.listing = Listing{}

	m.emit(ctx, Event{Type: EventItemSold, AssetID: assetID, Seller: l.Seller, Buyer: caller, Amount: l.Price.String()})
	return nil
}

// ListItemOnAuction escrows the caller's asset and opens an auction with
// no bids. The auction clock starts now; its duration is read from the
// shared configuration at bid and finalize time.
func (m *Marketplace) ListItemOnAuction(ctx context.Context, caller string, assetID uint64) error {
	st := m.item(assetID)
	st.mu.Lock()
	defer st.mu.Unlock()

	// An asset already listed or on auction is owned by the escrow
	// account, so the custody check below rejects a relist attempt.
	if err := m.requireSellerCustody(caller, assetID); err != nil {
		return err
	}
	if err := m.registry.TransferFrom(m.account, caller, m.account, assetID); err != nil {
		return collaboratorError("escrow asset", err)
	}

	st.phase = phaseOnAuction
	st.auction = Auction{Seller: caller, StartTime: m.now()}

	m.emit(ctx, Event{Type: EventAuctionStarted, AssetID: assetID, Seller: caller})
	return nil
}

// MakeBid escrows the caller's bid and refunds the displaced bidder, if
// any, in the same atomic operation. Equal bids are rejected: each
// accepted bid must strictly exceed the current one.
func (m *Marketplace) MakeBid(ctx context.Context, caller string, assetID uint64, amount decimal.Decimal) error {
	st := m.item(assetID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.phase != phaseOnAuction {
		return ErrNoAuction
	}
	a := st.auction

	cfg := m.ConfigSnapshot()
	if !m.now().Before(a.StartTime.Add(cfg.AuctionDuration)) {
		return ErrAuctionOver
	}
	if !amount.GreaterThan(a.CurrentBid) {
		return ErrBidTooLow
	}

	steps := []custodyStep{{
		name: "escrow bid",
		do:   func() error { return m.ledger.TransferFrom(m.account, caller, m.account, amount) },
		undo: func() error { return m.ledger.Transfer(m.account, caller, amount) },
	}}
	if a.Bidder != "" {
		prev, prevBid := a.Bidder, a.CurrentBid
		steps = append(steps, custodyStep{
			name: "refund outbid bidder",
			do:   func() error { return m.ledger.Transfer(m.account, prev, prevBid) },
			undo: func() error { return m.ledger.Transfer(prev, m.account, prevBid) },
		})
	}
	if err := m.runAtomic(steps...); err != nil {
		return err
	}

	st.auction.Bidder = caller
	st.auction.CurrentBid = amount
	st.auction.BidsCount++

	m.emit(ctx, Event{Type: EventBid, AssetID: assetID, Seller: a.Seller, Bidder: caller, Amount: amount.String()})
	return nil
}

// FinishAuction resolves an elapsed auction. With fewer than minBids
// accepted bids the auction cancels: the asset returns to the seller and
// the sole escrowed bid, if any, is refunded. Otherwise the asset goes to
// the highest bidder and the escrowed bid is paid out to the seller.
// Either way the auction record is removed; anyone may call this once the
// configured duration has elapsed.
func (m *Marketplace) FinishAuction(ctx context.Context, assetID uint64) error {
	st := m.item(assetID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.phase != phaseOnAuction {
		return ErrNoAuction
	}
	a := st.auction

	cfg := m.ConfigSnapshot()
	if m.now().Before(a.StartTime.Add(cfg.AuctionDuration)) {
		return ErrAuctionOpen
	}

	// A bidderless auction always cancels, even when the threshold was
	// lowered to zero after it opened.
	if a.BidsCount < cfg.MinBids || a.Bidder == "" {
		steps := []custodyStep{{
			name: "return asset",
			do:   func() error { return m.registry.TransferFrom(m.account, m.account, a.Seller, assetID) },
			undo: func() error { return m.registry.TransferFrom(a.Seller, a.Seller, m.account, assetID) },
		}}
		if a.Bidder != "" {
			steps = append(steps, custodyStep{
				name: "refund bidder",
				do:   func() error { return m.ledger.Transfer(m.account, a.Bidder, a.CurrentBid) },
				undo: func() error { return m.ledger.Transfer(a.Bidder, m.account, a.CurrentBid) },
			})
		}
		if err := m.runAtomic(steps...); err != nil {
			return err
		}

		st.phase = phaseEmpty
		st.auction = Auction{}

		m.emit(ctx, Event{Type: EventAuctionCanceled, AssetID: assetID, Seller: a.Seller})
		return nil
	}

	if err := m.runAtomic(
		custodyStep{
			name: "deliver asset",
			do:   func() error { return m.registry.TransferFrom(m.account, m.account, a.Bidder, assetID) },
			undo: func() error { return m.registry.TransferFrom(a.Bidder, a.Bidder, m.account, assetID) },
		},
		custodyStep{
			name: "pay seller",
			do:   func() error { return m.ledger.Transfer(m.account, a.Seller, a.CurrentBid) },
			undo: func() error { return m.ledger.Transfer(a.Seller, m.account, a.CurrentBid) },
		},
	); err != nil {
		return err
	}

	st.phase = phaseEmpty
	st.auction = Auction{}

	m.emit(ctx, Event{Type: EventAuctionFinished, AssetID: assetID, Seller: a.Seller, Bidder: a.Bidder, Amount: a.CurrentBid.String()})
	return nil
}

// SetAuctionDuration replaces the shared duration for auctions evaluated
// from now on. An already-open auction reads the new value at bid and
// finalize time, so its remaining time shifts accordingly.
func (m *Marketplace) SetAuctionDuration(ctx context.Context, caller string, d time.Duration) error {
	if caller != m.owner {
		return ErrNotAdmin
	}
	if d <= 0 {
		return ErrZeroDuration
	}
	m.cfgMu.Lock()
	m.cfg.AuctionDuration = d
	m.cfgMu.Unlock()

	m.emit(ctx, Event{Type: EventDurationChanged, DurationSec: int64(d / time.Second)})
	return nil
}

// SetMinBids replaces the shared success threshold. No lower bound is
// enforced beyond non-negativity.
func (m *Marketplace) SetMinBids(ctx context.Context, caller string, n uint64) error {
	if caller != m.owner {
		return ErrNotAdmin
	}
	m.cfgMu.Lock()
	m.cfg.MinBids = n
	m.cfgMu.Unlock()

	m.emit(ctx, Event{Type: EventMinBidsChanged, MinBids: n})
	return nil
}

// ListingInfo returns a snapshot of the active listing for the asset.
func (m *Marketplace) ListingInfo(assetID uint64) (Listing, error) {
	st := m.item(assetID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.phase != phaseListed {
		return Listing{}, ErrNotListed
	}
	return st.listing, nil
}

// AuctionInfo returns a snapshot of the open auction for the asset.
func (m *Marketplace) AuctionInfo(assetID uint64) (Auction, error) {
	st := m.item(assetID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.phase != phaseOnAuction {
		return Auction{}, ErrNoAuction
	}
	return st.auction, nil
}

func (m *Marketplace) emit(ctx context.Context, ev Event) {
	ev.ID = uuid.NewString()
	ev.At = m.now()

	m.logger.Infow("marketplace event",
		"event", string(ev.Type),
		"asset_id", ev.AssetID,
		"seller", ev.Seller,
		"buyer", ev.Buyer,
		"bidder", ev.Bidder,
		"amount", ev.Amount,
	)
	if m.sink != nil {
		m.sink.Publish(ctx, ev)
	}
}
