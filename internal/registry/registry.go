// Package registry defines the asset-registry collaborator contract: the
// external system of record for ownership of unique, non-divisible assets.
// The marketplace consumes this interface both as a caller of TransferFrom
// on behalf of sellers and as a normal holder while escrowing.
package registry

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrUnknownAsset = errors.New("unknown asset")
	ErrNotOwner     = errors.New("caller is not the asset owner")
	ErrNotApproved  = errors.New("transfer not approved")
)

// Registry is the collaborator contract consumed by the marketplace.
// Implementations must treat each call as atomic: either the full effect
// takes place or an error is returned with no state change.
type Registry interface {
	// OwnerOf returns the current owner of the asset.
	OwnerOf(assetID uint64) (string, error)

	// TransferFrom moves the asset from `from` to `to` on behalf of
	// `spender`. It fails unless `spender` is `from` itself or has been
	// approved for this asset. Approval is cleared on transfer.
	TransferFrom(spender, from, to string, assetID uint64) error

	// IsApprovedForTransfer reports whether `spender` may move the asset.
	IsApprovedForTransfer(assetID uint64, spender string) (bool, error)

	// Mint creates a new asset owned by `to` and returns its id. The
	// marketplace acts as the minter for the collection it fronts.
	Mint(to, uri string) (uint64, error)
}

type asset struct {
	owner    string
	uri      string
	approved string
}

// Collection is an in-memory Registry used by the reference deployment and
// the tests. Semantics follow the usual unique-token rules: single owner,
// single approved operator per asset, approval reset on every transfer.
type Collection struct {
	mu     sync.Mutex
	assets map[uint64]*asset
	nextID uint64
}

func NewCollection() *Collection {
	return &Collection{assets: make(map[uint64]*asset)}
}

var _ Registry = (*Collection)(nil)

func (c *Collection) Mint(to, uri string) (uint64, error) {
	if to == "" {
		return 0, fmt.Errorf("mint to empty address")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.assets[id] = &asset{owner: to, uri: uri}
	return id, nil
}

func (c *Collection) OwnerOf(assetID uint64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, ok := c.assets[assetID]
	if !ok {
		return "", fmt.Errorf("asset %d: %w", assetID, ErrUnknownAsset)
	}
	return a.owner, nil
}

func (c *Collection) TokenURI(assetID uint64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, ok := c.assets[assetID]
	if !ok {
		return "", fmt.Errorf("asset %d: %w", assetID, ErrUnknownAsset)
	}
	return a.uri, nil
}

// Approve authorizes `spender` to transfer the asset once. Only the current
// owner may grant approval.
func (c *Collection) Approve(owner, spender string, assetID uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, ok := c.assets[assetID]
	if !ok {
		return fmt.Errorf("asset %d: %w", assetID, ErrUnknownAsset)
	}
	if a.owner != owner {
		return fmt.Errorf("asset %d: %w", assetID, ErrNotOwner)
	}
	a.approved = spender
	return nil
}

func (c *Collection) IsApprovedForTransfer(assetID uint64, spender string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, ok := c.assets[assetID]
	if !ok {
		return false, fmt.Errorf("asset %d: %w", assetID, ErrUnknownAsset)
	}
	return a.approved == spender, nil
}

func (c *Collection) TransferFrom(spender, from, to string, assetID uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, ok := c.assets[assetID]
	if !ok {
		return fmt.Errorf("asset %d: %w", assetID, ErrUnknownAsset)
	}
	if a.owner != from {
		return fmt.Errorf("asset %d not owned by %s: %w", assetID, from, ErrNotOwner)
	}
	if spender != from && a.approved != spender {
		return fmt.Errorf("asset %d: spender %s: %w", assetID, spender, ErrNotApproved)
	}
	a.owner = to
	a.approved = ""
	return nil
}
