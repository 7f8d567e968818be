// Package registry maintains the whitelist of alternative deposit assets.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	klog "github.com/Klingon-tech/klingnet-vault/internal/log"
	"github.com/Klingon-tech/klingnet-vault/internal/storage"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// Registry errors.
var (
	ErrNotWhitelisted = errors.New("asset not whitelisted")
	ErrUnauthorized   = errors.New("caller is not the operator")
	ErrInvalidAsset   = errors.New("invalid asset address")
)

// Entry is the persisted record of a whitelisted asset.
type Entry struct {
	Asset   common.Address `json:"asset"`
	AddedBy common.Address `json:"added_by"`
	AddedAt int64          `json:"added_at"`
}

// Registry is the operator-controlled whitelist. Membership checks are
// served from an in-memory set loaded from storage on open.
type Registry struct {
	mu       sync.Mutex
	db       storage.DB
	operator common.Address
	assets   mapset.Set[common.Address]
	onAdded  func(asset common.Address)
	now      func() time.Time
	logger   zerolog.Logger
}

// New opens the whitelist stored in db. Keys are the 20-byte asset
// addresses, values are JSON-encoded entries.
func New(db storage.DB, operator common.Address) (*Registry, error) {
	if operator == (common.Address{}) {
		return nil, fmt.Errorf("registry: %w: zero operator", ErrUnauthorized)
	}
	r := &Registry{
		db:       db,
		operator: operator,
		assets:   mapset.NewSet[common.Address](),
		now:      time.Now,
		logger:   klog.Registry,
	}

	err := db.ForEach(nil, func(key, _ []byte) error {
		if len(key) != common.AddressLength {
			return fmt.Errorf("registry: malformed key %x", key)
		}
		r.assets.Add(common.BytesToAddress(key))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load whitelist: %w", err)
	}
	return r, nil
}

// SetLogger replaces the registry's logger.
func (r *Registry) SetLogger(logger zerolog.Logger) {
	r.mu.Lock()
	r.logger = logger.With().Str("component", "registry").Logger()
	r.mu.Unlock()
}

// Operator returns the account allowed to modify the whitelist.
func (r *Registry) Operator() common.Address {
	return r.operator
}

// OnAdded registers a hook invoked after an asset is first whitelisted.
func (r *Registry) OnAdded(fn func(asset common.Address)) {
	r.mu.Lock()
	r.onAdded = fn
	r.mu.Unlock()
}

// AddWhitelist adds asset to the whitelist. Re-adding an asset is a no-op
// reported as added=false.
func (r *Registry) AddWhitelist(caller, asset common.Address) (bool, error) {
	if caller != r.operator {
		return false, fmt.Errorf("add whitelist: %w", ErrUnauthorized)
	}
	if asset == (common.Address{}) {
		return false, fmt.Errorf("add whitelist: %w", ErrInvalidAsset)
	}

	r.mu.Lock()
	if r.assets.Contains(asset) {
		r.mu.Unlock()
		return false, nil
	}
	entry := Entry{Asset: asset, AddedBy: caller, AddedAt: r.now().Unix()}
	data, err := json.Marshal(entry)
	if err != nil {
		r.mu.Unlock()
		return false, fmt.Errorf("marshal whitelist entry: %w", err)
	}
	if err := r.db.Put(asset.Bytes(), data); err != nil {
		r.mu.Unlock()
		return false, fmt.Errorf("store whitelist entry: %w", err)
	}
	r.assets.Add(asset)
	hook := r.onAdded
	r.mu.Unlock()

	r.logger.Info().Str("asset", asset.Hex()).Msg("Asset whitelisted")
	if hook != nil {
		hook(asset)
	}
	return true, nil
}

// RemoveWhitelist delists asset. Removing an unknown asset is a no-op
// reported as removed=false.
func (r *Registry) RemoveWhitelist(caller, asset common.Address) (bool, error) {
	if caller != r.operator {
		return false, fmt.Errorf("remove whitelist: %w", ErrUnauthorized)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.assets.Contains(asset) {
		return false, nil
	}
	if err := r.db.Delete(asset.Bytes()); err != nil {
		return false, fmt.Errorf("delete whitelist entry: %w", err)
	}
	r.assets.Remove(asset)

	r.logger.Info().Str("asset", asset.Hex()).Msg("Asset delisted")
	return true, nil
}

// IsWhitelisted reports whether asset is currently accepted.
func (r *Registry) IsWhitelisted(asset common.Address) bool {
	return r.assets.Contains(asset)
}

// List returns the whitelisted assets ordered by address.
func (r *Registry) List() []common.Address {
	out := r.assets.ToSlice()
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

// Get returns the stored entry for asset.
func (r *Registry) Get(asset common.Address) (*Entry, error) {
	data, err := r.db.Get(asset.Bytes())
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotWhitelisted, asset)
	}
	if err != nil {
		return nil, fmt.Errorf("load whitelist entry: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal whitelist entry: %w", err)
	}
	return &entry, nil
}
