package permission

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/campusauth/account"
)

// Snapshot is the derived access view of one user: role, branch and the
// effective page set after overrides.
type Snapshot struct {
	UserID     string    `json:"uid"`
	Role       string    `json:"role"`
	Roles      []string  `json:"roles"`
	Branch     string    `json:"branch,omitempty"`
	Department string    `json:"department,omitempty"`
	Root       bool      `json:"root,omitempty"`
	Pages      []string  `json:"pages"`
	Denied     []string  `json:"denied,omitempty"`
	Mask       []byte    `json:"mask"`
	BuiltAt    time.Time `json:"builtAt"`
}

// Allows reports whether page is in the effective page set.
func (s *Snapshot) Allows(page string) bool {
	if s == nil {
		return false
	}
	i := sort.SearchStrings(s.Pages, page)
	return i < len(s.Pages) && s.Pages[i] == page
}

// Cache stores encoded snapshots by user id.
type Cache interface {
	Get(ctx context.Context, userID string) ([]byte, bool, error)
	Set(ctx context.Context, userID string, data []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, userID string) error
}

// Builder computes and caches access snapshots. Build is idempotent and may
// be called on every login and refresh.
type Builder struct {
	users  account.Store
	roles  *RoleManager
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewBuilder wires a snapshot builder. cache may be nil, in which case
// snapshots are always recomputed and Cached reports a miss.
func NewBuilder(users account.Store, roles *RoleManager, cache Cache, ttl time.Duration, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		users:  users,
		roles:  roles,
		cache:  cache,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Build loads the user and rebuilds the snapshot.
func (b *Builder) Build(ctx context.Context, userID string) (*Snapshot, error) {
	u, err := b.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return b.BuildFor(ctx, u)
}

// BuildFor rebuilds the snapshot of an already loaded user. A failed cache
// write is logged and the fresh snapshot is still returned.
func (b *Builder) BuildFor(ctx context.Context, u *account.User) (*Snapshot, error) {
	if u == nil {
		return nil, account.ErrNotFound
	}
	snap, err := b.compute(u)
	if err != nil {
		return nil, err
	}

	if b.cache != nil && b.ttl > 0 {
		data, err := json.Marshal(snap)
		if err != nil {
			return nil, err
		}
		if err := b.cache.Set(ctx, u.ID, data, b.ttl); err != nil {
			b.logger.Warn("access snapshot cache write failed", zap.String("user_id", u.ID), zap.Error(err))
		}
	}
	return snap, nil
}

// Cached reads the snapshot without rebuilding it.
func (b *Builder) Cached(ctx context.Context, userID string) (*Snapshot, bool, error) {
	if b.cache == nil {
		return nil, false, nil
	}
	data, ok, err := b.cache.Get(ctx, userID)
	if err != nil || !ok {
		return nil, false, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		// A stale encoding is treated as a miss.
		return nil, false, nil
	}
	return &snap, true, nil
}

// Invalidate drops the cached snapshot after a role or branch change.
func (b *Builder) Invalidate(ctx context.Context, userID string) error {
	if b.cache == nil {
		return nil
	}
	return b.cache.Invalidate(ctx, userID)
}

// compute unions the role masks with allow and extra grants, then removes
// denied pages. A root role expands to every registered page before denies
// apply, so an explicit deny always wins.
func (b *Builder) compute(u *account.User) (*Snapshot, error) {
	if b.roles == nil {
		return nil, errors.New("role manager not configured")
	}
	reg := b.roles.Registry()
	mask := newMask(reg.Width())
	rootBit, rootReserved := reg.RootBit()

	root := false
	for _, role := range u.Roles {
		rm, ok := b.roles.Mask(role)
		if !ok {
			b.logger.Warn("unknown role on account", zap.String("user_id", u.ID), zap.String("role", role))
			continue
		}
		if rootReserved && rm.Has(rootBit, false) {
			root = true
			rm.Clear(rootBit)
		}
		union(mask, rm)
	}
	if root {
		for bit := 0; bit < reg.Count(); bit++ {
			mask.Set(bit)
		}
	}

	grant := func(pages []string) {
		for _, page := range pages {
			if bit, ok := reg.Bit(page); ok {
				mask.Set(bit)
			} else {
				b.logger.Warn("unknown page override", zap.String("user_id", u.ID), zap.String("page", page))
			}
		}
	}
	grant(u.Pages.Allow)
	grant(u.Pages.Extra)

	var denied []string
	for _, page := range u.Pages.Deny {
		if bit, ok := reg.Bit(page); ok {
			mask.Clear(bit)
			denied = append(denied, page)
		}
	}
	sort.Strings(denied)

	encoded, err := EncodeMask(mask)
	if err != nil {
		return nil, err
	}

	roles := append([]string(nil), u.Roles...)
	return &Snapshot{
		UserID:     u.ID,
		Role:       u.PrimaryRole(),
		Roles:      roles,
		Branch:     u.Branch,
		Department: u.Department,
		Root:       root,
		Pages:      reg.Names(mask),
		Denied:     denied,
		Mask:       encoded,
		BuiltAt:    b.now().UTC(),
	}, nil
}
