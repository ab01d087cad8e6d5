package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"gorm.io/gorm"

	"techorbit/internal/auth"
	"techorbit/internal/model"
	"techorbit/internal/repository"
)

// memUserRepo is an in-memory UserRepository enforcing the unique email and
// reset-token indexes and the conditional updates of the gorm implementation.
type memUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*model.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[uuid.UUID]*model.User)}
}

func clone(u *model.User) *model.User {
	c := *u
	return &c
}

func (r *memUserRepo) put(u *model.User) *model.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Role == "" {
		u.Role = model.RoleUser
	}
	r.users[u.ID] = clone(u)
	return u
}

func (r *memUserRepo) get(id uuid.UUID) *model.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		return clone(u)
	}
	return nil
}

func (r *memUserRepo) Create(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == user.Email {
			return gorm.ErrDuplicatedKey
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.Role == "" {
		user.Role = model.RoleUser
	}
	r.users[user.ID] = clone(user)
	return nil
}

func (r *memUserRepo) Update(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = clone(user)
	return nil
}

func (r *memUserRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, id)
	return nil
}

func (r *memUserRepo) FindByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	if u := r.get(id); u != nil {
		return u, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			return clone(u), nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memUserRepo) FindByResetToken(_ context.Context, token string, now time.Time) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ResetToken != nil && *u.ResetToken == token && u.ResetExpires != nil && u.ResetExpires.After(now) {
			return clone(u), nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memUserRepo) SetOTP(_ context.Context, id uuid.UUID, code string, expires time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil
	}
	u.OTPCode = &code
	u.OTPExpires = &expires
	return nil
}

func (r *memUserRepo) MarkVerified(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok || u.IsVerified {
		return repository.ErrNoRowsAffected
	}
	u.IsVerified = true
	u.OTPCode = nil
	u.OTPExpires = nil
	return nil
}

func (r *memUserRepo) IssueResetToken(_ context.Context, id uuid.UUID, token string, expires, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ResetToken != nil && *u.ResetToken == token && u.ID != id {
			return gorm.ErrDuplicatedKey
		}
	}
	u, ok := r.users[id]
	if !ok {
		return nil
	}
	u.ResetToken = &token
	u.ResetExpires = &expires
	u.ResetAttempts++
	u.LastResetAttempt = &now
	return nil
}

func (r *memUserRepo) ConsumeResetToken(_ context.Context, id uuid.UUID, token, passwordHash string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok || u.ResetToken == nil || *u.ResetToken != token || u.ResetExpires == nil || !u.ResetExpires.After(now) {
		return repository.ErrNoRowsAffected
	}
	u.PasswordHash = &passwordHash
	u.ResetToken = nil
	u.ResetExpires = nil
	u.ResetAttempts = 0
	u.LastResetAttempt = nil
	return nil
}

// couponState is the mutable content of memCouponRepo.
type couponState struct {
	coupons map[uuid.UUID]model.Coupon
	claims  map[uuid.UUID]model.UserCoupon
}

func (s couponState) copy() couponState {
	c := couponState{
		coupons: make(map[uuid.UUID]model.Coupon, len(s.coupons)),
		claims:  make(map[uuid.UUID]model.UserCoupon, len(s.claims)),
	}
	for k, v := range s.coupons {
		c.coupons[k] = v
	}
	for k, v := range s.claims {
		c.claims[k] = v
	}
	return c
}

// memCouponRepo is an in-memory CouponRepository. Transactions are serialized
// and roll back to a snapshot when fn fails.
type memCouponRepo struct {
	mu    *sync.Mutex
	txMu  *sync.Mutex
	state *couponState
	clock int64
}

func newMemCouponRepo() *memCouponRepo {
	return &memCouponRepo{
		mu:    &sync.Mutex{},
		txMu:  &sync.Mutex{},
		state: &couponState{coupons: map[uuid.UUID]model.Coupon{}, claims: map[uuid.UUID]model.UserCoupon{}},
	}
}

// stamp returns strictly increasing creation times so ordering is deterministic.
func (r *memCouponRepo) stamp() time.Time {
	r.clock++
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(r.clock) * time.Second)
}

func (r *memCouponRepo) coupon(id uuid.UUID) model.Coupon {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.coupons[id]
}

func (r *memCouponRepo) claimCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.state.claims)
}

func (r *memCouponRepo) Create(_ context.Context, c *model.Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.state.coupons {
		if existing.Code == c.Code {
			return gorm.ErrDuplicatedKey
		}
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = r.stamp()
	}
	r.state.coupons[c.ID] = *c
	return nil
}

func (r *memCouponRepo) Update(_ context.Context, c *model.Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, existing := range r.state.coupons {
		if existing.Code == c.Code && id != c.ID {
			return gorm.ErrDuplicatedKey
		}
	}
	stored := *c
	stored.UsedCount = r.state.coupons[c.ID].UsedCount
	r.state.coupons[c.ID] = stored
	return nil
}

func (r *memCouponRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.state.coupons, id)
	return nil
}

func (r *memCouponRepo) FindByID(_ context.Context, id uuid.UUID) (*model.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.state.coupons[id]; ok {
		return &c, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memCouponRepo) FindByCode(_ context.Context, code string) (*model.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.state.coupons {
		if c.Code == code {
			return &c, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memCouponRepo) filter(keep func(c model.Coupon) bool) []model.Coupon {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Coupon
	for _, c := range r.state.coupons {
		if keep(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *memCouponRepo) hasClaim(userID, couponID uuid.UUID, usedOnly bool) bool {
	for _, uc := range r.state.claims {
		if uc.UserID == userID && uc.CouponID == couponID && (!usedOnly || uc.IsUsed) {
			return true
		}
	}
	return false
}

func (r *memCouponRepo) ListAvailable(_ context.Context, now time.Time) ([]model.Coupon, error) {
	return r.filter(func(c model.Coupon) bool { return c.IsAvailable(now) }), nil
}

func (r *memCouponRepo) ListExpired(_ context.Context, now time.Time) ([]model.Coupon, error) {
	return r.filter(func(c model.Coupon) bool { return c.ValidUntil.Before(now) }), nil
}

func (r *memCouponRepo) ListUsedByUser(_ context.Context, userID uuid.UUID) ([]model.Coupon, error) {
	return r.filter(func(c model.Coupon) bool { return r.hasClaim(userID, c.ID, true) }), nil
}

func (r *memCouponRepo) ListForUser(_ context.Context, userID uuid.UUID, now time.Time) ([]model.Coupon, error) {
	return r.filter(func(c model.Coupon) bool {
		return r.hasClaim(userID, c.ID, false) || (c.IsActive && c.InWindow(now))
	}), nil
}

func (r *memCouponRepo) List(_ context.Context, f repository.CouponFilter) ([]model.Coupon, int64, error) {
	search := strings.ToLower(strings.TrimSpace(f.Search))
	all := r.filter(func(c model.Coupon) bool {
		if search != "" {
			desc := ""
			if c.Description != nil {
				desc = *c.Description
			}
			if !strings.Contains(strings.ToLower(c.Name+" "+c.Code+" "+desc), search) {
				return false
			}
		}
		switch f.Status {
		case repository.StatusActive:
			return c.IsActive && c.InWindow(f.Now)
		case repository.StatusExpired:
			return c.ValidUntil.Before(f.Now)
		case repository.StatusInactive:
			return !c.IsActive
		}
		return true
	})
	total := int64(len(all))
	start := (f.Page - 1) * f.Limit
	if start > len(all) {
		start = len(all)
	}
	end := start + f.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (r *memCouponRepo) ClaimStats(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]repository.ClaimStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make(map[uuid.UUID]repository.ClaimStats)
	for _, uc := range r.state.claims {
		if !want[uc.CouponID] {
			continue
		}
		st := out[uc.CouponID]
		st.CouponID = uc.CouponID
		st.Claimed++
		if uc.IsUsed {
			st.Redeemed++
		}
		out[uc.CouponID] = st
	}
	return out, nil
}

func (r *memCouponRepo) IncrementUsage(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.state.coupons[id]
	if !ok || (c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit) {
		return repository.ErrNoRowsAffected
	}
	c.UsedCount++
	r.state.coupons[id] = c
	return nil
}

func (r *memCouponRepo) CreateClaim(_ context.Context, uc *model.UserCoupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hasClaim(uc.UserID, uc.CouponID, false) {
		return gorm.ErrDuplicatedKey
	}
	if uc.ID == uuid.Nil {
		uc.ID = uuid.New()
	}
	uc.CreatedAt = r.stamp()
	r.state.claims[uc.ID] = *uc
	return nil
}

func (r *memCouponRepo) FindClaim(_ context.Context, userID, couponID uuid.UUID) (*model.UserCoupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, uc := range r.state.claims {
		if uc.UserID == userID && uc.CouponID == couponID {
			return &uc, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memCouponRepo) ListClaimsByUser(_ context.Context, userID uuid.UUID, couponIDs []uuid.UUID) ([]model.UserCoupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var want map[uuid.UUID]bool
	if couponIDs != nil {
		want = make(map[uuid.UUID]bool, len(couponIDs))
		for _, id := range couponIDs {
			want[id] = true
		}
	}
	var out []model.UserCoupon
	for _, uc := range r.state.claims {
		if uc.UserID == userID && (want == nil || want[uc.CouponID]) {
			out = append(out, uc)
		}
	}
	return out, nil
}

func (r *memCouponRepo) MarkClaimUsed(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	uc, ok := r.state.claims[id]
	if !ok || uc.IsUsed {
		return repository.ErrNoRowsAffected
	}
	uc.IsUsed = true
	uc.UsedAt = &at
	r.state.claims[id] = uc
	return nil
}

func (r *memCouponRepo) CountClaims(_ context.Context, couponID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, uc := range r.state.claims {
		if uc.CouponID == couponID {
			n++
		}
	}
	return n, nil
}

func (r *memCouponRepo) CountUserClaims(_ context.Context, userID uuid.UUID) (int64, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var claimed, redeemed int64
	for _, uc := range r.state.claims {
		if uc.UserID == userID {
			claimed++
			if uc.IsUsed {
				redeemed++
			}
		}
	}
	return claimed, redeemed, nil
}

func (r *memCouponRepo) WithTransaction(ctx context.Context, fn func(ctx context.Context, repo repository.CouponRepository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.Lock()
	snapshot := r.state.copy()
	r.mu.Unlock()

	if err := fn(ctx, r); err != nil {
		r.mu.Lock()
		*r.state = snapshot
		r.mu.Unlock()
		return err
	}
	return nil
}

// MockMailer is a mock implementation of mailer.Mailer.
type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) SendVerificationCode(ctx context.Context, to, name, code string, resend bool) error {
	args := m.Called(ctx, to, name, code, resend)
	return args.Error(0)
}

func (m *MockMailer) SendPasswordReset(ctx context.Context, to, link string) error {
	args := m.Called(ctx, to, link)
	return args.Error(0)
}

// recordingMailer captures the last code and link it was asked to send.
type recordingMailer struct {
	mu       sync.Mutex
	codes    map[string]string
	links    map[string]string
	resetErr error
	codeErr  error
}

func newRecordingMailer() *recordingMailer {
	return &recordingMailer{codes: map[string]string{}, links: map[string]string{}}
}

func (m *recordingMailer) SendVerificationCode(_ context.Context, to, _, code string, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.codeErr != nil {
		return m.codeErr
	}
	m.codes[to] = code
	return nil
}

func (m *recordingMailer) SendPasswordReset(_ context.Context, to, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resetErr != nil {
		return m.resetErr
	}
	m.links[to] = link
	return nil
}

func (m *recordingMailer) linkCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.links)
}

// fakeRevoker records revocations.
type fakeRevoker struct {
	mu      sync.Mutex
	revoked map[string]time.Time
}

var _ auth.SessionRevoker = (*fakeRevoker)(nil)

func newFakeRevoker() *fakeRevoker {
	return &fakeRevoker{revoked: map[string]time.Time{}}
}

func (f *fakeRevoker) RevokeSessions(_ context.Context, userID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[userID] = at
	return nil
}

func (f *fakeRevoker) IsRevoked(_ context.Context, claims *auth.Claims) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	at, ok := f.revoked[claims.UserID]
	return ok && claims.IssuedAt != nil && claims.IssuedAt.Time.Before(at)
}
