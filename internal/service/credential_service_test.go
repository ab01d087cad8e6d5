package service

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"techorbit/internal/auth"
	"techorbit/internal/errors"
	"techorbit/internal/model"
)

type credFixture struct {
	users   *memUserRepo
	mail    *recordingMailer
	revoker *fakeRevoker
	authSvc *authService
	creds   *credentialService
	now     time.Time
}

func newCredFixture(t *testing.T, opts CredentialOptions) *credFixture {
	t.Helper()
	f := &credFixture{
		users:   newMemUserRepo(),
		mail:    newRecordingMailer(),
		revoker: newFakeRevoker(),
		now:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "http://localhost:3001"
	}
	clock := func() time.Time { return f.now }

	f.creds = NewCredentialService(f.users, f.mail, f.revoker, zap.NewNop(), opts).(*credentialService)
	f.creds.now = clock
	f.authSvc = NewAuthService(f.users, auth.NewJWTService("test-secret"), f.mail, zap.NewNop()).(*authService)
	f.authSvc.now = clock
	return f
}

func (f *credFixture) addVerifiedUser(email string) *model.User {
	hash, _ := bcrypt.GenerateFromPassword([]byte("OldPassw0rd"), bcrypt.MinCost)
	h := string(hash)
	return f.users.put(&model.User{Name: "Test", Email: email, PasswordHash: &h, IsVerified: true})
}

func (f *credFixture) signup(t *testing.T, email string) *model.User {
	t.Helper()
	user, err := f.authSvc.Signup(context.Background(), SignupInput{
		Name:     "Alex",
		Email:    email,
		Phone:    "+201000000000",
		Password: "Passw0rdX",
	})
	require.NoError(t, err)
	return user
}

func TestOTP_SignupVerifyScenario(t *testing.T) {
	f := newCredFixture(t, CredentialOptions{})
	ctx := context.Background()

	f.signup(t, "a@x.com")
	code := f.mail.codes["a@x.com"]
	require.Len(t, code, 6)

	err := f.creds.VerifyOTP(ctx, "a@x.com", "000000")
	assert.ErrorIs(t, err, errors.ErrOTPMismatch)

	require.NoError(t, f.creds.VerifyOTP(ctx, "a@x.com", code))

	err = f.creds.VerifyOTP(ctx, "a@x.com", code)
	assert.ErrorIs(t, err, errors.ErrAlreadyVerified)
	err = f.creds.VerifyOTP(ctx, "a@x.com", "000000")
	assert.ErrorIs(t, err, errors.ErrAlreadyVerified)

	stored, _ := f.users.FindByEmail(ctx, "a@x.com")
	assert.True(t, stored.IsVerified)
	assert.Nil(t, stored.OTPCode)
	assert.Nil(t, stored.OTPExpires)
}

func TestVerifyOTP_ExpiresStrictlyAfterTenMinutes(t *testing.T) {
	f := newCredFixture(t, CredentialOptions{})
	ctx := context.Background()
	start := f.now

	f.signup(t, "edge@x.com")
	f.signup(t, "late@x.com")

	f.now = start.Add(10 * time.Minute)
	assert.NoError(t, f.creds.VerifyOTP(ctx, "edge@x.com", f.mail.codes["edge@x.com"]))

	f.now = start.Add(10*time.Minute + time.Second)
	err := f.creds.VerifyOTP(ctx, "late@x.com", f.mail.codes["late@x.com"])
	assert.ErrorIs(t, err, errors.ErrOTPExpired)
}

func TestVerifyOTP_UnknownEmail(t *testing.T) {
	f := newCredFixture(t, CredentialOptions{})
	err := f.creds.VerifyOTP(context.Background(), "nobody@x.com", "123456")
	assert.ErrorIs(t, err, errors.ErrUserNotFound)
}

func TestIssueOTP_Resend(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown email", func(t *testing.T) {
		f := newCredFixture(t, CredentialOptions{})
		assert.ErrorIs(t, f.creds.IssueOTP(ctx, "ghost@x.com"), errors.ErrUserNotFound)
	})

	t.Run("already verified", func(t *testing.T) {
		f := newCredFixture(t, CredentialOptions{})
		f.addVerifiedUser("done@x.com")
		assert.ErrorIs(t, f.creds.IssueOTP(ctx, "done@x.com"), errors.ErrAlreadyVerified)
	})

	t.Run("replaces the pending code", func(t *testing.T) {
		f := newCredFixture(t, CredentialOptions{})
		user := f.signup(t, "b@x.com")

		f.now = f.now.Add(9 * time.Minute)
		require.NoError(t, f.creds.IssueOTP(ctx, "  B@X.com "))

		stored := f.users.get(user.ID)
		assert.Equal(t, f.mail.codes["b@x.com"], *stored.OTPCode)
		assert.Equal(t, f.now.Add(otpTTL), *stored.OTPExpires)
		assert.NoError(t, f.creds.VerifyOTP(ctx, "b@x.com", *stored.OTPCode))
	})

	t.Run("mail failure keeps the new code", func(t *testing.T) {
		f := newCredFixture(t, CredentialOptions{})
		user := f.signup(t, "c@x.com")
		f.mail.codeErr = stderrors.New("smtp: 421 service not available")

		err := f.creds.IssueOTP(ctx, "c@x.com")
		assert.ErrorIs(t, err, errors.ErrEmailDelivery)
		assert.NotNil(t, f.users.get(user.ID).OTPCode)
	})
}

func TestRequestReset_SameResponseForUnknownAndKnownEmail(t *testing.T) {
	f := newCredFixture(t, CredentialOptions{})
	ctx := context.Background()
	f.addVerifiedUser("known@x.com")

	unknown, err := f.creds.RequestReset(ctx, "unknown@x.com")
	require.NoError(t, err)
	known, err := f.creds.RequestReset(ctx, "known@x.com")
	require.NoError(t, err)

	assert.Equal(t, unknown, known)
	assert.Equal(t, 0, known.RetryAfter)
	assert.Empty(t, known.ResetLink)
	assert.Equal(t, 1, f.mail.linkCount())
}

func TestRequestReset_UnverifiedAccountGetsNoToken(t *testing.T) {
	f := newCredFixture(t, CredentialOptions{})
	user := f.signup(t, "new@x.com")

	res, err := f.creds.RequestReset(context.Background(), "new@x.com")
	require.NoError(t, err)
	assert.Equal(t, resetRequestMessage, res.Message)
	assert.Nil(t, f.users.get(user.ID).ResetToken)
	assert.Equal(t, 0, f.mail.linkCount())
}

func TestRequestReset_CooldownIssuesNoNewToken(t *testing.T) {
	f := newCredFixture(t, CredentialOptions{})
	ctx := context.Background()
	user := f.addVerifiedUser("cool@x.com")
	start := f.now

	first, err := f.creds.RequestReset(ctx, "cool@x.com")
	require.NoError(t, err)
	issued := f.users.get(user.ID)
	require.NotNil(t, issued.ResetToken)
	token := *issued.ResetToken

	f.now = start.Add(30 * time.Minute)
	second, err := f.creds.RequestReset(ctx, "cool@x.com")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	during := f.users.get(user.ID)
	assert.Equal(t, token, *during.ResetToken)
	assert.Equal(t, 1, during.ResetAttempts)
	assert.Equal(t, start, *during.LastResetAttempt)

	f.now = start.Add(time.Hour + time.Second)
	_, err = f.creds.RequestReset(ctx, "cool@x.com")
	require.NoError(t, err)
	after := f.users.get(user.ID)
	assert.NotEqual(t, token, *after.ResetToken)
	assert.Equal(t, 2, after.ResetAttempts)
}

func TestRequestReset_TokenFormatAndLink(t *testing.T) {
	f := newCredFixture(t, CredentialOptions{BaseURL: "https://techorbitcare.example/", ExposeResetLink: true})
	user := f.addVerifiedUser("dev@x.com")

	res, err := f.creds.RequestReset(context.Background(), "dev@x.com")
	require.NoError(t, err)

	token := *f.users.get(user.ID).ResetToken
	assert.Regexp(t, `^[a-f0-9]{64}$`, token)
	assert.Equal(t, "https://techorbitcare.example/reset-password?token="+token, res.ResetLink)
	assert.Equal(t, res.ResetLink, f.mail.links["dev@x.com"])
	assert.Equal(t, f.now.Add(resetTokenTTL), *f.users.get(user.ID).ResetExpires)
}

func TestRequestReset_MailFailureStillLooksSuccessful(t *testing.T) {
	f := newCredFixture(t, CredentialOptions{})
	f.addVerifiedUser("down@x.com")
	f.mail.resetErr = stderrors.New("dial tcp: i/o timeout")

	res, err := f.creds.RequestReset(context.Background(), "down@x.com")
	require.NoError(t, err)
	assert.Equal(t, resetRequestMessage, res.Message)
}

func TestValidateResetToken(t *testing.T) {
	f := newCredFixture(t, CredentialOptions{})
	ctx := context.Background()
	user := f.addVerifiedUser("v@x.com")
	start := f.now

	_, err := f.creds.RequestReset(ctx, "v@x.com")
	require.NoError(t, err)
	token := *f.users.get(user.ID).ResetToken

	for _, bad := range []string{"", "abc", strings.ToUpper(token), token + "0", strings.Repeat("g", 64)} {
		_, err := f.creds.ValidateResetToken(ctx, bad)
		assert.ErrorIs(t, err, errors.ErrInvalidTokenFormat, bad)
	}

	_, err = f.creds.ValidateResetToken(ctx, strings.Repeat("a", 64))
	assert.ErrorIs(t, err, errors.ErrResetTokenInvalid)

	status, err := f.creds.ValidateResetToken(ctx, token)
	require.NoError(t, err)
	assert.False(t, status.IsNearExpiration)
	assert.Equal(t, start.Add(resetTokenTTL), status.ExpiresAt)

	f.now = start.Add(11 * time.Minute)
	status, err = f.creds.ValidateResetToken(ctx, token)
	require.NoError(t, err)
	assert.True(t, status.IsNearExpiration)

	f.now = start.Add(resetTokenTTL)
	_, err = f.creds.ValidateResetToken(ctx, token)
	assert.ErrorIs(t, err, errors.ErrResetTokenInvalid)
}

func TestConsumeReset_IsSingleUse(t *testing.T) {
	f := newCredFixture(t, CredentialOptions{})
	ctx := context.Background()
	user := f.addVerifiedUser("r@x.com")

	_, err := f.creds.RequestReset(ctx, "r@x.com")
	require.NoError(t, err)
	token := *f.users.get(user.ID).ResetToken

	require.NoError(t, f.creds.ConsumeReset(ctx, token, "NewPassw0rd"))

	stored := f.users.get(user.ID)
	assert.Nil(t, stored.ResetToken)
	assert.Nil(t, stored.ResetExpires)
	assert.Nil(t, stored.LastResetAttempt)
	assert.Equal(t, 0, stored.ResetAttempts)
	assert.Contains(t, f.revoker.revoked, user.ID.String())

	err = f.creds.ConsumeReset(ctx, token, "OtherPassw0rd")
	assert.ErrorIs(t, err, errors.ErrResetTokenInvalid)

	_, err = f.authSvc.Login(ctx, "r@x.com", "OldPassw0rd", false)
	assert.ErrorIs(t, err, errors.ErrInvalidCredentials)
	res, err := f.authSvc.Login(ctx, "r@x.com", "NewPassw0rd", false)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
}

func TestConsumeReset_ExpiredToken(t *testing.T) {
	f := newCredFixture(t, CredentialOptions{})
	ctx := context.Background()
	user := f.addVerifiedUser("late@x.com")

	_, err := f.creds.RequestReset(ctx, "late@x.com")
	require.NoError(t, err)
	token := *f.users.get(user.ID).ResetToken

	f.now = f.now.Add(resetTokenTTL + time.Second)
	assert.ErrorIs(t, f.creds.ConsumeReset(ctx, token, "NewPassw0rd"), errors.ErrResetTokenInvalid)
}

func TestConsumeReset_TooManyAttempts(t *testing.T) {
	f := newCredFixture(t, CredentialOptions{})
	token := strings.Repeat("ab", 32)
	expires := f.now.Add(10 * time.Minute)
	last := f.now.Add(-time.Minute)
	f.users.put(&model.User{
		Email:            "many@x.com",
		IsVerified:       true,
		ResetToken:       &token,
		ResetExpires:     &expires,
		ResetAttempts:    maxResetAttempts,
		LastResetAttempt: &last,
	})

	err := f.creds.ConsumeReset(context.Background(), token, "NewPassw0rd")
	assert.ErrorIs(t, err, errors.ErrTooManyResetAttempts)
}

func TestConsumeReset_GrantsPasswordToExternalAccount(t *testing.T) {
	f := newCredFixture(t, CredentialOptions{})
	ctx := context.Background()
	user := f.users.put(&model.User{Email: "g@x.com", ExternalProvider: "google", IsVerified: true})

	_, err := f.authSvc.Login(ctx, "g@x.com", "anything", false)
	assert.ErrorIs(t, err, errors.ErrExternalAccount)

	_, err = f.creds.RequestReset(ctx, "g@x.com")
	require.NoError(t, err)
	token := *f.users.get(user.ID).ResetToken
	require.NoError(t, f.creds.ConsumeReset(ctx, token, "NewPassw0rd"))

	caps := f.users.get(user.ID).Capabilities()
	assert.True(t, caps.Has(model.CapPassword|model.CapExternal))

	_, err = f.authSvc.Login(ctx, "g@x.com", "NewPassw0rd", true)
	assert.NoError(t, err)
}
