package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"techorbit/internal/auth"
	"techorbit/internal/config"
	"techorbit/internal/errors"
	"techorbit/internal/handler"
	"techorbit/internal/model"
	"techorbit/internal/ratelimit"
	"techorbit/internal/router"
	"techorbit/internal/service"
)

const testSecret = "test-secret"

type deps struct {
	auth        service.AuthService
	credentials service.CredentialService
	users       service.UserService
	coupons     service.CouponService
	sessions    auth.SessionRevoker
}

// newServer mounts the full router over the given services. Missing services
// are replaced by mocks without expectations.
func newServer(d deps) *echo.Echo {
	if d.auth == nil {
		d.auth = &MockAuthService{}
	}
	if d.credentials == nil {
		d.credentials = &MockCredentialService{}
	}
	if d.users == nil {
		d.users = &MockUserService{}
	}
	if d.coupons == nil {
		d.coupons = &MockCouponService{}
	}

	limiter := ratelimit.New(ratelimit.NewMemoryStore(), zap.NewNop())
	e := echo.New()
	router.Register(e, &config.Config{}, zap.NewNop(), auth.NewJWTService(testSecret), d.sessions, router.Handlers{
		Auth:        handler.NewAuthHandler(d.auth),
		Credentials: handler.NewCredentialHandler(d.credentials, limiter),
		Users:       handler.NewUserHandler(d.users),
		Coupons:     handler.NewCouponHandler(d.coupons),
		AdminCoupon: handler.NewAdminCouponHandler(d.coupons),
	})
	return e
}

func tokenFor(t *testing.T, id uuid.UUID, role model.Role) string {
	t.Helper()
	token, _, err := auth.NewJWTService(testSecret).GenerateToken(&model.User{ID: id, Email: "user@example.com", Role: role}, false)
	require.NoError(t, err)
	return token
}

type request struct {
	method  string
	path    string
	body    interface{}
	token   string
	headers map[string]string
}

func do(e *echo.Echo, r request) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if r.body != nil {
		_ = json.NewEncoder(&buf).Encode(r.body)
	}
	req := httptest.NewRequest(r.method, r.path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if r.token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+r.token)
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errors.ErrorResponse {
	t.Helper()
	var body errors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func detailFields(resp errors.ErrorResponse) []string {
	fields := make([]string, 0, len(resp.Details))
	for _, d := range resp.Details {
		fields = append(fields, d.Field)
	}
	return fields
}
