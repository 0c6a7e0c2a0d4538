// auth.go — JWT middleware. Проверяет подпись токена через JWKS провайдера
// идентификации и извлекает контекст tenant из claims tenant_id и hospital_id.
// Контекст tenant берётся только из проверенного токена, никогда из тела запроса.
package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/claimiq/internal/api/errors"
	"github.com/bigkaa/claimiq/internal/domain/tenant"
)

type contextKey string

const (
	// ContextKeyClaims — извлечённые claims в контексте запроса.
	ContextKeyClaims contextKey = "jwt_claims"
)

// ScopeClaimsTransition — право внешних систем менять статус претензий.
const ScopeClaimsTransition = "claims:transition"

// SubjectType — тип субъекта токена.
type SubjectType string

const (
	SubjectTypeUser SubjectType = "user"
	SubjectTypeSA   SubjectType = "service_account"
)

// AuthClaims — проверенный субъект запроса.
type AuthClaims struct {
	Subject           string
	SubjectType       SubjectType
	PreferredUsername string
	ClientID          string
	Scopes            []string
	// Tenant — tenant и больница субъекта
	Tenant tenant.Context
}

// HasScope проверяет наличие scope.
func (c *AuthClaims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// tokenClaims — raw claims токена.
type tokenClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string `json:"preferred_username"`
	TenantID          string `json:"tenant_id"`
	HospitalID        string `json:"hospital_id"`
	Scope             string `json:"scope,omitempty"`
	ClientID          string `json:"client_id,omitempty"`
}

// JWTAuth — middleware JWT-аутентификации.
type JWTAuth struct {
	jwks      keyfunc.Keyfunc
	logger    *slog.Logger
	issuer    string
	jwtLeeway time.Duration
}

// NewJWTAuth создаёт middleware с JWKS, обновляемым в фоне.
func NewJWTAuth(
	jwksURL string,
	issuer string,
	jwksRefreshInterval time.Duration,
	jwtLeeway time.Duration,
	logger *slog.Logger,
) (*JWTAuth, error) {
	// NoErrorReturnFirstHTTPReq — старт даже при недоступном провайдере.
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    http.DefaultClient,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           jwksRefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	return &JWTAuth{
		jwks:      k,
		logger:    logger.With(slog.String("component", "jwt_auth")),
		issuer:    issuer,
		jwtLeeway: jwtLeeway,
	}, nil
}

// NewJWTAuthWithKeyfunc — конструктор с готовой keyfunc (для тестов).
func NewJWTAuthWithKeyfunc(kf keyfunc.Keyfunc, issuer string, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		jwks:   kf,
		logger: logger.With(slog.String("component", "jwt_auth")),
		issuer: issuer,
	}
}

// Middleware проверяет Bearer token и кладёт AuthClaims в контекст.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}

			scheme, tokenString, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") {
				apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}
			if tokenString == "" {
				apierrors.Unauthorized(w, "Пустой Bearer token")
				return
			}

			raw := &tokenClaims{}
			parserOpts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(j.jwtLeeway),
			}
			if j.issuer != "" {
				parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
			}

			token, err := jwt.ParseWithClaims(tokenString, raw, j.jwks.KeyfuncCtx(r.Context()), parserOpts...)
			if err != nil || !token.Valid {
				msg := "невалидный токен"
				if err != nil {
					msg = err.Error()
				}
				j.logger.Debug("JWT валидация не пройдена",
					slog.String("error", msg),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			if raw.Subject == "" {
				apierrors.Unauthorized(w, "Отсутствует sub в токене")
				return
			}

			claims, err := buildAuthClaims(raw)
			if err != nil {
				j.logger.Warn("Токен без контекста tenant",
					slog.String("sub", raw.Subject),
					slog.String("error", err.Error()),
				)
				apierrors.Forbidden(w, "Токен не содержит корректных tenant_id и hospital_id")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func buildAuthClaims(raw *tokenClaims) (*AuthClaims, error) {
	claims := &AuthClaims{
		Subject:           raw.Subject,
		PreferredUsername: raw.PreferredUsername,
		SubjectType:       SubjectTypeUser,
	}
	// Service Account (client credentials) несёт client_id и scope.
	if raw.ClientID != "" && raw.Scope != "" {
		claims.SubjectType = SubjectTypeSA
		claims.ClientID = raw.ClientID
		claims.Scopes = strings.Fields(raw.Scope)
	}

	tc, err := tenant.New(raw.TenantID, raw.HospitalID, raw.Subject)
	if err != nil {
		return nil, err
	}
	claims.Tenant = tc
	return claims, nil
}

// DevHeaderAuth — режим разработки без JWT: субъект и tenant берутся
// из заголовков X-User-Id, X-Tenant-Id, X-Hospital-Id, X-Scopes.
func DevHeaderAuth(logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With(slog.String("component", "dev_auth"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := r.Header.Get("X-User-Id")
			if userID == "" {
				userID = "dev-user"
			}
			tc, err := tenant.New(r.Header.Get("X-Tenant-Id"), r.Header.Get("X-Hospital-Id"), userID)
			if err != nil {
				logger.Debug("Заголовки tenant отсутствуют или некорректны", slog.String("error", err.Error()))
				apierrors.Unauthorized(w, "Требуются заголовки X-Tenant-Id и X-Hospital-Id")
				return
			}

			claims := &AuthClaims{
				Subject:     userID,
				SubjectType: SubjectTypeUser,
				Tenant:      tc,
			}
			if scopes := r.Header.Get("X-Scopes"); scopes != "" {
				claims.SubjectType = SubjectTypeSA
				claims.ClientID = userID
				claims.Scopes = strings.Fields(scopes)
			}

			ctx := context.WithValue(r.Context(), ContextKeyClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope пропускает только Service Accounts с одним из scopes.
// Используется после JWTAuth.Middleware().
func RequireScope(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
				return
			}
			if claims.SubjectType != SubjectTypeSA {
				apierrors.Forbidden(w, "Доступ разрешён только для Service Accounts")
				return
			}
			if !slices.ContainsFunc(scopes, claims.HasScope) {
				apierrors.Forbidden(w, fmt.Sprintf("Недостаточно прав: требуется scope %s", strings.Join(scopes, " или ")))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClaimsFromContext возвращает AuthClaims или nil.
func ClaimsFromContext(ctx context.Context) *AuthClaims {
	claims, _ := ctx.Value(ContextKeyClaims).(*AuthClaims)
	return claims
}

// TenantFromContext возвращает контекст tenant проверенного субъекта.
func TenantFromContext(ctx context.Context) (tenant.Context, bool) {
	claims := ClaimsFromContext(ctx)
	if claims == nil || claims.Tenant.IsZero() {
		return tenant.Context{}, false
	}
	return claims.Tenant, true
}

// WithClaims кладёт claims в контекст (для тестов обработчиков).
func WithClaims(ctx context.Context, claims *AuthClaims) context.Context {
	return context.WithValue(ctx, ContextKeyClaims, claims)
}

// JWKSReadinessChecker — проверка доступности JWKS endpoint.
type JWKSReadinessChecker struct {
	jwksURL string
	client  *http.Client
}

// NewJWKSReadinessChecker создаёт checker с указанным таймаутом.
func NewJWKSReadinessChecker(jwksURL string, timeout time.Duration) *JWKSReadinessChecker {
	return &JWKSReadinessChecker{
		jwksURL: jwksURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// CheckReady запрашивает JWKS и проверяет наличие ключей.
func (k *JWKSReadinessChecker) CheckReady() (status, message string) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, k.jwksURL, http.NoBody)
	if err != nil {
		return "fail", "ошибка создания запроса: " + err.Error()
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return "fail", fmt.Sprintf("JWKS недоступен: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "fail", fmt.Sprintf("JWKS вернул статус %d", resp.StatusCode)
	}

	var jwksResp struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwksResp); err != nil {
		return "degraded", fmt.Sprintf("JWKS: невалидный JSON: %v", err)
	}
	if len(jwksResp.Keys) == 0 {
		return "degraded", "JWKS: нет ключей"
	}
	return "ok", fmt.Sprintf("JWKS доступен, ключей: %d", len(jwksResp.Keys))
}
