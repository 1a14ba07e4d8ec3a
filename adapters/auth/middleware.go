package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	DefaultKeyForContext = "barterswap-identity"
	DefaultKeyForCookie  = "access_token"
)

// MiddlewareOptions 包含身分驗證 middleware 的設定選項
type MiddlewareOptions struct {
	keyForCookie  string // token 在 cookie 中的 key
	keyForContext string // 身分在 gin.Context 中的 key
	logger        *slog.Logger
}

// MiddlewareOption 定義設定選項的函數類型
type MiddlewareOption func(*MiddlewareOptions)

// WithKeyForCookie 設定 token 在 cookie 中的 key
func WithKeyForCookie(key string) MiddlewareOption {
	return func(options *MiddlewareOptions) {
		options.keyForCookie = key
	}
}

// WithKeyForContext 設定身分在 context 中的 key
func WithKeyForContext(key string) MiddlewareOption {
	return func(options *MiddlewareOptions) {
		options.keyForContext = key
	}
}

// WithMiddlewareLogger 設定日誌記錄器
func WithMiddlewareLogger(logger *slog.Logger) MiddlewareOption {
	return func(options *MiddlewareOptions) {
		options.logger = logger
	}
}

// GinMiddleware 從 Authorization header (Bearer) 或 cookie 取得 token，
// 驗證失敗時直接回應 401
func GinMiddleware(resolver *Resolver, opts ...MiddlewareOption) gin.HandlerFunc {
	options := MiddlewareOptions{
		keyForCookie:  DefaultKeyForCookie,
		keyForContext: DefaultKeyForContext,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	logger := options.logger.With(slog.String("caller", "AuthMiddleware"))

	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token, _ = c.Cookie(options.keyForCookie)
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Missing access token"})
			return
		}
		identity, err := resolver.Resolve(token)
		if err != nil {
			logger.Debug("Fail to resolve access token", slog.Any("error", err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Invalid access token"})
			return
		}
		c.Set(options.keyForContext, identity)
		c.Next()
	}
}

// CurrentIdentity 取得 middleware 設定的身分
func CurrentIdentity(c *gin.Context) (Identity, bool) {
	return CurrentIdentityWithKey(c, DefaultKeyForContext)
}

func CurrentIdentityWithKey(c *gin.Context, key string) (Identity, bool) {
	v, ok := c.Get(key)
	if !ok {
		return Identity{}, false
	}
	identity, ok := v.(Identity)
	return identity, ok
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
