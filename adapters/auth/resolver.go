package auth

import (
	"crypto"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// Claims 是 access token 的內容，Subject 為使用者的 UUID
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Identity 是解析 access token 後得到的使用者身分
type Identity struct {
	UserID   uuid.UUID
	Username string
}

// Resolver 以 Ed25519 驗證 access token 並取得目前使用者
// 簽發 token 由外部的登入服務負責，Issue 只用於工具與測試
type Resolver struct {
	signer crypto.Signer
	issuer string
}

func NewResolver(signer crypto.Signer, issuer string) (*Resolver, error) {
	if signer == nil {
		return nil, errors.New("signer cannot be nil")
	}
	if _, ok := signer.Public().(ed25519.PublicKey); !ok {
		return nil, errors.New("signer must be an ed25519 key")
	}
	return &Resolver{signer: signer, issuer: issuer}, nil
}

// Resolve 驗證 token 並回傳使用者身分，任何驗證失敗都回傳 ErrUnauthenticated
func (r *Resolver) Resolve(tokenString string) (Identity, error) {
	const op = "Resolve"
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if r.issuer != "" {
		options = append(options, jwt.WithIssuer(r.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return r.signer.Public(), nil
	}, options...)
	if err != nil {
		return Identity{}, fmt.Errorf("%s: %w: %w", op, ErrUnauthenticated, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Identity{}, fmt.Errorf("%s: %w: token claims are invalid", op, ErrUnauthenticated)
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Identity{}, fmt.Errorf("%s: %w: subject is not a user id", op, ErrUnauthenticated)
	}
	return Identity{UserID: userID, Username: claims.Username}, nil
}

// Issue 簽發 access token
func (r *Resolver) Issue(identity Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Username: identity.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID.String(),
			Issuer:    r.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(r.signer)
	if err != nil {
		return "", fmt.Errorf("fail to sign token, err=%w", err)
	}
	return token, nil
}
