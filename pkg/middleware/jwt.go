package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims はアクセストークンのクレーム。
// user_idクレームが接続や通知の所有者を決める。
type JWTClaims struct {
	jwt.RegisteredClaims
	// UserID は認証済みユーザーの一意識別子。
	UserID string `json:"user_id"`
	// Email はユーザーのメールアドレス。
	Email string `json:"email"`
}

const (
	// headerKeyUserID はレスポンスに付与する認証済みユーザーIDのヘッダーキー。
	headerKeyUserID = "X-User-ID"
	// queryKeyToken はヘッダーを付けられないWebSocketクライアント向けのクエリパラメータ。
	queryKeyToken = "token"
	// tokenIssuer は発行者クレーム。
	tokenIssuer = "dispozen-notification"
)

var (
	// ErrTokenMissing はリクエストにトークンがないことを表す。
	ErrTokenMissing = errors.New("token is missing")
	// ErrTokenMalformed はAuthorizationヘッダーがBearer形式でないことを表す。
	ErrTokenMalformed = errors.New("authorization header is not a bearer token")
	// ErrTokenInvalid は署名・有効期限・クレームのいずれかが不正であることを表す。
	ErrTokenInvalid = errors.New("token is invalid")
)

// GenerateJWT はユーザー情報から24時間有効なトークンを生成する。
// 本番のトークンは認証サービスが発行する。ここでは開発用とテスト用に使う。
func GenerateJWT(secret, userID, email string) (string, error) {
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    tokenIssuer,
		},
		UserID: userID,
		Email:  email,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// ParseToken はトークンを検証してクレームを返す。
// HS256以外の署名、期限切れ、user_idが空のトークンはErrTokenInvalidを返す。
func ParseToken(secret, tokenString string) (*JWTClaims, error) {
	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	if !token.Valid || claims.UserID == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// TokenFromHeader はAuthorizationヘッダーからBearerトークンを取り出す。
func TokenFromHeader(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", ErrTokenMissing
	}
	tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
	if !found || tokenString == "" {
		return "", ErrTokenMalformed
	}
	return tokenString, nil
}

// TokenFromRequest はAuthorizationヘッダー、なければ?token=クエリからトークンを取り出す。
// ブラウザのWebSocket APIはヘッダーを付けられないため、ハンドシェイクではこちらを使う。
func TokenFromRequest(r *http.Request) (string, error) {
	tokenString, err := TokenFromHeader(r)
	if !errors.Is(err, ErrTokenMissing) {
		return tokenString, err
	}
	if q := r.URL.Query().Get(queryKeyToken); q != "" {
		return q, nil
	}
	return "", ErrTokenMissing
}

// Authenticate はリクエストのトークンを検証してクレームを返す。
func Authenticate(r *http.Request, secret string) (*JWTClaims, error) {
	tokenString, err := TokenFromRequest(r)
	if err != nil {
		return nil, err
	}
	return ParseToken(secret, tokenString)
}

// JWTAuth はAuthorizationヘッダーのトークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストに "user_id" と "email" を設定する。
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := TokenFromHeader(c.Request)
		switch {
		case errors.Is(err, ErrTokenMissing):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorizationヘッダーが必要です",
			})
			return
		case err != nil:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer トークン形式が不正です",
			})
			return
		}

		claims, err := ParseToken(secret, tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "トークンが無効です",
			})
			return
		}

		SetClaims(c, claims)
		c.Next()
	}
}

// SetClaims は検証済みクレームをコンテキストに設定する。
func SetClaims(c *gin.Context, claims *JWTClaims) {
	c.Set("user_id", claims.UserID)
	c.Set("email", claims.Email)
	c.Header(headerKeyUserID, claims.UserID)
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetUserID(c *gin.Context) string {
	userID, _ := c.Get("user_id")
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}
