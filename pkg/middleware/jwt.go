package middleware

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken は署名不一致、形式不正など、期限切れ以外の理由でトークンを検証できなかったことを示す。
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired は署名は正しいが有効期限が過ぎていることを示す。
	ErrTokenExpired = errors.New("token expired")
)

// Claims は検証済みトークンから取り出したクレーム。
type Claims struct {
	// Subject はユーザーの一意識別子（subクレーム）。空であってはならない。
	Subject string
	// Role はユーザーのロール。トークンに含まれない場合は空文字列。
	Role string
	// Raw はトークンの全クレーム。ゲートウェイは解釈せずに保持する。
	Raw map[string]any
}

// TokenVerifier はBearerトークンを検証してクレームを返す。
type TokenVerifier interface {
	// Verify は署名と有効期限を検証する。
	// 期限切れの場合は ErrTokenExpired、それ以外の失敗は ErrInvalidToken をラップしたエラーを返す。
	Verify(token string) (*Claims, error)
	// DecodeUnverified は署名を検証せずにクレームを取り出す。
	// 期限切れトークンのリフレッシュ以外の認可判断に使用してはならない。
	DecodeUnverified(token string) (*Claims, error)
}

// HMACVerifier は共有シークレットから導出した鍵でHMAC署名のJWTを検証する。
type HMACVerifier struct {
	// key はシークレットのSHA-256ダイジェスト。
	key []byte
	// parser は許可する署名アルゴリズムを限定したJWTパーサー。
	parser *jwt.Parser
}

// DeriveKey は任意長のシークレットからHMAC用の32バイト鍵を導出する。
func DeriveKey(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}

// NewHMACVerifier は新しいHMACVerifierを生成する。
func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{
		key:    DeriveKey(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})),
	}
}

// Verify は TokenVerifier を実装する。
func (v *HMACVerifier) Verify(token string) (*Claims, error) {
	mc := jwt.MapClaims{}
	if _, err := v.parser.ParseWithClaims(token, mc, func(_ *jwt.Token) (any, error) {
		return v.key, nil
	}); err != nil {
		// jwt/v5 は署名検証の後にクレームを検証するため、期限切れは署名が正しいことを意味する
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims := claimsFromMap(mc)
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: subクレームがありません", ErrInvalidToken)
	}
	return claims, nil
}

// DecodeUnverified は TokenVerifier を実装する。subクレームが無い場合は ErrInvalidToken を返す。
func (v *HMACVerifier) DecodeUnverified(token string) (*Claims, error) {
	mc := jwt.MapClaims{}
	if _, _, err := v.parser.ParseUnverified(token, mc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims := claimsFromMap(mc)
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: subクレームがありません", ErrInvalidToken)
	}
	return claims, nil
}

// claimsFromMap はJWTのクレームマップからClaimsを組み立てる。
//
// ロールは "role"（文字列）を優先する。旧形式のトークンは "roles" に文字列または
// 文字列配列を持つため、その場合は文字列そのもの、または配列の先頭要素を採用する。
func claimsFromMap(mc jwt.MapClaims) *Claims {
	c := &Claims{Raw: maps.Clone(map[string]any(mc))}
	c.Subject, _ = mc["sub"].(string)

	if role, ok := mc["role"].(string); ok && role != "" {
		c.Role = role
		return c
	}
	switch roles := mc["roles"].(type) {
	case string:
		c.Role = roles
	case []any:
		for _, r := range roles {
			if s, ok := r.(string); ok && s != "" {
				c.Role = s
				break
			}
		}
	}
	return c
}

// GenerateJWT はsubとroleを持つHS256署名のJWTを生成する。
// 本来トークンは認証サービスが発行する。開発用トークンの発行とテストに使用する。
func GenerateJWT(secret, subject, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": jwt.NewNumericDate(now),
		"exp": jwt.NewNumericDate(now.Add(ttl)),
	}
	if role != "" {
		claims["role"] = role
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(DeriveKey(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}
