package middleware

import (
	"github.com/gin-gonic/gin"
)

const (
	// HeaderUserID はユーザーIDを伝播するHTTPヘッダーキー。
	HeaderUserID = "X-User-ID"
	// HeaderUserRole はユーザーのロールを伝播するHTTPヘッダーキー。
	HeaderUserRole = "X-User-Role"
	// HeaderUserRoles は旧形式のロール一覧ヘッダーキー。クライアントからの値は転送しない。
	HeaderUserRoles = "X-User-Roles"
)

// identityKey はGinコンテキストに認証済みIDを格納するためのキー。
const identityKey = "identity"

// Identity はゲートウェイを通過した認証済みユーザー。
type Identity struct {
	// UserID はトークンのsubクレーム。
	UserID string
	// Role はユーザーのロール。トークンに無い場合は既定ロールが入る。
	Role string
	// Claims は元のクレーム。
	Claims *Claims
}

// NewIdentity はクレームからIdentityを組み立てる。ロールが無い場合は defaultRole を使う。
func NewIdentity(claims *Claims, defaultRole string) Identity {
	role := claims.Role
	if role == "" {
		role = defaultRole
	}
	return Identity{UserID: claims.Subject, Role: role, Claims: claims}
}

// SetIdentity はIDをGinコンテキストに保存し、レスポンスヘッダーに反映する。
func SetIdentity(c *gin.Context, id Identity) {
	c.Set(identityKey, id)
	c.Header(HeaderUserID, id.UserID)
	c.Header(HeaderUserRole, id.Role)
}

// GetIdentity はGinコンテキストから認証済みIDを取得する。
// 公開ルートなど認証を経ていない場合は false を返す。
func GetIdentity(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}
