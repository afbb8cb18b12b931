package middleware

import (
	"net/http"
	"net/url"
	"strings"
	"unicode"
)

const (
	// accessTokenCookie はアクセストークンを保持するCookie名。
	accessTokenCookie = "accessToken"
	// accessTokenQuery はアクセストークンを受け付けるクエリパラメータ名。
	accessTokenQuery = "access_token"
)

// ExtractToken はリクエストからBearerトークンを取り出す。
//
// 優先順位は Authorizationヘッダー、accessToken Cookie、access_token クエリパラメータの順。
// Authorizationヘッダーが存在する場合は、その値だけで結果が決まる。
// トークンが見つからない場合は false を返す。
func ExtractToken(r *http.Request) (string, bool) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		token := stripBearer(auth)
		return token, token != ""
	}

	if cookies, ok := parseCookies(strings.Join(r.Header.Values("Cookie"), "; ")); ok {
		if token := cookies[accessTokenCookie]; token != "" {
			return token, true
		}
	}

	if token := r.URL.Query().Get(accessTokenQuery); token != "" {
		return token, true
	}
	return "", false
}

// stripBearer は大文字小文字を区別せずに "Bearer " 接頭辞を取り除く。
// 接頭辞が無い場合は値をそのまま返す。
func stripBearer(v string) string {
	const scheme = "bearer"
	if len(v) <= len(scheme) || !strings.EqualFold(v[:len(scheme)], scheme) {
		return v
	}
	rest := v[len(scheme):]
	if !unicode.IsSpace(rune(rest[0])) {
		return v
	}
	return strings.TrimLeftFunc(rest, unicode.IsSpace)
}

// parseCookies は "k1=v1; k2=v2" 形式のCookieヘッダーを解析する。
// 値はURLデコードされる。デコードに失敗した場合は Cookie 全体を無視し false を返す。
// 同じキーが複数ある場合は後勝ち。
func parseCookies(header string) (map[string]string, bool) {
	cookies := make(map[string]string)
	if strings.TrimSpace(header) == "" {
		return cookies, true
	}
	for _, pair := range strings.Split(header, ";") {
		key, value, _ := strings.Cut(strings.TrimSpace(pair), "=")
		decoded, err := url.PathUnescape(value)
		if err != nil {
			return nil, false
		}
		cookies[key] = decoded
	}
	return cookies, true
}
