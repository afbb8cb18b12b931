package gateway

import (
	"net/http"
	"net/textproto"
	"slices"
	"strings"
)

// headerField はヘッダーの1行。
type headerField struct {
	name  string
	value string
}

// HeaderBag は挿入順を保持し、同名ヘッダーの複数値を扱える順序付きマルチマップ。
// Set-Cookie のように同名のヘッダーが複数回現れる場合も、すべての値を保持する。
type HeaderBag struct {
	fields []headerField
}

// NewHeaderBag はhttp.Headerから HeaderBag を生成する。
// http.Header は順序を持たないため、ヘッダー名の辞書順で取り込む。
func NewHeaderBag(h http.Header) *HeaderBag {
	b := &HeaderBag{}
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		for _, v := range h[name] {
			b.Add(name, v)
		}
	}
	return b
}

// Add は値を末尾に追加する。既存の値は残す。
func (b *HeaderBag) Add(name, value string) {
	b.fields = append(b.fields, headerField{name: textproto.CanonicalMIMEHeaderKey(name), value: value})
}

// Set は同名の値をすべて取り除き、1つの値を設定する。
func (b *HeaderBag) Set(name, value string) {
	b.Del(name)
	b.Add(name, value)
}

// Del は同名の値をすべて取り除く。
func (b *HeaderBag) Del(name string) {
	b.fields = slices.DeleteFunc(b.fields, func(f headerField) bool {
		return strings.EqualFold(f.name, name)
	})
}

// Has は同名のヘッダーが存在するかを返す。
func (b *HeaderBag) Has(name string) bool {
	return slices.ContainsFunc(b.fields, func(f headerField) bool {
		return strings.EqualFold(f.name, name)
	})
}

// Each は挿入順に各行を渡す。
func (b *HeaderBag) Each(fn func(name, value string)) {
	for _, f := range b.fields {
		fn(f.name, f.value)
	}
}

// Header はhttp.Headerに変換する。同名の値の順序は保持される。
func (b *HeaderBag) Header() http.Header {
	h := make(http.Header, len(b.fields))
	for _, f := range b.fields {
		h[f.name] = append(h[f.name], f.value)
	}
	return h
}
