package gateway

import (
	"regexp"
	"strings"
)

// pathRewriter はサービスプレフィックスごとの転送パスの組み立て規則。
// 上流サービスは自身のドキュメントUIを /docs に公開しているため、
// プレフィックス配下のドキュメントとswaggerアセットは /docs へ付け替える。
type pathRewriter struct {
	prefix  string
	docsRe  *regexp.Regexp
	assetRe *regexp.Regexp
}

// newPathRewriter はプレフィックス用のpathRewriterを生成する。
func newPathRewriter(prefix string) *pathRewriter {
	quoted := regexp.QuoteMeta(prefix)
	return &pathRewriter{
		prefix:  prefix,
		docsRe:  regexp.MustCompile(`^/` + quoted + `/docs(.*)$`),
		assetRe: regexp.MustCompile(`^/` + quoted + `/(swagger-ui.*|favicon-.*\.png)$`),
	}
}

// forwardPath は上流へ転送するパスを返す。
//
// original はリクエストの完全なパス、relative はマウント位置からの相対パス。
// ルーターの構成によってはマウント境界でプレフィックスが失われるため、
// プレフィックスを含む完全なパスを優先し、無ければ相対パスにプレフィックスを付け直す。
func (r *pathRewriter) forwardPath(original, relative string) string {
	mount := "/" + r.prefix

	var p string
	switch {
	case strings.HasPrefix(original, mount+"/"):
		p = original
	case relative != "" && !strings.HasPrefix(relative, mount+"/"):
		if !strings.HasPrefix(relative, "/") {
			relative = "/" + relative
		}
		p = mount + relative
	case original != "":
		p = original
	default:
		p = mount + relative
	}
	return r.rewrite(p)
}

// rewrite はドキュメントとswaggerアセットのパスを /docs 配下へ付け替える。
func (r *pathRewriter) rewrite(p string) string {
	p = r.docsRe.ReplaceAllString(p, "/docs$1")
	return r.assetRe.ReplaceAllString(p, "/docs/$1")
}
