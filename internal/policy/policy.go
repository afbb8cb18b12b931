package policy

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Access はルートが要求する権限の段階。
type Access int

const (
	// Public は認証不要のルート。トークンは検証されない。
	Public Access = iota
	// Authenticated は有効なIDであれば誰でもアクセスできるルート。
	Authenticated
	// RoleRestricted は特定のロール集合に限定されたルート。
	RoleRestricted
)

// String はAccessの名前を返す。
func (a Access) String() string {
	switch a {
	case Public:
		return "public"
	case Authenticated:
		return "authenticated"
	case RoleRestricted:
		return "role"
	default:
		return "unknown"
	}
}

// Decision はリクエストに対する分類結果。
type Decision struct {
	// Access は要求される権限の段階。
	Access Access
	// AllowExpired が true の場合、署名が正しければ期限切れトークンを受け入れる（リフレッシュ用）。
	AllowExpired bool
	// Tier は一致したロール段階の名前。RoleRestricted の場合のみ設定される。
	Tier string
	// Roles は許可されるロール。
	Roles []string
	// Required は403レスポンスで提示する必要ロールの表記。
	Required string
	// Message は403レスポンスで提示するメッセージ。
	Message string
}

// Allows はロールがこの分類で許可されるかを判定する。
func (d Decision) Allows(role string) bool {
	if d.Access != RoleRestricted {
		return true
	}
	return slices.Contains(d.Roles, role)
}

// Tier はロールで制限されたルート群の設定。
type Tier struct {
	// Name はログやメトリクスで使用する段階名。
	Name string `koanf:"name"`
	// Roles は許可されるロール。
	Roles []string `koanf:"roles"`
	// Required は403レスポンスの required フィールドの値。
	Required string `koanf:"required"`
	// Message は403レスポンスの message フィールドの値。
	Message string `koanf:"message"`
	// Methods は制限対象のHTTPメソッド。空の場合は全メソッド。
	Methods []string `koanf:"methods"`
	// Patterns は制限対象のパスパターン。
	Patterns []string `koanf:"patterns"`
}

// Rules はルート分類の設定。
type Rules struct {
	// PublicPatterns は正規化済みパスに対して評価する公開ルートの正規表現。メソッドを問わない。
	PublicPatterns []string `koanf:"public_patterns"`
	// PublicRoutes は "METHOD /path" 形式の公開ルート。
	PublicRoutes []string `koanf:"public_routes"`
	// RefreshRoutes は期限切れトークンを許容する "METHOD /path" 形式のルート。
	RefreshRoutes []string `koanf:"refresh_routes"`
	// Tiers は優先順に評価されるロール制限。最初に一致した段階が適用される。
	Tiers []Tier `koanf:"tiers"`
}

// route はコンパイル済みの "METHOD /path" ルート。
type route struct {
	// methods が空の場合は全メソッドに一致する。
	methods []string
	pattern Pattern
}

// match はメソッドと正規化済みパスが一致するかを判定する。
func (r route) match(method, path string) bool {
	if len(r.methods) > 0 && !slices.Contains(r.methods, method) {
		return false
	}
	return r.pattern.Match(path)
}

// compiledTier はコンパイル済みのロール段階。
type compiledTier struct {
	tier   Tier
	routes []route
}

// Classifier はリクエストのメソッドとパスから必要な権限を判定する。
// 起動時に1度だけ生成し、以降は読み取り専用で並行に使用できる。
type Classifier struct {
	publicPatterns []*regexp.Regexp
	publicRoutes   []route
	refreshRoutes  []route
	tiers          []compiledTier
}

// New はルール設定をコンパイルしてClassifierを生成する。
func New(rules Rules) (*Classifier, error) {
	c := &Classifier{}

	for _, expr := range rules.PublicPatterns {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("公開パターンのコンパイルに失敗 %q: %w", expr, err)
		}
		c.publicPatterns = append(c.publicPatterns, re)
	}

	var err error
	if c.publicRoutes, err = parseRoutes(rules.PublicRoutes); err != nil {
		return nil, fmt.Errorf("公開ルートの解析に失敗: %w", err)
	}
	if c.refreshRoutes, err = parseRoutes(rules.RefreshRoutes); err != nil {
		return nil, fmt.Errorf("リフレッシュルートの解析に失敗: %w", err)
	}

	for _, t := range rules.Tiers {
		if len(t.Roles) == 0 {
			return nil, fmt.Errorf("ロール段階 %q にロールがありません", t.Name)
		}
		ct := compiledTier{tier: t}
		methods := upperAll(t.Methods)
		for _, p := range t.Patterns {
			pattern, err := CompilePattern(p)
			if err != nil {
				return nil, fmt.Errorf("ロール段階 %q: %w", t.Name, err)
			}
			ct.routes = append(ct.routes, route{methods: methods, pattern: pattern})
		}
		c.tiers = append(c.tiers, ct)
	}
	return c, nil
}

// Classify はリクエストを分類する。path はクエリ文字列を含んでいてもよい。
func (c *Classifier) Classify(method, path string) Decision {
	method = strings.ToUpper(method)
	path = NormalizePath(path)

	for _, re := range c.publicPatterns {
		if re.MatchString(path) {
			return Decision{Access: Public}
		}
	}
	if matchAny(c.publicRoutes, method, path) {
		return Decision{Access: Public}
	}

	d := Decision{
		Access:       Authenticated,
		AllowExpired: matchAny(c.refreshRoutes, method, path),
	}
	for _, ct := range c.tiers {
		if matchAny(ct.routes, method, path) {
			d.Access = RoleRestricted
			d.Tier = ct.tier.Name
			d.Roles = ct.tier.Roles
			d.Required = ct.tier.Required
			d.Message = ct.tier.Message
			break
		}
	}
	return d
}

// matchAny はいずれかのルートに一致するかを判定する。
func matchAny(routes []route, method, path string) bool {
	for _, r := range routes {
		if r.match(method, path) {
			return true
		}
	}
	return false
}

// parseRoutes は "METHOD /path" 形式の文字列を解析する。
// メソッドを省略した場合、または "*" の場合は全メソッドに一致する。
// "GET,HEAD /path" のようにカンマ区切りで複数指定できる。
func parseRoutes(specs []string) ([]route, error) {
	routes := make([]route, 0, len(specs))
	for _, spec := range specs {
		fields := strings.Fields(spec)
		var methods []string
		var raw string
		switch len(fields) {
		case 1:
			raw = fields[0]
		case 2:
			if fields[0] != "*" {
				methods = upperAll(strings.Split(fields[0], ","))
			}
			raw = fields[1]
		default:
			return nil, fmt.Errorf("ルート指定が不正です: %q", spec)
		}

		pattern, err := CompilePattern(raw)
		if err != nil {
			return nil, err
		}
		routes = append(routes, route{methods: methods, pattern: pattern})
	}
	return routes, nil
}

// upperAll は各要素を大文字に変換した新しいスライスを返す。
func upperAll(ss []string) []string {
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
