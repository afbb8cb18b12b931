package policy

import (
	"fmt"
	"path"
	"strings"
)

// segmentKind はパスパターンのセグメント種別。
type segmentKind int

const (
	// literalSegment は文字列が完全一致するセグメント。
	literalSegment segmentKind = iota
	// wildcardSegment は任意の1セグメントに一致する "*"。
	wildcardSegment
)

// segment はコンパイル済みパスパターンの1要素。
type segment struct {
	kind  segmentKind
	value string
}

// Pattern は起動時にコンパイルされるパスパターン。
// "*" は空でない1セグメントにのみ一致し、複数セグメントには一致しない。
type Pattern struct {
	raw      string
	segments []segment
}

// CompilePattern はパスパターン文字列をコンパイルする。
// パターンは "/" で始まる必要があり、"*" はセグメント全体としてのみ使用できる。
func CompilePattern(raw string) (Pattern, error) {
	if !strings.HasPrefix(raw, "/") {
		return Pattern{}, fmt.Errorf("パスパターンは/で始まる必要があります: %q", raw)
	}

	parts := splitPath(NormalizePath(raw))
	segs := make([]segment, 0, len(parts))
	for _, p := range parts {
		switch {
		case p == "*":
			segs = append(segs, segment{kind: wildcardSegment})
		case strings.Contains(p, "*"):
			return Pattern{}, fmt.Errorf("ワイルドカードはセグメント全体にのみ使用できます: %q", raw)
		default:
			segs = append(segs, segment{kind: literalSegment, value: p})
		}
	}
	return Pattern{raw: raw, segments: segs}, nil
}

// String はコンパイル前のパターン文字列を返す。
func (p Pattern) String() string {
	return p.raw
}

// Match は正規化済みパスがパターンに一致するかを判定する。
// 上流サービスのルーティングは大文字小文字を区別しないため、リテラルセグメントも区別せずに比較する。
func (p Pattern) Match(normalizedPath string) bool {
	parts := splitPath(normalizedPath)
	if len(parts) != len(p.segments) {
		return false
	}
	for i, seg := range p.segments {
		if seg.kind == literalSegment && !strings.EqualFold(parts[i], seg.value) {
			return false
		}
	}
	return true
}

// NormalizePath は分類に使用するパスを正規化する。
// クエリ文字列を除去し、連続するスラッシュ、"."、".." を解決し、末尾のスラッシュを取り除く。
func NormalizePath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	return path.Clean("/" + p)
}

// splitPath はパスを空でないセグメントに分割する。
func splitPath(p string) []string {
	raw := strings.Split(p, "/")
	parts := raw[:0]
	for _, s := range raw {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return parts
}
