// Package policy はゲートウェイのルート分類を提供する。
//
// リクエストのメソッドと正規化済みパスから、公開ルート、認証のみ必要なルート、
// 特定ロールに限定されたルートのいずれかに分類する。ロール制限は設定された順に評価され、
// 最初に一致した段階が適用される。パターンは起動時に1度だけコンパイルされる。
package policy
