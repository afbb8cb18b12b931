// Package middleware はGinベースのゲートウェイで使用する共通ミドルウェアを提供する。
//
// Bearerトークンの抽出と検証、認証済みIDの伝播、相関ID、リクエストログ、
// パニックリカバリ、CORS、レート制限を含む。
package middleware
