// Package gateway はAPI Gatewayサービスの内部実装を提供する。
//
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線として機能する。
// リクエストごとにルートを公開、認証必須、ロール制限のいずれかに分類し、
// Bearerトークンを検証したうえでユーザーIDとロールをヘッダーに載せて
// サービスプレフィックス（/auth, /users, /courses など）に対応する上流サービスへ転送する。
// 上流のレスポンスはステータス、ヘッダー、ボディをそのまま中継し、
// 複数の Set-Cookie はすべてクライアントへ返す。
package gateway
