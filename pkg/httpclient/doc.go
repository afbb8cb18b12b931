// Package httpclient はゲートウェイから上流サービスへリクエストを転送するクライアントを提供する。
//
// 転送は1回だけ行い、リトライしない。各転送にはタイムアウトが設定され、
// 呼び出し元のコンテキストがキャンセルされた場合も中断される。
// 必要に応じて上流ごとのサーキットブレーカーを有効にでき、
// トレースコンテキストは traceparent ヘッダーとして上流へ伝播される。
package httpclient
