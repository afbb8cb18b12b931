// Package config はゲートウェイの設定を読み込む。
//
// 既定値、YAML設定ファイル、環境変数の順に重ね合わせ、検証済みの Config を返す。
// 返された Config は起動後に変更せず、サーバーへ注入して使う。
package config
