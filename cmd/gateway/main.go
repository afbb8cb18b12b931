// API Gatewayサービスのエントリポイント。
// Bearerトークンの検証、ロールによる認可、各サービスへのリクエスト転送を担当する。
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線となる。
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := serveCmd()
	rootCmd.AddCommand(devTokenCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// serveCmd はゲートウェイを起動するルートコマンドを返す。
func serveCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:           "gateway",
		Short:         "API Gateway for the learning platform services",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath, port)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "設定ファイルのパス（未指定の場合は CONFIG_PATH または config.yaml）")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "待ち受けポート（設定値より優先）")
	return cmd
}
