package main

import (
	"fmt"
	"time"

	"github.com/nao1215/edu-gateway/internal/config"
	"github.com/nao1215/edu-gateway/internal/policy"
	"github.com/nao1215/edu-gateway/pkg/middleware"
	"github.com/spf13/cobra"
)

// devTokenCmd は開発用のJWTを発行するサブコマンドを返す。
// 署名にはゲートウェイと同じ JWT_SECRET を使うため、発行したトークンはそのまま検証を通る。
func devTokenCmd() *cobra.Command {
	var (
		configPath string
		subject    string
		role       string
		ttl        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "dev-token",
		Short: "Issue a signed JWT for local development",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			token, err := middleware.GenerateJWT(cfg.Auth.JWTSecret, subject, role, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "設定ファイルのパス")
	cmd.Flags().StringVar(&subject, "sub", "dev-user", "subクレーム（ユーザーID）")
	cmd.Flags().StringVar(&role, "role", policy.RoleStudent, "roleクレーム")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "有効期間")
	return cmd
}
