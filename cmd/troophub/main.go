// Command troophub はスカウト団体向けコミュニティアプリのエントリーポイント。
//
//	troophub               Webサーバーを起動する（serveと同じ）
//	troophub worker        期限切れデータのクリーンアップを定期実行する
//	troophub migrate       データベースマイグレーションを適用する
//	troophub create-admin  ADMIN_EMAIL・ADMIN_PASSWORDから初期管理者を作成する
//	troophub healthcheck   /health を確認する（コンテナのヘルスチェック用）
package main

import (
	"log/slog"
	"os"

	"github.com/hitoshi/troophub/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		slog.Error("application exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
