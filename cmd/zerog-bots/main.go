package main

// ============================================================================
// 職責說明：
// 1. CLI 應用程式入口點
// 2. 執行 internal/cli 的根命令
// 3. 頂層錯誤輸出與 panic recovery
// ============================================================================

import (
	"fmt"
	"os"

	"github.com/ChuLiYu/zerog-bots/internal/cli"
)

var version = "dev" // 由 -ldflags "-X main.version=..." 注入

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", r)
			os.Exit(1)
		}
	}()

	cli.Version = version
	if err := cli.BuildCLI().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
