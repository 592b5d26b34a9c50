// TradeFlow terminal chat client.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tradeflow-ai/tradeflow/internal/tui"
)

func main() {
	backendURL := flag.String("backend", envOr("BACKEND_URL", "http://localhost:8080"), "TradeFlow backend base URL")
	flag.Parse()

	if err := tui.Run(*backendURL); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
