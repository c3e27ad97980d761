package main

import (
	"log/slog"
	"net/http"
	"os"
	"strings"

	_ "net/http/pprof" // profiling

	"pydis/internal/pydis/cmd"
	"pydis/internal/pydis/log"
)

// version is set with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	defer log.RecoverPanic("main", func() {
		slog.Error("pydis terminated due to unhandled panic")
		os.Exit(2)
	})

	// PYDIS_PROFILE=1 serves on the default port; host:port picks another
	if addr := os.Getenv("PYDIS_PROFILE"); addr != "" {
		if !strings.Contains(addr, ":") {
			addr = "localhost:6060"
		}
		go func() {
			slog.Info("Serving pprof", "addr", addr)
			if err := http.ListenAndServe(addr, nil); err != nil {
				slog.Error("pprof server stopped", "error", err)
			}
		}()
	}

	cmd.SetVersion(version)
	cmd.Execute()
}
