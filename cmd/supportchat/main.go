package main

import (
	"context"
	"log"
	"net"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"supportchat/internal/app"
	"supportchat/pkg/config"
	"supportchat/pkg/logger"
	"supportchat/pkg/shutdown"
)

// build metadata - set via ldflags during build/release
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	_ = godotenv.Load(".env")
	addrVal, dbVal, cfgVal, setFlags := config.ParseCommandFlags()

	cfgPath := config.ResolveConfigPath(cfgVal, setFlags["config"])
	cfg, _, _, err := config.LoadEffective(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger.Init(cfg.Logging.Level)

	// Flags explicitly set win over env/config for addr and db path.
	if setFlags["addr"] {
		host, port := splitAddr(addrVal)
		cfg.Server.Address = host
		cfg.Server.Port = port
	}
	dbPath := cfg.Storage.DBPath
	if setFlags["db"] || dbPath == "" {
		dbPath = dbVal
	}

	a, err := app.New(cfg, dbPath, version, commit, buildDate)
	if err != nil {
		shutdown.Abort("startup failed", err, 0)
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	if err := a.Run(ctx); err != nil {
		logger.Error("server_exit", "error", err)
		os.Exit(1)
	}
}

// splitAddr parses "host:port" with sane fallbacks for bare hosts.
func splitAddr(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 0
	}
	return host, port
}
