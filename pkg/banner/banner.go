package banner

import (
	"fmt"

	"supportchat/pkg/config"
)

const banner = `
███████╗██╗   ██╗██████╗ ██████╗  ██████╗ ██████╗ ████████╗ ██████╗██╗  ██╗ █████╗ ████████╗
██╔════╝██║   ██║██╔══██╗██╔══██╗██╔═══██╗██╔══██╗╚══██╔══╝██╔════╝██║  ██║██╔══██╗╚══██╔══╝
███████╗██║   ██║██████╔╝██████╔╝██║   ██║██████╔╝   ██║   ██║     ███████║███████║   ██║
╚════██║██║   ██║██╔═══╝ ██╔═══╝ ██║   ██║██╔══██╗   ██║   ██║     ██╔══██║██╔══██║   ██║
███████║╚██████╔╝██║     ██║     ╚██████╔╝██║  ██║   ██║   ╚██████╗██║  ██║██║  ██║   ██║
╚══════╝ ╚═════╝ ╚═╝     ╚═╝      ╚═════╝ ╚═╝  ╚═╝   ╚═╝    ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝
`

// Print prints the startup banner with the effective runtime settings and a
// few production reminders. Kept on stdout so it shows up in plain terminal
// runs; structured logs carry the same facts for collectors.
func Print(cfg *config.Config, dbPath, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", cfg.Addr())
	fmt.Printf("DB Path:  %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}

	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("POST /v1/sessions                 - Open a support or assistant session")
	fmt.Println("GET  /v1/sessions?status=waiting  - Admin queue of unassigned sessions")
	fmt.Println("POST /v1/sessions/{id}/messages   - Send a message")
	fmt.Println("GET  /v1/sessions/{id}/messages   - Conversation history (?after=&limit=)")
	fmt.Println("POST /v1/sessions/{id}/assign     - Claim a waiting session (admin)")
	fmt.Println("POST /v1/sessions/{id}/end        - Customer ends the conversation")
	fmt.Println("GET  /v1/ws                       - Realtime events (websocket)")

	fmt.Println("\n== Production? =================================================")
	if len(cfg.Security.APIKeys.Backend) == 0 {
		fmt.Println("No backend API keys configured; server-to-server calls will be rejected")
	}
	if cfg.Security.JWTSecret == "" {
		fmt.Println("No JWT secret configured; participant tokens cannot be verified")
	}
	if len(cfg.Security.CORS.AllowedOrigins) == 0 {
		fmt.Println("No CORS origins configured; browser clients will be blocked")
	}
	if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
		fmt.Println("TLS not configured; run behind a terminating proxy")
	}
}
