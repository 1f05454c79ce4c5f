package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agentserver/agentserver/internal/auth"
	"github.com/agentserver/agentserver/internal/db"
	"github.com/agentserver/agentserver/internal/extension"
	"github.com/agentserver/agentserver/internal/sandboxdriver"
	"github.com/agentserver/agentserver/internal/server"
	"github.com/agentserver/agentserver/internal/session"
	"github.com/agentserver/agentserver/internal/supervisor"
	"github.com/agentserver/agentserver/internal/workspace"
	"github.com/agentserver/agentserver/internal/ws"
)

var (
	port       int
	agentImage string
	dbPath     string
	dataDir    string
	bundleDir  string
)

// serveCmd is the composition root: it wires every SPEC_FULL.md component
// together the way the teacher's serveCmd wires its backend, auth, and
// server, but against the new single-backend (Docker), single-tenant-per-
// user shape — no backend switch, no Kubernetes client, no OIDC.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the agentserver HTTP and WebSocket server",
	Long:  `Start the server that provisions a sandbox per user and exposes it over a WebSocket and a thin HTTP control surface.`,
	Run: func(cmd *cobra.Command, args []string) {
		if dbPath == "" {
			dbPath = envOrDefault("DATABASE_PATH", "agentserver.db")
		}
		database, err := db.Open(dbPath)
		if err != nil {
			log.Fatalf("database: %v", err)
		}
		defer database.Close()
		log.Printf("opened database at %s", dbPath)

		layout := workspace.New(envOrDefault("WORKSPACE_DIR", dataDir))

		driverCfg := sandboxdriver.DefaultConfig()
		if agentImage != "" {
			driverCfg.Image = agentImage
		}
		driver, err := sandboxdriver.New(driverCfg)
		if err != nil {
			log.Fatalf("sandbox driver: %v", err)
		}

		sup := supervisor.New(driver, database, layout, nil, driverCfg.Image, driverCfg.NetworkMode)
		syncer := extension.New(envOrDefault("EXTENSION_BUNDLE_DIR", bundleDir), layout, database, sup)
		sup.SetSyncer(syncer)

		ctx := context.Background()
		if err := sup.Reconcile(ctx); err != nil {
			log.Printf("warning: startup reconciliation failed: %v", err)
		}

		sessions := session.NewManager(layout)
		idleWatcher := supervisor.NewIdleWatcher(sup, sessions)
		idleWatcher.Start()

		authSvc := auth.New(database)
		signingKey := os.Getenv("TOKEN_SIGNING_KEY")
		if signingKey == "" {
			log.Fatal("TOKEN_SIGNING_KEY is required")
		}
		signer := auth.NewTokenSigner(signingKey)

		mux := &ws.Mux{
			Signer:     signer,
			Supervisor: sup,
			Sessions:   sessions,
			Settings:   database,
			AgentArgv:  agentArgv,
		}

		srv := server.New(authSvc, database, layout, sup, sessions, syncer, signer, mux)
		addr := fmt.Sprintf(":%d", port)
		httpServer := &http.Server{Addr: addr, Handler: srv.Router()}

		go func() {
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
			sig := <-sigCh
			log.Printf("received %v, shutting down", sig)
			httpServer.Shutdown(context.Background())
			idleWatcher.Stop()
		}()

		log.Printf("agentserver listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	},
}

// agentArgv builds the argv that runs the agent runtime inside the
// sandbox, per spec.md §4.6. The binary name and base flags are
// configurable since the runtime itself is an external collaborator
// (spec.md §1's Non-goals: "does not implement the AI model").
func agentArgv(opts ws.ClaudeOptions) []string {
	binary := envOrDefault("AGENT_BINARY", "claude")
	argv := []string{binary, "--print", "--output-format", "stream-json"}
	if opts.Model != "" {
		argv = append(argv, "--model", opts.Model)
	}
	if opts.Resume && opts.SessionID != "" {
		argv = append(argv, "--resume", opts.SessionID)
	}
	return argv
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on")
	serveCmd.Flags().StringVar(&agentImage, "agent-image", "", "Container image for agent sandboxes")
	serveCmd.Flags().StringVar(&dbPath, "db-path", "", "SQLite database file path (or use DATABASE_PATH env)")
	serveCmd.Flags().StringVar(&dataDir, "data-dir", "/var/lib/agentserver/users", "Root directory for per-user host data directories")
	serveCmd.Flags().StringVar(&bundleDir, "bundle-dir", "/etc/agentserver/bundle", "Managed extension bundle source directory")
}
