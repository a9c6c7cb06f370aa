package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrGarbonzo/secret-moltbot/internal/agent"
	"github.com/MrGarbonzo/secret-moltbot/internal/attestation"
	"github.com/MrGarbonzo/secret-moltbot/internal/birthcert"
	"github.com/MrGarbonzo/secret-moltbot/internal/logx"
	"github.com/MrGarbonzo/secret-moltbot/internal/masker"
	"github.com/MrGarbonzo/secret-moltbot/internal/memory"
	"github.com/MrGarbonzo/secret-moltbot/internal/server"
	"github.com/MrGarbonzo/secret-moltbot/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	verbose := flag.Bool("verbose", false, "Enable verbose debug logs (same as --log-level debug)")
	logLevel := flag.String("log-level", "", "Log level: debug|info|warn|error (or MOLTBOT_LOG_LEVEL)")
	flag.BoolVar(showVersion, "v", false, "Print version and exit")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s\n\n", version.String("moltbot-server"))
		fmt.Fprintf(os.Stderr, "Moltbot server runs a TEE-resident Moltbook agent and serves its attestation\nand birth-certificate state over a read-only HTTP API.\n\n")
		fmt.Fprintf(os.Stderr, "Environment variables:\n")
		fmt.Fprintf(os.Stderr, "  MOLTBOT_MASTER_KEY            At-rest encryption master key, 64 hex chars (required)\n")
		fmt.Fprintf(os.Stderr, "  MOLTBOT_SECRETAI_URL          SecretAI inference endpoint URL (required)\n")
		fmt.Fprintf(os.Stderr, "  MOLTBOT_SECRETAI_API_KEY      Bearer token for the SecretAI attestation endpoint\n")
		fmt.Fprintf(os.Stderr, "  MOLTBOT_AGENT_NAME            Agent name (default: PrivacyMolt)\n")
		fmt.Fprintf(os.Stderr, "  MOLTBOT_AGENT_DESCRIPTION     Agent description shown on registration\n")
		fmt.Fprintf(os.Stderr, "  MOLTBOT_MOLTBOOK_URL          Moltbook API base URL\n")
		fmt.Fprintf(os.Stderr, "  MOLTBOT_DB_PATH               SQLite database path (default: moltbot.db)\n")
		fmt.Fprintf(os.Stderr, "  MOLTBOT_LISTEN_ADDR           Listen address (default: :8000)\n")
		fmt.Fprintf(os.Stderr, "  MOLTBOT_ENCLAVE_SOURCE        secretvm|dstack (default: secretvm)\n")
		fmt.Fprintf(os.Stderr, "  MOLTBOT_VM_ATTESTATION_URL    SecretVM attestation server (default: %s)\n", attestation.DefaultVMAttestationURL)
		fmt.Fprintf(os.Stderr, "  MOLTBOT_DSTACK_ENDPOINT       dstack guest agent socket/endpoint\n")
		fmt.Fprintf(os.Stderr, "  MOLTBOT_SELF_CHECK_INTERVAL   Periodic self-check interval (default: 15m)\n")
		fmt.Fprintf(os.Stderr, "  MOLTBOT_ENFORCE_BIRTH_MEASUREMENT  Refuse to run when the code measurement\n                                changed since birth (default: false)\n")
		fmt.Fprintf(os.Stderr, "  MOLTBOT_ADMIN_TOKEN           Bearer token guarding POST /api/check-verification\n")
		fmt.Fprintf(os.Stderr, "  MOLTBOT_CORS_ORIGINS          Comma-separated allowed CORS origins\n")
		fmt.Fprintf(os.Stderr, "  MOLTBOT_LOG_LEVEL             Log level: debug|info|warn|error (default: info)\n")
		fmt.Fprintf(os.Stderr, "\nFlags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("moltbot-server"))
		os.Exit(0)
	}

	if err := logx.Configure(*logLevel, *verbose); err != nil {
		log.Fatalf("configure logging: %v", err)
	}

	cfg, err := server.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// All log output goes through the masker so the Moltbook credential can
	// never leak once it exists in memory.
	mask := masker.New(os.Stderr)
	logx.SetOutput(mask)

	store, err := memory.NewStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer store.Close()

	var enclave attestation.EnclaveSource
	switch cfg.EnclaveSource {
	case "dstack":
		enclave = attestation.NewDstackCollector(cfg.DstackEndpoint)
	default:
		enclave = attestation.NewVMCollector(cfg.VMAttestationURL)
	}
	engine := attestation.NewEngine(enclave, attestation.NewServiceCollector(cfg.SecretAIAPIKey), cfg.SecretAIURL)
	certs := birthcert.NewManager(store, cfg.AgentName)

	a := agent.New(agent.Options{
		Store:       store,
		Certs:       certs,
		Engine:      engine,
		Name:        cfg.AgentName,
		Description: cfg.AgentDescription,
		MoltbookURL: cfg.MoltbookURL,
		StorageKey:  cfg.StorageKey,
		Mask:        mask,
		Enforce:     cfg.EnforceBirthMeasurement,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logx.Infof("server config: agent=%s enclave_source=%s ratls=%v enforce=%v",
		cfg.AgentName, cfg.EnclaveSource, attestation.RATLSAvailable(), cfg.EnforceBirthMeasurement)

	// Registration and the self-check loop run in the background so the
	// status API is up even while Moltbook is unreachable.
	go func() {
		if err := a.EnsureRegistered(ctx); err != nil {
			logx.Errorf("registration failed: %v", err)
			return
		}
		if err := agent.Harden(); err != nil {
			logx.Errorf("process hardening failed, shutting down: %v", err)
			stop()
			return
		}
		if err := a.RunSelfCheck(ctx, cfg.SelfCheckInterval); err != nil && !errors.Is(err, context.Canceled) {
			logx.Errorf("self-check loop stopped: %v", err)
			stop()
		}
	}()

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.NewRouter(a, engine, certs, cfg),
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	log.Printf("moltbot-server listening on %s", cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}
