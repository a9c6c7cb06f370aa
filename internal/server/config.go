package server

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/MrGarbonzo/secret-moltbot/internal/attestation"
	"github.com/MrGarbonzo/secret-moltbot/internal/crypto"
	"github.com/MrGarbonzo/secret-moltbot/internal/moltbook"
)

// Config holds agent configuration loaded from environment variables.
type Config struct {
	AgentName        string
	AgentDescription string
	DBPath           string
	ListenAddr       string

	// EnclaveSource selects the local measurement collector:
	// "secretvm" (attestation server on :29343) or "dstack" (guest agent
	// socket).
	EnclaveSource    string
	VMAttestationURL string
	DstackEndpoint   string

	SecretAIURL    string
	SecretAIAPIKey string
	MoltbookURL    string

	StorageKey        [32]byte
	SelfCheckInterval time.Duration

	// EnforceBirthMeasurement makes a code measurement that differs from the
	// birth certificate fatal instead of report-only.
	EnforceBirthMeasurement bool

	AdminToken  string
	CORSOrigins []string
}

// LoadConfig loads agent configuration from environment variables.
func LoadConfig() (*Config, error) {
	masterKey := os.Getenv("MOLTBOT_MASTER_KEY")
	if masterKey == "" {
		return nil, fmt.Errorf("MOLTBOT_MASTER_KEY is required (64 hex chars)")
	}
	storageKey, err := crypto.DeriveStorageKey(masterKey)
	if err != nil {
		return nil, fmt.Errorf("MOLTBOT_MASTER_KEY: %w", err)
	}

	name := os.Getenv("MOLTBOT_AGENT_NAME")
	if name == "" {
		name = "PrivacyMolt"
	}
	description := os.Getenv("MOLTBOT_AGENT_DESCRIPTION")
	if description == "" {
		description = "A privacy-focused agent running inside a confidential VM"
	}

	dbPath := os.Getenv("MOLTBOT_DB_PATH")
	if dbPath == "" {
		dbPath = "moltbot.db"
	}

	listenAddr := os.Getenv("MOLTBOT_LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = ":8000"
	}

	enclaveSource := strings.ToLower(os.Getenv("MOLTBOT_ENCLAVE_SOURCE"))
	switch enclaveSource {
	case "":
		enclaveSource = "secretvm"
	case "secretvm", "dstack":
	default:
		return nil, fmt.Errorf("MOLTBOT_ENCLAVE_SOURCE must be secretvm or dstack, got %q", enclaveSource)
	}

	vmURL := os.Getenv("MOLTBOT_VM_ATTESTATION_URL")
	if vmURL == "" {
		vmURL = attestation.DefaultVMAttestationURL
	}

	secretAIURL := os.Getenv("MOLTBOT_SECRETAI_URL")
	if secretAIURL == "" {
		return nil, fmt.Errorf("MOLTBOT_SECRETAI_URL is required (inference service endpoint)")
	}

	moltbookURL := os.Getenv("MOLTBOT_MOLTBOOK_URL")
	if moltbookURL == "" {
		moltbookURL = moltbook.DefaultBaseURL
	}

	interval := 15 * time.Minute
	if v := os.Getenv("MOLTBOT_SELF_CHECK_INTERVAL"); v != "" {
		interval, err = time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("MOLTBOT_SELF_CHECK_INTERVAL: %w", err)
		}
		if interval <= 0 {
			return nil, fmt.Errorf("MOLTBOT_SELF_CHECK_INTERVAL must be positive")
		}
	}

	enforce, err := parseBool("MOLTBOT_ENFORCE_BIRTH_MEASUREMENT", false)
	if err != nil {
		return nil, err
	}

	adminToken := os.Getenv("MOLTBOT_ADMIN_TOKEN")
	if adminToken != "" && len(adminToken) < 16 {
		return nil, fmt.Errorf("MOLTBOT_ADMIN_TOKEN must be at least 16 characters")
	}

	var corsOrigins []string
	if v := os.Getenv("MOLTBOT_CORS_ORIGINS"); v != "" {
		for _, o := range strings.Split(v, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				corsOrigins = append(corsOrigins, o)
			}
		}
	}

	return &Config{
		AgentName:               name,
		AgentDescription:        description,
		DBPath:                  dbPath,
		ListenAddr:              listenAddr,
		EnclaveSource:           enclaveSource,
		VMAttestationURL:        vmURL,
		DstackEndpoint:          os.Getenv("MOLTBOT_DSTACK_ENDPOINT"),
		SecretAIURL:             secretAIURL,
		SecretAIAPIKey:          os.Getenv("MOLTBOT_SECRETAI_API_KEY"),
		MoltbookURL:             moltbookURL,
		StorageKey:              storageKey,
		SelfCheckInterval:       interval,
		EnforceBirthMeasurement: enforce,
		AdminToken:              adminToken,
		CORSOrigins:             corsOrigins,
	}, nil
}

func parseBool(envVar string, def bool) (bool, error) {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(envVar)))
	if v == "" {
		return def, nil
	}
	switch v {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s must be one of true/false/1/0/yes/no/on/off", envVar)
	}
}
