// Package agent owns the lifecycle of the TEE-resident Moltbook agent:
// self-registration, birth-certificate issuance, claim polling, and the
// periodic self-check against the stored certificate.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrGarbonzo/secret-moltbot/internal/attestation"
	"github.com/MrGarbonzo/secret-moltbot/internal/birthcert"
	"github.com/MrGarbonzo/secret-moltbot/internal/crypto"
	"github.com/MrGarbonzo/secret-moltbot/internal/logx"
	"github.com/MrGarbonzo/secret-moltbot/internal/masker"
	"github.com/MrGarbonzo/secret-moltbot/internal/moltbook"
)

// State is the agent's lifecycle position. It only moves forward except for
// the error state, which a restart may recover from.
type State string

const (
	StateBooting      State = "booting"
	StateUnregistered State = "unregistered"
	StateRegistering  State = "registering"
	StateRegistered   State = "registered"
	StateVerified     State = "verified" // registered and claimed by a human owner
	StateError        State = "error"
)

// Config store keys. The credential is the only encrypted value; the claim
// URL and verification code are meant to be shown to the owner.
const (
	keyCredential       = "moltbook_credential"
	keyClaimURL         = "moltbook_claim_url"
	keyVerificationCode = "moltbook_verification_code"
	keyClaimed          = "moltbook_claimed"
)

// ErrCodeChanged is returned by SelfCheck in enforcing mode when the current
// code measurement no longer matches the birth certificate.
var ErrCodeChanged = errors.New("code measurement changed since birth")

// ConfigStore is the small slice of memory.Store the agent needs.
type ConfigStore interface {
	SetConfig(key string, value []byte) error
	GetConfig(key string) ([]byte, bool, error)
}

// Options wires an Agent. Store, Certs, and Engine are required.
type Options struct {
	Store       ConfigStore
	Certs       *birthcert.Manager
	Engine      *attestation.Engine
	Name        string
	Description string
	MoltbookURL string
	StorageKey  [32]byte
	Mask        *masker.Masker // optional, receives the credential once known

	// Enforce makes SelfCheck fail hard when the code measurement differs
	// from the one recorded at birth. Off by default: upgrades are legal.
	Enforce bool
}

// Agent is safe for concurrent use; the HTTP handlers read its snapshot
// while the scheduler runs self-checks.
type Agent struct {
	mu sync.RWMutex

	store  ConfigStore
	certs  *birthcert.Manager
	engine *attestation.Engine
	mask   *masker.Masker

	name        string
	description string
	moltbookURL string
	storageKey  [32]byte
	enforce     bool

	state            State
	stateDetail      string
	credential       string
	claimURL         string
	verificationCode string
	claimed          bool

	lastCheckAt time.Time
	lastVerify  *birthcert.VerifyResult

	// test seams
	registerFn func(ctx context.Context, baseURL, name, description string) (*moltbook.Registration, error)
	statusFn   func(ctx context.Context, baseURL, apiKey string) (*moltbook.Status, error)
}

func New(opts Options) *Agent {
	return &Agent{
		store:       opts.Store,
		certs:       opts.Certs,
		engine:      opts.Engine,
		mask:        opts.Mask,
		name:        opts.Name,
		description: opts.Description,
		moltbookURL: opts.MoltbookURL,
		storageKey:  opts.StorageKey,
		enforce:     opts.Enforce,
		state:       StateBooting,
		registerFn:  moltbook.Register,
		statusFn: func(ctx context.Context, baseURL, apiKey string) (*moltbook.Status, error) {
			return moltbook.New(baseURL, apiKey).GetStatus(ctx)
		},
	}
}

// EnsureRegistered brings the agent to the registered state: it either
// restores the credential persisted by a previous run or performs a fresh
// self-registration. On first registration the birth certificate is written
// BEFORE the credential is persisted or used for anything, so no credential
// can ever exist without its certificate.
func (a *Agent) EnsureRegistered(ctx context.Context) error {
	restored, err := a.restoreCredential()
	if err != nil {
		a.setState(StateError, err.Error())
		return err
	}
	if restored {
		logx.Infof("agent: restored existing credential for %s", a.name)
		// A claim survives restarts: a previously claimed agent comes back
		// verified, not waiting for another manual check.
		if a.claimed {
			a.setState(StateVerified, "")
		} else {
			a.setState(StateRegistered, "")
		}
		return nil
	}

	a.setState(StateRegistering, "")
	logx.Infof("agent: registering %s with moltbook", a.name)

	reg, err := a.registerFn(ctx, a.moltbookURL, a.name, a.description)
	if err != nil {
		a.setState(StateError, err.Error())
		return fmt.Errorf("register: %w", err)
	}
	if a.mask != nil {
		a.mask.AddSecret(reg.APIKey)
	}

	view, err := a.engine.CollectView(ctx)
	if err != nil {
		a.setState(StateError, err.Error())
		return fmt.Errorf("collect attestation for birth certificate: %w", err)
	}

	if _, err := a.certs.Create(reg.APIKey, view); err != nil {
		if errors.Is(err, birthcert.ErrAlreadyExists) {
			// A certificate from an earlier life exists but its credential
			// was lost. The original record stays authoritative.
			logx.Warnf("agent: birth certificate already exists, keeping original record")
		} else {
			a.setState(StateError, err.Error())
			return fmt.Errorf("create birth certificate: %w", err)
		}
	}

	if err := a.persistRegistration(reg); err != nil {
		a.setState(StateError, err.Error())
		return err
	}

	a.mu.Lock()
	a.credential = reg.APIKey
	a.claimURL = reg.ClaimURL
	a.verificationCode = reg.VerificationCode
	a.mu.Unlock()

	a.setState(StateRegistered, "")
	logx.Infof("agent: registered, claim url %s", reg.ClaimURL)
	return nil
}

// restoreCredential loads and decrypts a previously persisted credential.
// Returns false with no error when none is stored yet.
func (a *Agent) restoreCredential() (bool, error) {
	enc, ok, err := a.store.GetConfig(keyCredential)
	if err != nil {
		return false, fmt.Errorf("load credential: %w", err)
	}
	if !ok {
		return false, nil
	}

	plain, err := crypto.DecryptAtRest(a.storageKey, enc)
	if err != nil {
		return false, fmt.Errorf("decrypt credential: %w", err)
	}

	a.mu.Lock()
	a.credential = string(plain)
	if v, ok, _ := a.store.GetConfig(keyClaimURL); ok {
		a.claimURL = string(v)
	}
	if v, ok, _ := a.store.GetConfig(keyVerificationCode); ok {
		a.verificationCode = string(v)
	}
	if v, ok, _ := a.store.GetConfig(keyClaimed); ok && string(v) == "true" {
		a.claimed = true
	}
	a.mu.Unlock()

	if a.mask != nil {
		a.mask.AddSecret(string(plain))
	}
	return true, nil
}

func (a *Agent) persistRegistration(reg *moltbook.Registration) error {
	enc, err := crypto.EncryptAtRest(a.storageKey, []byte(reg.APIKey))
	if err != nil {
		return fmt.Errorf("encrypt credential: %w", err)
	}
	if err := a.store.SetConfig(keyCredential, enc); err != nil {
		return fmt.Errorf("persist credential: %w", err)
	}
	if err := a.store.SetConfig(keyClaimURL, []byte(reg.ClaimURL)); err != nil {
		return fmt.Errorf("persist claim url: %w", err)
	}
	if err := a.store.SetConfig(keyVerificationCode, []byte(reg.VerificationCode)); err != nil {
		return fmt.Errorf("persist verification code: %w", err)
	}
	return nil
}

// CheckVerification polls Moltbook for the claim state. Once claimed, the
// agent moves to the verified state and the claim is remembered across
// restarts.
func (a *Agent) CheckVerification(ctx context.Context) (*moltbook.Status, error) {
	a.mu.RLock()
	cred := a.credential
	a.mu.RUnlock()
	if cred == "" {
		return nil, errors.New("not registered yet")
	}

	st, err := a.statusFn(ctx, a.moltbookURL, cred)
	if err != nil {
		return nil, err
	}
	if st.Claimed {
		a.mu.Lock()
		a.claimed = true
		a.mu.Unlock()
		if err := a.store.SetConfig(keyClaimed, []byte("true")); err != nil {
			logx.Warnf("agent: persist claimed flag: %v", err)
		}
		a.setState(StateVerified, "")
	}
	return st, nil
}

// SelfCheck collects a fresh attestation view and verifies it against the
// birth certificate. A missing certificate is not an error before
// registration. In enforcing mode a changed code measurement fails the
// check; otherwise it is logged and reported.
func (a *Agent) SelfCheck(ctx context.Context) (*birthcert.VerifyResult, error) {
	view, err := a.engine.CollectView(ctx)
	if err != nil {
		return nil, fmt.Errorf("self-check: collect attestation: %w", err)
	}

	res, err := a.certs.Verify(view)
	if err != nil {
		if errors.Is(err, birthcert.ErrNotFound) {
			logx.Debugf("agent: self-check skipped, no birth certificate yet")
			return nil, nil
		}
		return nil, fmt.Errorf("self-check: %w", err)
	}

	a.mu.Lock()
	a.lastCheckAt = time.Now().UTC()
	a.lastVerify = res
	a.mu.Unlock()

	switch res.CodeChanged {
	case birthcert.CodeChangedSinceBirth:
		logx.Warnf("agent: code measurement changed since birth: %s -> %s",
			res.BirthMeasurement, res.CurrentMeasurement)
		if a.enforce {
			a.setState(StateError, "code measurement changed since birth")
			return res, ErrCodeChanged
		}
	case birthcert.CodeChangeUnknowable:
		logx.Debugf("agent: code change unknowable (no measurement at birth or now)")
	default:
		logx.Debugf("agent: self-check ok, code measurement unchanged")
	}
	return res, nil
}

func (a *Agent) setState(s State, detail string) {
	a.mu.Lock()
	a.state = s
	a.stateDetail = detail
	a.mu.Unlock()
}

// Snapshot is what the status endpoint renders.
type Snapshot struct {
	Name             string                  `json:"name"`
	State            State                   `json:"state"`
	Detail           string                  `json:"detail,omitempty"`
	Claimed          bool                    `json:"claimed"`
	ClaimURL         string                  `json:"claim_url,omitempty"`
	VerificationCode string                  `json:"verification_code,omitempty"`
	LastCheckAt      *time.Time              `json:"last_check_at,omitempty"`
	LastVerify       *birthcert.VerifyResult `json:"last_self_check,omitempty"`
}

func (a *Agent) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	snap := Snapshot{
		Name:       a.name,
		State:      a.state,
		Detail:     a.stateDetail,
		Claimed:    a.claimed,
		LastVerify: a.lastVerify,
	}
	// The claim handshake is only useful while unclaimed.
	if !a.claimed {
		snap.ClaimURL = a.claimURL
		snap.VerificationCode = a.verificationCode
	}
	if !a.lastCheckAt.IsZero() {
		t := a.lastCheckAt
		snap.LastCheckAt = &t
	}
	return snap
}
