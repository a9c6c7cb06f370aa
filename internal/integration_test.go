package internal

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrGarbonzo/secret-moltbot/internal/agent"
	"github.com/MrGarbonzo/secret-moltbot/internal/attestation"
	"github.com/MrGarbonzo/secret-moltbot/internal/birthcert"
	"github.com/MrGarbonzo/secret-moltbot/internal/memory"
	"github.com/MrGarbonzo/secret-moltbot/internal/server"
)

type fakeEnclave struct {
	ms attestation.MeasurementSet
}

func (f *fakeEnclave) Collect(_ context.Context) (attestation.MeasurementSet, error) {
	return f.ms, nil
}

type fakeService struct{}

func (fakeService) Collect(_ context.Context, endpoint string) (attestation.ServiceAttestation, error) {
	return attestation.ServiceAttestation{
		Endpoint:       endpoint,
		TLSFingerprint: strings.Repeat("fe", 32),
		TLSVersion:     "TLS 1.3",
		Outcome:        attestation.OutcomeVerified,
		HardwareProof:  true,
	}, nil
}

func fullMeasurements() attestation.MeasurementSet {
	return attestation.MeasurementSet{
		MRTD:  attestation.Field{Value: strings.Repeat("a0", 48), Present: true},
		RTMR0: attestation.Field{Value: strings.Repeat("b1", 48), Present: true},
		RTMR1: attestation.Field{Value: strings.Repeat("c2", 48), Present: true},
		RTMR2: attestation.Field{Value: strings.Repeat("d3", 48), Present: true},
		RTMR3: attestation.Field{Value: strings.Repeat("e4", 48), Present: true},
	}
}

// fakeMoltbook serves the two endpoints the agent lifecycle needs. The
// claimed flag flips when the test decides the owner has posted the code.
type fakeMoltbook struct {
	claimed bool
}

func (m *fakeMoltbook) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/agents/register", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"agent": map[string]string{
				"api_key":           "moltbook-api-key-123",
				"claim_url":         "https://moltbook.example/claim/abc",
				"verification_code": "reef-1234",
			},
		})
	})
	mux.HandleFunc("/agents/status", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"claimed": m.claimed})
	})
	return mux
}

func setupAgentServer(t *testing.T) (*httptest.Server, *agent.Agent, *fakeMoltbook) {
	t.Helper()

	mb := &fakeMoltbook{}
	mbServer := httptest.NewServer(mb.handler())
	t.Cleanup(mbServer.Close)

	store, err := memory.NewStore(":memory:")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	engine := attestation.NewEngine(&fakeEnclave{ms: fullMeasurements()}, fakeService{}, "https://secretai.example:443")
	certs := birthcert.NewManager(store, "PrivacyMolt")

	a := agent.New(agent.Options{
		Store:       store,
		Certs:       certs,
		Engine:      engine,
		Name:        "PrivacyMolt",
		Description: "integration test agent",
		MoltbookURL: mbServer.URL,
	})

	cfg := &server.Config{AgentName: "PrivacyMolt"}
	ts := httptest.NewServer(server.NewRouter(a, engine, certs, cfg))
	t.Cleanup(ts.Close)

	return ts, a, mb
}

func getJSON(t *testing.T, url string) (int, map[string]json.RawMessage) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	var m map[string]json.RawMessage
	if err := json.Unmarshal(body, &m); err != nil {
		t.Fatalf("GET %s: not a JSON object: %s", url, body)
	}
	return resp.StatusCode, m
}

func str(t *testing.T, raw json.RawMessage) string {
	t.Helper()
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		t.Fatalf("not a string: %s", raw)
	}
	return s
}

// Full lifecycle: boot, register, birth certificate, claim, verified.
func TestAgentLifecycle(t *testing.T) {
	ts, a, mb := setupAgentServer(t)

	// Before registration the certificate endpoint reports expected absence,
	// not an error state.
	code, body := getJSON(t, ts.URL+"/api/birth-certificate")
	if code != http.StatusNotFound || str(t, body["status"]) != "not_found" {
		t.Fatalf("pre-registration certificate: code=%d body=%v", code, body)
	}

	if err := a.EnsureRegistered(context.Background()); err != nil {
		t.Fatalf("EnsureRegistered: %v", err)
	}

	// Status shows the claim handshake while unclaimed.
	code, body = getJSON(t, ts.URL+"/api/status")
	if code != http.StatusOK || str(t, body["state"]) != "registered" {
		t.Fatalf("status: code=%d state=%s", code, body["state"])
	}
	if str(t, body["claim_url"]) == "" {
		t.Fatal("status missing claim_url")
	}

	// Attestation view is live and fully verified with both sides strong.
	code, body = getJSON(t, ts.URL+"/api/attestation")
	if code != http.StatusOK {
		t.Fatalf("attestation: code=%d", code)
	}
	var fully bool
	json.Unmarshal(body["fully_verified"], &fully)
	if !fully {
		t.Fatalf("attestation not fully verified: %v", body)
	}

	// The birth certificate exists and the code is unchanged since birth.
	code, body = getJSON(t, ts.URL+"/api/birth-certificate")
	if code != http.StatusOK {
		t.Fatalf("certificate: code=%d body=%v", code, body)
	}
	if got := str(t, body["code_changed_since_birth"]); got != "false" {
		t.Fatalf("code_changed_since_birth = %s", got)
	}

	// Owner posts the verification code; a manual check flips to verified.
	mb.claimed = true
	resp, err := http.Post(ts.URL+"/api/check-verification", "application/json", nil)
	if err != nil {
		t.Fatalf("check-verification: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("check-verification: code=%d", resp.StatusCode)
	}

	code, body = getJSON(t, ts.URL+"/api/status")
	if code != http.StatusOK || str(t, body["state"]) != "verified" {
		t.Fatalf("status after claim: code=%d state=%s", code, body["state"])
	}

	// Health is always up, whatever the lifecycle state.
	code, body = getJSON(t, ts.URL+"/health")
	if code != http.StatusOK || str(t, body["status"]) != "healthy" {
		t.Fatalf("health: code=%d body=%v", code, body)
	}
}

// Outside the enclave the engine still answers: tier none, both summary
// sides unverified, and the certificate records no code measurement.
func TestAgentLifecycle_OutsideEnclave(t *testing.T) {
	mb := &fakeMoltbook{}
	mbServer := httptest.NewServer(mb.handler())
	t.Cleanup(mbServer.Close)

	store, err := memory.NewStore(":memory:")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	tlsOnly := attestation.ServiceAttestation{Outcome: attestation.OutcomePartial}
	engine := attestation.NewEngine(
		&fakeEnclave{ms: attestation.AbsentMeasurementSet()},
		staticService{sa: tlsOnly},
		"https://secretai.example:443",
	)
	certs := birthcert.NewManager(store, "PrivacyMolt")
	a := agent.New(agent.Options{
		Store:       store,
		Certs:       certs,
		Engine:      engine,
		Name:        "PrivacyMolt",
		MoltbookURL: mbServer.URL,
	})

	cfg := &server.Config{AgentName: "PrivacyMolt"}
	ts := httptest.NewServer(server.NewRouter(a, engine, certs, cfg))
	t.Cleanup(ts.Close)

	code, body := getJSON(t, ts.URL+"/api/attestation")
	if code != http.StatusOK {
		t.Fatalf("attestation: code=%d", code)
	}
	var cls attestation.Classification
	if err := json.Unmarshal(body["classification"], &cls); err != nil {
		t.Fatalf("decode classification: %v", err)
	}
	if cls.Tier != attestation.TierNone {
		t.Fatalf("tier = %s, want none", cls.Tier)
	}
	if cls.Summary.AgentCode != "unverified" || cls.Summary.LLMInference != "unverified" {
		t.Fatalf("summary = %+v", cls.Summary)
	}

	if err := a.EnsureRegistered(context.Background()); err != nil {
		t.Fatalf("EnsureRegistered: %v", err)
	}

	code, body = getJSON(t, ts.URL+"/api/birth-certificate")
	if code != http.StatusOK {
		t.Fatalf("certificate: code=%d body=%v", code, body)
	}
	if got := str(t, body["code_changed_since_birth"]); got != "not_applicable" {
		t.Fatalf("code_changed_since_birth = %s, want not_applicable", got)
	}
}

type staticService struct {
	sa attestation.ServiceAttestation
}

func (s staticService) Collect(_ context.Context, endpoint string) (attestation.ServiceAttestation, error) {
	sa := s.sa
	sa.Endpoint = endpoint
	return sa, nil
}
