package attestation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type fakeEnclave struct {
	ms  MeasurementSet
	err error
}

func (f fakeEnclave) Collect(_ context.Context) (MeasurementSet, error) { return f.ms, f.err }

type fakeService struct {
	sa  ServiceAttestation
	err error
}

func (f fakeService) Collect(_ context.Context, endpoint string) (ServiceAttestation, error) {
	sa := f.sa
	sa.Endpoint = endpoint
	return sa, f.err
}

// Enclave fully measured, service hardware-attested: tier high, fully verified.
func TestEngine_FullyVerified(t *testing.T) {
	eng := NewEngine(
		fakeEnclave{ms: testMeasurementSet()},
		fakeService{sa: ServiceAttestation{Outcome: OutcomeVerified, HardwareProof: true, AttestationRaw: "deadbeef"}},
		"https://secretai.example:443",
	)

	view, err := eng.CollectView(context.Background())
	if err != nil {
		t.Fatalf("CollectView: %v", err)
	}
	if view.Classification.Tier != TierHigh {
		t.Fatalf("tier = %q, want high", view.Classification.Tier)
	}
	if !view.FullyVerified {
		t.Fatal("expected fully_verified = true")
	}
	if view.Binding.Combined == "" || view.Binding.EnclaveHash == "" {
		t.Fatalf("incomplete binding: %+v", view.Binding)
	}
	if view.Binding.EnclaveHash != view.Enclave.Digest() {
		t.Fatal("binding enclave hash does not match the measurement digest")
	}
}

// Enclave unavailable and service TLS-only: tier none, both sides unverified,
// and the call degrades instead of failing.
func TestEngine_DegradedOutsideEnclave(t *testing.T) {
	eng := NewEngine(
		fakeEnclave{ms: AbsentMeasurementSet(), err: fmt.Errorf("%w: no attestation server", ErrUnavailable)},
		fakeService{sa: ServiceAttestation{Outcome: OutcomePartial, TLSFingerprint: strings.Repeat("ab", 32)}},
		"https://secretai.example:443",
	)

	view, err := eng.CollectView(context.Background())
	if err != nil {
		t.Fatalf("CollectView: %v", err)
	}
	if view.Classification.Tier != TierNone {
		t.Fatalf("tier = %q, want none", view.Classification.Tier)
	}
	if view.Classification.Summary.AgentCode != "unverified" || view.Classification.Summary.LLMInference != "unverified" {
		t.Fatalf("summary = %+v", view.Classification.Summary)
	}
	if view.EnclaveError == "" {
		t.Fatal("expected the degradation reason to be recorded")
	}
	if view.FullyVerified {
		t.Fatal("degraded view reported fully verified")
	}
}

// Malformed quote data is an integrity failure: surfaced, never folded.
func TestEngine_MalformedQuoteIsFatal(t *testing.T) {
	eng := NewEngine(
		fakeEnclave{err: fmt.Errorf("%w: bad register", ErrMalformedQuote)},
		fakeService{sa: ServiceAttestation{Outcome: OutcomeVerified}},
		"https://secretai.example:443",
	)

	_, err := eng.CollectView(context.Background())
	if !errors.Is(err, ErrMalformedQuote) {
		t.Fatalf("err = %v, want ErrMalformedQuote", err)
	}
}

func TestServiceCollector_TLSOnlyIsPartial(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	}))
	t.Cleanup(ts.Close)

	sa, err := NewServiceCollector("").Collect(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if sa.Outcome != OutcomePartial {
		t.Fatalf("outcome = %q, want partial", sa.Outcome)
	}
	if len(sa.TLSFingerprint) != 64 {
		t.Fatalf("fingerprint = %q", sa.TLSFingerprint)
	}
	if sa.TLSVersion == "" || sa.CipherSuite == "" {
		t.Fatalf("missing TLS metadata: %+v", sa)
	}
	if sa.Certificate.Subject == "" {
		t.Fatal("missing certificate subject")
	}
}

func TestServiceCollector_HandshakeFailure(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Close()

	sa, err := NewServiceCollector("").Collect(context.Background(), ts.URL)
	if !errors.Is(err, ErrNetwork) && !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want network or timeout", err)
	}
	if sa.Outcome != OutcomeUnverified {
		t.Fatalf("outcome = %q, want unverified", sa.Outcome)
	}
	if sa.Error == "" {
		t.Fatal("expected error text on the attestation record")
	}
}

func TestServiceCollector_BadEndpoint(t *testing.T) {
	_, err := NewServiceCollector("").Collect(context.Background(), "://nope")
	if err == nil {
		t.Fatal("expected error for unparseable endpoint")
	}
}
