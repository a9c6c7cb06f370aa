package attestation

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// attestationPort is the well-known port SecretVM-style services expose
// their attestation page on.
const attestationPort = "29343"

// rawPayloadLimit caps the stored raw attestation payload for display.
const rawPayloadLimit = 500

// ServiceCollector performs the remote-service side of collection: a TLS
// handshake to capture the certificate fingerprint, then a best-effort fetch
// of the service's attestation page for a hardware payload.
type ServiceCollector struct {
	apiKey  string
	timeout time.Duration
	client  *http.Client
}

// NewServiceCollector creates a collector. apiKey, when non-empty, is sent as
// a Bearer token to attestation endpoints that require it.
func NewServiceCollector(apiKey string) *ServiceCollector {
	return &ServiceCollector{
		apiKey:  apiKey,
		timeout: defaultCollectTimeout,
		client: &http.Client{
			Timeout: defaultCollectTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
	}
}

// Collect captures the remote service's TLS identity and attestation payload.
// Outcome:
//
//	verified    TLS handshake succeeded and a hardware attestation payload
//	            (or an RA-TLS verified certificate) was obtained
//	partial     TLS authenticated, no hardware proof obtainable
//	unverified  the handshake itself failed
//
// A failed handshake returns ErrNetwork/ErrTimeout alongside the unverified
// attestation so callers can distinguish transient failures.
func (c *ServiceCollector) Collect(ctx context.Context, endpoint string) (ServiceAttestation, error) {
	sa := ServiceAttestation{Endpoint: endpoint, Outcome: OutcomeUnverified}

	host, port, err := splitEndpoint(endpoint)
	if err != nil {
		return sa, err
	}

	state, err := c.handshake(ctx, host, port)
	if err != nil {
		sa.Error = err.Error()
		return sa, err
	}

	leaf := state.PeerCertificates[0]
	sum := sha256.Sum256(leaf.Raw)
	sa.TLSFingerprint = hex.EncodeToString(sum[:])
	sa.TLSVersion = tls.VersionName(state.Version)
	sa.CipherSuite = tls.CipherSuiteName(state.CipherSuite)
	sa.Certificate = CertificateInfo{
		Subject:   leaf.Subject.String(),
		Issuer:    leaf.Issuer.String(),
		NotBefore: leaf.NotBefore.UTC(),
		NotAfter:  leaf.NotAfter.UTC(),
	}
	sa.Outcome = OutcomePartial
	sa.Note = "TLS channel authenticated; no hardware attestation payload"

	// Hardware proof, path one: the certificate itself carries a verifiable
	// RA-TLS quote extension (needs the ratls build).
	if ok, err := hardwareVerifyCert(leaf); err == nil && ok {
		sa.HardwareProof = true
		sa.Outcome = OutcomeVerified
		sa.Note = "RA-TLS certificate verified against hardware quote"
	}

	// Hardware proof, path two: the service publishes its quote on the
	// well-known attestation port. Best effort; failure keeps partial.
	if payload := c.fetchAttestationPayload(ctx, host); payload != "" {
		sa.AttestationRaw = payload
		sa.HardwareProof = true
		sa.Outcome = OutcomeVerified
		if sa.Note == "TLS channel authenticated; no hardware attestation payload" {
			sa.Note = "hardware attestation payload obtained from attestation endpoint"
		}
	}

	return sa, nil
}

func splitEndpoint(endpoint string) (host, port string, err error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Hostname() == "" {
		return "", "", fmt.Errorf("invalid service endpoint %q", endpoint)
	}
	host = u.Hostname()
	port = u.Port()
	if port == "" {
		port = "443"
	}
	return host, port, nil
}

func (c *ServiceCollector) handshake(ctx context.Context, host, port string) (tls.ConnectionState, error) {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: c.timeout},
		Config: &tls.Config{
			// Attestation endpoints present self-signed RA-TLS certs; the
			// fingerprint and quote are the trust anchors, not a CA chain.
			InsecureSkipVerify: true,
			ServerName:         host,
		},
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := dialer.DialContext(dialCtx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		var netErr net.Error
		if (errors.As(err, &netErr) && netErr.Timeout()) || errors.Is(err, context.DeadlineExceeded) {
			return tls.ConnectionState{}, fmt.Errorf("%w: handshake with %s: %v", ErrTimeout, host, err)
		}
		return tls.ConnectionState{}, fmt.Errorf("%w: handshake with %s: %v", ErrNetwork, host, err)
	}
	defer conn.Close()

	state := conn.(*tls.Conn).ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return tls.ConnectionState{}, fmt.Errorf("%w: %s presented no certificate", ErrNetwork, host)
	}
	return state, nil
}

// fetchAttestationPayload pulls the raw quote from the service's attestation
// page. Returns "" when the endpoint is absent or malformed; the caller
// degrades to partial rather than failing.
func (c *ServiceCollector) fetchAttestationPayload(ctx context.Context, host string) string {
	pageURL := fmt.Sprintf("https://%s/cpu.html", net.JoinHostPort(host, attestationPort))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return ""
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ""
	}

	payload := string(body)
	if m := rawQuotePattern.FindStringSubmatch(payload); m != nil {
		payload = strings.TrimSpace(m[1])
	}
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return ""
	}
	if len(payload) > rawPayloadLimit {
		payload = payload[:rawPayloadLimit]
	}
	return payload
}
