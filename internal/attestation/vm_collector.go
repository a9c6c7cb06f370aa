package attestation

import (
	"context"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	tabi "github.com/google/go-tdx-guest/abi"
	tpb "github.com/google/go-tdx-guest/proto/tdx"
)

// DefaultVMAttestationURL is the SecretVM attestation server on the guest.
const DefaultVMAttestationURL = "http://localhost:29343"

const defaultCollectTimeout = 10 * time.Second

var (
	registerPatterns = map[string]*regexp.Regexp{
		"mrtd":       regexp.MustCompile(`(?i)MRTD[:\s]+([a-fA-F0-9]+)`),
		"rtmr0":      regexp.MustCompile(`(?i)RTMR0[:\s]+([a-fA-F0-9]+)`),
		"rtmr1":      regexp.MustCompile(`(?i)RTMR1[:\s]+([a-fA-F0-9]+)`),
		"rtmr2":      regexp.MustCompile(`(?i)RTMR2[:\s]+([a-fA-F0-9]+)`),
		"rtmr3":      regexp.MustCompile(`(?i)RTMR3[:\s]+([a-fA-F0-9]+)`),
		"reportdata": regexp.MustCompile(`(?i)reportdata[:\s]+([a-fA-F0-9]+)`),
	}
	rawQuotePattern = regexp.MustCompile(`(?s)<pre[^>]*id="quoteTextarea"[^>]*>(.*?)</pre>`)
)

// VMCollector fetches enclave measurements from the SecretVM attestation
// server (cpu.html on port 29343). Each call is independent and has no side
// effects beyond the HTTP read.
type VMCollector struct {
	baseURL string
	client  *http.Client
}

// NewVMCollector creates a collector against the given attestation server
// URL (DefaultVMAttestationURL if empty). Attestation servers use self-signed
// RA-TLS certificates, so TLS verification is disabled on this client; trust
// comes from the quote contents, not the channel.
func NewVMCollector(baseURL string) *VMCollector {
	if baseURL == "" {
		baseURL = DefaultVMAttestationURL
	}
	return &VMCollector{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: defaultCollectTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
	}
}

// Collect fetches and parses the CPU quote page. When the server is
// unreachable (expected outside SecretVM) it returns an all-absent
// MeasurementSet wrapped in ErrUnavailable so classification can still run.
// Structurally invalid data returns ErrMalformedQuote.
func (c *VMCollector) Collect(ctx context.Context) (MeasurementSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/cpu.html", nil)
	if err != nil {
		return AbsentMeasurementSet(), fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return AbsentMeasurementSet(), classifyTransportErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return AbsentMeasurementSet(), fmt.Errorf("%w: attestation server returned %d", ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return AbsentMeasurementSet(), fmt.Errorf("%w: read response: %v", ErrNetwork, err)
	}

	return parseCPUQuotePage(string(body))
}

func classifyTransportErr(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	// Connection refused means no attestation server: the expected state
	// outside the confidential VM.
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// parseCPUQuotePage extracts the measurement registers from the attestation
// server HTML. When the page embeds the raw quote blob, the blob is parsed
// with go-tdx-guest for structural validation and used as the authoritative
// source of register values.
func parseCPUQuotePage(html string) (MeasurementSet, error) {
	fields := map[string]string{}
	for name, re := range registerPatterns {
		if m := re.FindStringSubmatch(html); m != nil {
			fields[name] = strings.ToLower(m[1])
		}
	}

	ms := MeasurementSet{
		MRTD:       present(fields["mrtd"]),
		RTMR0:      present(fields["rtmr0"]),
		RTMR1:      present(fields["rtmr1"]),
		RTMR2:      present(fields["rtmr2"]),
		RTMR3:      present(fields["rtmr3"]),
		ReportData: present(fields["reportdata"]),
	}

	if name, f, ok := badRegisterLength(ms); ok {
		return AbsentMeasurementSet(), fmt.Errorf("%w: register %s has %d hex chars, want %d",
			ErrMalformedQuote, name, len(f.Value), measurementHexLen)
	}

	if m := rawQuotePattern.FindStringSubmatch(html); m != nil {
		quoteMS, err := parseRawQuote(strings.TrimSpace(m[1]))
		if err != nil {
			return AbsentMeasurementSet(), err
		}
		if err := crossCheck(ms, quoteMS); err != nil {
			return AbsentMeasurementSet(), err
		}
		// The signed quote body is authoritative; page fields are display copies.
		quoteMS.ReportData = pickPresent(quoteMS.ReportData, ms.ReportData)
		return quoteMS, nil
	}

	if !ms.AnyPresent() {
		return AbsentMeasurementSet(), fmt.Errorf("%w: attestation page contains no measurements", ErrMalformedQuote)
	}
	return ms, nil
}

// badRegisterLength returns the first present register whose value is not
// the expected hex length, with its name for error reporting.
func badRegisterLength(ms MeasurementSet) (string, Field, bool) {
	registers := []struct {
		name  string
		field Field
	}{
		{"mrtd", ms.MRTD},
		{"rtmr0", ms.RTMR0},
		{"rtmr1", ms.RTMR1},
		{"rtmr2", ms.RTMR2},
		{"rtmr3", ms.RTMR3},
	}
	for _, r := range registers {
		if r.field.Present && len(r.field.Value) != measurementHexLen {
			return r.name, r.field, true
		}
	}
	return "", Field{}, false
}

// parseRawQuote structurally validates a hex-encoded TDX quote and lifts the
// measurement registers out of its signed body.
func parseRawQuote(quoteHex string) (MeasurementSet, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(quoteHex))
	if err != nil {
		return AbsentMeasurementSet(), fmt.Errorf("%w: quote is not valid hex: %v", ErrMalformedQuote, err)
	}

	anyQuote, err := tabi.QuoteToProto(raw)
	if err != nil {
		return AbsentMeasurementSet(), fmt.Errorf("%w: %v", ErrMalformedQuote, err)
	}
	quote, ok := anyQuote.(*tpb.QuoteV4)
	if !ok {
		return AbsentMeasurementSet(), fmt.Errorf("%w: unsupported quote format %T", ErrMalformedQuote, anyQuote)
	}

	body := quote.GetTdQuoteBody()
	if body == nil {
		return AbsentMeasurementSet(), fmt.Errorf("%w: quote has no TD body", ErrMalformedQuote)
	}
	rtmrs := body.GetRtmrs()
	if len(rtmrs) != 4 {
		return AbsentMeasurementSet(), fmt.Errorf("%w: quote carries %d RTMRs, want 4", ErrMalformedQuote, len(rtmrs))
	}

	return MeasurementSet{
		MRTD:       present(hex.EncodeToString(body.GetMrTd())),
		RTMR0:      present(hex.EncodeToString(rtmrs[0])),
		RTMR1:      present(hex.EncodeToString(rtmrs[1])),
		RTMR2:      present(hex.EncodeToString(rtmrs[2])),
		RTMR3:      present(hex.EncodeToString(rtmrs[3])),
		TeeTCBSVN:  present(hex.EncodeToString(body.GetTeeTcbSvn())),
		ReportData: present(hex.EncodeToString(body.GetReportData())),
	}, nil
}

// crossCheck fails when the page's display fields disagree with the signed
// quote body. Absent page fields are fine; contradicting ones are not.
func crossCheck(page, quote MeasurementSet) error {
	pairs := []struct {
		name        string
		page, quote Field
	}{
		{"mrtd", page.MRTD, quote.MRTD},
		{"rtmr0", page.RTMR0, quote.RTMR0},
		{"rtmr1", page.RTMR1, quote.RTMR1},
		{"rtmr2", page.RTMR2, quote.RTMR2},
		{"rtmr3", page.RTMR3, quote.RTMR3},
	}
	for _, p := range pairs {
		if p.page.Present && p.quote.Present && p.page.Value != p.quote.Value {
			return fmt.Errorf("%w: %s in page disagrees with signed quote body", ErrMalformedQuote, p.name)
		}
	}
	return nil
}

func pickPresent(a, b Field) Field {
	if a.Present {
		return a
	}
	return b
}
