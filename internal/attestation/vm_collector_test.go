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

func cpuPage(mrtd, rtmr0, rtmr1, rtmr2, rtmr3 string) string {
	return fmt.Sprintf(`<html><body>
<h1>CPU Attestation</h1>
<p>MRTD: %s</p>
<p>RTMR0: %s</p>
<p>RTMR1: %s</p>
<p>RTMR2: %s</p>
<p>RTMR3: %s</p>
</body></html>`, mrtd, rtmr0, rtmr1, rtmr2, rtmr3)
}

func TestVMCollector_FullQuote(t *testing.T) {
	page := cpuPage(
		strings.Repeat("a1", 48),
		strings.Repeat("b2", 48),
		strings.Repeat("c3", 48),
		strings.Repeat("d4", 48),
		strings.Repeat("e5", 48),
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cpu.html" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, page)
	}))
	t.Cleanup(ts.Close)

	ms, err := NewVMCollector(ts.URL).Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if !ms.FullyPresent() {
		t.Fatalf("expected fully present set, got %+v", ms)
	}
	if ms.RTMR2.Value != strings.Repeat("d4", 48) {
		t.Fatalf("rtmr2 = %q", ms.RTMR2.Value)
	}
}

func TestVMCollector_Unavailable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Close() // collector now dials a dead address

	ms, err := NewVMCollector(ts.URL).Collect(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if ms.AnyPresent() {
		t.Fatalf("expected all-absent set, got %+v", ms)
	}
}

func TestVMCollector_MalformedRegisterLength(t *testing.T) {
	page := cpuPage("abcd", "abcd", "abcd", "abcd", "abcd")
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page)
	}))
	t.Cleanup(ts.Close)

	_, err := NewVMCollector(ts.URL).Collect(context.Background())
	if !errors.Is(err, ErrMalformedQuote) {
		t.Fatalf("err = %v, want ErrMalformedQuote", err)
	}
}

// The malformed-register error names the register, not its value.
func TestParseCPUQuotePage_ErrorNamesRegister(t *testing.T) {
	page := cpuPage(
		strings.Repeat("a1", 48),
		strings.Repeat("b2", 48),
		"beef", // truncated
		strings.Repeat("d4", 48),
		strings.Repeat("e5", 48),
	)

	_, err := parseCPUQuotePage(page)
	if !errors.Is(err, ErrMalformedQuote) {
		t.Fatalf("err = %v, want ErrMalformedQuote", err)
	}
	if !strings.Contains(err.Error(), "rtmr1") {
		t.Fatalf("error does not name the failing register: %v", err)
	}
	if strings.Contains(err.Error(), "beef") {
		t.Fatalf("error leaks the register value instead of its name: %v", err)
	}
}

func TestVMCollector_EmptyPage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>nothing here</body></html>")
	}))
	t.Cleanup(ts.Close)

	_, err := NewVMCollector(ts.URL).Collect(context.Background())
	if !errors.Is(err, ErrMalformedQuote) {
		t.Fatalf("err = %v, want ErrMalformedQuote", err)
	}
}

func TestParseCPUQuotePage_RawQuoteNotHex(t *testing.T) {
	page := `<html><pre id="quoteTextarea">zz-not-hex</pre></html>`
	_, err := parseCPUQuotePage(page)
	if !errors.Is(err, ErrMalformedQuote) {
		t.Fatalf("err = %v, want ErrMalformedQuote", err)
	}
}

func TestParseCPUQuotePage_RawQuoteTruncated(t *testing.T) {
	// Valid hex but far too short to be a TDX quote structure.
	page := `<html><pre id="quoteTextarea">deadbeef</pre></html>`
	_, err := parseCPUQuotePage(page)
	if !errors.Is(err, ErrMalformedQuote) {
		t.Fatalf("err = %v, want ErrMalformedQuote", err)
	}
}

func TestParseTcbInfo(t *testing.T) {
	doc := fmt.Sprintf(`{"mrtd":"%s","rtmr0":"%s","rtmr1":"%s","rtmr2":"%s","rtmr3":"%s"}`,
		strings.Repeat("a1", 48), strings.Repeat("b2", 48), strings.Repeat("c3", 48),
		strings.Repeat("d4", 48), strings.Repeat("e5", 48))

	ms, err := parseTcbInfo(doc)
	if err != nil {
		t.Fatalf("parseTcbInfo: %v", err)
	}
	if !ms.FullyPresent() {
		t.Fatalf("expected fully present set, got %+v", ms)
	}

	if _, err := parseTcbInfo(""); !errors.Is(err, ErrMalformedQuote) {
		t.Fatalf("empty doc: err = %v, want ErrMalformedQuote", err)
	}
	if _, err := parseTcbInfo(`{"mrtd":"beef"}`); !errors.Is(err, ErrMalformedQuote) {
		t.Fatalf("short register: err = %v, want ErrMalformedQuote", err)
	} else if !strings.Contains(err.Error(), "mrtd") {
		t.Fatalf("short register error does not name the register: %v", err)
	}
	if _, err := parseTcbInfo(`{}`); !errors.Is(err, ErrMalformedQuote) {
		t.Fatalf("no registers: err = %v, want ErrMalformedQuote", err)
	}
}
