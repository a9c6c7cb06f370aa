package masker

import (
	"bytes"
	"strings"
	"testing"
)

func TestMaskerBasic(t *testing.T) {
	var buf bytes.Buffer
	m := New(&buf, "SECRET123", "TOKEN456")

	m.Write([]byte("hello SECRET123 world TOKEN456 end"))
	m.Flush()

	got := buf.String()
	want := "hello [REDACTED] world [REDACTED] end"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestMaskerChunkBoundary(t *testing.T) {
	var buf bytes.Buffer
	m := New(&buf, "MYSECRET")

	// Split secret across two writes
	m.Write([]byte("prefix MYSE"))
	m.Write([]byte("CRET suffix"))
	m.Flush()

	got := buf.String()
	want := "prefix [REDACTED] suffix"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestMaskerNoSecrets(t *testing.T) {
	var buf bytes.Buffer
	m := New(&buf)

	m.Write([]byte("passthrough"))
	m.Flush()

	if got := buf.String(); got != "passthrough" {
		t.Fatalf("got %q, want %q", got, "passthrough")
	}
}

func TestMaskerEmptySecretsIgnored(t *testing.T) {
	var buf bytes.Buffer
	m := New(&buf, "", "SECRET", "")

	m.Write([]byte("hello SECRET world"))
	m.Flush()

	got := buf.String()
	want := "hello [REDACTED] world"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestMaskerAddSecretLater(t *testing.T) {
	var buf bytes.Buffer
	m := New(&buf)

	m.Write([]byte("before moltbook_key_abc "))
	m.AddSecret("moltbook_key_abc")
	m.Write([]byte("after moltbook_key_abc done"))
	m.Flush()

	got := buf.String()
	if !strings.HasPrefix(got, "before moltbook_key_abc ") {
		t.Fatalf("pre-registration output altered: %q", got)
	}
	if strings.Contains(got[len("before moltbook_key_abc "):], "moltbook_key_abc") {
		t.Fatalf("secret leaked after registration: %q", got)
	}
	if !strings.Contains(got, "[REDACTED]") {
		t.Fatalf("expected placeholder in output: %q", got)
	}
}

func TestMaskerManyChunks(t *testing.T) {
	var buf bytes.Buffer
	m := New(&buf, "BIGSECRET")

	for i := 0; i < 100; i++ {
		m.Write([]byte("data "))
	}
	m.Write([]byte("BIGSECRET end"))
	m.Flush()

	got := buf.String()
	if strings.Contains(got, "BIGSECRET") {
		t.Fatal("secret value leaked in output")
	}
	if !strings.Contains(got, "[REDACTED]") {
		t.Fatal("expected redaction placeholder in output")
	}
}
