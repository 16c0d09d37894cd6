package astctx

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"testing"

	"github.com/rs/zerolog"

	"github.com/lanternkey/astool/pkg/asterrors"
	"github.com/lanternkey/astool/pkg/httpapi"
	"github.com/lanternkey/astool/pkg/memo"
	"github.com/lanternkey/astool/pkg/profile"
	"github.com/lanternkey/astool/pkg/session"
)

func newTestContextWithProfile(t *testing.T) *Context {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	raw := []byte(`
regions:
  global:
    - api_root: "https://a.example"
      bundle_version: "1.0.0"
      rsa_public_key_pem: ` + pemYAMLLiteral(string(pubPEM)) + `
      bootstrap_key_hex: "` + hex.EncodeToString(bytesFill(16, 0xAA)) + `"
      mix_keys_hex: ["` + hex.EncodeToString(bytesFill(32, 0xC0)) + `"]
      master_keys_hex: ["deadbeef", "cafebabe", "12345678"]
`)
	table, err := profile.LoadOverride(raw)
	if err != nil {
		t.Fatalf("parse test region table: %v", err)
	}
	return &Context{
		table:       table,
		env:         EnvConfig{},
		logger:      zerolog.Nop(),
		storageRoot: t.TempDir(),
	}
}

func bytesFill(n int, fill byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = fill
	}
	return b
}

// pemYAMLLiteral renders a PEM block as a YAML block-scalar literal so
// embedded newlines survive the inline YAML document above.
func pemYAMLLiteral(pemText string) string {
	out := "|\n"
	for _, line := range splitLines(pemText) {
		out += "        " + line + "\n"
	}
	return out
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

func TestGetIceAPIFailsWithoutCredentials(t *testing.T) {
	c := newTestContextWithProfile(t)

	_, _, err := c.GetIceAPI(context.Background(), "global", "1.0.0", session.PlatformIOS, false)
	if err == nil {
		t.Fatalf("expected error when memo has no credentials")
	}
	if !asterrors.Is(err, asterrors.NoCredentials) {
		t.Fatalf("expected NoCredentials, got %v", err)
	}
}

func TestReleaseIceAPIPersistsMasterVersionAndAuthCount(t *testing.T) {
	c := newTestContextWithProfile(t)
	prof, err := c.Resolve("global", "1.0.0")
	if err != nil {
		t.Fatalf("resolve profile: %v", err)
	}

	transport := httpapi.New(0)
	engine, err := session.New(prof, transport, zerolog.Nop(), session.PlatformIOS, nil, false)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	blob := &memo.FastResumeBlob{
		SessionKeyB64: "c2Vzc2lvbmtleQ==",
		LastRequestID: 5,
		MasterVersion: "42",
		DeviceToken:   "dev-token",
	}
	if err := engine.ResumeSession(context.Background(), blob, true, false); err != nil {
		t.Fatalf("resume session: %v", err)
	}

	if err := c.ReleaseIceAPI("global", engine, true, true); err != nil {
		t.Fatalf("release ice api: %v", err)
	}

	handle, err := c.EnterMemo("global", true)
	if err != nil {
		t.Fatalf("enter memo: %v", err)
	}
	defer handle.Discard()
	m := handle.Get()
	if m.LastMasterVersion != "42" {
		t.Fatalf("expected persisted master version 42, got %q", m.LastMasterVersion)
	}
	if m.AuthCount != engine.AuthCount() {
		t.Fatalf("expected persisted auth count %d, got %d", engine.AuthCount(), m.AuthCount)
	}
	if m.ResumeBlob == nil || m.ResumeBlob.LastRequestID != 5 {
		t.Fatalf("expected persisted resume blob, got %+v", m.ResumeBlob)
	}
}

func TestReleaseIceAPIWithoutFreshLoginLeavesAuthCountUnchanged(t *testing.T) {
	c := newTestContextWithProfile(t)
	prof, err := c.Resolve("global", "1.0.0")
	if err != nil {
		t.Fatalf("resolve profile: %v", err)
	}

	seed, err := c.EnterMemo("global", false)
	if err != nil {
		t.Fatalf("enter memo: %v", err)
	}
	m := seed.Get()
	m.UserID = 7
	m.AuthorizationKeyB64 = "a2V5"
	m.AuthCount = 9
	seed.Set(m)
	if err := seed.Commit(); err != nil {
		t.Fatalf("seed commit: %v", err)
	}

	transport := httpapi.New(0)
	engine, err := session.New(prof, transport, zerolog.Nop(), session.PlatformIOS, nil, false)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	blob := &memo.FastResumeBlob{SessionKeyB64: "c2Vzc2lvbmtleQ==", MasterVersion: "7"}
	if err := engine.ResumeSession(context.Background(), blob, true, false); err != nil {
		t.Fatalf("resume session: %v", err)
	}

	if err := c.ReleaseIceAPI("global", engine, false, false); err != nil {
		t.Fatalf("release ice api: %v", err)
	}

	handle, err := c.EnterMemo("global", true)
	if err != nil {
		t.Fatalf("enter memo: %v", err)
	}
	defer handle.Discard()
	if handle.Get().AuthCount != 9 {
		t.Fatalf("expected auth count unchanged at 9, got %d", handle.Get().AuthCount)
	}
}
