package manifest

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func buildFixture(t *testing.T) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	buf.Write(bytes.Repeat([]byte{0xAB}, 20)) // lead hash

	writeStr := func(s string) {
		buf.WriteByte(byte(len(s)))
		buf.WriteString(s)
	}
	writeStr("1.0.0")
	writeStr("ja")
	buf.WriteByte(1) // entry count

	contentHash := "1122334455667788aabbccddeeff001199887766"
	writeStr("a.db")
	writeStr(contentHash)

	encSHA, err := hex.DecodeString("0011223344556677889900112233445566778899")
	if err != nil {
		t.Fatalf("hex decode fixture: %v", err)
	}
	buf.Write(encSHA)
	buf.Write([]byte{0x04, 0x00, 0x00, 0x00}) // size=4 little-endian

	return buf.Bytes()
}

func TestParseSingleFileManifest(t *testing.T) {
	data := buildFixture(t)
	masterKeys := [3]uint32{0xDEADBEEF, 0xCAFEBABE, 0x12345678}

	m, err := Parse(data, masterKeys)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.Version != "1.0.0" || m.Language != "ja" {
		t.Fatalf("unexpected header: %+v", m)
	}
	if len(m.Files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(m.Files))
	}
	f := m.Files[0]
	if f.Name != "a.db" {
		t.Fatalf("unexpected name: %q", f.Name)
	}
	if f.Size != 4 {
		t.Fatalf("unexpected size: %d", f.Size)
	}
}

func TestParseDerivesPerFileKeys(t *testing.T) {
	data := buildFixture(t)
	masterKeys := [3]uint32{0xDEADBEEF, 0xCAFEBABE, 0x12345678}

	m, err := Parse(data, masterKeys)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := [3]uint32{
		0xDEADBEEF ^ 0x11223344,
		0xCAFEBABE ^ 0x55667788,
		0x12345678 ^ 0xAABBCCDD,
	}
	if m.Files[0].Keys != want {
		t.Fatalf("keys = %#v, want %#v", m.Files[0].Keys, want)
	}
}

func TestParseSerializeRoundTrip(t *testing.T) {
	data := buildFixture(t)
	masterKeys := [3]uint32{0xDEADBEEF, 0xCAFEBABE, 0x12345678}

	m, err := Parse(data, masterKeys)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	reencoded, err := m.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if !bytes.Equal(reencoded, data) {
		t.Fatalf("round trip mismatch:\n got  %x\n want %x", reencoded, data)
	}

	m2, err := Parse(reencoded, masterKeys)
	if err != nil {
		t.Fatalf("re-parse: %v", err)
	}
	if m2.Version != m.Version || m2.Files[0].Name != m.Files[0].Name {
		t.Fatalf("re-parsed manifest diverged: %+v vs %+v", m2, m)
	}
}

func TestParseTruncatedDataIsProtocolMalformed(t *testing.T) {
	_, err := Parse([]byte{1, 2, 3}, [3]uint32{})
	if err == nil {
		t.Fatalf("expected error for truncated manifest")
	}
}
