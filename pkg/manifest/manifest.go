// Package manifest parses and serializes the binary master manifest: a
// leading hash, version, language, and an ordered list of FileReferences.
//
// Wire layout (little-endian), per entry count N (N <= 255):
//
//	20 bytes             leading hash (opaque, never verified)
//	1-byte-len ASCII      version
//	1-byte-len ASCII      language
//	1 byte                entry count N
//	N x (1-byte-len ASCII name, 1-byte-len ASCII 40-hex content hash)
//	N x (20 bytes encrypted sha1, 4-byte LE size)
package manifest

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/lanternkey/astool/pkg/asterrors"
)

const leadHashSize = 20

// FileReference describes one file listed in a manifest.
type FileReference struct {
	MasterVersion string
	Name          string
	ContentHash   string // 40 hex chars, clear-content SHA-1
	EncryptedSHA  string // 40 hex chars, encrypted-content SHA-1
	Size          uint32
	Keys          [3]uint32 // derived per-file decryption keys
}

// Manifest is the parsed master manifest for one (master_version, language).
type Manifest struct {
	LeadHash []byte // 20 bytes, opaque, not verified
	Version  string
	Language string
	Files    []FileReference
}

// DeriveFileKeys computes FileReference.Keys from masterKeys and the file's
// content hash: keys[i] = masterKeys[i] XOR u32_be(contentHash[8i:8i+8]).
func DeriveFileKeys(masterKeys [3]uint32, contentHash string) ([3]uint32, error) {
	var out [3]uint32
	raw, err := hex.DecodeString(contentHash)
	if err != nil {
		return out, fmt.Errorf("manifest: decode content hash: %w", err)
	}
	if len(raw) != 20 {
		return out, fmt.Errorf("manifest: content hash must decode to 20 bytes, got %d", len(raw))
	}
	for i := 0; i < 3; i++ {
		chunk := raw[4*i : 4*i+4]
		out[i] = masterKeys[i] ^ binary.BigEndian.Uint32(chunk)
	}
	return out, nil
}

func readLenPrefixedASCII(r *bytes.Reader) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := readFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readFull(r *bytes.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, fmt.Errorf("manifest: short read")
		}
	}
	return total, nil
}

// Parse decodes a manifest from its on-wire bytes and derives per-file keys
// against masterKeys.
func Parse(data []byte, masterKeys [3]uint32) (*Manifest, error) {
	r := bytes.NewReader(data)

	leadHash := make([]byte, leadHashSize)
	if _, err := readFull(r, leadHash); err != nil {
		return nil, asterrors.Wrap(asterrors.ProtocolMalformed, err, "manifest: read lead hash")
	}

	version, err := readLenPrefixedASCII(r)
	if err != nil {
		return nil, asterrors.Wrap(asterrors.ProtocolMalformed, err, "manifest: read version")
	}
	language, err := readLenPrefixedASCII(r)
	if err != nil {
		return nil, asterrors.Wrap(asterrors.ProtocolMalformed, err, "manifest: read language")
	}

	countByte, err := r.ReadByte()
	if err != nil {
		return nil, asterrors.Wrap(asterrors.ProtocolMalformed, err, "manifest: read entry count")
	}
	count := int(countByte)

	files := make([]FileReference, count)
	for i := 0; i < count; i++ {
		name, err := readLenPrefixedASCII(r)
		if err != nil {
			return nil, asterrors.Wrap(asterrors.ProtocolMalformed, err, "manifest: read file name")
		}
		contentHash, err := readLenPrefixedASCII(r)
		if err != nil {
			return nil, asterrors.Wrap(asterrors.ProtocolMalformed, err, "manifest: read content hash")
		}
		files[i] = FileReference{
			MasterVersion: version,
			Name:          name,
			ContentHash:   contentHash,
		}
	}

	for i := 0; i < count; i++ {
		encSHA := make([]byte, leadHashSize)
		if _, err := readFull(r, encSHA); err != nil {
			return nil, asterrors.Wrap(asterrors.ProtocolMalformed, err, "manifest: read encrypted sha")
		}
		var sizeBuf [4]byte
		if _, err := readFull(r, sizeBuf[:]); err != nil {
			return nil, asterrors.Wrap(asterrors.ProtocolMalformed, err, "manifest: read size")
		}
		files[i].EncryptedSHA = hex.EncodeToString(encSHA)
		files[i].Size = binary.LittleEndian.Uint32(sizeBuf[:])

		keys, err := DeriveFileKeys(masterKeys, files[i].ContentHash)
		if err != nil {
			return nil, asterrors.Wrap(asterrors.ProtocolMalformed, err, "manifest: derive file keys")
		}
		files[i].Keys = keys
	}

	return &Manifest{
		LeadHash: leadHash,
		Version:  version,
		Language: language,
		Files:    files,
	}, nil
}

func writeLenPrefixedASCII(buf *bytes.Buffer, s string) error {
	if len(s) > 255 {
		return fmt.Errorf("manifest: string %q exceeds 255 bytes", s)
	}
	buf.WriteByte(byte(len(s)))
	buf.WriteString(s)
	return nil
}

// Serialize re-encodes a Manifest to the on-wire byte layout, the inverse of
// Parse (Testable Properties §8: parse(serialize(observed)) == observed).
func (m *Manifest) Serialize() ([]byte, error) {
	if len(m.LeadHash) != leadHashSize {
		return nil, fmt.Errorf("manifest: lead hash must be %d bytes, got %d", leadHashSize, len(m.LeadHash))
	}
	if len(m.Files) > 255 {
		return nil, fmt.Errorf("manifest: too many files (%d) for 1-byte count", len(m.Files))
	}

	buf := &bytes.Buffer{}
	buf.Write(m.LeadHash)
	if err := writeLenPrefixedASCII(buf, m.Version); err != nil {
		return nil, err
	}
	if err := writeLenPrefixedASCII(buf, m.Language); err != nil {
		return nil, err
	}
	buf.WriteByte(byte(len(m.Files)))

	for _, f := range m.Files {
		if err := writeLenPrefixedASCII(buf, f.Name); err != nil {
			return nil, err
		}
		if err := writeLenPrefixedASCII(buf, f.ContentHash); err != nil {
			return nil, err
		}
	}
	for _, f := range m.Files {
		encSHA, err := hex.DecodeString(f.EncryptedSHA)
		if err != nil || len(encSHA) != leadHashSize {
			return nil, fmt.Errorf("manifest: file %q has invalid encrypted sha", f.Name)
		}
		buf.Write(encSHA)
		var sizeBuf [4]byte
		binary.LittleEndian.PutUint32(sizeBuf[:], f.Size)
		buf.Write(sizeBuf[:])
	}

	return buf.Bytes(), nil
}
