// Package freeze implements the frozen unit envelope: a versioned binary
// artifact carrying a backend's compiled program and the manifest needed
// to check it before execution.
//
// Layout:
//
//	magic "EMBF" | version u16 LE | flags u16 LE
//	uLEB128 len | manifest (canonical CBOR)
//	uLEB128 len | payload (backend program)
//	CRC-32 (IEEE) of everything above, u32 LE
package freeze

import (
	"crypto/sha256"
	"encoding/binary"
	stderrors "errors"
	"fmt"
	"hash/crc32"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"

	"github.com/wippyai/embshell/errors"
	"github.com/wippyai/embshell/internal/leb128"
)

// Magic identifies a frozen unit.
var Magic = [4]byte{'E', 'M', 'B', 'F'}

// Version is the envelope version written by Freeze. Thaw accepts only
// this version.
const Version uint16 = 1

// HeaderSize is magic(4) + version(2) + flags(2).
const HeaderSize = 8

const trailerSize = 4

// Flags.
const (
	FlagNone uint16 = 0
)

// Envelope errors. Thaw wraps them in artifact faults.
var (
	ErrTruncated       = stderrors.New("truncated artifact")
	ErrInvalidMagic    = stderrors.New("invalid magic: expected EMBF")
	ErrVersionMismatch = stderrors.New("artifact version mismatch")
	ErrChecksum        = stderrors.New("artifact checksum mismatch")
	ErrCorrupt         = stderrors.New("corrupt artifact")
)

// Header is the fixed prefix of an artifact.
type Header struct {
	Magic   [4]byte
	Version uint16
	Flags   uint16
}

// Manifest describes the payload. It is encoded as canonical CBOR so
// identical inputs give identical bytes.
type Manifest struct {
	Backend      string   `cbor:"backend"`
	Imports      []string `cbor:"imports"`
	SourceDigest []byte   `cbor:"source_sha256"`
}

// Artifact is a decoded frozen unit.
type Artifact struct {
	Header   Header
	Manifest Manifest
	Payload  []byte

	raw []byte
}

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("freeze: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// Digest returns the source digest recorded in manifests.
func Digest(src []byte) []byte {
	sum := sha256.Sum256(src)
	return sum[:]
}

// Freeze encodes an artifact for payload produced by backend.
func Freeze(m Manifest, payload []byte) ([]byte, error) {
	if m.Backend == "" {
		return nil, errors.Artifact(errors.KindArtifact, "manifest has no backend")
	}
	if m.Imports == nil {
		m.Imports = []string{}
	}

	manifest, err := encMode.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseArtifact, errors.KindArtifact, err, "encode manifest")
	}

	out := make([]byte, 0, HeaderSize+2*leb128.MaxLen+len(manifest)+len(payload)+trailerSize)
	out = append(out, Magic[:]...)
	out = binary.LittleEndian.AppendUint16(out, Version)
	out = binary.LittleEndian.AppendUint16(out, FlagNone)
	out = leb128.AppendSection(out, manifest)
	out = leb128.AppendSection(out, payload)
	out = binary.LittleEndian.AppendUint32(out, crc32.ChecksumIEEE(out))

	Logger().Debug("unit frozen",
		zap.String("backend", m.Backend),
		zap.Int("manifest", len(manifest)),
		zap.Int("payload", len(payload)))
	return out, nil
}

// Thaw validates and decodes an artifact. The envelope is checked in
// full before the payload is returned.
func Thaw(data []byte) (*Artifact, error) {
	if len(data) < HeaderSize+trailerSize {
		return nil, corrupt(errors.KindArtifact, ErrTruncated, "%d bytes", len(data))
	}

	var h Header
	copy(h.Magic[:], data[:4])
	h.Version = binary.LittleEndian.Uint16(data[4:6])
	h.Flags = binary.LittleEndian.Uint16(data[6:8])

	if h.Magic != Magic {
		return nil, corrupt(errors.KindArtifact, ErrInvalidMagic, "got %q", h.Magic[:])
	}
	if h.Version != Version {
		return nil, corrupt(errors.KindVersion, ErrVersionMismatch, "expected %d, got %d", Version, h.Version)
	}

	body := data[:len(data)-trailerSize]
	want := binary.LittleEndian.Uint32(data[len(data)-trailerSize:])
	if got := crc32.ChecksumIEEE(body); got != want {
		return nil, corrupt(errors.KindChecksum, ErrChecksum, "expected %08x, got %08x", want, got)
	}

	r := leb128.NewReader(body[HeaderSize:])
	manifest, err := r.Section()
	if err != nil {
		return nil, corrupt(errors.KindArtifact, ErrCorrupt, "manifest: %v", err)
	}
	payload, err := r.Section()
	if err != nil {
		return nil, corrupt(errors.KindArtifact, ErrCorrupt, "payload: %v", err)
	}
	if r.Len() != 0 {
		return nil, corrupt(errors.KindArtifact, ErrCorrupt, "%d trailing bytes", r.Len())
	}

	a := &Artifact{Header: h, Payload: payload, raw: data}
	if err := cbor.Unmarshal(manifest, &a.Manifest); err != nil {
		return nil, corrupt(errors.KindArtifact, ErrCorrupt, "manifest: %v", err)
	}
	if a.Manifest.Backend == "" {
		return nil, corrupt(errors.KindArtifact, ErrCorrupt, "manifest has no backend")
	}
	return a, nil
}

func corrupt(kind errors.Kind, cause error, detail string, args ...any) error {
	return errors.Wrap(errors.PhaseArtifact, kind, cause, cause.Error()+": "+fmt.Sprintf(detail, args...))
}

// HeaderBytes returns the raw header as read or written.
func (a *Artifact) HeaderBytes() []byte {
	if len(a.raw) < HeaderSize {
		return nil
	}
	return a.raw[:HeaderSize]
}

// Check fails when the artifact was frozen by another backend.
func (a *Artifact) Check(backend string) error {
	if a.Manifest.Backend != backend {
		return errors.Artifact(errors.KindArtifact,
			"artifact was frozen by backend '%s', active backend is '%s'", a.Manifest.Backend, backend)
	}
	return nil
}
