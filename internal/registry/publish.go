package registry

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"io"

	"github.com/cargoforge/registry/internal/apierror"
	"github.com/cargoforge/registry/pkg/types"
	"github.com/cargoforge/registry/pkg/utils"
)

// parsePublishArchive decodes the wire format spec §6 describes: a
// little-endian u32 JSON length, the JSON manifest, a little-endian u32
// tarball length, then exactly that many tarball bytes. Any deviation —
// truncated body, trailing bytes, a length prefix past the end of the
// body — is an InvalidRequest (spec §8 boundary: "tarball length prefix
// exceeds body").
func parsePublishArchive(body []byte) (*types.PublishManifest, []byte, error) {
	r := bytes.NewReader(body)

	jsonLen, err := readU32LE(r)
	if err != nil {
		return nil, nil, apierror.New(apierror.InvalidRequest, "archive truncated before manifest length")
	}
	manifestBytes := make([]byte, jsonLen)
	if _, err := io.ReadFull(r, manifestBytes); err != nil {
		return nil, nil, apierror.New(apierror.InvalidRequest, "manifest length prefix exceeds body")
	}

	var manifest types.PublishManifest
	if err := json.Unmarshal(manifestBytes, &manifest); err != nil {
		return nil, nil, apierror.Wrap(apierror.InvalidRequest, "failed to parse manifest JSON", err)
	}

	tarLen, err := readU32LE(r)
	if err != nil {
		return nil, nil, apierror.New(apierror.InvalidRequest, "archive truncated before tarball length")
	}
	tarball := make([]byte, tarLen)
	if _, err := io.ReadFull(r, tarball); err != nil {
		return nil, nil, apierror.New(apierror.InvalidRequest, "tarball length prefix exceeds body")
	}

	if r.Len() != 0 {
		return nil, nil, apierror.New(apierror.InvalidRequest, "archive has unexpected trailing bytes")
	}

	return &manifest, tarball, nil
}

func readU32LE(r *bytes.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// validDepKinds is the cargo dependency-kind grammar.
var validDepKinds = map[string]bool{"normal": true, "build": true, "dev": true, "": true}

// validateManifestDeps checks the grammar of the manifest's version and
// dependency list (spec §4.7 step 3, §8 boundary: version `0.0.0` valid,
// `1` invalid).
func validateManifestDeps(m *types.PublishManifest) error {
	if !utils.IsValidCargoVersion(m.Vers) {
		return apierror.New(apierror.InvalidRequest, "version must be a full semver triple")
	}
	for _, dep := range m.Deps {
		if dep.Name == "" {
			return apierror.New(apierror.InvalidRequest, "dependency missing a name")
		}
		if dep.VersionReq == "" {
			return apierror.New(apierror.InvalidRequest, "dependency missing a version requirement")
		}
		if !validDepKinds[dep.Kind] {
			return apierror.New(apierror.InvalidRequest, "dependency has an unrecognized kind")
		}
	}
	return nil
}

// sha256Hex computes the checksum recorded in both the version row and
// the index line (spec §3 IndexEntry: "checksum (SHA-256 of tarball)").
func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// buildIndexLine projects a validated manifest into the index's wire
// schema (spec §6), normalizing each dependency entry name-for-name.
func buildIndexLine(m *types.PublishManifest, checksum string) types.IndexLine {
	deps := make([]types.IndexDep, 0, len(m.Deps))
	for _, d := range m.Deps {
		pkg := ""
		if d.ExplicitNameInToml != "" {
			pkg = d.Name
		}
		name := d.Name
		if d.ExplicitNameInToml != "" {
			name = d.ExplicitNameInToml
		}
		deps = append(deps, types.IndexDep{
			Name:            name,
			Req:             d.VersionReq,
			Features:        d.Features,
			Optional:        d.Optional,
			DefaultFeatures: d.DefaultFeatures,
			Target:          d.Target,
			Kind:            depKindOrDefault(d.Kind),
			Registry:        d.Registry,
			Package:         pkg,
		})
	}

	return types.IndexLine{
		Name:     m.Name,
		Vers:     m.Vers,
		Deps:     deps,
		Cksum:    checksum,
		Features: m.Features,
		Yanked:   false,
		Links:    m.Links,
		V:        2,
	}
}

func depKindOrDefault(kind string) string {
	if kind == "" {
		return "normal"
	}
	return kind
}

func newByteReader(b []byte) io.Reader { return bytes.NewReader(b) }

func readAll(r io.Reader) ([]byte, error) { return io.ReadAll(r) }
