package registry

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"
)

// cargoTomlPackage mirrors the `[package]` table of a crate's Cargo.toml,
// the supplemental display fields (spec §4.7 supplement) independent of
// the JSON publish manifest, which stays the wire format of record.
type cargoTomlPackage struct {
	Package struct {
		Description string   `toml:"description"`
		License     string   `toml:"license"`
		Authors     []string `toml:"authors"`
		Keywords    []string `toml:"keywords"`
	} `toml:"package"`
}

// extractCargoToml scans a gzipped tarball for the top-level `Cargo.toml`
// (cargo always packs one at `<name>-<version>/Cargo.toml`) and decodes
// its `[package]` table. A missing or unparsable Cargo.toml is tolerated
// — these fields are purely cosmetic, never required for publish to
// succeed.
func extractCargoToml(tarball []byte) *cargoTomlPackage {
	gz, err := gzip.NewReader(newByteReader(tarball))
	if err != nil {
		log.Warn().Err(err).Msg("tarball is not valid gzip, skipping Cargo.toml extraction")
		return nil
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			log.Warn().Err(err).Msg("failed to read tarball entries, skipping Cargo.toml extraction")
			return nil
		}
		topLevel := hdr.Name == "Cargo.toml" ||
			(strings.HasSuffix(hdr.Name, "/Cargo.toml") && strings.Count(hdr.Name, "/") == 1)
		if !topLevel {
			continue
		}

		var pkg cargoTomlPackage
		if _, err := toml.NewDecoder(tr).Decode(&pkg); err != nil {
			log.Warn().Err(err).Str("entry", hdr.Name).Msg("failed to decode Cargo.toml, skipping")
			return nil
		}
		return &pkg
	}
}
