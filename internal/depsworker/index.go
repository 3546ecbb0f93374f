package depsworker

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cargoforge/registry/pkg/types"
)

// decodeIndexLine scans a shard file's lines for the one matching
// (name, version); shard files can hold many crate versions, one JSON
// object per line (spec §3 IndexEntry).
func decodeIndexLine(data []byte, name, version string) (types.IndexLine, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry types.IndexLine
		if err := json.Unmarshal(line, &entry); err != nil {
			return types.IndexLine{}, fmt.Errorf("failed to parse index line: %w", err)
		}
		if entry.Name == name && entry.Vers == version {
			return entry, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return types.IndexLine{}, fmt.Errorf("failed to scan index shard: %w", err)
	}
	return types.IndexLine{}, fmt.Errorf("version %s of %s not found in index", version, name)
}
