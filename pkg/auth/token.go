// Package auth provides the token secret generator used by the registry's
// token-based authentication scheme (spec §3 Token).
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// Word lists for human-readable token secret generation.
var (
	// 4 prefixes (2 bits entropy)
	tokenPrefixes = []string{
		"north", "gamma", "echo", "delta",
	}

	// 128 adjectives (7 bits entropy each)
	tokenAdjectives = []string{
		"quantum", "neural", "atomic", "cosmic", "binary", "hybrid", "matrix", "vector",
		"digital", "linear", "optical", "thermal", "magnetic", "electric", "dynamic", "static",
		"mobile", "stable", "active", "passive", "direct", "inverse", "parallel", "serial",
		"rapid", "swift", "smooth", "sharp", "bright", "clear", "pure", "prime",
		"solid", "fluid", "dense", "light", "heavy", "strong", "robust", "secure",
		"smart", "quick", "fast", "slow", "high", "low", "wide", "narrow",
		"deep", "thin", "thick", "fine", "gross", "micro", "macro", "mini",
		"mega", "ultra", "super", "hyper", "meta", "proto", "pseudo", "quasi",
		"semi", "multi", "poly", "mono", "duo", "tri", "quad", "penta",
		"hexa", "octa", "deca", "kilo", "nano", "pico", "femto", "atto",
		"zeta", "yotta", "terra", "giga", "beta", "alpha", "omega", "sigma",
		"delta", "gamma", "theta", "lambda", "mu", "nu", "xi", "pi",
		"rho", "tau", "phi", "chi", "psi", "zen", "flux", "core",
		"edge", "node", "mesh", "grid", "cell", "unit", "disk", "chip",
		"code", "data", "byte", "word", "line", "loop", "tree", "heap",
		"hash", "key", "lock", "gate", "port", "path", "link", "zone",
	}

	// 128 nouns (7 bits entropy)
	tokenNouns = []string{
		"phoenix", "dragon", "griffin", "sphinx", "hydra", "kraken", "titan", "atlas",
		"orion", "vega", "nova", "star", "comet", "galaxy", "nebula", "pulsar",
		"quasar", "meteor", "planet", "moon", "sun", "earth", "mars", "venus",
		"jupiter", "saturn", "uranus", "neptune", "pluto", "asteroid", "cosmos", "void",
		"ocean", "river", "lake", "stream", "valley", "mountain", "peak", "ridge",
		"forest", "desert", "tundra", "prairie", "canyon", "crater", "island", "cape",
		"crystal", "diamond", "emerald", "ruby", "sapphire", "pearl", "amber", "opal",
		"silver", "gold", "copper", "iron", "steel", "bronze", "platinum", "titanium",
		"laser", "radar", "sonar", "prism", "lens", "mirror", "beacon", "signal",
		"wave", "pulse", "beam", "ray", "field", "force", "energy", "power",
		"circuit", "reactor", "engine", "motor", "turbine", "generator", "battery", "cell",
		"tower", "bridge", "tunnel", "dome", "arch", "pillar", "column", "beam",
		"sphere", "cube", "pyramid", "helix", "spiral", "ring", "disc", "blade",
		"shield", "armor", "sword", "lance", "bow", "arrow", "spear", "hammer",
		"anvil", "forge", "furnace", "crucible", "vessel", "chamber", "vault", "cache",
		"nexus", "portal", "gateway", "passage", "corridor", "channel", "conduit", "pipeline",
	}

	// 4 suffixes (2 bits entropy)
	tokenSuffixes = []string{
		"one", "prime", "eleven", "max",
	}
)

// GenerateTokenSecret generates a human-readable token secret with 121 bits
// of entropy. Format: {prefix}-{adjective1}-{noun}-{adjective2}-{24-char-hex}-{suffix}
// Entropy breakdown: 2 + 7 + 7 + 7 + 96 + 2 = 121 bits
func GenerateTokenSecret() (string, error) {
	// Generate cryptographically secure random bytes for selection
	randomBytes := make([]byte, 16) // bytes 0-4 select the words; the hex component uses its own bytes
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	// Select words using secure random indices
	prefixIdx := int(randomBytes[0]) % len(tokenPrefixes)
	adj1Idx := int(randomBytes[1]) % len(tokenAdjectives)
	nounIdx := int(randomBytes[2]) % len(tokenNouns)
	adj2Idx := int(randomBytes[3]) % len(tokenAdjectives)
	suffixIdx := int(randomBytes[4]) % len(tokenSuffixes)

	// Generate 24-character hex string (96 bits entropy) from fresh random bytes
	hexBytes := make([]byte, 12) // 12 bytes = 24 hex characters
	if _, err := rand.Read(hexBytes); err != nil {
		return "", fmt.Errorf("failed to generate hex component: %w", err)
	}
	hexComponent := strings.ToUpper(hex.EncodeToString(hexBytes))

	secret := fmt.Sprintf("%s-%s-%s-%s-%s-%s",
		tokenPrefixes[prefixIdx],
		tokenAdjectives[adj1Idx],
		tokenNouns[nounIdx],
		tokenAdjectives[adj2Idx],
		hexComponent,
		tokenSuffixes[suffixIdx],
	)

	return secret, nil
}

// ValidateTokenSecretFormat validates the format of a human-readable token
// secret produced by GenerateTokenSecret.
func ValidateTokenSecretFormat(secret string) bool {
	if secret == "" {
		return false
	}

	parts := strings.Split(secret, "-")
	if len(parts) != 6 {
		return false
	}

	prefix, adj1, noun, adj2, hexPart, suffix := parts[0], parts[1], parts[2], parts[3], parts[4], parts[5]

	if !containsString(tokenPrefixes, prefix) {
		return false
	}
	if !containsString(tokenAdjectives, adj1) {
		return false
	}
	if !containsString(tokenNouns, noun) {
		return false
	}
	if !containsString(tokenAdjectives, adj2) {
		return false
	}
	if !containsString(tokenSuffixes, suffix) {
		return false
	}

	hexPattern := regexp.MustCompile(`^[A-F0-9]{24}$`)
	return hexPattern.MatchString(hexPart)
}

// Fingerprint hashes a token secret for storage. The registry never stores
// or returns the cleartext secret after creation (spec §3 Token).
func Fingerprint(secret string) string {
	hash := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(hash[:])
}

func containsString(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
