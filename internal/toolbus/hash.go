package toolbus

import (
	"crypto/sha256"
	"encoding/hex"
)

// fieldSeparator is the 0x1F (unit separator) byte spec §4.8 places
// between the tool name and the canonical argument JSON before
// hashing, so a tool name that happens to be a JSON prefix can never
// collide with another tool's differently-named call.
const fieldSeparator = byte(0x1F)

// RequestHash computes the spec §4.8 determinism-contract hash:
// sha256(tool_name || 0x1F || canonical_json(args)), hex-lowercase.
func RequestHash(toolName, canonicalArgs string) string {
	h := sha256.New()
	h.Write([]byte(toolName))
	h.Write([]byte{fieldSeparator})
	h.Write([]byte(canonicalArgs))
	return hex.EncodeToString(h.Sum(nil))
}
