// Package toolbus implements the tool bus (spec §4.8): a registry of
// invocable tools with OpenAPI-schema argument validation, a
// determinism contract (canonical JSON, request hashing, replay
// IDs), and pluggable invocation logging.
package toolbus

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/text/unicode/norm"
)

// Canonicalize normalizes raw JSON argument bytes into the canonical
// form spec §4.8 defines: sorted object keys, integers left as
// integers, floats rendered with their shortest round-trip
// representation, strings normalized to NFC, array order preserved.
//
// gjson.Parse is used because it retains the raw number token (so "3"
// and "3.0" are distinguishable before canonicalization); sjson
// rebuilds the normalized document key-by-key in sorted order.
func Canonicalize(raw []byte) (string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		trimmed = "{}"
	}
	if !gjson.Valid(trimmed) {
		return "", fmt.Errorf("invalid JSON arguments")
	}
	parsed := gjson.Parse(trimmed)
	if !parsed.Exists() {
		return "", fmt.Errorf("invalid JSON arguments")
	}
	return canonicalizeValue(parsed)
}

func canonicalizeValue(v gjson.Result) (string, error) {
	switch v.Type {
	case gjson.String:
		normalized := norm.NFC.String(v.String())
		b, err := json.Marshal(normalized)
		if err != nil {
			return "", err
		}
		return string(b), nil
	case gjson.Number:
		return canonicalNumber(v.Raw), nil
	case gjson.True:
		return "true", nil
	case gjson.False:
		return "false", nil
	case gjson.Null:
		return "null", nil
	case gjson.JSON:
		if v.IsArray() {
			return canonicalizeArray(v)
		}
		return canonicalizeObject(v)
	default:
		return "", fmt.Errorf("unsupported JSON value type")
	}
}

func canonicalizeArray(v gjson.Result) (string, error) {
	var parts []string
	var firstErr error
	v.ForEach(func(_, elem gjson.Result) bool {
		s, err := canonicalizeValue(elem)
		if err != nil {
			firstErr = err
			return false
		}
		parts = append(parts, s)
		return true
	})
	if firstErr != nil {
		return "", firstErr
	}
	return "[" + strings.Join(parts, ",") + "]", nil
}

func canonicalizeObject(v gjson.Result) (string, error) {
	type entry struct {
		key string
		val gjson.Result
	}
	var entries []entry
	v.ForEach(func(k, val gjson.Result) bool {
		entries = append(entries, entry{key: k.String(), val: val})
		return true
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	doc := "{}"
	for _, e := range entries {
		sub, err := canonicalizeValue(e.val)
		if err != nil {
			return "", err
		}
		var err2 error
		doc, err2 = sjson.SetRaw(doc, sjsonPathKey(e.key), sub)
		if err2 != nil {
			return "", err2
		}
	}
	return doc, nil
}

// sjsonPathKey escapes a raw JSON object key for use as an sjson path
// segment, since sjson's path syntax gives special meaning to '.',
// '*', '?', and '\\'.
var sjsonKeyEscaper = strings.NewReplacer(`\`, `\\`, `.`, `\.`, `*`, `\*`, `?`, `\?`)

func sjsonPathKey(key string) string {
	return sjsonKeyEscaper.Replace(key)
}

// canonicalNumber renders a raw JSON number token per spec §4.8:
// integers pass through untouched (JSON already forbids leading
// zeros), floats are reformatted to their shortest round-trip form.
func canonicalNumber(raw string) string {
	if !strings.ContainsAny(raw, ".eE") {
		return raw
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return raw
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
