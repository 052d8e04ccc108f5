package driver

import (
	"strconv"
	"strings"
)

// parseTerse parses one line of RouterOS "print terse" output into a
// key/value map. Lines look like:
//
//	0  R name=ether1 type=ether mac-address=AA:BB:CC:DD:EE:FF mtu=1500
//
// The leading index and flag letters carry no '=' and are skipped.
// Values never contain spaces in terse output.
func parseTerse(line string) map[string]string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	kv := make(map[string]string, len(fields))
	for _, f := range fields {
		i := strings.IndexByte(f, '=')
		if i <= 0 {
			continue
		}
		kv[f[:i]] = f[i+1:]
	}
	if len(kv) == 0 {
		return nil
	}
	return kv
}

// parseColonPairs parses "Key: Value" or "Key = Value" style output
// (one pair per line) into a map keyed by the lower-cased, trimmed key.
// Lines without a separator are ignored.
func parseColonPairs(text string) map[string]string {
	kv := make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		sep := strings.IndexAny(line, ":=")
		if sep <= 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line[:sep]))
		val := strings.TrimSpace(line[sep+1:])
		if key == "" || val == "" {
			continue
		}
		if _, ok := kv[key]; !ok {
			kv[key] = val
		}
	}
	return kv
}

// firstOf returns the first non-empty value among the given keys.
func firstOf(kv map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := kv[k]; v != "" {
			return v
		}
	}
	return ""
}

// normalizeMac upper-cases a MAC and rejects strings that do not look
// like one. Vendors emit both colon and dash separators.
func normalizeMac(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", ":")
	if len(s) != 17 {
		return ""
	}
	for i, c := range s {
		if (i+1)%3 == 0 {
			if c != ':' {
				return ""
			}
			continue
		}
		if !((c >= '0' && c <= '9') || (c >= 'A' && c <= 'F')) {
			return ""
		}
	}
	return s
}

// atoiDefault parses an integer, falling back to def on any error.
func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}

// parseWatts parses PoE power readings like "4.6W" or "4.6".
func parseWatts(s string) float64 {
	s = strings.TrimSuffix(strings.TrimSpace(s), "W")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
