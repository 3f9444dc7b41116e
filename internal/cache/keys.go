package cache

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ToolKey builds a deterministic cache key from the user, tool name, and
// parameters. Parameters are canonicalized by sorting top-level object keys
// so that logically identical inputs hash identically regardless of field
// order. The key is a 64-bit xxhash of the canonical string.
func ToolKey(userID, toolName string, params json.RawMessage) string {
	var sb strings.Builder
	sb.WriteString(userID)
	sb.WriteByte(0)
	sb.WriteString(toolName)
	sb.WriteByte(0)
	sb.WriteString(canonicalize(params))
	return strconv.FormatUint(xxhash.Sum64String(sb.String()), 16)
}

// ResponseKey builds a cache key for a model call from the model name and the
// serialized message history.
func ResponseKey(model string, messages []byte) string {
	d := xxhash.New()
	_, _ = d.WriteString(model)
	_, _ = d.Write([]byte{0})
	_, _ = d.Write(messages)
	return strconv.FormatUint(d.Sum64(), 16)
}

// canonicalize renders a JSON object with sorted keys. Non-object or invalid
// JSON is used verbatim.
func canonicalize(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return string(raw)
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%q:%s", k, string(obj[k]))
	}
	sb.WriteByte('}')
	return sb.String()
}
