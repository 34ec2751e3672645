package audit

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Redacted replaces the value of sensitive keys
const Redacted = "[REDACTED]"

var sensitiveKeys = map[string]struct{}{
	"password":      {},
	"passwordhash":  {},
	"token":         {},
	"accesstoken":   {},
	"refreshtoken":  {},
	"idtoken":       {},
	"sessionstate":  {},
	"secret":        {},
	"clientsecret":  {},
	"apikey":        {},
	"authorization": {},
}

// ignoredFields never count as changes
var ignoredFields = map[string]struct{}{
	"created_at": {},
	"updated_at": {},
	"version":    {},
}

// IsSensitive reports whether a key holds a credential. Case and _/- are
// ignored so api_key, apiKey and API-KEY all match.
func IsSensitive(key string) bool {
	norm := strings.ToLower(strings.NewReplacer("_", "", "-", "").Replace(key))
	_, ok := sensitiveKeys[norm]
	return ok
}

// snapshot returns the JSON form of v with sensitive keys redacted. Objects
// are also returned decoded for diffing.
func snapshot(v any) (map[string]any, json.RawMessage, error) {
	if v == nil {
		return nil, nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, raw, nil
	}
	redacted := redact(decoded)
	out, err := json.Marshal(redacted)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	obj, _ := redacted.(map[string]any)
	return obj, out, nil
}

func redact(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, inner := range val {
			if IsSensitive(k) {
				val[k] = Redacted
				continue
			}
			val[k] = redact(inner)
		}
		return val
	case []any:
		for i := range val {
			val[i] = redact(val[i])
		}
		return val
	default:
		return v
	}
}

// changedFields lists top-level keys whose value differs, sorted
func changedFields(before, after map[string]any) []string {
	keys := make(map[string]struct{}, len(before)+len(after))
	for k := range before {
		keys[k] = struct{}{}
	}
	for k := range after {
		keys[k] = struct{}{}
	}

	var changed []string
	for k := range keys {
		if _, skip := ignoredFields[k]; skip || IsSensitive(k) {
			continue
		}
		if !reflect.DeepEqual(before[k], after[k]) {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}
