package validator

import "encoding/json"

// decodeInto unmarshals raw into target, reporting success. Malformed
// payloads are caught earlier by the schema registry, so a decode failure
// here should never happen in practice; it is treated as "nothing to read"
// rather than a hard error.
func decodeInto(raw json.RawMessage, target any) bool {
	if len(raw) == 0 {
		return false
	}
	return json.Unmarshal(raw, target) == nil
}
