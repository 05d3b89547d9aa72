package utils

import (
	"encoding/json"
)

// MustMarshalJSON marshals v and panics on failure. Callers pass values built
// from plain maps and structs, so a failure is a programming error.
func MustMarshalJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic("failed to marshal JSON: " + err.Error())
	}
	return data
}
