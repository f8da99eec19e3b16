package models

import (
	"bytes"
	"encoding/json"
)

// marshalIndent renders v as indented JSON, matching the on-disk format used
// by the store/sessionstore packages for human-readable records.
func marshalIndent(v interface{}) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// unmarshalStrict decodes data into v, rejecting unknown fields so that a
// malformed or stale on-disk record is caught at load time rather than
// silently dropping fields (CORE SPEC §4.B: "a malformed file returns
// ValidationError, never a partially-constructed session").
func unmarshalStrict(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
