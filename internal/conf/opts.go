// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package conf

import "encoding/json"

// Raw options that are not directly unmarshalled when loading from json.
// Usage: call Unmarshal to unmarshal the options into a struct.
type RawOpts struct {
	// Raw json bytes, postponed until Unmarshal is called.
	raw []byte
}

// Create a new RawOpts instance with the given json string.
func NewRawOpts(rawJSON string) RawOpts {
	return RawOpts{raw: []byte(rawJSON)}
}

// Create a new RawOpts instance with the given raw json bytes.
func NewRawOptsBytes(rawJSON []byte) RawOpts {
	return RawOpts{raw: rawJSON}
}

// Call the postponed unmarshal function and unmarshal the options into a struct.
func (msg *RawOpts) Unmarshal(v any) error {
	if len(msg.raw) == 0 {
		// No raw json set (e.g. empty options), return nil.
		return nil
	}
	return json.Unmarshal(msg.raw, v)
}

// UnmarshalJSON postpones the unmarshal by keeping the raw bytes, so the
// target struct is only known at the call site (conf.JsonOpts[T]).
func (msg *RawOpts) UnmarshalJSON(data []byte) error {
	msg.raw = append([]byte(nil), data...)
	return nil
}

// MarshalJSON re-emits the postponed raw bytes as-is.
func (msg RawOpts) MarshalJSON() ([]byte, error) {
	if len(msg.raw) == 0 {
		return []byte("null"), nil
	}
	return msg.raw, nil
}

// Mixin that adds the ability to load options from a json map.
// Usage: type StructUsingOpts struct { conf.JsonOpts[MyOpts] }
type JsonOpts[Options any] struct {
	// Options loaded from a json config using the Load method.
	Options Options
}

// Set the options contained in the opts json map.
func (s *JsonOpts[Options]) Load(opts RawOpts) error {
	var o Options
	if err := opts.Unmarshal(&o); err != nil {
		return err
	}
	s.Options = o
	return nil
}
