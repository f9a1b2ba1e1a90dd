// Copyright 2026 The Keyhole Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec wraps CBOR encoding for Keyhole's persisted and
// wire-adjacent structures (the user-record file, the session hello
// frame). Encoding uses Core Deterministic Encoding (RFC 8949 §4.2):
// sorted map keys, smallest integer encoding, no indefinite-length
// items — the same logical data always produces identical bytes, which
// keeps the atomically-rewritten user file diffable and hashable.
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var encMode cbor.EncMode
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Keyhole never uses non-string map keys. When the decoder's
		// target is any, pick map[string]any rather than the CBOR
		// default map[interface{}]interface{}.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v. Unknown fields are ignored for
// forward compatibility.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
