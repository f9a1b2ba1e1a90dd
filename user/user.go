// Copyright 2026 The Keyhole Authors
// SPDX-License-Identifier: Apache-2.0

package user

import (
	"crypto/sha512"
	"unicode"
	"unicode/utf8"

	"github.com/keyhole-remote/keyhole/lib/secret"
)

const (
	// MaxNameLength bounds account names.
	MaxNameLength = 64

	// MinPasswordLength and MaxPasswordLength bound passwords before
	// stretching.
	MinPasswordLength = 8
	MaxPasswordLength = 64

	// PasswordHashSize is the fixed digest length (SHA-512).
	PasswordHashSize = sha512.Size

	// StretchIterations is the key-stretching iteration count: the
	// number of SHA-512 applications over the password. Large enough
	// to make offline brute force expensive; revise here, never at
	// call sites, since changing it invalidates stored digests.
	StretchIterations = 100_000
)

// Permission flags stored in a record's flag bitmask.
const (
	// FlagEnabled marks the account as allowed to open sessions.
	FlagEnabled uint32 = 1 << 0
)

// User is one credential record. The zero value is an empty record;
// populate it with SetName and SetPassword or SetPasswordHash. Call
// Wipe before discarding a record holding real credentials.
type User struct {
	name         []byte
	passwordHash []byte
	flags        uint32
	sessionLimit uint32
}

// IsValidName reports whether name is acceptable: 1..MaxNameLength
// characters drawn from letters, digits, '.', '_', and '-'.
func IsValidName(name string) bool {
	runes := []rune(name)
	if len(runes) == 0 || len(runes) > MaxNameLength {
		return false
	}
	for _, r := range runes {
		if !isValidNameRune(r) {
			return false
		}
	}
	return true
}

func isValidNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	return r == '.' || r == '_' || r == '-'
}

// IsValidPassword reports whether password length is within
// [MinPasswordLength, MaxPasswordLength].
func IsValidPassword(password string) bool {
	length := len([]rune(password))
	return length >= MinPasswordLength && length <= MaxPasswordLength
}

// IsValidPasswordBytes is IsValidPassword for a password held in a
// byte slice, without creating a string copy of the secret.
func IsValidPasswordBytes(password []byte) bool {
	length := utf8.RuneCount(password)
	return length >= MinPasswordLength && length <= MaxPasswordLength
}

// StretchPassword derives the fixed-length digest for a password:
// SHA-512 applied StretchIterations times over the UTF-8 encoding.
// The intermediate password copy is wiped before returning.
func StretchPassword(password string) []byte {
	buffer := []byte(password)
	digest := StretchPasswordBytes(buffer)
	secret.Wipe(buffer)
	return digest
}

// StretchPasswordBytes is StretchPassword for a password held in a
// caller-managed buffer. The input is not modified; intermediate
// digest state is wiped before returning.
func StretchPasswordBytes(password []byte) []byte {
	digest := sha512.Sum512(password)
	for iteration := 1; iteration < StretchIterations; iteration++ {
		digest = sha512.Sum512(digest[:])
	}

	result := make([]byte, PasswordHashSize)
	copy(result, digest[:])
	secret.Wipe(digest[:])
	return result
}

// Name returns the account name.
func (u *User) Name() string { return string(u.name) }

// SetName validates and stores the account name. Returns false, with
// the record unchanged, on invalid input.
func (u *User) SetName(name string) bool {
	if !IsValidName(name) {
		return false
	}
	secret.Wipe(u.name)
	u.name = []byte(name)
	return true
}

// PasswordHash returns the stored digest. The returned slice aliases
// the record; callers must not modify it.
func (u *User) PasswordHash() []byte { return u.passwordHash }

// SetPassword validates the password and stores its stretched digest.
// Returns false, with the record unchanged, on invalid input. The
// plaintext is not retained.
func (u *User) SetPassword(password string) bool {
	if !IsValidPassword(password) {
		return false
	}
	secret.Wipe(u.passwordHash)
	u.passwordHash = StretchPassword(password)
	return true
}

// SetPasswordHash stores a precomputed digest. Only the length is
// checked — upstream integrity is trusted. Returns false, with the
// record unchanged, if the digest is not exactly PasswordHashSize
// bytes.
func (u *User) SetPasswordHash(hash []byte) bool {
	if len(hash) != PasswordHashSize {
		return false
	}
	secret.Wipe(u.passwordHash)
	u.passwordHash = make([]byte, PasswordHashSize)
	copy(u.passwordHash, hash)
	return true
}

// Flags returns the permission bitmask.
func (u *User) Flags() uint32 { return u.flags }

// SetFlags replaces the permission bitmask.
func (u *User) SetFlags(flags uint32) { u.flags = flags }

// Enabled reports whether the account may open sessions.
func (u *User) Enabled() bool { return u.flags&FlagEnabled != 0 }

// SessionLimit returns the concurrent-session limit (0 = unlimited).
func (u *User) SessionLimit() uint32 { return u.sessionLimit }

// SetSessionLimit replaces the concurrent-session limit.
func (u *User) SetSessionLimit(limit uint32) { u.sessionLimit = limit }

// Wipe zeroes the record's name and digest storage. The record is
// empty afterwards.
func (u *User) Wipe() {
	secret.Wipe(u.name)
	secret.Wipe(u.passwordHash)
	u.name = nil
	u.passwordHash = nil
	u.flags = 0
	u.sessionLimit = 0
}
