// Copyright 2026 The Keyhole Authors
// SPDX-License-Identifier: Apache-2.0

package user

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/keyhole-remote/keyhole/lib/codec"
)

// listFormatVersion is bumped when the on-disk record shape changes.
const listFormatVersion = 1

// List is an ordered collection of credential records with
// case-insensitive name lookup.
type List struct {
	users []*User
}

// Add appends a record. Returns an error when a record with the same
// name (case-insensitive) already exists or the record's name is
// invalid.
func (l *List) Add(record *User) error {
	if !IsValidName(record.Name()) {
		return fmt.Errorf("invalid user name %q", record.Name())
	}
	if l.Find(record.Name()) != nil {
		return fmt.Errorf("user %q already exists", record.Name())
	}
	l.users = append(l.users, record)
	return nil
}

// Find returns the record with the given name (case-insensitive), or
// nil.
func (l *List) Find(name string) *User {
	for _, record := range l.users {
		if strings.EqualFold(record.Name(), name) {
			return record
		}
	}
	return nil
}

// Remove deletes the record with the given name (case-insensitive),
// wiping it. Reports whether a record was removed.
func (l *List) Remove(name string) bool {
	for index, record := range l.users {
		if strings.EqualFold(record.Name(), name) {
			record.Wipe()
			l.users = append(l.users[:index], l.users[index+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of records.
func (l *List) Len() int { return len(l.users) }

// Names returns the account names in list order.
func (l *List) Names() []string {
	names := make([]string, len(l.users))
	for index, record := range l.users {
		names[index] = record.Name()
	}
	return names
}

// Wipe zeroes every record and empties the list.
func (l *List) Wipe() {
	for _, record := range l.users {
		record.Wipe()
	}
	l.users = nil
}

// userRecord is the persisted shape of one credential record.
type userRecord struct {
	Name         string `cbor:"name"`
	PasswordHash []byte `cbor:"password_hash"`
	Flags        uint32 `cbor:"flags"`
	SessionLimit uint32 `cbor:"session_limit"`
}

// listFile is the persisted shape of the whole list.
type listFile struct {
	Version int          `cbor:"version"`
	Users   []userRecord `cbor:"users"`
}

// Save writes the list to path as deterministic CBOR, mode 0600,
// using write-to-temporary + fsync + rename so readers never see a
// partial file.
func (l *List) Save(path string) error {
	file := listFile{Version: listFormatVersion}
	for _, record := range l.users {
		file.Users = append(file.Users, userRecord{
			Name:         record.Name(),
			PasswordHash: record.PasswordHash(),
			Flags:        record.Flags(),
			SessionLimit: record.SessionLimit(),
		})
	}

	data, err := codec.Marshal(file)
	if err != nil {
		return fmt.Errorf("encoding user list: %w", err)
	}

	temporaryPath := path + ".tmp"
	handle, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating temporary user file: %w", err)
	}
	if _, err := handle.Write(data); err != nil {
		handle.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary user file: %w", err)
	}
	if err := handle.Sync(); err != nil {
		handle.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary user file: %w", err)
	}
	if err := handle.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary user file: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming user file into place: %w", err)
	}

	// Sync the parent directory so the rename survives power loss.
	if parent, err := os.Open(filepath.Dir(path)); err == nil {
		parent.Sync()
		parent.Close()
	}
	return nil
}

// Load reads a list from path. Every record's shape is validated:
// invalid names and wrong-length digests reject the whole file rather
// than silently loading a partial list.
func Load(path string) (*List, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading user file: %w", err)
	}

	var file listFile
	if err := codec.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing user file %s: %w", path, err)
	}
	if file.Version != listFormatVersion {
		return nil, fmt.Errorf("user file %s has unsupported version %d", path, file.Version)
	}

	list := &List{}
	for _, persisted := range file.Users {
		record := &User{}
		if !record.SetName(persisted.Name) {
			return nil, fmt.Errorf("user file %s: invalid user name %q", path, persisted.Name)
		}
		if !record.SetPasswordHash(persisted.PasswordHash) {
			return nil, fmt.Errorf("user file %s: user %q has a malformed password digest", path, persisted.Name)
		}
		record.SetFlags(persisted.Flags)
		record.SetSessionLimit(persisted.SessionLimit)
		if err := list.Add(record); err != nil {
			return nil, fmt.Errorf("user file %s: %w", path, err)
		}
	}
	return list, nil
}
