// Copyright 2026 The Keyhole Authors
// SPDX-License-Identifier: Apache-2.0

// Keyhole-user manages the host's persisted user records.
//
//	keyhole-user [--file PATH] add <name> [--sessions N] [--disabled]
//	keyhole-user [--file PATH] passwd <name>
//	keyhole-user [--file PATH] enable|disable <name>
//	keyhole-user [--file PATH] remove <name>
//	keyhole-user [--file PATH] list
//
// Passwords are prompted on the terminal (never taken as arguments)
// and held in locked memory until the stretched digest is stored.
package main

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/keyhole-remote/keyhole/lib/config"
	"github.com/keyhole-remote/keyhole/lib/secret"
	"github.com/keyhole-remote/keyhole/user"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("keyhole-user", pflag.ContinueOnError)
	filePath := flags.String("file", config.DefaultUserFile, "path of the user record file")
	sessions := flags.Uint32("sessions", 0, "concurrent-session limit for add (0 = unlimited)")
	disabled := flags.Bool("disabled", false, "create the record disabled")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	arguments := flags.Args()
	if len(arguments) == 0 {
		return fmt.Errorf("usage: keyhole-user [--file PATH] add|passwd|enable|disable|remove|list [name]")
	}
	command := arguments[0]

	if command == "list" {
		return listUsers(*filePath)
	}

	if len(arguments) != 2 {
		return fmt.Errorf("%s requires exactly one user name", command)
	}
	name := arguments[1]

	switch command {
	case "add":
		return addUser(*filePath, name, *sessions, !*disabled)
	case "passwd":
		return setPassword(*filePath, name)
	case "enable":
		return setEnabled(*filePath, name, true)
	case "disable":
		return setEnabled(*filePath, name, false)
	case "remove":
		return removeUser(*filePath, name)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// loadOrEmpty reads the record file, treating a missing file as an
// empty list so the first add works on a fresh install.
func loadOrEmpty(path string) (*user.List, error) {
	list, err := user.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &user.List{}, nil
		}
		return nil, err
	}
	return list, nil
}

func addUser(path, name string, sessionLimit uint32, enabled bool) error {
	if !user.IsValidName(name) {
		return fmt.Errorf("invalid user name %q (1..%d letters, digits, '.', '_', '-')", name, user.MaxNameLength)
	}

	list, err := loadOrEmpty(path)
	if err != nil {
		return err
	}
	defer list.Wipe()

	record := &user.User{}
	record.SetName(name)
	record.SetSessionLimit(sessionLimit)
	if enabled {
		record.SetFlags(user.FlagEnabled)
	}

	if err := applyPromptedPassword(record); err != nil {
		return err
	}
	if err := list.Add(record); err != nil {
		return err
	}
	if err := list.Save(path); err != nil {
		return err
	}
	fmt.Printf("added user %q\n", name)
	return nil
}

func setPassword(path, name string) error {
	list, err := loadOrEmpty(path)
	if err != nil {
		return err
	}
	defer list.Wipe()

	record := list.Find(name)
	if record == nil {
		return fmt.Errorf("no such user %q", name)
	}
	if err := applyPromptedPassword(record); err != nil {
		return err
	}
	if err := list.Save(path); err != nil {
		return err
	}
	fmt.Printf("password updated for %q\n", record.Name())
	return nil
}

func setEnabled(path, name string, enabled bool) error {
	list, err := loadOrEmpty(path)
	if err != nil {
		return err
	}
	defer list.Wipe()

	record := list.Find(name)
	if record == nil {
		return fmt.Errorf("no such user %q", name)
	}
	flags := record.Flags()
	if enabled {
		flags |= user.FlagEnabled
	} else {
		flags &^= user.FlagEnabled
	}
	record.SetFlags(flags)
	if err := list.Save(path); err != nil {
		return err
	}
	if enabled {
		fmt.Printf("enabled %q\n", record.Name())
	} else {
		fmt.Printf("disabled %q\n", record.Name())
	}
	return nil
}

func removeUser(path, name string) error {
	list, err := loadOrEmpty(path)
	if err != nil {
		return err
	}
	defer list.Wipe()

	if !list.Remove(name) {
		return fmt.Errorf("no such user %q", name)
	}
	if err := list.Save(path); err != nil {
		return err
	}
	fmt.Printf("removed user %q\n", name)
	return nil
}

func listUsers(path string) error {
	list, err := loadOrEmpty(path)
	if err != nil {
		return err
	}
	defer list.Wipe()

	if list.Len() == 0 {
		fmt.Println("no user records")
		return nil
	}
	for _, name := range list.Names() {
		record := list.Find(name)
		state := "disabled"
		if record.Enabled() {
			state = "enabled"
		}
		limit := "unlimited"
		if record.SessionLimit() > 0 {
			limit = fmt.Sprintf("%d", record.SessionLimit())
		}
		fmt.Printf("%-32s %-8s sessions: %s\n", name, state, limit)
	}
	return nil
}

// applyPromptedPassword prompts twice on the terminal and stores the
// stretched digest on record. The raw password lives in a locked
// buffer and is wiped before returning.
func applyPromptedPassword(record *user.User) error {
	password, err := promptPassword("Password: ")
	if err != nil {
		return err
	}
	defer password.Close()

	confirmation, err := promptPassword("Confirm password: ")
	if err != nil {
		return err
	}
	defer confirmation.Close()

	if subtle.ConstantTimeCompare(password.Bytes(), confirmation.Bytes()) != 1 {
		return fmt.Errorf("passwords do not match")
	}
	if !user.IsValidPasswordBytes(password.Bytes()) {
		return fmt.Errorf("password length must be %d..%d characters",
			user.MinPasswordLength, user.MaxPasswordLength)
	}

	digest := user.StretchPasswordBytes(password.Bytes())
	if !record.SetPasswordHash(digest) {
		secret.Wipe(digest)
		return fmt.Errorf("storing password digest failed")
	}
	secret.Wipe(digest)
	return nil
}

// promptPassword reads one password from the terminal into a locked
// buffer.
func promptPassword(prompt string) (*secret.Buffer, error) {
	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty password")
	}
	return secret.NewFromBytes(raw)
}
