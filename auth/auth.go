// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package auth implements the single shared-password check
// every session must pass before any other opcode is
// accepted.
package auth

import (
	"crypto/subtle"
	"fmt"
	"os"

	"golang.org/x/crypto/blake2b"
)

// Checker compares a client-supplied password against the
// one configured for this server. Neither password is ever
// compared with a plain ==: both are hashed with blake2b-256
// first and the digests are compared in constant time, so a
// timing side channel can't leak how many leading bytes of a
// guess were right.
type Checker struct {
	digest [32]byte
}

// NewChecker builds a Checker for the given plaintext
// password.
func NewChecker(password string) Checker {
	return Checker{digest: blake2b.Sum256([]byte(password))}
}

// Check reports whether password matches the password this
// Checker was constructed with.
func (c Checker) Check(password string) bool {
	got := blake2b.Sum256([]byte(password))
	return subtle.ConstantTimeCompare(c.digest[:], got[:]) == 1
}

// FromEnvironment builds a Checker from the QSERVER_PASSWORD
// environment variable, treating secret configuration as a
// read-once environment lookup rather than a flag.
func FromEnvironment() (Checker, error) {
	pw := os.Getenv("QSERVER_PASSWORD")
	if pw == "" {
		return Checker{}, fmt.Errorf("missing %q", "QSERVER_PASSWORD")
	}
	return NewChecker(pw), nil
}
