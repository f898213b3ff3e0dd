// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/awnumar/memguard"
)

// Credential names read from the environment or config.
const (
	CredentialSerpAPI      = "SERPAPI_KEY"
	CredentialWolframAlpha = "WOLFRAM_ALPHA_APPID"
)

// ErrNoCredential is returned by Credentials.Use for an unset credential.
var ErrNoCredential = errors.New("credential not configured")

// Credentials keeps API keys sealed in memguard enclaves. A key is only
// decrypted for the duration of a Use callback.
//
// Thread Safety: Safe for concurrent use.
type Credentials struct {
	mu       sync.RWMutex
	enclaves map[string]*memguard.Enclave
}

// NewCredentials seals every non-empty value. The caller's strings are
// copied; memguard wipes the copies.
func NewCredentials(values map[string]string) *Credentials {
	c := &Credentials{enclaves: make(map[string]*memguard.Enclave)}
	for name, v := range values {
		if v == "" {
			continue
		}
		c.enclaves[name] = memguard.NewEnclave([]byte(v))
	}
	return c
}

// Has reports whether name is configured. A nil Credentials has nothing.
func (c *Credentials) Has(name string) bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.enclaves[name]
	return ok
}

// Names lists the configured credentials, sorted.
func (c *Credentials) Names() []string {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.enclaves))
	for name := range c.enclaves {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Use opens the enclave and passes the plaintext to fn. The buffer is
// destroyed when fn returns; fn must not retain secret.
func (c *Credentials) Use(name string, fn func(secret string) error) error {
	if c == nil {
		return fmt.Errorf("%w: %s", ErrNoCredential, name)
	}
	c.mu.RLock()
	enclave, ok := c.enclaves[name]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoCredential, name)
	}
	buf, err := enclave.Open()
	if err != nil {
		return fmt.Errorf("open credential %s: %w", name, err)
	}
	defer buf.Destroy()
	return fn(buf.String())
}
