// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/tomtom215/channelmetrics/internal/config"
)

func TestEncryptSecret(t *testing.T) {
	const key = "an-encryption-key-for-tests"
	var out bytes.Buffer
	if err := encryptSecret(key, strings.NewReader("refresh-abc\n"), &out); err != nil {
		t.Fatalf("encryptSecret() error = %v", err)
	}

	value := strings.TrimSpace(out.String())
	if !config.IsEncrypted(value) || strings.Contains(value, "refresh-abc") {
		t.Fatalf("output = %q, want an enc: value", value)
	}

	enc, err := config.NewSecretEncryptor(key)
	if err != nil {
		t.Fatal(err)
	}
	if got, err := enc.Decrypt(value); err != nil || got != "refresh-abc" {
		t.Errorf("Decrypt() = %q, %v", got, err)
	}
}

func TestEncryptSecret_Errors(t *testing.T) {
	if err := encryptSecret("", strings.NewReader("x\n"), &bytes.Buffer{}); !errors.Is(err, config.ErrEmptyEncryptionKey) {
		t.Errorf("missing key error = %v", err)
	}
	if err := encryptSecret("key", strings.NewReader("\n"), &bytes.Buffer{}); !errors.Is(err, config.ErrEmptyPlaintext) {
		t.Errorf("empty secret error = %v", err)
	}
}
