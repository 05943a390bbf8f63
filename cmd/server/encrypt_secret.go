// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tomtom215/channelmetrics/internal/config"
)

const encryptSecretCommand = "encrypt-secret"

// encryptSecret reads one secret from in and writes its enc: form to out,
// ready for REPORTING_CLIENT_SECRET or REPORTING_REFRESH_TOKEN.
func encryptSecret(key string, in io.Reader, out io.Writer) error {
	enc, err := config.NewSecretEncryptor(key)
	if err != nil {
		return fmt.Errorf("set ENCRYPTION_KEY or JWT_SECRET: %w", err)
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read secret: %w", err)
	}
	secret := strings.TrimSpace(line)

	value, err := enc.Encrypt(secret)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, value)
	return err
}
