package main

import (
	"bytes"
	"context"
	"testing"

	"fieldledger/backend/internal/cli"
)

func TestRunRejectsUnknownFormat(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := cli.Run(context.Background(), []string{"--format", "xml", "schema"}, &stdout, &stderr)
	if code != cli.ExitCommandError {
		t.Fatalf("expected exit code %d, got %d (stderr %q)", cli.ExitCommandError, code, stderr.String())
	}
}

func TestRunRefusesWeakAuthSecret(t *testing.T) {
	t.Setenv("LEDGER_CONFIG", "")
	t.Setenv("LEDGER_BACKEND", "memory")
	t.Setenv("AUTH_SECRET", "short")

	var stdout, stderr bytes.Buffer
	code := cli.Run(context.Background(), []string{"schema"}, &stdout, &stderr)
	if code != cli.ExitCommandError {
		t.Fatalf("expected weak AUTH_SECRET to be rejected, got exit %d", code)
	}
}

func TestRunSchemaOnMemoryBackend(t *testing.T) {
	t.Setenv("LEDGER_CONFIG", "")
	t.Setenv("LEDGER_BACKEND", "memory")
	t.Setenv("AUTH_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("REDIS_ADDR", "")

	var stdout, stderr bytes.Buffer
	code := cli.Run(context.Background(), []string{"schema"}, &stdout, &stderr)
	if code != cli.ExitSuccess {
		t.Fatalf("schema failed with exit %d: %s", code, stderr.String())
	}
	if !bytes.Contains(stdout.Bytes(), []byte("sales_entries")) {
		t.Fatalf("expected schema output to list sales_entries, got %q", stdout.String())
	}
}
