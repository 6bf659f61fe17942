package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inboxes.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write inboxes file: %v", err)
	}
	return path
}

func TestLoadInboxesAppliesDefaults(t *testing.T) {
	t.Setenv("BOOKINGS_IMAP_PASSWORD", "s3cret")
	path := writeFile(t, `
inboxes:
  - id: bookings
    protocol: IMAP
    host: imap.example.com
    username: bookings@example.com
    password_env: BOOKINGS_IMAP_PASSWORD
    address: Bookings@Example.com
  - id: forwarded
    protocol: relay
    address: hello@example.com
    fetch_limit: 25
`)

	inboxes, err := LoadInboxes(path)
	if err != nil {
		t.Fatalf("LoadInboxes: %v", err)
	}
	if len(inboxes) != 2 {
		t.Fatalf("expected 2 inboxes, got %d", len(inboxes))
	}

	imap := inboxes[0]
	if imap.Protocol != ProtocolIMAP || imap.Port != 993 || imap.TLS != TLSImplicit {
		t.Fatalf("unexpected imap defaults: %+v", imap)
	}
	if imap.Password != "s3cret" {
		t.Fatalf("password_env not resolved: %q", imap.Password)
	}
	if imap.Mailbox != "INBOX" || imap.BackfillDays != 30 || imap.FetchLimit != 200 {
		t.Fatalf("unexpected mailbox defaults: %+v", imap)
	}
	if imap.Address != "bookings@example.com" {
		t.Fatalf("address not normalized: %q", imap.Address)
	}
	if inboxes[1].FetchLimit != 25 {
		t.Fatalf("explicit fetch_limit lost: %d", inboxes[1].FetchLimit)
	}
}

func TestLoadInboxesRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"missing host": `
inboxes:
  - id: a
    protocol: imap
    username: u
`,
		"unknown protocol": `
inboxes:
  - id: a
    protocol: pop3
`,
		"duplicate id": `
inboxes:
  - id: a
    protocol: relay
    address: a@example.com
  - id: a
    protocol: relay
    address: b@example.com
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadInboxes(writeFile(t, body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadInboxesEmptyPath(t *testing.T) {
	inboxes, err := LoadInboxes("")
	if err != nil || inboxes != nil {
		t.Fatalf("expected no inboxes, got %v %v", inboxes, err)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("SYNC_INBOX_TIMEOUT", "15s")
	t.Setenv("CRON_SECRET", "  tick  ")
	t.Setenv("RELAY_ENABLED", "true")
	cfg := Load()
	if cfg.SyncInboxTimeout != 15*time.Second {
		t.Fatalf("timeout = %v", cfg.SyncInboxTimeout)
	}
	if cfg.CronSecret != "tick" {
		t.Fatalf("cron secret = %q", cfg.CronSecret)
	}
	if !cfg.RelayEnabled {
		t.Fatal("relay should be enabled")
	}

	cfg.Inboxes = []Inbox{{ID: "r", Protocol: ProtocolRelay, Address: "a@example.com"}, {ID: "i", Protocol: ProtocolIMAP}}
	if got := cfg.RelayAddresses(); len(got) != 1 || got[0] != "a@example.com" {
		t.Fatalf("relay addresses = %v", got)
	}
	if _, ok := cfg.Inbox("i"); !ok {
		t.Fatal("expected inbox lookup to succeed")
	}
}
