package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	ProtocolIMAP  = "imap"
	ProtocolGmail = "gmail"
	ProtocolRelay = "relay"
)

const (
	TLSImplicit = "tls"
	TLSStart    = "starttls"
	TLSNone     = "none"
)

// Inbox describes one external mailbox polled by the sync pipeline. It is
// read once at startup; the sync cursor lives in the database.
type Inbox struct {
	ID       string `mapstructure:"id"`
	Name     string `mapstructure:"name"`
	Protocol string `mapstructure:"protocol"`

	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	TLS         string `mapstructure:"tls"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	PasswordEnv string `mapstructure:"password_env"`
	Mailbox     string `mapstructure:"mailbox"`

	// Address is the mailbox's own email address. Messages sent from it are
	// treated as outbound; relay inboxes receive mail addressed to it.
	Address string `mapstructure:"address"`

	CredentialsFile string `mapstructure:"credentials_file"`
	TokenFile       string `mapstructure:"token_file"`

	// MarkSeen flags fetched IMAP messages as \Seen. Off by default: the
	// connector otherwise never changes server state.
	MarkSeen bool `mapstructure:"mark_seen"`

	BackfillDays int `mapstructure:"backfill_days"`
	FetchLimit   int `mapstructure:"fetch_limit"`
}

// LoadInboxes reads the inbox list from a YAML file. An empty path yields no
// inboxes.
func LoadInboxes(path string) ([]Inbox, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading inboxes %s: %w", path, err)
	}

	var inboxes []Inbox
	if err := v.UnmarshalKey("inboxes", &inboxes); err != nil {
		return nil, fmt.Errorf("parsing inboxes %s: %w", path, err)
	}

	seen := make(map[string]bool, len(inboxes))
	for i := range inboxes {
		inbox := &inboxes[i]
		applyInboxDefaults(inbox)
		if err := validateInbox(*inbox); err != nil {
			return nil, fmt.Errorf("inbox %d: %w", i, err)
		}
		if seen[inbox.ID] {
			return nil, fmt.Errorf("inbox %q: duplicate id", inbox.ID)
		}
		seen[inbox.ID] = true
	}
	return inboxes, nil
}

func applyInboxDefaults(inbox *Inbox) {
	inbox.ID = strings.TrimSpace(inbox.ID)
	inbox.Protocol = strings.ToLower(strings.TrimSpace(inbox.Protocol))
	inbox.Address = strings.ToLower(strings.TrimSpace(inbox.Address))
	if inbox.Name == "" {
		inbox.Name = inbox.ID
	}
	if inbox.PasswordEnv != "" && inbox.Password == "" {
		inbox.Password = os.Getenv(inbox.PasswordEnv)
	}
	if inbox.TLS == "" {
		inbox.TLS = TLSImplicit
	}
	if inbox.Port == 0 {
		if inbox.TLS == TLSImplicit {
			inbox.Port = 993
		} else {
			inbox.Port = 143
		}
	}
	if inbox.Mailbox == "" {
		inbox.Mailbox = "INBOX"
	}
	if inbox.BackfillDays <= 0 {
		inbox.BackfillDays = 30
	}
	if inbox.FetchLimit <= 0 {
		inbox.FetchLimit = 200
	}
}

func validateInbox(inbox Inbox) error {
	if inbox.ID == "" {
		return fmt.Errorf("id is required")
	}
	switch inbox.Protocol {
	case ProtocolIMAP:
		if inbox.Host == "" || inbox.Username == "" {
			return fmt.Errorf("inbox %q: imap requires host and username", inbox.ID)
		}
		switch inbox.TLS {
		case TLSImplicit, TLSStart, TLSNone:
		default:
			return fmt.Errorf("inbox %q: unknown tls mode %q", inbox.ID, inbox.TLS)
		}
	case ProtocolGmail:
		if inbox.CredentialsFile == "" || inbox.TokenFile == "" {
			return fmt.Errorf("inbox %q: gmail requires credentials_file and token_file", inbox.ID)
		}
	case ProtocolRelay:
		if inbox.Address == "" {
			return fmt.Errorf("inbox %q: relay requires address", inbox.ID)
		}
	default:
		return fmt.Errorf("inbox %q: unknown protocol %q", inbox.ID, inbox.Protocol)
	}
	return nil
}
