package client

import (
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const defaultCacheDBPath = "forum-chat.db"

// Config holds client runtime settings derived from CLI flags.
type Config struct {
	ServerURL    string
	Identifier   string
	Password     string
	Nickname     string
	Email        string
	Register     bool
	HistoryLimit int
	NoColor      bool
	UseTUI       bool
	UseCLI       bool
	DataDir      string
	CacheDB      string
}

// LoadConfig parses CLI flags and returns a populated Config.
func LoadConfig() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.ServerURL, "server", "http://127.0.0.1:8080", "forum server base url")
	flag.StringVar(&cfg.Identifier, "user", "", "nickname or email to log in with")
	flag.StringVar(&cfg.Password, "password", "", "account password (or set FORUM_PASSWORD)")
	flag.BoolVar(&cfg.Register, "register", false, "create the account instead of logging in")
	flag.StringVar(&cfg.Nickname, "nickname", "", "nickname for registration")
	flag.StringVar(&cfg.Email, "email", "", "email for registration")
	flag.IntVar(&cfg.HistoryLimit, "history", 20, "messages fetched per history page")
	flag.BoolVar(&cfg.NoColor, "no-color", false, "disable ANSI colors in CLI output")
	flag.BoolVar(&cfg.UseTUI, "tui", false, "enable terminal UI mode")
	flag.StringVar(&cfg.DataDir, "data-dir", "forum-data", "base directory for the local message cache")
	flag.StringVar(&cfg.CacheDB, "cache-db", defaultCacheDBPath, "path to the local conversation cache db")

	flag.Parse()

	if cfg.Password == "" {
		cfg.Password = os.Getenv("FORUM_PASSWORD")
	}
	cfg.UseCLI = !cfg.UseTUI
	cfg.ensureDirs()
	return cfg
}

// Validate rejects flag combinations that cannot produce a session.
func (cfg *Config) Validate() error {
	if cfg.Register {
		if cfg.Nickname == "" || cfg.Email == "" || cfg.Password == "" {
			return fmt.Errorf("registration needs -nickname, -email and a password")
		}
		return nil
	}
	if cfg.Identifier == "" || cfg.Password == "" {
		return fmt.Errorf("login needs -user and a password")
	}
	return nil
}

func (cfg *Config) ensureDirs() {
	if cfg.DataDir == "" {
		cfg.DataDir = "forum-data"
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("init data dir: %v", err)
	}
	if cfg.CacheDB == defaultCacheDBPath {
		name := cfg.Identifier
		if name == "" {
			name = cfg.Nickname
		}
		cfg.CacheDB = filepath.Join(cfg.DataDir, sanitizePathToken(name)+".db")
	}
}

// WebSocketURL derives the real-time endpoint from the HTTP base.
func (cfg *Config) WebSocketURL() string {
	u, err := url.Parse(cfg.ServerURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String()
}

func sanitizePathToken(val string) string {
	val = strings.TrimSpace(val)
	if val == "" {
		return "client"
	}
	var b strings.Builder
	for _, r := range val {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-', r == '_':
			b.WriteRune(r)
		case r == '.', r == '@':
			b.WriteRune('-')
		}
	}
	out := b.String()
	if out == "" {
		return "client"
	}
	return out
}
