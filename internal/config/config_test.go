package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const fullYAML = `
database:
  driver: mysql
  host: 10.0.0.5
  port: 3307
  user: blockyard
  password: secret
  name: blockyard

chat:
  platform: slack
  channel: C0123
  slack:
    app_token: xapp-1
    bot_token: xoxb-1

access:
  admins: ["slack:U1", "slack:U2"]
  require_active: true

sessions:
  ttl_minutes: 15

storage:
  dir: /var/lib/blockyard

digest:
  enabled: true
  cron: "30 17 * * 1-5"

dashboard:
  enabled: true
  port: 9090
  rate_limit_per_sec: 20
`

const minimalYAML = `
chat:
  platform: discord
  channel: "123456"
  discord:
    bot_token: abc
`

func TestParse_FullConfig(t *testing.T) {
	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Database.Driver != "mysql" {
		t.Errorf("Database.Driver = %q, want %q", cfg.Database.Driver, "mysql")
	}
	if cfg.Database.Host != "10.0.0.5" {
		t.Errorf("Database.Host = %q, want %q", cfg.Database.Host, "10.0.0.5")
	}
	if cfg.Database.Port != 3307 {
		t.Errorf("Database.Port = %d, want %d", cfg.Database.Port, 3307)
	}
	if cfg.Chat.Platform != "slack" {
		t.Errorf("Chat.Platform = %q, want %q", cfg.Chat.Platform, "slack")
	}
	if cfg.Chat.Slack.BotToken != "xoxb-1" {
		t.Errorf("Chat.Slack.BotToken = %q, want %q", cfg.Chat.Slack.BotToken, "xoxb-1")
	}
	if len(cfg.Access.Admins) != 2 {
		t.Fatalf("len(Access.Admins) = %d, want 2", len(cfg.Access.Admins))
	}
	if !cfg.Access.RequireActive {
		t.Error("Access.RequireActive = false, want true")
	}
	if cfg.Sessions.TTLMinutes != 15 {
		t.Errorf("Sessions.TTLMinutes = %d, want 15", cfg.Sessions.TTLMinutes)
	}
	if cfg.Storage.Dir != "/var/lib/blockyard" {
		t.Errorf("Storage.Dir = %q, want %q", cfg.Storage.Dir, "/var/lib/blockyard")
	}
	if cfg.Digest.Cron != "30 17 * * 1-5" {
		t.Errorf("Digest.Cron = %q, want %q", cfg.Digest.Cron, "30 17 * * 1-5")
	}
	if cfg.Dashboard.Port != 9090 || cfg.Dashboard.RateLimitPerSec != 20 {
		t.Errorf("Dashboard = %+v, want port 9090 rate 20", cfg.Dashboard)
	}
}

func TestParse_MinimalConfig_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Database.Driver = %q, want %q (default)", cfg.Database.Driver, "sqlite")
	}
	if cfg.Database.Path != filepath.Join("data", "blockyard.db") {
		t.Errorf("Database.Path = %q, want default", cfg.Database.Path)
	}
	if cfg.Sessions.TTLMinutes != 60 {
		t.Errorf("Sessions.TTLMinutes = %d, want 60 (default)", cfg.Sessions.TTLMinutes)
	}
	if cfg.Sessions.TTL().Minutes() != 60 {
		t.Errorf("Sessions.TTL() = %v, want 1h", cfg.Sessions.TTL())
	}
	if cfg.Storage.Dir != filepath.Join("data", "files") {
		t.Errorf("Storage.Dir = %q, want default", cfg.Storage.Dir)
	}
	if cfg.Digest.Cron != "0 18 * * *" {
		t.Errorf("Digest.Cron = %q, want default", cfg.Digest.Cron)
	}
	if cfg.Dashboard.Port != 8080 {
		t.Errorf("Dashboard.Port = %d, want 8080 (default)", cfg.Dashboard.Port)
	}
	if cfg.Dashboard.RateLimitPerSec != 5 {
		t.Errorf("Dashboard.RateLimitPerSec = %d, want 5 (default)", cfg.Dashboard.RateLimitPerSec)
	}
}

func TestParse_EmptyConfigIsValid(t *testing.T) {
	cfg, err := Parse([]byte(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Chat.Platform != "" {
		t.Errorf("Chat.Platform = %q, want empty", cfg.Chat.Platform)
	}
}

func TestParse_MySQLDefaultPort(t *testing.T) {
	cfg, err := Parse([]byte("database:\n  driver: mysql\n  host: db\n  name: by\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Port != 3306 {
		t.Errorf("Database.Port = %d, want 3306", cfg.Database.Port)
	}
}

func TestParse_ExpandsEnv(t *testing.T) {
	t.Setenv("BY_TEST_BOT_TOKEN", "from-env")
	yaml := `
chat:
  platform: discord
  channel: "1"
  discord:
    bot_token: ${BY_TEST_BOT_TOKEN}
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Chat.Discord.BotToken != "from-env" {
		t.Errorf("Chat.Discord.BotToken = %q, want %q", cfg.Chat.Discord.BotToken, "from-env")
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown driver", "database:\n  driver: postgres\n", `database.driver "postgres" is not supported`},
		{"mysql without host", "database:\n  driver: mysql\n  name: by\n", "database.host is required for mysql"},
		{"mysql without name", "database:\n  driver: mysql\n  host: db\n", "database.name is required for mysql"},
		{"unknown platform", "chat:\n  platform: irc\n  channel: x\n", `chat.platform "irc" is not supported`},
		{"slack missing app token", "chat:\n  platform: slack\n  channel: C1\n  slack:\n    bot_token: b\n", "chat.slack.app_token is required"},
		{"slack missing bot token", "chat:\n  platform: slack\n  channel: C1\n  slack:\n    app_token: a\n", "chat.slack.bot_token is required"},
		{"discord missing token", "chat:\n  platform: discord\n  channel: \"1\"\n", "chat.discord.bot_token is required"},
		{"missing channel", "chat:\n  platform: discord\n  discord:\n    bot_token: t\n", "chat.channel is required"},
		{"negative ttl", "sessions:\n  ttl_minutes: -5\n", "sessions.ttl_minutes must be positive"},
		{"bad cron", "digest:\n  enabled: true\n  cron: \"not a cron\"\n", "digest.cron"},
		{"bad port", "dashboard:\n  port: 70000\n", "dashboard.port 70000 is out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want to contain %q", err.Error(), tt.want)
			}
		})
	}
}

func TestParse_BadCronIgnoredWhenDigestDisabled(t *testing.T) {
	if _, err := Parse([]byte("digest:\n  enabled: false\n  cron: \"nope\"\n")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParse_MultipleValidationErrors(t *testing.T) {
	yaml := `
database:
  driver: mysql
chat:
  platform: slack
`
	_, err := Parse([]byte(yaml))
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	if !strings.HasPrefix(msg, "config: validation failed: ") {
		t.Errorf("error = %q, want validation prefix", msg)
	}
	for _, want := range []string{
		"database.host is required for mysql",
		"database.name is required for mysql",
		"chat.slack.app_token is required",
		"chat.channel is required",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("error missing %q: %s", want, msg)
		}
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte(":::invalid"))
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
	if !strings.Contains(err.Error(), "config: parse:") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "config: parse:")
	}
}

func TestAccessConfig_IsAdmin(t *testing.T) {
	a := AccessConfig{Admins: []string{"slack:U1", "discord:42"}}
	if !a.IsAdmin("discord:42") {
		t.Error("IsAdmin(discord:42) = false, want true")
	}
	if a.IsAdmin("slack:U9") {
		t.Error("IsAdmin(slack:U9) = true, want false")
	}
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blockyard.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Chat.Platform != "discord" {
		t.Errorf("Chat.Platform = %q, want %q", cfg.Chat.Platform, "discord")
	}
}

func TestLoad_DotEnvNextToConfig(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("BY_TEST_DOTENV_TOKEN=dotenv-token\n"), 0644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "blockyard.yaml")
	yaml := "chat:\n  platform: discord\n  channel: \"1\"\n  discord:\n    bot_token: ${BY_TEST_DOTENV_TOKEN}\n"
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("BY_TEST_DOTENV_TOKEN") })

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Chat.Discord.BotToken != "dotenv-token" {
		t.Errorf("Chat.Discord.BotToken = %q, want %q", cfg.Chat.Discord.BotToken, "dotenv-token")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/blockyard.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "config: read") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "config: read")
	}
}
