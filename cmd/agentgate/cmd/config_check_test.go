package cmd

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/agentgate/config"
)

func goodConfig() *config.Config {
	cfg := config.Default()
	cfg.Auth.JWTSecret = strings.Repeat("s", 32)
	cfg.Auth.Accounts = []config.AccountConfig{{Username: "demo", PasswordHash: "$argon2id$..."}}
	cfg.Service.Keys = []string{"k1", "k2"}
	cfg.Server.AllowedOrigins = []string{"http://localhost:5173"}
	cfg.Agent.Endpoint = "https://agent.example.com"
	cfg.Agent.APIKey = "agent-key"
	return &cfg
}

func statusOf(t *testing.T, report checkReport, name string) checkResult {
	t.Helper()
	for _, c := range report.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("check %q not in report", name)
	return checkResult{}
}

func TestCheckConfig_Clean(t *testing.T) {
	report := checkConfig(goodConfig())

	assert.True(t, report.Valid)
	for _, c := range report.Checks {
		assert.Equal(t, "pass", c.Status, "check %s", c.Name)
	}
}

func TestCheckConfig_Warnings(t *testing.T) {
	cfg := goodConfig()
	cfg.Auth.JWTSecret = "short"
	cfg.Auth.Accounts[0] = config.AccountConfig{Username: "demo", Password: "plain"}
	cfg.Service.Freshness = 0
	cfg.Service.Idempotency = false
	cfg.Server.AllowedOrigins = []string{"*"}
	cfg.Agent.Endpoint = ""
	cfg.Storage.Driver = config.DriverMemory

	report := checkConfig(cfg)
	assert.True(t, report.Valid, "warnings do not invalidate")
	for _, name := range []string{
		"jwt_secret_length", "account_password_hashes", "service_freshness",
		"service_idempotency", "allowed_origins", "agent", "storage",
	} {
		assert.Equal(t, "warn", statusOf(t, report, name).Status, name)
	}
}

func TestCheckConfig_Failures(t *testing.T) {
	cfg := goodConfig()
	cfg.Service.Keys = []string{"k1", " k1 "}
	cfg.Server.TrustedProxies = []string{"not-a-cidr"}

	report := checkConfig(cfg)
	assert.False(t, report.Valid)
	assert.Equal(t, "fail", statusOf(t, report, "service_keys").Status)
	assert.Equal(t, "fail", statusOf(t, report, "trusted_proxies").Status)
}

func TestCheckConfig_SingleKeyHint(t *testing.T) {
	cfg := goodConfig()
	cfg.Service.Keys = []string{"only"}
	cfg.Service.Freshness = time.Minute

	report := checkConfig(cfg)
	c := statusOf(t, report, "service_keys")
	assert.Equal(t, "pass", c.Status)
	assert.Contains(t, c.Detail, "rotate")
	assert.Equal(t, "1m0s", statusOf(t, report, "service_freshness").Detail)
}

func TestPrintHumanReport(t *testing.T) {
	report := checkReport{Valid: true}
	report.add("validate", "pass", "")
	report.add("agent", "warn", "not configured")
	report.add("service_keys", "fail", "duplicate")
	report.File = "agentgate.yaml"

	var buf bytes.Buffer
	printHumanReport(&buf, report)
	out := buf.String()
	assert.Contains(t, out, "Configuration check: agentgate.yaml")
	assert.Contains(t, out, "[PASS] validate\n")
	assert.Contains(t, out, "[WARN] agent: not configured")
	assert.Contains(t, out, "[FAIL] service_keys: duplicate")
	assert.Contains(t, out, "Result: INVALID (1 error(s), 1 warning(s))")
}

func TestPrintJSONReport(t *testing.T) {
	report := checkConfig(goodConfig())

	var buf bytes.Buffer
	require.NoError(t, printJSONReport(&buf, report))

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))
	assert.Equal(t, true, parsed["valid"])
	checks, ok := parsed["checks"].([]any)
	require.True(t, ok)
	assert.Len(t, checks, len(report.Checks))
}
