package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/jmcleod/agentgate/api"
	"github.com/jmcleod/agentgate/config"
)

// minSecretLen is the HS256 key length below which a warning is raised.
const minSecretLen = 32

type checkReport struct {
	File   string        `json:"file,omitempty"`
	Valid  bool          `json:"valid"`
	Checks []checkResult `json:"checks"`
}

type checkResult struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "pass", "fail", "warn"
	Detail string `json:"detail,omitempty"`
}

func (r *checkReport) add(name, status, detail string) {
	if status == "fail" {
		r.Valid = false
	}
	r.Checks = append(r.Checks, checkResult{Name: name, Status: status, Detail: detail})
}

// checkConfig inspects a loaded configuration for settings that are legal
// but likely wrong in production.
func checkConfig(cfg *config.Config) checkReport {
	report := checkReport{Valid: true}
	report.add("validate", "pass", "")

	if n := len(cfg.Auth.JWTSecret); n < minSecretLen {
		report.add("jwt_secret_length", "warn",
			fmt.Sprintf("secret is %d bytes; use at least %d", n, minSecretLen))
	} else {
		report.add("jwt_secret_length", "pass", "")
	}

	plaintext := 0
	for _, a := range cfg.Auth.Accounts {
		if a.PasswordHash == "" {
			plaintext++
		}
	}
	if plaintext > 0 {
		report.add("account_password_hashes", "warn",
			fmt.Sprintf("%d account(s) use a plaintext password; store password_hash instead", plaintext))
	} else {
		report.add("account_password_hashes", "pass", "")
	}

	keys := cfg.ServiceKeys()
	switch {
	case len(keys) != len(slices.Compact(slices.Sorted(slices.Values(keys)))):
		report.add("service_keys", "fail", "duplicate service keys")
	case len(keys) == 1:
		report.add("service_keys", "pass", "1 key; add a second to rotate without downtime")
	default:
		report.add("service_keys", "pass", fmt.Sprintf("%d keys", len(keys)))
	}

	if cfg.Service.Freshness == 0 {
		report.add("service_freshness", "warn", "freshness check disabled; stale requests are accepted")
	} else {
		report.add("service_freshness", "pass", cfg.Service.Freshness.String())
	}
	if !cfg.Service.Idempotency {
		report.add("service_idempotency", "warn", "repeated event ids are executed again")
	} else {
		report.add("service_idempotency", "pass", "")
	}

	switch {
	case len(cfg.Server.AllowedOrigins) == 0:
		report.add("allowed_origins", "warn", "no browser origins allowed")
	case slices.Contains(cfg.Server.AllowedOrigins, "*"):
		report.add("allowed_origins", "warn", "wildcard origin allows any site")
	default:
		report.add("allowed_origins", "pass", "")
	}

	if len(cfg.Server.TrustedProxies) > 0 {
		if _, err := api.ParseTrustedProxies(cfg.Server.TrustedProxies); err != nil {
			report.add("trusted_proxies", "fail", err.Error())
		} else {
			report.add("trusted_proxies", "pass", "")
		}
	}

	if cfg.Agent.Endpoint == "" || cfg.Agent.APIKey == "" {
		report.add("agent", "warn", "agent endpoint not configured; /api/agent/chat returns 500")
	} else {
		report.add("agent", "pass", "")
	}

	switch cfg.Storage.Driver {
	case config.DriverMemory:
		report.add("storage", "warn", "memory driver loses records on restart")
	case config.DriverPostgres:
		report.add("storage", "pass", "postgres")
	default:
		report.add("storage", "pass", cfg.Storage.Driver+" in "+cfg.Storage.Dir)
	}
	return report
}

func printHumanReport(w io.Writer, report checkReport) {
	if report.File != "" {
		fmt.Fprintf(w, "Configuration check: %s\n\n", report.File)
	} else {
		fmt.Fprintf(w, "Configuration check (environment only)\n\n")
	}

	for _, c := range report.Checks {
		tag := "[PASS]"
		switch c.Status {
		case "fail":
			tag = "[FAIL]"
		case "warn":
			tag = "[WARN]"
		}
		if c.Detail != "" {
			fmt.Fprintf(w, "%s %s: %s\n", tag, c.Name, c.Detail)
		} else {
			fmt.Fprintf(w, "%s %s\n", tag, c.Name)
		}
	}

	fmt.Fprintln(w)
	if report.Valid {
		fmt.Fprintln(w, "Result: VALID")
		return
	}
	failures, warnings := 0, 0
	for _, c := range report.Checks {
		switch c.Status {
		case "fail":
			failures++
		case "warn":
			warnings++
		}
	}
	fmt.Fprintf(w, "Result: INVALID (%d error(s), %d warning(s))\n", failures, warnings)
}

func printJSONReport(w io.Writer, report checkReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

var checkJSONOutput bool

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and flag risky settings",
	Long: `Loads the configuration the same way "server" does (legacy environment,
--config file, AGENTGATE_* environment) and reports validation errors and
settings that are legal but unsafe in production.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	configCmd.AddCommand(checkCmd)
	checkCmd.Flags().BoolVar(&checkJSONOutput, "json", false, "Output results as JSON")
}

func runCheck(cmd *cobra.Command, args []string) error {
	var report checkReport
	cfg, err := config.NewLoader(config.WithConfigFile(configFile)).Load()
	if err != nil {
		report = checkReport{Valid: true}
		report.add("validate", "fail", err.Error())
	} else {
		report = checkConfig(cfg)
	}
	report.File = configFile

	out := cmd.OutOrStdout()
	if checkJSONOutput {
		if err := printJSONReport(out, report); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
	} else {
		printHumanReport(out, report)
	}

	if !report.Valid {
		os.Exit(1)
	}
	return nil
}
