package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
)

// Config holds application-specific settings. It follows the same
// RegisterFlags/Validate shape as the go-core package configs so main can
// treat them uniformly.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APITokens             string
	DatabaseURL           string
	LevelDBPath           string
	SeedFile              string
	SlackWebhookURL       string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 15, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 30, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APITokens, "api-tokens", "", "comma separated bearer tokens accepted by the API")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL for the patient repository")
	fs.StringVar(&c.LevelDBPath, "leveldb-path", "", "LevelDB directory for the patient repository (empty with no database-url = in-memory)")
	fs.StringVar(&c.SeedFile, "seed-file", "", "JSON file of patient records loaded into the repository at startup")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for patient alerts (empty = log alerts)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// readings carry patient data, the API is never served unauthenticated
	if c.APITokens == "" {
		errs = append(errs, errors.New("API_TOKENS is required"))
	}

	// one persistent backend at most
	if c.DatabaseURL != "" && c.LevelDBPath != "" {
		errs = append(errs, errors.New("DATABASE_URL and LEVELDB_PATH are mutually exclusive"))
	}

	if c.SlackWebhookURL != "" {
		if u, err := url.Parse(c.SlackWebhookURL); err != nil || u.Scheme != "https" || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid SLACK_WEBHOOK_URL %q (must be an https URL)", c.SlackWebhookURL))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
