package config

import (
	"os"
	"strconv"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"changesetrunner/internal/domain"
)

const (
	OutputText = "text"
	OutputJSON = "json"
)

// Config holds every setting of the runner. Sources are applied in order:
// defaults, config file, environment, command line flags.
type Config struct {
	Changelog  string `yaml:"changelog"`
	SearchPath string `yaml:"search-path"`
	ChangeSet  struct {
		ID       string `yaml:"id"`
		Strategy string `yaml:"strategy"`
	} `yaml:"changeset"`
	Rollback struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"rollback"`
	Database struct {
		Driver string `yaml:"driver"`
		URL    string `yaml:"url"`
	} `yaml:"database"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Output string `yaml:"output"`
}

func Default() Config {
	var c Config
	c.Changelog = "db/changelog.yaml"
	c.SearchPath = "."
	c.ChangeSet.Strategy = string(domain.StrategyIsolate)
	c.Database.Driver = "postgres"
	c.Database.URL = "host=localhost port=5432 user=postgres password=postgres dbname=postgres sslmode=disable"
	c.Log.Level = "info"
	c.Log.Format = "text"
	c.Output = OutputText
	return c
}

// Load reads defaults, then file (when not empty), then the environment.
func Load(file string, lookupEnv func(string) (string, bool)) (Config, error) {
	c := Default()
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return c, errors.Wrap(err, "read config file")
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return c, errors.Wrapf(err, "parse config file %s", file)
		}
	}
	if err := c.applyEnv(lookupEnv); err != nil {
		return c, err
	}
	return c, nil
}

func (c *Config) applyEnv(lookupEnv func(string) (string, bool)) error {
	values := map[string]*string{
		"CHANGELOG":             &c.Changelog,
		"CHANGELOG_SEARCH_PATH": &c.SearchPath,
		"CHANGESET_ID":          &c.ChangeSet.ID,
		"CHANGESET_STRATEGY":    &c.ChangeSet.Strategy,
		"DATABASE_DRIVER":       &c.Database.Driver,
		"DATABASE_URL":          &c.Database.URL,
		"LOG_LEVEL":             &c.Log.Level,
		"LOG_FORMAT":            &c.Log.Format,
		"OUTPUT":                &c.Output,
	}
	for key, field := range values {
		if v, ok := lookupEnv(key); ok && v != "" {
			*field = v
		}
	}

	if v, ok := lookupEnv("ROLLBACK_ENABLED"); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrap(err, "ROLLBACK_ENABLED")
		}
		c.Rollback.Enabled = enabled
	}
	return nil
}

// Validate checks the settings every command needs.
func (c Config) Validate() error {
	if c.Changelog == "" {
		return errors.New("changelog is required")
	}
	if _, err := domain.ParseStrategy(c.ChangeSet.Strategy); err != nil {
		return err
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log level")
	}
	switch c.Output {
	case OutputText, OutputJSON:
	default:
		return errors.Errorf("unknown output %q", c.Output)
	}
	if c.Database.Driver == "" {
		return errors.New("database driver is required")
	}
	return nil
}

// RunConfiguration extracts what a single run needs.
func (c Config) RunConfiguration() domain.RunConfiguration {
	strategy, err := domain.ParseStrategy(c.ChangeSet.Strategy)
	if err != nil {
		strategy = domain.StrategyIsolate
	}
	return domain.RunConfiguration{
		ChangelogPath:   c.Changelog,
		ChangeSetID:     c.ChangeSet.ID,
		RollbackEnabled: c.Rollback.Enabled,
		Strategy:        strategy,
	}
}
