package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"changesetrunner/internal/app"
	"changesetrunner/internal/config"
	"changesetrunner/internal/domain"
	"changesetrunner/internal/engine"
	"changesetrunner/internal/infrastructure/database"
	"changesetrunner/internal/logging"
)

// exitUsage is returned for configuration and command line errors.
const exitUsage = 64

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr, os.LookupEnv)
	stop()
	os.Exit(code)
}

type cli struct {
	stdout    io.Writer
	stderr    io.Writer
	lookupEnv func(string) (string, bool)
	exitCode  int

	configFile string
	flags      config.Config
	createDir  string
	author     string
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer, lookupEnv func(string) (string, bool)) int {
	c := &cli{stdout: stdout, stderr: stderr, lookupEnv: lookupEnv, exitCode: exitUsage}
	root := c.rootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return c.exitCode
	}
	return c.exitCode
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "changesetrunner",
		Short:         "Apply a single changeset from a changelog, optionally rolling it back",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          c.runValidation,
	}

	f := root.PersistentFlags()
	f.StringVar(&c.configFile, "config", "", "YAML config file")
	f.StringVar(&c.flags.Changelog, "changelog", "", "changelog path, relative to the search path")
	f.StringVar(&c.flags.SearchPath, "search-path", "", "directory changelog paths are resolved against")
	f.StringVar(&c.flags.ChangeSet.ID, "changeset-id", "", "id of the changeset to apply")
	f.StringVar(&c.flags.ChangeSet.Strategy, "strategy", "", "isolate or in-place")
	f.BoolVar(&c.flags.Rollback.Enabled, "rollback", false, "roll the changeset back right after applying it")
	f.StringVar(&c.flags.Database.Driver, "driver", "", fmt.Sprintf("database driver %v", database.SupportedDrivers()))
	f.StringVar(&c.flags.Database.URL, "url", "", "database connection string")
	f.StringVar(&c.flags.Log.Level, "log-level", "", "log level")
	f.StringVar(&c.flags.Log.Format, "log-format", "", "text or json")
	f.StringVar(&c.flags.Output, "output", "", "text or json result on stdout")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Apply the configured changeset (default command)",
		Args:  cobra.NoArgs,
		RunE:  c.runValidation,
	})
	root.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List the changesets of the changelog with their applied state",
		Args:  cobra.NoArgs,
		RunE:  c.runStatus,
	})

	create := &cobra.Command{
		Use:   "create [name]",
		Short: "Write a new formatted SQL changelog file with one empty changeset",
		Args:  cobra.ExactArgs(1),
		RunE:  c.runCreate,
	}
	create.Flags().StringVar(&c.createDir, "dir", "db/changelog", "directory the file is written to")
	create.Flags().StringVar(&c.author, "author", "", "changeset author (defaults to $USER)")
	root.AddCommand(create)
	return root
}

// loadConfig layers flags that were set explicitly over file and environment.
func (c *cli) loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(c.configFile, c.lookupEnv)
	if err != nil {
		return cfg, err
	}

	changed := cmd.Flags().Changed
	overrides := []struct {
		flag  string
		dst   *string
		value string
	}{
		{"changelog", &cfg.Changelog, c.flags.Changelog},
		{"search-path", &cfg.SearchPath, c.flags.SearchPath},
		{"changeset-id", &cfg.ChangeSet.ID, c.flags.ChangeSet.ID},
		{"strategy", &cfg.ChangeSet.Strategy, c.flags.ChangeSet.Strategy},
		{"driver", &cfg.Database.Driver, c.flags.Database.Driver},
		{"url", &cfg.Database.URL, c.flags.Database.URL},
		{"log-level", &cfg.Log.Level, c.flags.Log.Level},
		{"log-format", &cfg.Log.Format, c.flags.Log.Format},
		{"output", &cfg.Output, c.flags.Output},
	}
	for _, o := range overrides {
		if changed(o.flag) {
			*o.dst = o.value
		}
	}
	if changed("rollback") {
		cfg.Rollback.Enabled = c.flags.Rollback.Enabled
	}
	return cfg, cfg.Validate()
}

type environment struct {
	cfg      config.Config
	logger   *log.Logger
	provider *database.Provider
	engine   *engine.Engine
	// changelog is cfg.Changelog made relative to the engine's file system root.
	changelog string
}

func (c *cli) setup(cmd *cobra.Command) (*environment, error) {
	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(c.stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	provider, err := database.Open(cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	root, changelog := changelogRoot(cfg.SearchPath, cfg.Changelog)
	return &environment{
		cfg:       cfg,
		logger:    logger,
		provider:  provider,
		engine:    engine.New(os.DirFS(root), logger, engine.WithDriverName(provider.DriverName())),
		changelog: changelog,
	}, nil
}

func (c *cli) runValidation(cmd *cobra.Command, _ []string) error {
	env, err := c.setup(cmd)
	if err != nil {
		return err
	}
	defer env.provider.Close()

	runCfg := env.cfg.RunConfiguration()
	if runCfg.ChangeSetID == "" {
		return errors.New("changeset id is required (--changeset-id or CHANGESET_ID)")
	}
	runCfg.ChangelogPath = env.changelog

	status := c.stdout
	if env.cfg.Output == config.OutputJSON {
		status = c.stderr
	}
	runner := app.NewValidationRunner(env.provider, env.engine, app.NewConsoleReporter(status, c.stderr), env.logger)

	result := runner.Run(cmd.Context(), runCfg)
	c.exitCode = result.Outcome.ExitCode()

	if env.cfg.Output == config.OutputJSON {
		return writeJSON(c.stdout, result)
	}
	return nil
}

func (c *cli) runStatus(cmd *cobra.Command, _ []string) error {
	env, err := c.setup(cmd)
	if err != nil {
		return err
	}
	defer env.provider.Close()

	c.exitCode = 1
	statuses, err := app.NewStatusService(env.provider, env.engine, env.logger).Status(cmd.Context(), env.changelog)
	if err != nil {
		return err
	}
	c.exitCode = 0

	if env.cfg.Output == config.OutputJSON {
		return writeStatusJSON(c.stdout, statuses)
	}

	w := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tAUTHOR\tFILE\tSTATE\tEXECUTED")
	for _, s := range statuses {
		state, executed := "pending", "-"
		if s.Ran != nil {
			state = "applied"
			executed = s.Ran.DateExecuted.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.ChangeSet.ID, s.ChangeSet.Author, s.ChangeSet.FilePath, state, executed)
	}
	return w.Flush()
}

func (c *cli) runCreate(cmd *cobra.Command, args []string) error {
	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := logging.New(c.stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	author := c.author
	if author == "" {
		author, _ = c.lookupEnv("USER")
	}
	c.exitCode = 1
	path, err := app.NewScaffoldService(c.createDir, logger).Create(args[0], author)
	if err != nil {
		return err
	}
	c.exitCode = 0
	fmt.Fprintln(c.stdout, "Generated new changelog file:", path)
	return nil
}

type jsonResult struct {
	ChangeSetID string `json:"changeSetId"`
	Outcome     string `json:"outcome"`
	ExitCode    int    `json:"exitCode"`
	Error       string `json:"error,omitempty"`
}

func writeJSON(w io.Writer, result domain.Result) error {
	out := jsonResult{
		ChangeSetID: result.ChangeSetID,
		Outcome:     result.Outcome.String(),
		ExitCode:    result.Outcome.ExitCode(),
	}
	if result.Err != nil {
		out.Error = result.Err.Error()
	}
	return json.NewEncoder(w).Encode(out)
}

type jsonStatus struct {
	ID           string     `json:"id"`
	Author       string     `json:"author"`
	File         string     `json:"file"`
	Applied      bool       `json:"applied"`
	DateExecuted *time.Time `json:"dateExecuted,omitempty"`
}

func writeStatusJSON(w io.Writer, statuses []app.ChangeSetStatus) error {
	out := make([]jsonStatus, 0, len(statuses))
	for _, s := range statuses {
		js := jsonStatus{ID: s.ChangeSet.ID, Author: s.ChangeSet.Author, File: s.ChangeSet.FilePath}
		if s.Ran != nil {
			js.Applied = true
			executed := s.Ran.DateExecuted
			js.DateExecuted = &executed
		}
		out = append(out, js)
	}
	return json.NewEncoder(w).Encode(out)
}

// changelogRoot splits a changelog location into a file system root and a
// slash separated path inside it. Absolute changelog paths ignore searchPath.
func changelogRoot(searchPath, changelog string) (string, string) {
	if filepath.IsAbs(changelog) {
		volume := filepath.VolumeName(changelog)
		rel := strings.TrimPrefix(changelog[len(volume):], string(filepath.Separator))
		return volume + string(filepath.Separator), filepath.ToSlash(rel)
	}
	if searchPath == "" {
		searchPath = "."
	}
	return searchPath, filepath.ToSlash(filepath.Clean(changelog))
}
