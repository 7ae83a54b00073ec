package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ggonzalez94/defi-compiler/internal/builder"
	"github.com/ggonzalez94/defi-compiler/internal/cache"
	"github.com/ggonzalez94/defi-compiler/internal/compiler"
	"github.com/ggonzalez94/defi-compiler/internal/config"
	clierr "github.com/ggonzalez94/defi-compiler/internal/errors"
	"github.com/ggonzalez94/defi-compiler/internal/httpx"
	"github.com/ggonzalez94/defi-compiler/internal/model"
	"github.com/ggonzalez94/defi-compiler/internal/out"
	"github.com/ggonzalez94/defi-compiler/internal/permissions"
	"github.com/ggonzalez94/defi-compiler/internal/registry"
	"github.com/ggonzalez94/defi-compiler/internal/tokens"
	"github.com/ggonzalez94/defi-compiler/internal/validate"
	"github.com/ggonzalez94/defi-compiler/internal/version"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	stdin  io.Reader
	now    func() time.Time
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		stdin:  os.Stdin,
		now:    time.Now,
	}
}

type runtimeState struct {
	runner       *Runner
	flags        config.GlobalFlags
	settings     config.Settings
	cache        *cache.Store
	root         *cobra.Command
	logger       *slog.Logger
	lastCommand  string
	lastWarnings []string
	lastDetails  any

	reg       *registry.Registry
	resolver  *tokens.Resolver
	builders  *builder.Registry
	grants    *permissions.Client
	svc       *compiler.Service
	catalogue string
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r}
	root := state.newRootCommand()
	state.root = root
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SetIn(r.stdin)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	err = normalizeRunError(err)
	if state.cache != nil {
		_ = state.cache.Close()
	}
	if err == nil {
		return 0
	}
	state.renderError("", err)
	return clierr.ExitCode(err)
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Compile DeFi action requests into permission batches and transaction payloads",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings
			s.lastCommand = trimRootPath(cmd.CommandPath())
			s.logger = slog.New(slog.NewTextHandler(s.runner.stderr, &slog.HandlerOptions{Level: settings.SlogLevel()}))
			if !needsCompiler(s.lastCommand) {
				return nil
			}
			return s.setup(cmd.Context())
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})

	pf := cmd.PersistentFlags()
	pf.BoolVar(&s.flags.JSON, "json", false, "Output JSON (default)")
	pf.BoolVar(&s.flags.Plain, "plain", false, "Output plain text")
	pf.StringVar(&s.flags.Select, "select", "", "Select fields from data (comma-separated, dotted paths allowed)")
	pf.BoolVar(&s.flags.ResultsOnly, "results-only", false, "Output only data payload")
	pf.StringVar(&s.flags.Timeout, "timeout", "", "Permission service request timeout")
	pf.IntVar(&s.flags.Retries, "retries", -1, "Retries per permission service request")
	pf.StringVar(&s.flags.PermissionsURL, "permissions-url", "", "Permission service base URL")
	pf.StringVar(&s.flags.Catalogue, "tokens-file", "", "Token catalogue file (yaml or json)")
	pf.StringVar(&s.flags.CatalogueURL, "tokens-url", "", "Remote token catalogue URL")
	pf.BoolVar(&s.flags.NoCache, "no-cache", false, "Disable the token catalogue cache")
	pf.StringVar(&s.flags.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")

	cmd.AddCommand(s.newProtocolsCommand())
	cmd.AddCommand(s.newContractsCommand())
	cmd.AddCommand(s.newTokensCommand())
	cmd.AddCommand(s.newRequestCommand())
	cmd.AddCommand(s.newPermissionsCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// setup builds the registry, resolver, builders and permission client once
// per run.
func (s *runtimeState) setup(ctx context.Context) error {
	if s.svc != nil {
		return nil
	}
	s.reg = registry.Default()

	resolver, err := s.loadResolver(ctx)
	if err != nil {
		return err
	}
	s.resolver = resolver

	builders, err := builder.NewRegistry(s.reg, resolver, builder.WithClock(s.runner.now))
	if err != nil {
		return err
	}
	s.builders = builders

	httpClient := httpx.New(s.settings.Timeout, s.settings.Retries)
	s.grants = permissions.NewClient(httpClient, s.settings.PermissionsURL, s.settings.PermissionsAPIKey, s.logger)
	s.svc = compiler.New(s.reg, resolver, builders, s.grants, s.logger)
	return nil
}

func (s *runtimeState) loadResolver(ctx context.Context) (*tokens.Resolver, error) {
	switch {
	case strings.TrimSpace(s.settings.CataloguePath) != "":
		f, err := os.Open(s.settings.CataloguePath)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "open token catalogue", err)
		}
		defer f.Close()
		cat, err := tokens.LoadCatalogue(f)
		if err != nil {
			return nil, err
		}
		s.catalogue = s.settings.CataloguePath
		return tokens.NewResolver(cat)
	case strings.TrimSpace(s.settings.CatalogueURL) != "":
		if s.settings.CacheEnabled && s.cache == nil {
			store, err := cache.Open(s.settings.CachePath, s.settings.CacheLockPath)
			if err != nil {
				return nil, clierr.Wrap(clierr.CodeInternal, "open cache", err)
			}
			s.cache = store
		}
		src := tokens.Source{
			URL:    s.settings.CatalogueURL,
			Client: httpx.New(s.settings.Timeout, s.settings.Retries),
			Cache:  s.cache,
			TTL:    s.settings.CatalogueTTL,
			Logger: s.logger,
		}
		cat, err := src.Load(ctx)
		if err != nil {
			return nil, err
		}
		s.catalogue = s.settings.CatalogueURL
		return tokens.NewResolver(cat)
	default:
		s.catalogue = "builtin"
		return tokens.Default(), nil
	}
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) emitSuccess(commandPath string, data any, warnings []string) error {
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Warnings: warnings,
		Meta:     s.meta(commandPath),
	}
	return out.Render(s.runner.stdout, env, s.settings)
}

func (s *runtimeState) meta(commandPath string) model.EnvelopeMeta {
	status := model.CacheStatus{Status: "bypass"}
	if s.cache != nil {
		status.Status = "enabled"
	}
	return model.EnvelopeMeta{
		RequestID: uuid.NewString(),
		Timestamp: s.runner.now().UTC(),
		Command:   commandPath,
		Catalogue: s.catalogue,
		Cache:     status,
	}
}

func (s *runtimeState) renderError(commandPath string, err error) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	message := err.Error()
	if cErr, ok := clierr.As(err); ok {
		message = cErr.Message
		if cErr.Cause != nil {
			message = fmt.Sprintf("%s: %v", cErr.Message, cErr.Cause)
		}
	}
	code := clierr.ExitCode(err)
	details := s.lastDetails
	var resultErr *validate.ResultError
	if details == nil && errors.As(err, &resultErr) {
		details = resultErr.Result
	}

	settings := s.settings
	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	settings.ResultsOnly = false
	settings.SelectFields = nil
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    []any{},
		Error: &model.ErrorBody{
			Code:        code,
			Type:        clierr.TypeName(clierr.Code(code)),
			Message:     message,
			UserMessage: clierr.UserMessage(err),
			Details:     details,
		},
		Warnings: s.lastWarnings,
		Meta:     s.meta(commandPath),
	}
	_ = out.Render(s.runner.stderr, env, settings)
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return clierr.Wrap(clierr.CodeUsage, "invalid command input", err)
	}
	return clierr.Wrap(clierr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func needsCompiler(commandPath string) bool {
	switch normalizeCommandPath(commandPath) {
	case "", "version", "help":
		return false
	default:
		return true
	}
}

func normalizeCommandPath(commandPath string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(commandPath))), " ")
}
