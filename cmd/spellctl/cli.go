package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/danmuck/spellctl/internal/app"
	"github.com/danmuck/spellctl/internal/auth"
	"github.com/danmuck/spellctl/internal/cache"
	"github.com/danmuck/spellctl/internal/config"
	"github.com/danmuck/spellctl/internal/observability"
	"github.com/danmuck/spellctl/internal/server"
	"github.com/danmuck/spellctl/internal/spells"
	"github.com/danmuck/spellctl/internal/transport"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const (
	exitOK      = 0
	exitFailed  = 1
	exitUsage   = 2
	envFileName = ".env"
)

var errNotConfirmed = errors.New("spellctl: write spell not confirmed")

type cli struct {
	stdout     io.Writer
	stderr     io.Writer
	stdin      io.Reader
	isTerminal func() bool
	// connector replaces the default transports when set.
	connector transport.Connector
}

type commonFlags struct {
	configFile string
	format     string
}

func (c *cli) run(ctx context.Context, args []string) int {
	if err := config.LoadEnv(envFileName); err != nil {
		log.Warn().Err(err).Msg("spellctl .env ignored")
	}
	if len(args) == 0 {
		c.usage()
		return exitUsage
	}
	switch args[0] {
	case "-h", "--help", "help":
		c.usage()
		return exitOK
	case "version":
		fmt.Fprintf(c.stdout, "spellctl %s\n", server.Version)
		return exitOK
	case "spells":
		return c.cmdSpells(args[1:])
	case "targets":
		return c.cmdTargets(args[1:])
	case "cache":
		return c.cmdCache(args[1:])
	case "config":
		// "config" is also a spell; only "config init" is the subcommand.
		if len(args) > 1 && args[1] == "init" {
			return c.cmdConfig(args[1:])
		}
		return c.cmdCast(ctx, args[0], args[1:])
	case "serve":
		return c.cmdServe(ctx, args[1:])
	default:
		return c.cmdCast(ctx, args[0], args[1:])
	}
}

func (c *cli) usage() {
	fmt.Fprint(c.stderr, `usage: spellctl <command> [flags]

commands:
  <spell>                 run a spell (see "spellctl spells")
  spells                  list available spells
  targets                 list selected controllers
  cache list|clear|ttl    inspect or purge the result cache
  config init [--force]   write a starter inventory
  serve [--addr]          serve spells over HTTP
  version                 print the version
`)
}

func (c *cli) flagSet(name string, common *commonFlags) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	fs.StringVar(&common.configFile, "config-file", "", "inventory file (default $SPELLCTL_CONFIG or <data>/config.toml)")
	fs.StringVar(&common.format, "format", "", "output format: yaml|json (default from settings)")
	return fs
}

func (c *cli) fail(err error) int {
	fmt.Fprintf(c.stderr, "error: %v\n", err)
	return exitFailed
}

func (c *cli) paths(common commonFlags) config.Paths {
	paths := config.ResolvePaths()
	if common.configFile != "" {
		paths.ConfigFile = common.configFile
	}
	return paths
}

func (c *cli) load(common commonFlags) (*app.App, error) {
	paths := c.paths(common)
	cfg, err := config.Load(paths)
	if err != nil {
		return nil, err
	}
	if common.format != "" {
		cfg.Settings.Output = strings.ToLower(common.format)
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
	}
	a, err := app.New(cfg, paths.CacheDir)
	if err != nil {
		return nil, err
	}
	if c.connector != nil {
		a.Connector = c.connector
	}
	return a, nil
}

func (c *cli) render(format string, v any) error {
	switch strings.ToLower(format) {
	case "json":
		out, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(c.stdout, string(out))
		return err
	case "", "yaml":
		enc := yaml.NewEncoder(c.stdout)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func (c *cli) cmdCast(ctx context.Context, name string, args []string) int {
	var (
		common    commonFlags
		params    []string
		noConfirm bool
		req       = app.Request{Spell: name}
	)
	fs := c.flagSet(name, &common)
	fs.StringVar(&req.RunType, "run-type", "", "scheduling policy: serial|parallel|batch")
	fs.IntVar(&req.BatchSize, "batch-size", 0, "window size for the batch policy")
	fs.StringVar(&req.Filter, "filter", "", `controller filter, e.g. "customer=acme tag.env=prod"`)
	fs.StringSliceVarP(&req.Controllers, "controllers", "c", nil, "controller names or uuids")
	fs.StringSliceVarP(&req.Models, "models", "m", nil, "models or model aliases")
	fs.BoolVar(&req.Refresh, "refresh", false, "ignore cached results")
	fs.BoolVar(&req.DryRun, "dry-run", false, "report write spells without applying them")
	fs.BoolVar(&req.Overwrite, "overwrite", false, "tolerate changes that are already applied")
	fs.BoolVar(&noConfirm, "no-confirm", false, "skip the confirmation prompt for write spells")
	fs.StringArrayVarP(&params, "param", "p", nil, "spell parameter key=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(c.stderr, "unexpected arguments: %s\n", strings.Join(fs.Args(), " "))
		return exitUsage
	}
	var err error
	if req.Params, err = parseParams(params); err != nil {
		fmt.Fprintf(c.stderr, "error: %v\n", err)
		return exitUsage
	}

	a, err := c.load(common)
	if err != nil {
		return c.fail(err)
	}
	spell, targets, err := a.Prepare(req)
	if err != nil {
		return c.fail(err)
	}
	if spell.Write && !req.DryRun && !noConfirm {
		if err := c.confirm(spell, len(targets)); err != nil {
			return c.fail(err)
		}
	}

	results, err := a.Cast(ctx, req)
	if err != nil {
		return c.fail(err)
	}
	if err := c.render(a.Config.Settings.Output, results); err != nil {
		return c.fail(err)
	}
	for _, res := range results {
		if !res.Result.Success {
			return exitFailed
		}
	}
	return exitOK
}

// confirm asks on the terminal before a write spell runs. Without a terminal
// the caller must pass --no-confirm.
func (c *cli) confirm(spell spells.Spell, targets int) error {
	if c.isTerminal == nil || !c.isTerminal() {
		return fmt.Errorf("%w: stdin is not a terminal, pass --no-confirm", errNotConfirmed)
	}
	fmt.Fprintf(c.stderr, "%s will modify %d controller(s). Continue? [y/N] ", spell.Name, targets)
	line, err := bufio.NewReader(c.stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return nil
	default:
		return errNotConfirmed
	}
}

func parseParams(raw []string) (map[string]string, error) {
	out := make(map[string]string, len(raw))
	for _, kv := range raw {
		key, value, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("param %q is not key=value", kv)
		}
		out[key] = value
	}
	return out, nil
}

func (c *cli) cmdSpells(args []string) int {
	var common commonFlags
	fs := c.flagSet("spells", &common)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if err := c.render(common.format, spells.DefaultRegistry().List()); err != nil {
		return c.fail(err)
	}
	return exitOK
}

func (c *cli) cmdTargets(args []string) int {
	var (
		common      commonFlags
		filter      string
		controllers []string
	)
	fs := c.flagSet("targets", &common)
	fs.StringVar(&filter, "filter", "", "controller filter")
	fs.StringSliceVarP(&controllers, "controllers", "c", nil, "controller names or uuids")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	a, err := c.load(common)
	if err != nil {
		return c.fail(err)
	}
	targets, err := a.Targets(filter, controllers)
	if err != nil {
		return c.fail(err)
	}
	if err := c.render(a.Config.Settings.Output, targets); err != nil {
		return c.fail(err)
	}
	return exitOK
}

func (c *cli) cmdCache(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(c.stderr, "usage: spellctl cache list|clear|ttl")
		return exitUsage
	}
	var common commonFlags
	fs := c.flagSet("cache "+args[0], &common)
	if err := fs.Parse(args[1:]); err != nil {
		return exitUsage
	}
	paths := c.paths(common)
	ttl := cache.DefaultTTL
	if cfg, err := config.Load(paths); err == nil {
		ttl = cfg.Settings.CacheTTL
	} else {
		log.Debug().Err(err).Msg("spellctl cache using default ttl")
	}
	store, err := cache.Open(paths.CacheDir, cache.WithTTL(ttl))
	if err != nil {
		return c.fail(err)
	}

	switch args[0] {
	case "list":
		keys, err := store.Keys()
		if err != nil {
			return c.fail(err)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Fprintln(c.stdout, key)
		}
	case "clear":
		removed, err := store.Purge()
		if err != nil {
			return c.fail(err)
		}
		fmt.Fprintf(c.stdout, "removed %d cached record(s) from %s\n", removed, store.Dir())
	case "ttl":
		fmt.Fprintln(c.stdout, store.TTL().String())
	default:
		fmt.Fprintf(c.stderr, "unknown cache command %q\n", args[0])
		return exitUsage
	}
	return exitOK
}

func (c *cli) cmdConfig(args []string) int {
	var (
		common commonFlags
		force  bool
	)
	fs := c.flagSet("config init", &common)
	fs.BoolVar(&force, "force", false, "overwrite an existing inventory")
	if err := fs.Parse(args[1:]); err != nil {
		return exitUsage
	}
	path := c.paths(common).ConfigFile
	if err := config.WriteTemplate(path, force); err != nil {
		return c.fail(err)
	}
	fmt.Fprintf(c.stdout, "wrote %s\n", path)
	return exitOK
}

func (c *cli) cmdServe(ctx context.Context, args []string) int {
	var (
		common commonFlags
		addr   string
	)
	fs := c.flagSet("serve", &common)
	fs.StringVar(&addr, "addr", "", "listen address (default from [server])")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	a, err := c.load(common)
	if err != nil {
		return c.fail(err)
	}
	if addr == "" {
		addr = a.Config.Server.Addr
	}
	observability.InitLogger("spellctl-serve")
	if a.Config.Server.Token == "" {
		log.Warn().Msg("spellctl serve: no [server] token configured, spell routes will reject every request")
	}
	srv := server.New(a, server.Options{
		Addr:        addr,
		CorsOrigins: a.Config.Server.CorsOrigins,
		Validator:   auth.StaticToken{Token: a.Config.Server.Token},
	})
	if err := srv.ListenAndServe(ctx); err != nil {
		return c.fail(err)
	}
	return exitOK
}
