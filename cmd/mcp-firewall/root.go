package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/starskrime/mcp-action-firewall/approval"
	"github.com/starskrime/mcp-action-firewall/config"
	"github.com/starskrime/mcp-action-firewall/interceptor"
	"github.com/starskrime/mcp-action-firewall/logging"
	"github.com/starskrime/mcp-action-firewall/middleware"
	"github.com/starskrime/mcp-action-firewall/policy"
	"github.com/starskrime/mcp-action-firewall/proxy"
	"github.com/starskrime/mcp-action-firewall/transport"
)

type runOptions struct {
	target  string
	argv    []string
	name    string
	config  string
	verbose bool
	logFile string
}

func newRootCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:           RootUse,
		Short:         RootShort,
		Long:          RootLong,
		Example:       RootExample,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			argv, err := targetArgv(opts.target, args, cmd.ArgsLenAtDash())
			if err != nil {
				return err
			}
			opts.argv = argv
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runFirewall(ctx, opts, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVarP(&opts.target, "target", "t", "", FlagTarget)
	cmd.Flags().StringVarP(&opts.name, "name", "n", "", FlagName)
	cmd.Flags().StringVarP(&opts.config, "config", "c", "", FlagConfig)
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, FlagVerbose)
	cmd.Flags().StringVar(&opts.logFile, "log-file", "", FlagLogFile)

	cmd.AddCommand(newGenerateConfigCmd(), newCheckCmd(), newVersionCmd())
	return cmd
}

// targetArgv picks the target command from --target or the arguments
// after "--".
func targetArgv(target string, args []string, dashAt int) ([]string, error) {
	switch {
	case dashAt < 0 && len(args) > 0:
		return nil, fmt.Errorf(ErrStrayArgs, args)
	case dashAt >= 0 && len(args) > dashAt && target != "":
		return nil, errors.New(ErrTargetTwice)
	case target != "":
		return transport.ShellCommand(target), nil
	case dashAt >= 0 && len(args) > dashAt:
		return args[dashAt:], nil
	default:
		return nil, errors.New(ErrNoTarget)
	}
}

func runFirewall(ctx context.Context, opts runOptions, stdin io.Reader, stdout, stderr io.Writer) error {
	env, err := config.LoadEnv()
	if err != nil {
		return err
	}
	if opts.name == "" {
		opts.name = env.ServerName
	}
	if opts.logFile == "" {
		opts.logFile = env.LogFile
	}

	log, err := logging.New(logging.Options{
		Level:   env.LogLevel,
		Verbose: opts.verbose,
		File:    opts.logFile,
		Stderr:  stderr,
	})
	if err != nil {
		return err
	}
	defer log.Close()

	cfg, engine, err := loadPolicy(opts.config, opts.name)
	if err != nil {
		return err
	}
	if opts.name != "" && !cfg.HasServer(opts.name) {
		log.Warn(LogServerMissing, "server", opts.name)
	}

	store := approval.NewStore()
	ic := interceptor.New(engine, store, interceptor.Settings{
		TTL:         cfg.Approval.TTL.Std(),
		MaxAttempts: cfg.Approval.MaxAttempts,
	}, log.Logger)

	target, err := transport.Spawn(opts.argv)
	if err != nil {
		return err
	}
	log.Info(LogStarting,
		"target", opts.argv,
		"pid", target.Pid(),
		"config", cfg.Source,
		"server", opts.name,
		"default_action", engine.DefaultAction(),
		"ttl", cfg.Approval.TTL.Std(),
		"max_attempts", cfg.Approval.MaxAttempts,
	)

	p := proxy.New(transport.NewStream(stdin, stdout), target, ic, proxy.Options{
		Logger:        log.Logger,
		Middleware:    []middleware.Middleware{middleware.Logging(log.Logger)},
		Store:         store,
		SweepInterval: cfg.Approval.SweepInterval.Std(),
	})
	err = p.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// loadPolicy resolves and loads the config and builds the engine for
// server.
func loadPolicy(explicit, server string) (*config.Config, *policy.Engine, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, nil, err
	}
	path, err := config.Resolve(explicit, wd)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	engine, _ := policy.New(cfg.Policy(), server)
	return cfg, engine, nil
}
