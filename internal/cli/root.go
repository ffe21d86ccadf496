// Package cli wires the shopmesh processes behind one cobra command tree.
package cli

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/drblury/shopmesh/internal/runtime"
	"github.com/drblury/shopmesh/internal/runtime/config"
	"github.com/drblury/shopmesh/internal/runtime/logging"
)

// Options customises the command tree. The zero value reads the process
// environment and logs with zap.
type Options struct {
	Out io.Writer
	// Logger replaces the zap logger built from --log-dev.
	Logger logging.ServiceLogger
	// Dependencies are handed to every Service the commands create.
	Dependencies runtime.ServiceDependencies
}

type app struct {
	opts       Options
	configPath string
	logDev     bool
	service    string

	conf   *config.Config
	logger logging.ServiceLogger
	sync   func() error
}

// NewRootCommand builds the shopmesh command tree.
func NewRootCommand(opts Options) *cobra.Command {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	a := &app{opts: opts}

	root := &cobra.Command{
		Use:           "shopmesh <command>",
		Short:         "Event bus, service client and edge gateway for the shop services",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.teardown()
		},
	}
	root.SetOut(opts.Out)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", os.Getenv("SHOPMESH_CONFIG"), "path to a TOML config file")
	flags.BoolVar(&a.logDev, "log-dev", false, "human readable debug logging")
	flags.StringVar(&a.service, "service-name", "", "override the configured service name")

	root.AddCommand(
		newGatewayCommand(a),
		newCartCommand(a),
		newPublishCommand(a),
	)
	return root
}

func (a *app) setup() error {
	conf, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.conf = conf

	if a.opts.Logger != nil {
		a.logger = a.opts.Logger
		return nil
	}
	zl, err := logging.NewProductionZap(a.logDev)
	if err != nil {
		return err
	}
	a.logger = logging.NewZapServiceLogger(zl)
	a.sync = zl.Sync
	return nil
}

func (a *app) teardown() error {
	if a.sync != nil {
		// Syncing a terminal stderr returns EINVAL; nothing to report.
		_ = a.sync()
	}
	return nil
}

// newService builds a Service named fallback unless --service-name or the
// configuration already picked a name.
func (a *app) newService(ctx context.Context, fallback string) (*runtime.Service, error) {
	conf := *a.conf
	switch {
	case a.service != "":
		conf.ServiceName = a.service
	case conf.ServiceName == config.Default().ServiceName:
		conf.ServiceName = fallback
	}
	return runtime.NewService(ctx, &conf, a.logger, a.opts.Dependencies)
}

// Execute runs the command tree with ctx.
func Execute(ctx context.Context, args []string, opts Options) error {
	root := NewRootCommand(opts)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}
