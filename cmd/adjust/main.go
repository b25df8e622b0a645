// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/sapcc/go-api-declarations/bininfo"
	"github.com/sapcc/go-bits/httpext"
	"github.com/spf13/cobra"
	"k8s.io/utils/clock"

	"github.com/cobaltcore-dev/pipeline-adjust/internal/adjust"
	"github.com/cobaltcore-dev/pipeline-adjust/internal/conf"
	"github.com/cobaltcore-dev/pipeline-adjust/internal/fault"
	"github.com/cobaltcore-dev/pipeline-adjust/internal/health"
	"github.com/cobaltcore-dev/pipeline-adjust/internal/hosts"
	"github.com/cobaltcore-dev/pipeline-adjust/internal/pipeline"
	libconf "github.com/cobaltcore-dev/pipeline-adjust/pkg/conf"
	"github.com/cobaltcore-dev/pipeline-adjust/pkg/monitoring"
	"github.com/cobaltcore-dev/pipeline-adjust/pkg/sso"
)

type options struct {
	configPath  string
	secretsPath string
	query       bool
	info        bool
}

func newRootCommand(stdin io.Reader, stdout io.Writer) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "adjust [application]",
		Short: "Apply setting values to a deployment pipeline and wait for the fleet to follow",
		Long: "Reads an adjustment request from stdin, rewrites the configured pipeline definition, " +
			"runs the pipeline and verifies the resulting fleet. Progress and the result are " +
			"written to stdout as JSON documents, logs go to stderr.",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, args, stdin, newStdioRuntime(stdout))
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", libconf.DefaultConfigPath, "path to the configuration file")
	cmd.Flags().StringVar(&opts.secretsPath, "secrets", libconf.DefaultSecretsPath, "path to the optional secrets file")
	cmd.Flags().BoolVar(&opts.query, "query", false, "print the current setting values instead of adjusting")
	cmd.Flags().BoolVar(&opts.info, "info", false, "print information about the driver")
	cmd.MarkFlagsMutuallyExclusive("query", "info")
	return cmd
}

func run(ctx context.Context, opts *options, args []string, stdin io.Reader, rt *stdioRuntime) error {
	if opts.info {
		return rt.Result(map[string]any{
			"version":    bininfo.VersionOr("rolling"),
			"has_cancel": false,
		})
	}
	config, err := conf.Load(opts.configPath, opts.secretsPath)
	if err != nil {
		return rt.Fail(err)
	}
	config.SetDefaultLogger()
	if len(args) > 0 {
		slog.Info("adjusting application", "application", args[0])
	}

	registry := monitoring.NewRegistry(config.MonitoringConfig)
	defer func() {
		if err := registry.WriteTextfile(); err != nil {
			slog.Warn("failed to write metrics textfile", "error", err)
		}
	}()

	orchestrator, err := newOrchestrator(config, registry, rt)
	if err != nil {
		return rt.Fail(err)
	}
	if opts.query {
		result, err := orchestrator.Query(ctx)
		if err != nil {
			return rt.Fail(err)
		}
		return rt.Result(result)
	}
	req, err := adjust.ParseRequest(stdin)
	if err != nil {
		return rt.Fail(err)
	}
	if _, err := orchestrator.Adjust(ctx, req); err != nil {
		return rt.Fail(err)
	}
	return rt.Result(okDoc{Status: "ok"})
}

func newOrchestrator(config *conf.Config, registry *monitoring.Registry, rt adjust.Runtime) (*adjust.Orchestrator, error) {
	httpClient, err := sso.NewHTTPClient(config.Pipeline.SSO)
	if err != nil {
		return nil, fault.Wrap(fault.KindConfig, err, "failed to create pipeline client")
	}
	api := pipeline.NewAPI(pipeline.NewMonitor(registry), config.Pipeline.URL, httpClient)
	var verifier *health.Verifier
	if hc := config.HealthCheck; hc != nil {
		hostRegistry, err := hosts.NewRegistry(hosts.NewMonitor(registry), hc.Registry)
		if err != nil {
			return nil, fault.Wrap(fault.KindConfig, err, "failed to create host registry")
		}
		verifier = health.NewVerifier(hostRegistry, *hc, clock.RealClock{}, http.DefaultClient)
	}
	return adjust.NewOrchestrator(config, api, verifier, clock.RealClock{}, adjust.NewMonitor(registry), rt)
}

func main() {
	args := os.Args[1:]
	if len(args) > 0 {
		// If called with `--version`, report version and exit.
		bininfo.HandleVersionArgument()
	}

	// Override User-Agent header for all requests made by this process.
	wrap := httpext.WrapTransport(&http.DefaultTransport)
	wrap.SetOverrideUserAgent(bininfo.Component(), bininfo.VersionOr("rolling"))

	ctx := httpext.ContextWithSIGINT(context.Background(), time.Second)
	err := newRootCommand(os.Stdin, os.Stdout).ExecuteContext(ctx)
	switch {
	case errors.Is(err, errReported):
		os.Exit(1)
	case err != nil:
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}
}
