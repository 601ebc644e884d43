// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/traylinx/switchAIRouter/internal/intelligence"
	"github.com/traylinx/switchAIRouter/internal/types"
)

type routeFlags struct {
	workflow      string
	maxIterations int
	noTools       bool
	decisionOnly  bool
}

func newRouteCmd() *cobra.Command {
	var f routeFlags
	cmd := &cobra.Command{
		Use:   "route <query>",
		Short: "Route and execute one query, printing the JSON response",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoute(cmd.Context(), cmd.OutOrStdout(), strings.Join(args, " "), f)
		},
	}
	cmd.Flags().StringVar(&f.workflow, "workflow", "", "force a workflow (direct, iterative, multi-agent)")
	cmd.Flags().IntVar(&f.maxIterations, "max-iterations", 0, "iteration budget override")
	cmd.Flags().BoolVar(&f.noTools, "no-tools", false, "skip external tools")
	cmd.Flags().BoolVar(&f.decisionOnly, "decision-only", false, "print the routing decision without executing it")
	return cmd
}

func newToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the configured tool registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := startService(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Shutdown(context.WithoutCancel(cmd.Context()))
			return printJSON(cmd.OutOrStdout(), svc.ListTools())
		},
	}
}

func startService(ctx context.Context) (*intelligence.Service, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	svc := intelligence.NewService(cfg)
	if err = svc.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize routing services: %w", err)
	}
	return svc, nil
}

func runRoute(ctx context.Context, out io.Writer, query string, f routeFlags) error {
	req := intelligence.QueryRequest{Query: query, MaxIterations: f.maxIterations}
	if f.workflow != "" {
		w, err := types.ParseWorkflow(f.workflow)
		if err != nil {
			return err
		}
		req.ForceWorkflow = w
	}
	if f.noTools {
		disabled := false
		req.EnableTools = &disabled
	}

	svc, err := startService(ctx)
	if err != nil {
		return err
	}
	defer svc.Shutdown(context.WithoutCancel(ctx))

	if f.decisionOnly {
		d, err := svc.Route(ctx, req)
		if err != nil {
			return err
		}
		return printJSON(out, d)
	}
	resp, err := svc.RouteAndExecute(ctx, req)
	if resp != nil {
		if perr := printJSON(out, resp); perr != nil {
			return errors.Join(err, perr)
		}
	}
	return err
}

func printJSON(out io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}
