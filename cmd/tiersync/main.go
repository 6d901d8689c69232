package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tiersync/tiersync/internal/bootstrap"
	"github.com/tiersync/tiersync/internal/propagate"
	"github.com/tiersync/tiersync/internal/tier"
	"github.com/tiersync/tiersync/internal/watch"
	"github.com/tiersync/tiersync/pkg/bundle"
	"github.com/tiersync/tiersync/pkg/config"
	"github.com/tiersync/tiersync/pkg/logging"
	"github.com/tiersync/tiersync/pkg/permission"
	"github.com/tiersync/tiersync/pkg/placeholder"
	"github.com/tiersync/tiersync/pkg/version"
)

var cfgFile string

func main() {
	root := &cobra.Command{
		Use:   "tiersync",
		Short: "Agent configuration tier propagation",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.tiersync/config.yaml)")

	root.AddCommand(workspaceCmd())
	root.AddCommand(sandboxCmd())
	root.AddCommand(propagateCmd())
	root.AddCommand(watchCmd())
	root.AddCommand(bootstrapCmd())
	root.AddCommand(verifyCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadStore() (*config.Config, *tier.Store, error) {
	path := cfgFile
	if path == "" {
		if def := config.DefaultConfigPath(); def != "" {
			if _, err := os.Stat(def); err == nil {
				path = def
			}
		}
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, nil, err
	}
	return cfg, tier.NewStore(cfg.Root), nil
}

func workspaceCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "workspace", Short: "Workspace management"}
	cmd.AddCommand(workspaceCreateCmd())
	return cmd
}

func workspaceCreateCmd() *cobra.Command {
	var setFlags []string
	var valuesFile string

	cmd := &cobra.Command{
		Use:   "create TYPE NAME",
		Short: "Create a workspace from a type, resolving stable placeholders",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := loadStore()
			if err != nil {
				return err
			}

			values := map[string]string{}
			if valuesFile != "" {
				fromFile, err := placeholder.ParseValuesFile(valuesFile)
				if err != nil {
					return fmt.Errorf("read values file: %w", err)
				}
				for k, v := range fromFile {
					values[k] = v
				}
			}
			fromSet, err := placeholder.ParseSet(setFlags)
			if err != nil {
				return err
			}
			for k, v := range fromSet {
				values[k] = v
			}

			result, err := store.CreateWorkspace(cmd.Context(), args[0], args[1], values)
			if err != nil {
				return err
			}
			fmt.Printf("created workspace %s from type %s (%d files)\n", args[1], args[0], result.Updated())
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&setFlags, "set", nil, "stable placeholder value (key=value, repeatable)")
	cmd.Flags().StringVar(&valuesFile, "values", "", "file with KEY=value placeholder assignments")
	return cmd
}

func sandboxCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "sandbox", Short: "Sandbox management"}
	cmd.AddCommand(sandboxCreateCmd())
	return cmd
}

func sandboxCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create WORKSPACE NAME",
		Short: "Create a sandbox from a workspace",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := loadStore()
			if err != nil {
				return err
			}
			result, err := store.CreateSandbox(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("created sandbox %s from workspace %s (%d files)\n", args[1], args[0], result.Updated())
			return nil
		},
	}
}

func propagateCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "propagate TYPE",
		Short: "Propagate a type to its workspaces and sandboxes now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := loadStore()
			if err != nil {
				return err
			}
			logger := logging.New(cfg.LogLevel, cfg.LogFormat)

			prop := propagate.New(store, cfg.Workers)
			prop.SetLogger(logger)
			report, err := prop.Propagate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printReport(report, asJSON)
			if len(report.Failures()) > 0 {
				return fmt.Errorf("%d propagation failures", len(report.Failures()))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run report as JSON")
	return cmd
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch the type tier and propagate changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := loadStore()
			if err != nil {
				return err
			}
			logger := logging.New(cfg.LogLevel, cfg.LogFormat)
			debounce, err := cfg.DebounceWindow()
			if err != nil {
				return err
			}
			maxDeferral, err := cfg.MaxDeferralWindow()
			if err != nil {
				return err
			}

			prop := propagate.New(store, cfg.Workers)
			prop.SetLogger(logger)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			watcher := watch.New(store.TypesRoot(), debounce, maxDeferral, func(ctx context.Context, typeID string) error {
				report, err := prop.Propagate(ctx, typeID)
				if err != nil {
					return err
				}
				if failures := report.Failures(); len(failures) > 0 {
					return fmt.Errorf("%d propagation failures", len(failures))
				}
				return nil
			})
			watcher.SetLogger(logger)

			errCh := make(chan error, 1)
			go func() {
				errCh <- watcher.Start(ctx)
			}()

			fmt.Printf("watching %s (debounce %s)\n", store.TypesRoot(), debounce)
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			select {
			case <-sigCh:
				cancel()
				<-errCh
				return nil
			case err := <-errCh:
				if err != nil && err != context.Canceled {
					return err
				}
				return nil
			}
		},
	}
}

func bootstrapCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "bootstrap", Short: "Sandbox onboarding lifecycle"}
	cmd.AddCommand(bootstrapCompleteCmd())
	return cmd
}

func bootstrapCompleteCmd() *cobra.Command {
	var userLiveFile string

	cmd := &cobra.Command{
		Use:   "complete SANDBOX",
		Short: "Mark first-session onboarding complete for a sandbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := loadStore()
			if err != nil {
				return err
			}
			schema, err := schemaForSandbox(store, args[0])
			if err != nil {
				return err
			}

			var userLive string
			if userLiveFile != "" {
				data, err := os.ReadFile(userLiveFile)
				if err != nil {
					return fmt.Errorf("read user-live file: %w", err)
				}
				userLive = string(data)
			}
			if err := bootstrap.Complete(store.SandboxDir(args[0]), schema, userLive); err != nil {
				return err
			}
			fmt.Printf("sandbox %s onboarding complete\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&userLiveFile, "user-live", "", "initial user-live content to install if absent")
	return cmd
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify [SANDBOX...]",
		Short: "Check access modes against each file's category",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := loadStore()
			if err != nil {
				return err
			}

			sandboxes := args
			if len(sandboxes) == 0 {
				workspaces, err := listAllWorkspaces(store)
				if err != nil {
					return err
				}
				for _, ws := range workspaces {
					sbs, err := store.SandboxesOf(ws)
					if err != nil {
						return err
					}
					sandboxes = append(sandboxes, sbs...)
				}
			}

			violations := 0
			for _, sb := range sandboxes {
				schema, err := schemaForSandbox(store, sb)
				if err != nil {
					return err
				}
				dir := store.SandboxDir(sb)
				b, err := bundle.Load(dir, schema)
				if err != nil {
					return err
				}
				mismatches, err := permission.Verify(dir, b)
				if err != nil {
					return err
				}
				for _, m := range mismatches {
					fmt.Printf("%s: %s\n", sb, m)
					violations++
				}
			}
			if violations > 0 {
				return fmt.Errorf("%d access mode violations", violations)
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.String())
		},
	}
}

func schemaForSandbox(store *tier.Store, sandboxID string) (*bundle.Schema, error) {
	workspaceID, err := store.WorkspaceOf(sandboxID)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace of sandbox %s: %w", sandboxID, err)
	}
	typeID, err := store.TypeOf(workspaceID)
	if err != nil {
		return nil, fmt.Errorf("resolve type of workspace %s: %w", workspaceID, err)
	}
	return bundle.LoadSchema(store.TypeDir(typeID))
}

func listAllWorkspaces(store *tier.Store) ([]string, error) {
	types, err := store.Types()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, typeID := range types {
		workspaces, err := store.WorkspacesOf(typeID)
		if err != nil {
			return nil, err
		}
		out = append(out, workspaces...)
	}
	return out, nil
}

func printReport(report *propagate.Report, asJSON bool) {
	if asJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err == nil {
			fmt.Println(string(data))
		}
		return
	}
	fmt.Printf("run %s: type %s, %d files updated\n", report.RunID, report.Type, report.Updated())
	for _, f := range report.Failures() {
		target := f.Workspace
		if f.Sandbox != "" {
			target += "/" + f.Sandbox
		}
		if f.File != "" {
			target += "/" + f.File
		}
		fmt.Printf("  failed: %s: %s\n", target, f.Err)
	}
}
