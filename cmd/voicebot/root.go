package main

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-voicebot/internal/config"
	"github.com/teslashibe/go-voicebot/internal/log"
	"github.com/teslashibe/go-voicebot/pkg/bot"
	"github.com/teslashibe/go-voicebot/pkg/memory"
)

func newRootCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:          "voicebot",
		Short:        "Voice chat assistant with tools and long-term memory",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to a TOML config file (default ./voicebot.toml)")

	load := func() (*config.Config, error) { return config.Load(cfgPath) }
	cmd.AddCommand(
		newServeCmd(load),
		newConfigCmd(load),
		newMemoryCmd(load),
		newToolsCmd(load),
	)
	return cmd
}

type loader func() (*config.Config, error)

func newServeCmd(load loader) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot and its control API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			logger := log.Init(cfg.Log.Level)

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			app, err := bot.Build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			logger.Info("voicebot starting", "addr", cfg.Server.Addr, "llm", cfg.LLM.Model, "triggers", cfg.Bot.Triggers)
			return app.Serve(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	return cmd
}

func newConfigCmd(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "print",
		Short: "Print the effective configuration as TOML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			data, err := config.Render(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})
	return cmd
}

func newMemoryCmd(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and prune long-term memories",
	}

	var owner string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List stored memories, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(load, func(store *memory.SQLiteStore) error {
				recs, err := store.List(cmd.Context(), owner, limit)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tOWNER\tKEYWORDS\tSUMMARY\tCREATED")
				for _, r := range recs {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", r.ID, r.OwnerID, strings.Join(r.Keywords, ","), r.Summary, r.CreatedAt.Format("2006-01-02 15:04"))
				}
				return w.Flush()
			})
		},
	}
	list.Flags().StringVar(&owner, "owner", "", "only list this speaker's memories")
	list.Flags().IntVar(&limit, "limit", 50, "maximum rows, 0 for all")

	rm := &cobra.Command{
		Use:   "rm <id>...",
		Short: "Delete memories by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(load, func(store *memory.SQLiteStore) error {
				for _, arg := range args {
					id, err := strconv.ParseInt(arg, 10, 64)
					if err != nil {
						return fmt.Errorf("invalid id %q", arg)
					}
					if err := store.DeleteByID(cmd.Context(), id); err != nil {
						return fmt.Errorf("delete %d: %w", id, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Deleted memory %d\n", id)
				}
				return nil
			})
		},
	}

	cmd.AddCommand(list, rm)
	return cmd
}

func withStore(load loader, fn func(*memory.SQLiteStore) error) error {
	cfg, err := load()
	if err != nil {
		return err
	}
	store, err := memory.OpenSQLite(cfg.Memory.Path, log.Component("cli"))
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func newToolsCmd(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List and call the model's tools",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List the available tools",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := load()
				if err != nil {
					return err
				}
				reg, err := bot.BuildTools(cmd.Context(), cfg, log.Component("cli"))
				if err != nil {
					return err
				}
				for _, def := range reg.Definitions() {
					fmt.Fprintf(cmd.OutOrStdout(), "%-16s %s\n", def.Function.Name, def.Function.Description)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "call <name> [json-arguments]",
			Short: "Call a tool and print its result",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := load()
				if err != nil {
					return err
				}
				reg, err := bot.BuildTools(cmd.Context(), cfg, log.Component("cli"))
				if err != nil {
					return err
				}
				arguments := "{}"
				if len(args) == 2 {
					arguments = args[1]
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), config.Ms(cfg.Tools.SearchTimeoutMS))
				defer cancel()
				out, err := reg.Invoke(ctx, args[0], arguments)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			},
		},
	)
	return cmd
}
