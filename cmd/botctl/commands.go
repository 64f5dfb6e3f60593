package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/betbot/botvisor/internal/domain"
	"github.com/betbot/botvisor/pkg/apiclient"
)

const defaultAddr = "http://127.0.0.1:5000"

type rootOptions struct {
	addr    string
	timeout time.Duration
}

func (o *rootOptions) client() *apiclient.Client {
	return apiclient.NewClient(o.addr, o.timeout)
}

func buildRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "botctl",
		Short:         "Control a botvisor server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	addr := os.Getenv("BOTVISOR_ADDR")
	if addr == "" {
		addr = defaultAddr
	}
	root.PersistentFlags().StringVar(&opts.addr, "addr", addr, "botvisor server base URL (env BOTVISOR_ADDR)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "request timeout")

	root.AddCommand(
		buildStatusCmd(opts),
		buildLifecycleCmd(opts, "start", "Connect a bot", (*apiclient.Client).Start),
		buildLifecycleCmd(opts, "stop", "Disconnect a bot", (*apiclient.Client).Stop),
		buildLifecycleCmd(opts, "restart", "Restart a bot", (*apiclient.Client).Restart),
		buildSayCmd(opts),
		buildSwitchCmd(opts),
		buildBotsCmd(opts),
		buildLogsCmd(opts),
		buildConfigCmd(opts),
	)
	return root
}

func labelArg(args []string) domain.BotLabel {
	if len(args) == 0 {
		return ""
	}
	return domain.BotLabel(args[0])
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func buildStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status [label]",
		Short: "Show a bot's status (defaults to the active bot)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.client().Status(cmd.Context(), labelArg(args))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
}

func buildLifecycleCmd(opts *rootOptions, use, short string, op func(*apiclient.Client, context.Context, domain.BotLabel) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [label]",
		Short: short + " (defaults to the active bot)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := op(opts.client(), cmd.Context(), labelArg(args)); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]bool{"success": true})
		},
	}
}

func buildSayCmd(opts *rootOptions) *cobra.Command {
	var label string
	cmd := &cobra.Command{
		Use:   "say <text...>",
		Short: "Send a chat line or slash command",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if err := opts.client().Say(cmd.Context(), domain.BotLabel(label), text); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]bool{"success": true})
		},
	}
	cmd.Flags().StringVar(&label, "bot", "", "target bot label (defaults to the active bot)")
	return cmd
}

func buildSwitchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "switch <label>",
		Short: "Change the active bot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client()
			if err := c.Switch(cmd.Context(), domain.BotLabel(args[0])); err != nil {
				return err
			}
			info, err := c.Active(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), info)
		},
	}
}

func buildBotsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "bots",
		Short: "List every bot with its status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := opts.client().Bots(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), list)
		},
	}
}

func buildLogsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logs <label>",
		Short: "Show a bot's recent console lines and events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logs, evs, err := opts.client().Logs(cmd.Context(), domain.BotLabel(args[0]))
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, l := range logs {
				fmt.Fprintf(w, "[%s] %-7s %s\n", l.Timestamp, l.Severity, l.Message)
			}
			for _, e := range evs {
				fmt.Fprintf(w, "event %s: %s (%s)\n", e.Title, e.Description, e.Timestamp)
			}
			return nil
		},
	}
}

func buildConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read or replace a bot's connection config",
	}
	cmd.AddCommand(buildConfigGetCmd(opts), buildConfigSetCmd(opts))
	return cmd
}

func buildConfigGetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get [label]",
		Short: "Show the config (password is never returned)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.client().Config(cmd.Context(), labelArg(args))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), cfg)
		},
	}
}

func buildConfigSetCmd(opts *rootOptions) *cobra.Command {
	var cfg domain.ConnectionConfig
	cmd := &cobra.Command{
		Use:   "set [label]",
		Short: "Replace the whole config; it is used on the next connect",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Password == "" {
				cfg.Password = os.Getenv("BOTVISOR_PASSWORD")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := opts.client().SetConfig(cmd.Context(), labelArg(args), cfg); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]bool{"success": true})
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.Host, "host", "", "server host")
	f.IntVar(&cfg.Port, "port", 25565, "server port")
	f.StringVar(&cfg.Username, "username", "", "bot username")
	f.StringVar(&cfg.Version, "version", "", "protocol version, e.g. 1.20")
	f.StringVar(&cfg.Password, "password", "", "login password (env BOTVISOR_PASSWORD)")
	_ = cmd.MarkFlagRequired("host")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}
