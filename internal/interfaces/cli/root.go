package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Config holds the flags shared by every subcommand.
type Config struct {
	BaseURL string
	Secret  string
}

// NewRootCommand builds the admin CLI's full command tree: agencies,
// blueprints, agents, schedules, vars, and mcp, each a thin wrapper over
// one or more calls through Client against the gateway's REST surface.
func NewRootCommand() *cobra.Command {
	cfg := &Config{}

	root := &cobra.Command{
		Use:   "agentforge-cli",
		Short: "REST client for the agentforge runtime gateway",
	}
	root.PersistentFlags().StringVar(&cfg.BaseURL, "url", "http://localhost:8080", "gateway base URL")
	root.PersistentFlags().StringVar(&cfg.Secret, "secret", os.Getenv("AGENTFORGE_SECRET"), "gateway shared secret")

	root.AddCommand(
		newAgenciesCmd(cfg),
		newBlueprintsCmd(cfg),
		newAgentsCmd(cfg),
		newScheduleCmd(cfg),
		newVarsCmd(cfg),
		newMCPCmd(cfg),
	)
	return root
}

func (c *Config) client() *Client { return NewClient(c.BaseURL, c.Secret) }

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(b))
}

func newAgenciesCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{Use: "agencies", Short: "manage tenant agencies"}

	var name string
	create := &cobra.Command{
		Use:   "create <id>",
		Short: "create a new agency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			displayName := name
			if displayName == "" {
				displayName = args[0]
			}
			var out map[string]any
			if err := cfg.client().Post("/agencies", map[string]any{"id": args[0], "name": displayName}, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	create.Flags().StringVar(&name, "name", "", "display name, which the gateway also uses as the agency id (defaults to <id>)")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "list agencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out any
			if err := cfg.client().Get("/agencies", &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "delete an agency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.client().Delete("/agency/" + args[0])
		},
	})

	return cmd
}

func newBlueprintsCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{Use: "blueprints", Short: "manage agency blueprints"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list <agency>",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out any
			if err := cfg.client().Get("/agency/"+args[0]+"/blueprints", &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	})

	var prompt, model string
	var capabilities []string
	upsert := &cobra.Command{
		Use:   "upsert <agency> <name>",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"name":         args[1],
				"prompt":       prompt,
				"model":        model,
				"capabilities": capabilities,
			}
			var out any
			if err := cfg.client().Post("/agency/"+args[0]+"/blueprints", body, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	upsert.Flags().StringVar(&prompt, "prompt", "", "system prompt")
	upsert.Flags().StringVar(&model, "model", "", "model override")
	upsert.Flags().StringSliceVar(&capabilities, "capability", nil, "capability tag (repeatable)")
	cmd.AddCommand(upsert)

	cmd.AddCommand(&cobra.Command{
		Use:  "delete <agency> <name>",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.client().Delete("/agency/" + args[0] + "/blueprints/" + args[1])
		},
	})

	return cmd
}

func newAgentsCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{Use: "agents", Short: "manage and drive agents within an agency"}

	cmd.AddCommand(&cobra.Command{
		Use:  "list <agency>",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out any
			if err := cfg.client().Get("/agency/"+args[0]+"/agents", &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	})

	var input, related string
	spawn := &cobra.Command{
		Use:  "spawn <agency> <agentType>",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"agentType": args[1], "input": input, "relatedAgentId": related}
			var out any
			if err := cfg.client().Post("/agency/"+args[0]+"/agents", body, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	spawn.Flags().StringVar(&input, "input", "", "initial user message")
	spawn.Flags().StringVar(&related, "related", "", "related agent id (for child spawns)")
	cmd.AddCommand(spawn)

	cmd.AddCommand(&cobra.Command{
		Use:  "tree <agency>",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out any
			if err := cfg.client().Get("/agency/"+args[0]+"/agents/tree", &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:  "destroy <agency> <agentId>",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.client().Delete("/agency/" + args[0] + "/agents/" + args[1])
		},
	})

	invoke := &cobra.Command{
		Use:  "invoke <agency> <agentId> <message>",
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out any
			path := "/agency/" + args[0] + "/agent/" + args[1] + "/invoke"
			if err := cfg.client().Post(path, map[string]any{"message": args[2]}, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	cmd.AddCommand(invoke)

	cmd.AddCommand(&cobra.Command{
		Use:  "state <agency> <agentId>",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out any
			if err := cfg.client().Get("/agency/"+args[0]+"/agent/"+args[1]+"/state", &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:  "events <agency> <agentId>",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out any
			if err := cfg.client().Get("/agency/"+args[0]+"/agent/"+args[1]+"/events", &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	})

	fork := &cobra.Command{
		Use:  "fork <agency> <agentId>",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out any
			if err := cfg.client().Post("/agency/"+args[0]+"/agent/"+args[1]+"/fork", map[string]any{}, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	cmd.AddCommand(fork)

	return cmd
}

func newScheduleCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{Use: "schedules", Short: "manage agency schedules"}

	cmd.AddCommand(&cobra.Command{
		Use:  "list <agency>",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out any
			if err := cfg.client().Get("/agency/"+args[0]+"/schedules", &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:  "trigger <agency> <scheduleId>",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.client().Post("/agency/"+args[0]+"/schedules/"+args[1]+"/trigger", nil, nil)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:  "pause <agency> <scheduleId>",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.client().Post("/agency/"+args[0]+"/schedules/"+args[1]+"/pause", nil, nil)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:  "resume <agency> <scheduleId>",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.client().Post("/agency/"+args[0]+"/schedules/"+args[1]+"/resume", nil, nil)
		},
	})

	return cmd
}

func newVarsCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{Use: "vars", Short: "manage agency variables"}

	cmd.AddCommand(&cobra.Command{
		Use:  "list <agency>",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out any
			if err := cfg.client().Get("/agency/"+args[0]+"/vars", &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:  "set <agency> <key> <value>",
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.client().Put("/agency/"+args[0]+"/vars/"+args[1], map[string]any{"value": args[2]}, nil)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:  "delete <agency> <key>",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.client().Delete("/agency/" + args[0] + "/vars/" + args[1])
		},
	})

	return cmd
}

func newMCPCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{Use: "mcp", Short: "manage remote MCP tool servers"}

	cmd.AddCommand(&cobra.Command{
		Use:  "list <agency>",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out any
			if err := cfg.client().Get("/agency/"+args[0]+"/mcp", &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	})

	add := &cobra.Command{
		Use:  "add <agency> <name> <url>",
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out any
			body := map[string]any{"name": args[1], "url": args[2]}
			if err := cfg.client().Post("/agency/"+args[0]+"/mcp", body, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:  "remove <agency> <serverId>",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.client().Delete("/agency/" + args[0] + "/mcp/" + args[1])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:  "tools <agency>",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out any
			if err := cfg.client().Get("/agency/"+args[0]+"/mcp/tools", &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	})

	return cmd
}
