package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	omniforge "github.com/omniforge/omniforge"
)

// buildAgentCmd creates the "agent" command group: list, run, status.
func buildAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage and run agents",
	}
	cmd.AddCommand(buildAgentListCmd(), buildAgentRunCmd(), buildAgentStatusCmd())
	return cmd
}

func buildAgentListCmd() *cobra.Command {
	var (
		configPath string
		tenant     string
		format     string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered agent cards",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, configPath, false)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			if tenant == "" {
				tenant = a.cfg.Tenant.ID
			}
			cards, err := a.store.ListAgentsByTenant(ctx, tenant)
			if err != nil {
				return err
			}
			// Shared cards have no tenant.
			shared, err := a.store.ListAgentsByTenant(ctx, "")
			if err != nil {
				return err
			}
			cards = append(cards, shared...)

			if format == "json" {
				return json.NewEncoder(os.Stdout).Encode(cards)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tMODEL\tSKILLS")
			for _, c := range cards {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ID, c.Name, c.Model, strings.Join(c.Skills, ","))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to TOML configuration file")
	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant id (default from config)")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table or json")
	return cmd
}

func buildAgentRunCmd() *cobra.Command {
	var (
		configPath string
		tenant     string
		skillName  string
		format     string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:   "run [agent-id] [message]",
		Short: "Run a task on an agent and stream its output",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			agentID := args[0]
			message := strings.Join(args[1:], " ")

			a, err := newApp(ctx, configPath, debug)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			if tenant == "" {
				tenant = a.cfg.Tenant.ID
			}

			card, err := a.store.GetAgent(ctx, agentID)
			if err != nil {
				// Unregistered agents still run with an ad-hoc card.
				card = omniforge.AgentCard{ID: agentID, Name: agentID, TenantID: tenant}
			}
			if _, err := a.buildAgent(ctx, card, skillName); err != nil {
				return err
			}

			task, err := a.manager.CreateTask(ctx, agentID, omniforge.TaskRequest{
				TenantID:  tenant,
				Parts:     []omniforge.MessagePart{{Text: message}},
				SkillName: skillName,
			})
			if err != nil {
				return err
			}

			events, err := a.manager.ProcessTask(ctx, task)
			if err != nil {
				return err
			}

			final := runStream(events, format)
			if format == "table" {
				fmt.Printf("task %s finished: %s\n", task.ID, final)
			}
			if final != omniforge.TaskCompleted && final != omniforge.TaskInputRequired {
				return fmt.Errorf("task ended in %s", final)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to TOML configuration file")
	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant id (default from config)")
	cmd.Flags().StringVar(&skillName, "skill", "", "Skill to activate for the run")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table or json")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

// runStream prints events as they arrive and returns the final state.
func runStream(events <-chan omniforge.Event, format string) omniforge.TaskState {
	final := omniforge.TaskFailed
	enc := json.NewEncoder(os.Stdout)
	for ev := range events {
		switch e := ev.(type) {
		case omniforge.MessageEvent:
			if e.IsPartial {
				continue
			}
			for _, part := range e.Parts {
				if format == "json" {
					enc.Encode(map[string]string{"type": "message", "text": part.Text})
				} else {
					fmt.Println(part.Text)
				}
			}
		case omniforge.StatusEvent:
			if format == "json" {
				enc.Encode(map[string]string{"type": "status", "state": string(e.State)})
			}
		case omniforge.ErrorEvent:
			fmt.Fprintf(os.Stderr, "error [%s]: %s\n", e.Code, e.Message)
		case omniforge.DoneEvent:
			final = e.FinalState
		}
	}
	return final
}

func buildAgentStatusCmd() *cobra.Command {
	var (
		configPath string
		format     string
	)
	cmd := &cobra.Command{
		Use:   "status [task-id]",
		Short: "Show the state of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, configPath, false)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			task, err := a.manager.GetTask(ctx, args[0])
			if err != nil {
				return err
			}
			if format == "json" {
				return json.NewEncoder(os.Stdout).Encode(task)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tAGENT\tTENANT\tSTATE\tUPDATED")
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				task.ID, task.AgentID, task.TenantID, task.State, task.UpdatedAt.Format("2006-01-02 15:04:05"))
			if err := w.Flush(); err != nil {
				return err
			}
			if task.Error != nil {
				fmt.Printf("error [%s]: %s\n", task.Error.Code, task.Error.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to TOML configuration file")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table or json")
	return cmd
}

// buildSkillCmd creates the "skill" command group.
func buildSkillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skill",
		Short: "Inspect loaded skills",
	}
	cmd.AddCommand(buildSkillListCmd(), buildSkillShowCmd())
	return cmd
}

func buildSkillListCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List skills across all layers",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), configPath, false)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			if err := a.skills.LoadAll(); err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tLAYER\tDESCRIPTION")
			for _, name := range a.skills.Names() {
				s, err := a.skills.Get(name)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", name, s.StorageLayer, s.Metadata.Description)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to TOML configuration file")
	return cmd
}

func buildSkillShowCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "show [name]",
		Short: "Show a skill's manifest and body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), configPath, false)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			if err := a.skills.LoadAll(); err != nil {
				return err
			}
			s, err := a.skills.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("name: %s\nlayer: %s\npath: %s\n", s.Metadata.Name, s.StorageLayer, s.Path)
			if s.Metadata.AllowedTools != nil {
				fmt.Printf("allowed-tools: %s\n", strings.Join(s.Metadata.AllowedTools, ", "))
			}
			fmt.Printf("\n%s\n", s.Content)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to TOML configuration file")
	return cmd
}

// buildOAuthCmd creates the "oauth" command group.
func buildOAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "oauth",
		Short: "Manage OAuth integrations",
	}
	cmd.AddCommand(buildOAuthCleanupCmd())
	return cmd
}

func buildOAuthCleanupCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired authorization flow states",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, configPath, false)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			if a.oauthMgr == nil {
				return fmt.Errorf("oauth is not configured (set [oauth] encryption_key)")
			}
			n, err := a.oauthMgr.CleanupExpiredStates(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("removed %d expired states\n", n)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to TOML configuration file")
	return cmd
}
