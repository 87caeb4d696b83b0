package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stepfunction-inspector/inspector"
	"stepfunction-inspector/stepfunctions/asl"
	"stepfunction-inspector/stepfunctions/graph"
)

func newListCommand(a *app) *cobra.Command {
	var (
		limit   int
		refresh bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflows with their recent executions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			resp, err := svc.Overview(cmd.Context(), a.cfg.Provider, limit, refresh)
			if err != nil {
				return fmt.Errorf("%s: %w", resp.Error, err)
			}
			if err := a.save("workflows", resp); err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), resp, func(w io.Writer) {
				displayOverview(w, resp)
				for _, wf := range resp.Workflows {
					if len(wf.Executions) > 0 {
						displayExecutions(w, wf.Name, wf.Executions)
					}
				}
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Executions per workflow (0 for the configured default)")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Ignore cached results")
	return cmd
}

func newGraphCommand(a *app) *cobra.Command {
	var (
		file  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "graph [STATE_MACHINE_ARN]",
		Short: "Show the state graph of a workflow or a local definition file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				g, err := graphFromFile(file, a.cfg.Region)
				if err != nil {
					return err
				}
				if err := a.save(strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))+"_graph", g); err != nil {
					return err
				}
				return a.emit(cmd.OutOrStdout(), g, func(w io.Writer) { displayGraph(w, g) })
			}
			if len(args) == 0 {
				return errors.New("a state machine ARN or --file is required")
			}

			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			detail, err := svc.WorkflowDetail(cmd.Context(), a.cfg.Provider, args[0], limit)
			if err != nil {
				return fmt.Errorf("%s: %w", detail.Error, err)
			}
			if err := a.save(detail.Name+"_detail", detail); err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), detail, func(w io.Writer) {
				if detail.Error != "" {
					fmt.Fprintf(w, "Error: %s\n", detail.Error)
				}
				displayGraph(w, detail.Graph)
				displayExecutions(w, detail.Name, detail.Executions)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the definition from a local JSON file")
	cmd.Flags().IntVar(&limit, "limit", 0, "Executions to list (0 for the configured default)")
	return cmd
}

func graphFromFile(path, region string) (graph.Graph, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return graph.Graph{}, fmt.Errorf("failed to read definition: %w", err)
	}
	def, err := asl.Parse(payload)
	if err != nil {
		return graph.Graph{}, err
	}
	return graph.Build(def, graph.DefaultResolvers(region)), nil
}

func newExecutionCommand(a *app) *cobra.Command {
	var opts inspector.ExecutionOptions
	cmd := &cobra.Command{
		Use:   "execution EXECUTION_ARN",
		Short: "Reconstruct an execution's state timeline and task logs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			detail, err := svc.ExecutionDetail(cmd.Context(), a.cfg.Provider, args[0], opts)
			if err != nil {
				return fmt.Errorf("%s: %w", detail.Error, err)
			}
			if detail.Failed() {
				return errors.New(detail.Error)
			}
			if err := a.save("execution_"+args[0], detail); err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), detail, func(w io.Writer) { displayExecution(w, detail) })
		},
	}
	cmd.Flags().IntVar(&opts.MaxEvents, "max-events", 0, "History events to read (0 for the configured default)")
	cmd.Flags().BoolVar(&opts.IncludeLogs, "logs", false, "Include execution and task logs")
	cmd.Flags().IntVar(&opts.LogLimit, "log-limit", 0, "Log lines shared by all tasks (0 for the configured default)")
	return cmd
}

func newValidateCommand(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Lint a local state machine definition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file == "" {
				return errors.New("--file is required")
			}
			payload, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read definition: %w", err)
			}
			if err := asl.Validate(payload); err != nil {
				return err
			}
			def, err := asl.Parse(payload)
			if err != nil {
				return err
			}
			a.logger.Debug("definition valid", zap.String("file", file), zap.Int("states", len(def.States)))
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (%d states, start at %s)\n", file, len(def.States), def.StartAt)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Definition file to validate")
	return cmd
}

func newRunCommand(a *app) *cobra.Command {
	var name, input string
	cmd := &cobra.Command{
		Use:   "run STATE_MACHINE_ARN",
		Short: "Start a new execution of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			resp, err := svc.Run(cmd.Context(), inspector.RunRequest{
				Provider:   a.cfg.Provider,
				WorkflowID: args[0],
				Name:       name,
				Input:      input,
			})
			if err != nil {
				return fmt.Errorf("%s: %w", resp.Message, err)
			}
			return a.emit(cmd.OutOrStdout(), resp, func(w io.Writer) {
				fmt.Fprintf(w, "Started %s\n", resp.RunID)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Execution name (generated when empty)")
	cmd.Flags().StringVar(&input, "input", "", "Execution input as JSON")
	return cmd
}
