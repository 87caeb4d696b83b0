package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"go.uber.org/zap"

	"stepfunction-inspector/inspector"
	"stepfunction-inspector/stepfunctions/graph"
	"stepfunction-inspector/stepfunctions/tasklogs"
	"stepfunction-inspector/stepfunctions/timeline"
)

const maxCell = 100

func (a *app) emit(w io.Writer, v any, table func(io.Writer)) error {
	if a.output == outputJSON {
		return writeJSON(w, v)
	}
	table(w)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func displayOverview(w io.Writer, resp inspector.OverviewResponse) {
	if resp.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", resp.Error)
		return
	}
	smTable := tablewriter.NewWriter(w)
	smTable.SetHeader([]string{"Name", "Type", "Created", "Executions", "Last Status", "Error"})
	for _, wf := range resp.Workflows {
		last := ""
		if len(wf.Executions) > 0 {
			last = wf.Executions[0].Status
		}
		smTable.Append([]string{
			wf.Name,
			wf.Type,
			formatTime(wf.CreatedAt),
			strconv.Itoa(len(wf.Executions)),
			last,
			wf.Error,
		})
	}
	fmt.Fprintf(w, "Workflows in %s:\n", resp.Region)
	smTable.Render()
	fmt.Fprintln(w)
}

func displayExecutions(w io.Writer, name string, executions []inspector.ExecutionSummary) {
	execTable := tablewriter.NewWriter(w)
	execTable.SetHeader([]string{"Execution ARN", "Status", "Start Time", "End Time", "Duration"})
	for _, exec := range executions {
		execTable.Append([]string{
			exec.ARN,
			exec.Status,
			formatTime(exec.StartTime),
			formatTime(exec.StopTime),
			formatDuration(exec.DurationMs),
		})
	}
	fmt.Fprintf(w, "Executions for %s:\n", name)
	execTable.Render()
	fmt.Fprintln(w)
}

func displayGraph(w io.Writer, g graph.Graph) {
	if g.Error != "" {
		fmt.Fprintf(w, "Graph error: %s\n", g.Error)
		return
	}
	nodeTable := tablewriter.NewWriter(w)
	nodeTable.SetHeader([]string{"State", "Type", "Resource", "Kind", "Launch Type"})
	for _, n := range g.Nodes {
		nodeTable.Append([]string{n.ID, string(n.Type), truncate(n.Resource), n.ResourceKind, n.LaunchType})
	}
	fmt.Fprintf(w, "States (start at %s):\n", g.StartAt)
	nodeTable.Render()
	fmt.Fprintln(w)

	edgeTable := tablewriter.NewWriter(w)
	edgeTable.SetHeader([]string{"From", "To", "Kind"})
	for _, e := range g.Edges {
		edgeTable.Append([]string{e.From, e.To, string(e.Kind)})
	}
	fmt.Fprintln(w, "Transitions:")
	edgeTable.Render()
	fmt.Fprintln(w)
}

func displayExecution(w io.Writer, d inspector.ExecutionDetail) {
	fmt.Fprintf(w, "Execution %s\n", d.ExecutionARN)
	fmt.Fprintf(w, "Status: %s  Started: %s  Stopped: %s  Duration: %s\n",
		d.Status, formatTime(d.StartTime), formatTime(d.StopTime), formatDuration(d.DurationMs))
	if d.Error != "" || d.Cause != "" {
		fmt.Fprintf(w, "Error: %s\nCause: %s\n", d.Error, truncate(d.Cause))
	}
	fmt.Fprintln(w)

	if d.StateStatusesError != "" {
		fmt.Fprintf(w, "States: %s\n\n", d.StateStatusesError)
	} else {
		displayStatuses(w, d.StateStatuses)
	}
	if d.Graph != nil && d.Graph.Error != "" {
		fmt.Fprintf(w, "Graph error: %s\n\n", d.Graph.Error)
	}
	if d.LogsError != "" {
		fmt.Fprintf(w, "Execution logs: %s\n\n", d.LogsError)
	} else if len(d.Logs) > 0 {
		displayLines(w, "Execution logs", d.LogsURL, d.Logs)
	}
	for _, b := range d.TaskLogs {
		displayBundle(w, b)
	}
}

func displayStatuses(w io.Writer, statuses []timeline.StateStatus) {
	stateTable := tablewriter.NewWriter(w)
	stateTable.SetHeader([]string{"State", "Status", "Start Time", "End Time"})
	for _, s := range statuses {
		stateTable.Append([]string{s.StateName, string(s.Status), formatTime(s.StartTime), formatTime(s.EndTime)})
	}
	fmt.Fprintln(w, "States:")
	stateTable.Render()
	fmt.Fprintln(w)
}

func displayBundle(w io.Writer, b tasklogs.Bundle) {
	title := fmt.Sprintf("Logs for %s (%s, %s)", b.StateName, b.ResourceKind, b.Status)
	if b.Error != "" {
		fmt.Fprintf(w, "%s: %s\n\n", title, b.Error)
		return
	}
	displayLines(w, title, b.LogQueryLink, b.Entries)
}

func displayLines(w io.Writer, title, link string, lines []tasklogs.Line) {
	logTable := tablewriter.NewWriter(w)
	logTable.SetHeader([]string{"Timestamp", "Message"})
	for _, l := range lines {
		logTable.Append([]string{l.Timestamp.UTC().Format(time.RFC3339), truncate(strings.TrimSpace(l.Message))})
	}
	fmt.Fprintf(w, "%s:\n", title)
	if link != "" {
		fmt.Fprintln(w, link)
	}
	logTable.Render()
	fmt.Fprintln(w)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "N/A"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatDuration(ms *int64) string {
	if ms == nil {
		return "N/A"
	}
	return (time.Duration(*ms) * time.Millisecond).String()
}

func truncate(s string) string {
	if len(s) > maxCell {
		return s[:maxCell-3] + "..."
	}
	return s
}

// save writes v as indented JSON under outputDir. It is a no-op when no
// output directory was requested.
func (a *app) save(name string, v any) error {
	if a.outputDir == "" {
		return nil
	}
	if err := os.MkdirAll(a.outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	path := filepath.Join(a.outputDir, sanitizeFileName(name)+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	a.logger.Info("saved result", zap.String("path", path))
	return nil
}

func sanitizeFileName(name string) string {
	invalid := []string{"/", "\\", ":", "*", "?", "\"", "<", ">", "|", " "}
	result := name
	for _, char := range invalid {
		result = strings.ReplaceAll(result, char, "_")
	}
	return result
}
