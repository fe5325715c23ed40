package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/tricalas/stock-analyzer/internal/analysis"
	"github.com/tricalas/stock-analyzer/internal/app"
	"github.com/tricalas/stock-analyzer/internal/collection"
	"github.com/tricalas/stock-analyzer/internal/data"
)

// configureLogging sets the package-wide logrus level from LOG_LEVEL,
// defaulting to info when unset or unparseable.
func configureLogging() {
	level, err := logrus.ParseLevel(envOrDefault("LOG_LEVEL", "info"))
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

func envOrDefault(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// TableWriter is a minimal fixed-width table renderer for command output,
// avoiding a dependency just to print a few aligned columns.
type TableWriter struct {
	headers []string
	rows    [][]string
	writer  *os.File
}

func NewTableWriter(writer *os.File) *TableWriter {
	return &TableWriter{writer: writer}
}

func (t *TableWriter) SetHeader(headers []string) {
	t.headers = headers
}

func (t *TableWriter) Append(row []string) {
	t.rows = append(t.rows, row)
}

func (t *TableWriter) Render() {
	colWidths := make([]int, len(t.headers))
	for i, h := range t.headers {
		colWidths[i] = len(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(colWidths) && len(cell) > colWidths[i] {
				colWidths[i] = len(cell)
			}
		}
	}

	fmt.Fprint(t.writer, "| ")
	for i, h := range t.headers {
		fmt.Fprintf(t.writer, "%-*s | ", colWidths[i], h)
	}
	fmt.Fprintln(t.writer)

	fmt.Fprint(t.writer, "| ")
	for i := range t.headers {
		for j := 0; j < colWidths[i]; j++ {
			fmt.Fprint(t.writer, "-")
		}
		fmt.Fprint(t.writer, " | ")
	}
	fmt.Fprintln(t.writer)

	for _, row := range t.rows {
		fmt.Fprint(t.writer, "| ")
		for i, cell := range row {
			if i < len(colWidths) {
				fmt.Fprintf(t.writer, "%-*s | ", colWidths[i], cell)
			}
		}
		fmt.Fprintln(t.writer)
	}
}

// Command is one collector subcommand.
type Command struct {
	usage       string
	description string
	execute     func(a *app.App, args []string)
}

func commands() map[string]Command {
	return map[string]Command{
		"collect": {
			usage:       "collect [--universe=all_active|tagged_only|top_N_by_market_cap] [--days=100] [--workers=5] [--limit=N]",
			description: "Launch a history-collection job over the selected universe",
			execute:     cmdCollect,
		},
		"analyze": {
			usage:       "analyze [--workers=5] [--force]",
			description: "Launch a trendline/breakout signal-analysis job",
			execute:     cmdAnalyze,
		},
		"ma-analyze": {
			usage:       "ma-analyze [--workers=5] [--force]",
			description: "Launch a moving-average signal-analysis job",
			execute:     cmdMAAnalyze,
		},
		"status": {
			usage:       "status <task_id>",
			description: "Print a task's current status",
			execute:     cmdStatus,
		},
		"list": {
			usage:       "list",
			description: "List currently running tasks",
			execute:     cmdList,
		},
		"cancel": {
			usage:       "cancel <task_id>",
			description: "Request cancellation of a running task",
			execute:     cmdCancel,
		},
		"restart": {
			usage:       "restart <task_id>",
			description: "Re-launch a task with default parameters for its type",
			execute:     cmdRestart,
		},
		"retry-failed": {
			usage:       "retry-failed <task_id> [--days=100]",
			description: "Re-launch collection for the stocks that failed under a prior task",
			execute:     cmdRetryFailed,
		},
		"help": {
			usage:       "help",
			description: "Show this help message",
			execute:     func(_ *app.App, _ []string) { printUsage() },
		},
	}
}

func printUsage() {
	fmt.Println("Usage: collector <command> [arguments]")
	fmt.Println("\nAvailable commands:")

	cmds := commands()
	var names []string
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cmd := cmds[name]
		fmt.Printf("  %-70s %s\n", cmd.usage, cmd.description)
	}
}

func flagValue(args []string, name, fallback string) string {
	prefix := "--" + name + "="
	for _, arg := range args {
		if len(arg) > len(prefix) && arg[:len(prefix)] == prefix {
			return arg[len(prefix):]
		}
	}
	return fallback
}

func flagPresent(args []string, name string) bool {
	for _, arg := range args {
		if arg == "--"+name {
			return true
		}
	}
	return false
}

func cmdCollect(a *app.App, args []string) {
	days, _ := strconv.Atoi(flagValue(args, "days", envOrDefault("HISTORY_COLLECTION_DAYS", "100")))
	workers, _ := strconv.Atoi(flagValue(args, "workers", envOrDefault("HISTORY_COLLECTION_WORKERS", "5")))
	limit, _ := strconv.Atoi(flagValue(args, "limit", envOrDefault("HISTORY_COLLECTION_LIMIT", "0")))
	universe := flagValue(args, "universe", envOrDefault("HISTORY_COLLECTION_MODE", string(collection.UniverseAllActive)))
	switch universe { // HISTORY_COLLECTION_MODE short forms
	case "all":
		universe = string(collection.UniverseAllActive)
	case "tagged":
		universe = string(collection.UniverseTaggedOnly)
	case "top":
		universe = string(collection.UniverseTopByMarket)
	}

	params := collection.Params{
		Universe:   collection.Universe(universe),
		Days:       days,
		MaxWorkers: workers,
		Limit:      limit,
	}

	taskID, err := a.CollectHistory(context.Background(), params)
	if err != nil {
		fmt.Printf("Error launching collection: %v\n", err)
		return
	}
	fmt.Printf("Launched collection task: %s\n", taskID)
}

func cmdAnalyze(a *app.App, args []string) {
	workers, _ := strconv.Atoi(flagValue(args, "workers", "5"))
	params := analysis.Params{MaxWorkers: workers, ForceFull: flagPresent(args, "force")}

	taskID, err := a.AnalyzeSignals(context.Background(), params)
	if err != nil {
		fmt.Printf("Error launching analysis: %v\n", err)
		return
	}
	fmt.Printf("Launched analysis task: %s\n", taskID)
}

func cmdMAAnalyze(a *app.App, args []string) {
	workers, _ := strconv.Atoi(flagValue(args, "workers", "5"))
	params := analysis.Params{MaxWorkers: workers, ForceFull: flagPresent(args, "force")}

	taskID, err := a.AnalyzeMASignals(context.Background(), params)
	if err != nil {
		fmt.Printf("Error launching MA analysis: %v\n", err)
		return
	}
	fmt.Printf("Launched MA analysis task: %s\n", taskID)
}

func cmdStatus(a *app.App, args []string) {
	if len(args) < 1 {
		fmt.Println("Error: task_id is required")
		return
	}
	task, err := a.Runner.Get(context.Background(), args[0])
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	table := NewTableWriter(os.Stdout)
	table.SetHeader([]string{"Field", "Value"})
	table.Append([]string{"task_id", task.ID})
	table.Append([]string{"type", string(task.Type)})
	table.Append([]string{"status", string(task.Status)})
	table.Append([]string{"total_items", strconv.Itoa(task.TotalItems)})
	table.Append([]string{"current_item", strconv.Itoa(task.CurrentItem)})
	table.Append([]string{"success_count", strconv.Itoa(task.SuccessCount)})
	table.Append([]string{"failed_count", strconv.Itoa(task.FailedCount)})
	table.Append([]string{"message", task.Message})
	table.Render()
}

func cmdList(a *app.App, _ []string) {
	tasks, err := a.Runner.ListRunning(context.Background())
	if err != nil {
		fmt.Printf("Error listing tasks: %v\n", err)
		return
	}

	table := NewTableWriter(os.Stdout)
	table.SetHeader([]string{"Task ID", "Type", "Progress", "Success", "Failed"})
	for _, t := range tasks {
		table.Append([]string{
			t.ID, string(t.Type),
			fmt.Sprintf("%d/%d", t.CurrentItem, t.TotalItems),
			strconv.Itoa(t.SuccessCount), strconv.Itoa(t.FailedCount),
		})
	}
	table.Render()
}

func cmdCancel(a *app.App, args []string) {
	if len(args) < 1 {
		fmt.Println("Error: task_id is required")
		return
	}
	if err := a.Runner.Cancel(context.Background(), args[0]); err != nil {
		fmt.Printf("Error cancelling task: %v\n", err)
		return
	}
	fmt.Printf("Cancellation requested for task: %s\n", args[0])
}

func cmdRestart(a *app.App, args []string) {
	if len(args) < 1 {
		fmt.Println("Error: task_id is required")
		return
	}
	newID, err := a.Restart(context.Background(), args[0])
	if err != nil {
		fmt.Printf("Error restarting task: %v\n", err)
		return
	}
	fmt.Printf("Restarted as new task: %s\n", newID)
}

func cmdRetryFailed(a *app.App, args []string) {
	if len(args) < 1 {
		fmt.Println("Error: task_id is required")
		return
	}
	days, _ := strconv.Atoi(flagValue(args, "days", "100"))
	newID, err := a.RetryFailed(context.Background(), args[0], days)
	if err != nil {
		fmt.Printf("Error retrying failed stocks: %v\n", err)
		return
	}
	fmt.Printf("Launched retry as new task: %s\n", newID)
}

func main() {
	configureLogging()

	if len(os.Args) < 2 {
		printUsage()
		return
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	command, ok := commands()[cmd]
	if !ok {
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		return
	}
	if cmd == "help" {
		command.execute(nil, args)
		return
	}

	conn, cleanup := data.InitConn(true)
	defer cleanup()

	a, err := app.New(context.Background(), conn)
	if err != nil {
		fmt.Printf("Error initializing app: %v\n", err)
		os.Exit(1)
	}

	command.execute(a, args)
}
