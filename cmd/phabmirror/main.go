package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomwilder/phabmirror/internal/conduit"
	"github.com/tomwilder/phabmirror/internal/config"
	"github.com/tomwilder/phabmirror/internal/graphview"
	"github.com/tomwilder/phabmirror/internal/pagestore"
	"github.com/tomwilder/phabmirror/internal/render"
	"github.com/tomwilder/phabmirror/internal/resolver"
	"github.com/tomwilder/phabmirror/internal/syncer"
	"github.com/tomwilder/phabmirror/internal/ui"
)

var (
	flagURL     string
	flagToken   string
	flagDelay   int
	flagVerbose bool

	flagStoreBackend string
	flagStorePath    string
)

func main() {
	if err := config.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	rootCmd := &cobra.Command{
		Use:   "phabmirror",
		Short: "Mirror Phabricator tasks into wiki pages and task graphs",
		Long: `Phabmirror crawls a Phabricator install through its Conduit API: it
expands seed projects and tasks into the full subtask graph, then either
rewrites the mirrored template blocks in a wiki page collection or
serves the graph as JSON for visualisation.`,
	}

	rootCmd.PersistentFlags().StringVar(&flagURL, "url", config.GetString("phab.url"), "Phabricator install URL")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", config.GetString("phab.token"), "Conduit API token")
	rootCmd.PersistentFlags().IntVarP(&flagDelay, "delay", "d", config.GetInt("delay"), "Delay in seconds before each Conduit API call")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Report progress while running")
	rootCmd.PersistentFlags().StringVar(&flagStoreBackend, "store", config.GetString("store.backend"), "Page store backend (dir, sqlite)")
	rootCmd.PersistentFlags().StringVar(&flagStorePath, "store-path", config.GetString("store.path"), "Page store location")

	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(graphCmd())
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newPager builds the shared rate-limited Conduit pager.
func newPager() (*conduit.Pager, error) {
	if flagURL == "" {
		return nil, fmt.Errorf("no Phabricator URL configured (--url or phab.url)")
	}
	if flagToken == "" {
		return nil, fmt.Errorf("no Conduit API token configured (--token or phab.token)")
	}
	client := conduit.NewClient(flagURL, flagToken)
	return conduit.NewPager(client, time.Duration(flagDelay)*time.Second), nil
}

// openStore builds the configured page store.
func openStore() (pagestore.Store, func() error, error) {
	switch flagStoreBackend {
	case "dir":
		s, err := pagestore.NewDir(flagStorePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { return nil }, nil
	case "sqlite":
		s, err := pagestore.OpenSQLite(flagStorePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q (use dir or sqlite)", flagStoreBackend)
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintf(os.Stderr, "\n%s\n", ui.Yellow("Received interrupt, cancelling..."))
		cancel()
	}()

	return ctx, cancel
}

// parseTaskIDs accepts comma-separated task ids, with or without the T
// prefix. Unparseable entries select nothing and are dropped with a
// warning.
func parseTaskIDs(s string) []int {
	seen := make(map[int]bool)
	var ids []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		part = strings.TrimPrefix(part, "T")
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil || id <= 0 {
			ui.Warnf(os.Stderr, "ignoring invalid task id %q", part)
			continue
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func syncCmd() *cobra.Command {
	var (
		flagTasks    string
		flagMinimal  bool
		flagDryRun   bool
		flagCreate   bool
		flagSaveInfo string
		flagPreload  string
		flagTaskTpl  string
		flagProjTpl  string
		flagUserTpl  string
		flagTransTpl string
	)

	cmd := &cobra.Command{
		Use:   "sync [projects...]",
		Short: "Mirror tasks from seed projects into the page collection",
		Long: `Crawls every task in the named projects plus all transitive subtasks,
then rewrites the mirrored template block in each task's page. Text
above the block is preserved; text at and below it is replaced.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			pager, err := newPager()
			if err != nil {
				return err
			}
			store, closeStore, err := openStore()
			if err != nil {
				return err
			}
			defer closeStore()

			taskIDs := parseTaskIDs(flagTasks)
			if len(args) == 0 && len(taskIDs) == 0 {
				return fmt.Errorf("nothing to sync: name at least one project or --tasks id")
			}

			ctx, cancel := signalContext()
			defer cancel()

			opts := syncer.Options{
				Projects: args,
				TaskIDs:  taskIDs,
				Templates: render.Templates{
					Task:       flagTaskTpl,
					Project:    flagProjTpl,
					User:       flagUserTpl,
					Transition: flagTransTpl,
				},
				Minimal:  flagMinimal,
				Create:   flagCreate,
				DryRun:   flagDryRun,
				Verbose:  flagVerbose,
				SaveInfo: flagSaveInfo,
				Preload:  flagPreload,
				PhabURL:  flagURL,
				Actor:    config.GetString("actor"),
				StateDir: ".phabmirror",
			}

			engine := syncer.New(pager, resolver.New(pager), store, opts)
			report, err := engine.Run(ctx)
			if err != nil {
				return err
			}

			fmt.Println(report.Summary())
			return nil
		},
	}

	cmd.Flags().StringVarP(&flagTasks, "tasks", "t", "", "Comma-separated task ids to sync in addition to project members")
	cmd.Flags().BoolVarP(&flagMinimal, "minimal", "m", false, "Sync only seed-reachable tasks, skip the rest of the collection")
	cmd.Flags().BoolVarP(&flagDryRun, "dry-run", "n", false, "Fetch and render but write nothing")
	cmd.Flags().BoolVarP(&flagCreate, "create", "c", false, "Create pages for tasks that have none")
	cmd.Flags().StringVarP(&flagSaveInfo, "save-info", "s", "", "Page that receives the run report")
	cmd.Flags().StringVarP(&flagPreload, "preload", "p", "", "Preload page for new-task creation links")
	cmd.Flags().StringVar(&flagTaskTpl, "task-template", config.GetString("templates.task"), "Task template name")
	cmd.Flags().StringVar(&flagProjTpl, "project-template", config.GetString("templates.project"), "Project template name")
	cmd.Flags().StringVar(&flagUserTpl, "user-template", config.GetString("templates.user"), "User template name")
	cmd.Flags().StringVar(&flagTransTpl, "transition-template", config.GetString("templates.transition"), "Transition template name")

	return cmd
}

func graphCmd() *cobra.Command {
	var (
		flagTasks    string
		flagProjects string
		flagStatus   string
		flagWidth    int
		flagHeight   int
		flagOutput   string
		flagPush     string
	)

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Build the task graph payload as JSON",
		Long: `Crawls the selected tasks and projects, filtered by status, and emits
the graph payload: nodes, parent links, and the project and people
legends. Writes to stdout, a file, or a running graph server.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			pager, err := newPager()
			if err != nil {
				return err
			}

			taskIDs := parseTaskIDs(flagTasks)
			projects := splitList(flagProjects)
			if len(taskIDs) == 0 && len(projects) == 0 {
				return fmt.Errorf("nothing to graph: use --tasks and/or --projects")
			}

			ctx, cancel := signalContext()
			defer cancel()

			payload, err := graphview.Build(ctx, pager, graphview.Config{
				Tasks:    taskIDs,
				Projects: projects,
				Statuses: splitList(flagStatus),
				Width:    flagWidth,
				Height:   flagHeight,
				PhabURL:  flagURL,
			})
			if err != nil {
				return err
			}

			if flagPush != "" {
				addr := flagPush
				if !strings.HasPrefix(addr, "http") {
					addr = "http://" + addr
				}
				if err := graphview.Post(addr, payload); err != nil {
					return err
				}
				fmt.Printf("Pushed %s nodes to %s\n", ui.Bold(strconv.Itoa(len(payload.Nodes))), addr)
				return nil
			}

			data, err := json.MarshalIndent(payload, "", "  ")
			if err != nil {
				return err
			}
			if flagOutput != "" {
				return os.WriteFile(flagOutput, data, 0644)
			}
			fmt.Println(string(data))
			return nil
		},
	}

	cmd.Flags().StringVarP(&flagTasks, "tasks", "t", "", "Comma-separated task ids to include")
	cmd.Flags().StringVarP(&flagProjects, "projects", "j", "", "Comma-separated project names to include")
	cmd.Flags().StringVar(&flagStatus, "status", config.GetString("graph.statuses"), "Comma-separated statuses to include")
	cmd.Flags().IntVar(&flagWidth, "width", config.GetInt("graph.width"), "Rendered graph width")
	cmd.Flags().IntVar(&flagHeight, "height", config.GetInt("graph.height"), "Rendered graph height")
	cmd.Flags().StringVarP(&flagOutput, "output", "o", "", "Write payload to file instead of stdout")
	cmd.Flags().StringVar(&flagPush, "push", "", "POST payload to a running graph server address")

	return cmd
}

func serveCmd() *cobra.Command {
	var flagPort int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the task graph payload over HTTP",
		Long: `Starts a server exposing GET and POST /graph. Use 'phabmirror graph
--push' to load or refresh the payload it serves.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if graphview.IsPortOpen(fmt.Sprintf("localhost:%d", flagPort)) {
				return fmt.Errorf("port %d is already in use", flagPort)
			}

			addr, err := graphview.Start(flagPort)
			if err != nil {
				return err
			}
			fmt.Printf("%s graph server on %s\n", ui.BoldGreen("Serving"), ui.Bold(addr))
			fmt.Printf("Load a payload with: phabmirror graph --projects <name> --push %s\n", addr)

			ctx, cancel := signalContext()
			defer cancel()
			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().IntVar(&flagPort, "port", config.GetInt("graph.port"), "Port to listen on")

	return cmd
}
