package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"agentcore/pkg/agent"
	"agentcore/pkg/metrics"
	"agentcore/pkg/orchestrator"
	"agentcore/pkg/policy"
	"agentcore/pkg/prompts"
	"agentcore/pkg/toolexec"
	"agentcore/pkg/tools"
)

type runFlags struct {
	mode         string
	conversation string
	context      string
	metricsAddr  string
	qa           bool
	json         bool
	interactive  bool
}

func runCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run [message]",
		Short: "Send a message and run it to completion",
		Long: `Run sends one user message through the orchestration graph and prints the
answer. With --interactive every line read from stdin is a new turn of the
same conversation.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			message := strings.TrimSpace(strings.Join(args, " "))
			if message == "" && !f.interactive {
				return errors.New("a message is required unless --interactive is set")
			}
			return runTurns(cmd, g, f, message)
		},
	}
	cmd.Flags().StringVarP(&f.mode, "mode", "m", string(policy.ModeAgent), "Mode: chat or agent")
	cmd.Flags().StringVarP(&f.conversation, "conversation", "c", "", "Conversation id (new when empty)")
	cmd.Flags().StringVar(&f.context, "context", "", "Extra context appended to the system prompt")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")
	cmd.Flags().BoolVar(&f.qa, "qa", true, "Request the QA review when enabled in config")
	cmd.Flags().BoolVar(&f.json, "json", false, "Print run records as JSON lines")
	cmd.Flags().BoolVarP(&f.interactive, "interactive", "i", false, "Read further messages from stdin")
	return cmd
}

func runTurns(cmd *cobra.Command, g *globalFlags, f *runFlags, first string) error {
	mode, err := policy.ParseMode(f.mode)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := loadApp(ctx, g)
	if err != nil {
		return err
	}
	defer a.Close()

	r, err := newRunner(ctx, a, cmd.OutOrStdout(), cmd.ErrOrStderr(), f)
	if err != nil {
		return err
	}
	defer r.close()

	conversation := f.conversation
	if conversation == "" {
		conversation = uuid.NewString()
		fmt.Fprintf(cmd.ErrOrStderr(), "💬 Conversation %s\n", conversation)
	}

	send := func(text string) error {
		return r.engine.Send(ctx, orchestrator.Request{
			UserText:       text,
			ExtraContext:   f.context,
			Mode:           mode,
			ProjectRoot:    a.dir,
			ConversationID: conversation,
			RunID:          uuid.NewString(),
			Tools:          r.tools,
			QAEnabled:      f.qa,
		})
	}

	if first != "" {
		if err := send(first); err != nil {
			return err
		}
	}
	if !f.interactive {
		return nil
	}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(cmd.ErrOrStderr(), "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/exit" || line == "/quit" {
			return nil
		}
		if err := send(line); err != nil {
			if ctx.Err() != nil {
				return err
			}
			// a failed turn leaves the conversation usable
			fmt.Fprintf(cmd.ErrOrStderr(), "❌ %v\n", err)
		}
	}
}

// runner owns everything a Send needs for the lifetime of the command.
type runner struct {
	engine  *orchestrator.Engine
	tools   *tools.Set
	closers []func()
}

func (r *runner) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func newRunner(ctx context.Context, a *app, stdout, stderr io.Writer, f *runFlags) (*runner, error) {
	r := &runner{}

	var reg *prometheus.Registry
	var om *metrics.Orchestration
	if a.cfg.Metrics.Enabled || f.metricsAddr != "" {
		a.cfg.Metrics.Enabled = true
		reg = prometheus.NewRegistry()
		om = metrics.NewOrchestration(reg)
	}
	if f.metricsAddr != "" {
		srv := serveMetrics(f.metricsAddr, reg, a)
		r.closers = append(r.closers, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		})
	}

	var registerer prometheus.Registerer
	if reg != nil {
		registerer = reg
	}
	client, err := agent.NewLLMClientFactory(a.cfg, registerer).CreateClient()
	if err != nil {
		return nil, fmt.Errorf("create model client: %w", err)
	}

	ws, err := tools.NewWorkspace(a.dir)
	if err != nil {
		return nil, err
	}
	set, err := tools.NewSet(ws.All()...)
	if err != nil {
		return nil, err
	}
	r.tools = set

	catalog, err := loadCatalog(ctx, a)
	if err != nil {
		return nil, err
	}

	sinks := orchestrator.MultiSink{}
	if f.json {
		sinks = append(sinks, orchestrator.NewWriterSink(stdout))
	} else {
		sinks = append(sinks, newConsoleSink(stdout, stderr))
	}
	if url := a.cfg.Events.NATSURL; url != "" {
		ns, err := orchestrator.NewNATSSink(url, a.cfg.Events.SubjectPrefix)
		if err != nil {
			a.logger.Warn("⚠️  NATS events disabled: %v", err)
		} else {
			sinks = append(sinks, ns)
			r.closers = append(r.closers, func() { _ = ns.Close() })
		}
	}

	deps := orchestrator.Deps{
		Client:    client,
		Scheduler: toolexec.New(toolexec.FromSchedulerConfig(a.cfg.Scheduler), om),
		Catalog:   catalog,
		Plans:     a.stores.Plans,
		Outcomes:  a.stores.Outcomes,
		History:   a.stores.History,
		Metrics:   om,
		Sink:      sinks,
	}
	if a.stores.Runs != nil {
		deps.Runs = a.stores.Runs
	}

	engine, err := orchestrator.New(deps, orchestrator.OptionsFromConfig(a.cfg))
	if err != nil {
		return nil, err
	}
	r.engine = engine
	return r, nil
}

// loadCatalog applies the configured prompt override and, when asked, keeps
// it in sync with the file on disk.
func loadCatalog(ctx context.Context, a *app) (*prompts.Catalog, error) {
	catalog, err := prompts.NewCatalog()
	if err != nil {
		return nil, err
	}
	path := a.cfg.Prompts.CatalogPath
	if path == "" {
		return catalog, nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(a.dir, path)
	}
	if err := catalog.LoadOverride(path); err != nil {
		return nil, fmt.Errorf("load prompt override: %w", err)
	}
	if a.cfg.Prompts.Watch {
		err := catalog.Watch(ctx, path, func(err error) {
			if err != nil {
				a.logger.Warn("⚠️  Prompt reload failed: %v", err)
				return
			}
			a.logger.Info("🔁 Prompts reloaded from %s", path)
		})
		if err != nil {
			return nil, err
		}
	}
	return catalog, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, a *app) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("❌ Metrics server failed: %v", err)
		}
	}()
	a.logger.Info("📊 Serving metrics on %s/metrics", addr)
	return srv
}
