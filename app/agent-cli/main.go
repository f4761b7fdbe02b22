// Command agent-cli runs one question through the agent with in-process
// stores and prints the answer and, optionally, the full trace.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/dawos/agent/config"
	"github.com/dawos/agent/internal/agent"
	"github.com/dawos/agent/internal/cache"
	"github.com/dawos/agent/internal/knowledge"
	"github.com/dawos/agent/internal/logger"
	"github.com/dawos/agent/internal/monitor"
	"github.com/dawos/agent/internal/repositories/memory"
	pgrepo "github.com/dawos/agent/internal/repositories/postgres"
	"github.com/dawos/agent/internal/services"
	"github.com/dawos/agent/internal/storage"
	"github.com/dawos/agent/internal/tools"
)

type options struct {
	query     string
	userID    string
	maxTurns  int
	provider  string
	model     string
	showTrace bool
	asJSON    bool
	archive   bool
	knowledge bool
	listTools bool
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := pflag.NewFlagSet("agent-cli", pflag.ContinueOnError)
	fs.StringVarP(&o.query, "query", "q", "", "question to ask (defaults to remaining args)")
	fs.StringVarP(&o.userID, "user", "u", "cli-user", "user id passed to monitoring tools")
	fs.IntVarP(&o.maxTurns, "max-turns", "n", 0, "turn budget (0 uses the configured default)")
	fs.StringVar(&o.provider, "provider", "", "override AGENT_PROVIDER (openai|vertex)")
	fs.StringVar(&o.model, "model", "", "override AGENT_MODEL")
	fs.BoolVarP(&o.showTrace, "trace", "t", false, "print the conversation trace")
	fs.BoolVar(&o.asJSON, "json", false, "print the whole result as JSON")
	fs.BoolVar(&o.archive, "archive", false, "print the archived run JSON")
	fs.BoolVar(&o.knowledge, "knowledge", false, "enable knowledge tools (needs POSTGRES_URI and an embedding key)")
	fs.BoolVar(&o.listTools, "tools", false, "list tools and exit")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.query == "" {
		o.query = strings.TrimSpace(strings.Join(fs.Args(), " "))
	}
	if o.query == "" && !o.listTools {
		return o, fmt.Errorf("a question is required (use --query or pass it as arguments)")
	}
	if o.maxTurns < 0 || o.maxTurns > services.MaxChatTurns {
		return o, fmt.Errorf("--max-turns must be between 0 and %d", services.MaxChatTurns)
	}
	return o, nil
}

func main() {
	_ = godotenv.Load()

	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log := logger.New()
	log.SetOutput(os.Stderr)

	if err := run(opts, log, os.Stdout); err != nil {
		log.WithError(err).Error("agent-cli failed")
		os.Exit(1)
	}
}

func run(opts options, log *logrus.Logger, out io.Writer) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := config.LoadAgentConfig()
	if err != nil {
		return err
	}
	if opts.provider != "" {
		cfg.Provider = opts.provider
	}
	if opts.model != "" {
		cfg.Model = opts.model
	}

	mem := cache.NewMemoryCache()
	table := monitor.NewTable()
	sessionRepo := memory.NewSessions()
	buffers := services.NewBufferService(table, memory.NewFrameLog(), sessionRepo, log)
	sessions := services.NewSessionService(table, sessionRepo, memory.NewHistory(), mem, log)

	deps := tools.Deps{Buffer: buffers, Sessions: sessions, SearchTopK: cfg.KnowledgeTopK}
	if opts.knowledge {
		retriever, err := knowledgeRetriever(*cfg, mem, log)
		if err != nil {
			return err
		}
		deps.Knowledge = retriever
	}
	registry, err := tools.NewDefaultRegistry(deps)
	if err != nil {
		return err
	}
	docs := registry.Docs()

	if opts.listTools {
		for _, d := range docs {
			fmt.Fprintf(out, "%-36s %s\n", d.Name, d.Description)
		}
		return nil
	}

	provider, err := config.NewLLMProvider(ctx, *cfg)
	if err != nil {
		return err
	}
	defer provider.Close()

	ctrl := agent.NewController(provider, registry, agent.SystemPrompt(docs), cfg.Controller(), log)

	store := storage.NewMemoryStore()
	archive := services.NewArchiveService(store, store, cfg.ArchivePrefix)
	agentSvc := services.NewAgentService(ctrl, docs, nil, buffers, nil, log)

	reply, err := agentSvc.Chat(ctx, opts.userID, opts.query, opts.maxTurns)
	if err != nil {
		return err
	}

	if opts.archive {
		runID := fmt.Sprintf("cli-%d", time.Now().Unix())
		path, err := archive.Archive(ctx, opts.userID, runID, reply.Result)
		if err != nil {
			return err
		}
		name := strings.TrimPrefix(path, "mem://")
		if b, _, ok := store.Object(name); ok {
			fmt.Fprintf(out, "archived %s\n%s\n", path, b)
		}
	}

	return printResult(out, reply.Result, opts)
}

func knowledgeRetriever(cfg config.AgentConfig, c cache.Cache, log *logrus.Logger) (knowledge.Retriever, error) {
	embedder, err := config.NewEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	if embedder == nil {
		return nil, fmt.Errorf("--knowledge needs EMBEDDING_API_KEY or OPENAI_API_KEY")
	}
	if err := config.InitPostgres(); err != nil {
		return nil, err
	}
	return knowledge.NewRetriever(pgrepo.NewKnowledgeRepo(config.PostgresDB), embedder, c, 0, log), nil
}

func printResult(out io.Writer, res *agent.Result, opts options) error {
	if opts.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	if opts.showTrace {
		for i, e := range res.Trace {
			fmt.Fprintf(out, "[%02d] %-12s %s\n", i+1, e.Kind, oneLine(e.Content, 160))
		}
		fmt.Fprintln(out)
	}

	status := "ok"
	if !res.Success {
		status = "incomplete"
	}
	fmt.Fprintf(out, "%s\n\n(%s, %d/%d turns, %d errors)\n",
		res.FinalAnswer, status, res.Metrics.TurnsUsed, res.Metrics.MaxTurns, res.ErrorCount)
	return nil
}

func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) > max {
		return string(r[:max]) + "..."
	}
	return s
}
