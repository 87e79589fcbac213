// Command msfbridge exposes the Metasploit console as structured tools.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chzyer/readline"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/term"

	"github.com/vantor/msfbridge"
	"github.com/vantor/msfbridge/internal/config"
	"github.com/vantor/msfbridge/internal/engine"
	bridgemcp "github.com/vantor/msfbridge/internal/mcp"
	"github.com/vantor/msfbridge/internal/report"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("msfbridge: ")

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "mcp":
		err = mcpMain(args)
	case "run":
		err = runMain(args)
	case "shell":
		err = shellMain(args)
	case "version":
		fmt.Println(msfbridge.Version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "msfbridge: unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}

	if err != nil {
		log.Fatal(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: msfbridge <command> [flags]

Commands:
  mcp         Start the MCP server (stdio by default)
  run         Run one console command and print the structured result
  shell       Interactive console with structured output
  version     Print the version
  help        Show this help

Use "msfbridge <command> -h" for command-specific flags.`)
}

// --- mcp ---

func mcpMain(args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	instructions := fs.Bool("instructions", false, "print model instructions and exit")
	httpAddr := fs.String("http", "", "start HTTP server on address (e.g. :9090)")
	configPath := fs.String("config", "", "path to a config file")
	_ = fs.Parse(args)

	if *instructions {
		fmt.Print(bridgemcp.Instructions)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	eng, cleanup, err := buildEngine(*configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	server := bridgemcp.NewServer(eng)

	if *httpAddr != "" {
		return serveHTTP(ctx, server, *httpAddr)
	}
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}

func serveHTTP(ctx context.Context, server *mcpsdk.Server, addr string) error {
	handler := mcpsdk.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcpsdk.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()

	log.Printf("listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// --- run ---

func runMain(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	jsonFlag := fs.Bool("json", false, "output the result as JSON")
	workspaceFlag := fs.String("workspace", "", "workspace to run in")
	timeoutFlag := fs.Duration("timeout", 0, "override the adaptive timeout (e.g. 90s)")
	configPath := fs.String("config", "", "path to a config file")
	_ = fs.Parse(args)

	command := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if command == "" {
		return fmt.Errorf("usage: msfbridge run [flags] <command>")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	eng, cleanup, err := buildEngine(*configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	res := eng.Execute(ctx, engine.Request{
		Command:         command,
		Workspace:       *workspaceFlag,
		TimeoutOverride: *timeoutFlag,
	})

	if *jsonFlag {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		fmt.Print(formatResultCLI(res))
	}

	if !res.Success {
		cleanup()
		os.Exit(1)
	}
	return nil
}

// --- shell ---

func shellMain(args []string) error {
	fs := flag.NewFlagSet("shell", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a config file")
	_ = fs.Parse(args)

	eng, cleanup, err := buildEngine(*configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt(eng),
		HistoryFile:     filepath.Join(os.TempDir(), ".msfbridge_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("starting shell: %w", err)
	}
	defer rl.Close()

	fmt.Printf("msfbridge %s. Commands run through the structured bridge; :workspace sets the default workspace, :quit leaves.\n", msfbridge.Version)

	for {
		rl.SetPrompt(prompt(eng))
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF || err != nil {
			return nil
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}
		// Lines starting with a colon are shell directives and never
		// reach the console.
		if strings.HasPrefix(line, ":") {
			if directive(eng, line) {
				return nil
			}
			continue
		}

		// Interruptible per command: ^C cancels the run, not the shell.
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		res := eng.Execute(ctx, engine.Request{Command: line})
		stop()

		fmt.Print(formatResultCLI(res))
	}
}

// directive handles a :-prefixed shell line and reports whether the
// shell should exit.
func directive(eng *engine.Engine, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case ":quit":
		return true
	case ":workspace":
		if len(fields) < 2 {
			fmt.Printf("workspace: %s\n", eng.State.Workspace())
			return false
		}
		// Sets the default for subsequent commands without running
		// anything; use the plain workspace command to switch on the
		// console side.
		eng.State.SetWorkspace(fields[1])
		return false
	default:
		fmt.Printf("unknown directive %s (try :workspace or :quit)\n", fields[0])
		return false
	}
}

func prompt(eng *engine.Engine) string {
	return fmt.Sprintf("msf (%s) > ", eng.State.Workspace())
}

// --- shared ---

func buildEngine(configPath string) (*engine.Engine, func(), error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	promptRPCPassword(cfg)

	eng := engine.New(cfg)
	eng.Log = log.Default()
	eng.Store = report.NewLRUStore(cfg.CacheEntries(), 0, report.NewDiskStore(""))

	closeAudit := wireAudit(cfg, eng)
	cleanup := func() {
		closeAudit()
		_ = eng.Close()
	}
	return eng, cleanup, nil
}

// promptRPCPassword fills in the RPC password when the endpoint is
// configured without one and stdin is a terminal. In stdio MCP mode
// stdin carries the protocol, so no prompt is possible there.
func promptRPCPassword(cfg *config.Config) {
	if !cfg.RPC.Configured() || cfg.RPC.Password != "" {
		return
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return
	}
	fmt.Fprintf(os.Stderr, "RPC password for %s@%s:%d: ", cfg.RPC.User(), cfg.RPC.Address(), cfg.RPC.PortOrDefault())
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err == nil {
		cfg.RPC.Password = string(pw)
	}
}

// wireAudit points the gate's rejection hook at the configured audit
// log and returns a closer.
func wireAudit(cfg *config.Config, eng *engine.Engine) func() {
	path := cfg.Security.AuditLog
	if path == "" {
		return func() {}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		log.Printf("audit log unavailable: %v", err)
		return func() {}
	}
	logger := log.New(f, "", log.LstdFlags)
	eng.Gate.Audit = func(command, reason string) {
		logger.Printf("rejected %q: %s", command, reason)
	}
	return func() { _ = f.Close() }
}

func formatResultCLI(res *engine.Result) string {
	var b []byte
	w := func(format string, args ...any) {
		b = fmt.Appendf(b, format, args...)
	}

	if !res.Success {
		w("FAIL (%s): %s\n", res.ErrorKind, res.ErrorMessage)
		if res.AttemptsMade > 1 {
			w("  gave up after %d attempts\n", res.AttemptsMade)
		}
		w("  run %s\n", res.RunID)
		return string(b)
	}

	for _, warn := range res.Warnings {
		w("warning: %s\n", warn)
	}

	switch {
	case len(res.Records) > 0:
		if name := res.SummaryFields["table"]; name != "" {
			w("%s (%d):\n", name, len(res.Records))
		} else {
			w("%d records:\n", len(res.Records))
		}
		for _, r := range res.Records {
			w("\n")
			for _, k := range sortedKeys(r) {
				w("  %-18s %s\n", k, r[k])
			}
		}
	case len(res.SummaryFields) > 0:
		for _, k := range sortedKeys(res.SummaryFields) {
			w("%-12s %s\n", k, res.SummaryFields[k])
		}
	case res.Raw != "":
		w("%s", res.Raw)
		if !strings.HasSuffix(res.Raw, "\n") {
			w("\n")
		}
	default:
		w("ok\n")
	}

	if res.Truncated {
		w("(output truncated)\n")
	}
	if res.Cached {
		w("(cached)\n")
	}
	return string(b)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
