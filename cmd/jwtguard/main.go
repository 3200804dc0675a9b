package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/osvaldoandrade/jwtguard/pkg/config"
	"github.com/osvaldoandrade/jwtguard/pkg/validator"
)

type ui struct {
	title func(a ...any) string
	ok    func(a ...any) string
	info  func(a ...any) string
	warn  func(a ...any) string
	err   func(a ...any) string
	dim   func(a ...any) string
}

func newUI() *ui {
	return &ui{
		title: color.New(color.FgHiCyan, color.Bold).SprintFunc(),
		ok:    color.New(color.FgGreen, color.Bold).SprintFunc(),
		info:  color.New(color.FgCyan).SprintFunc(),
		warn:  color.New(color.FgYellow).SprintFunc(),
		err:   color.New(color.FgRed, color.Bold).SprintFunc(),
		dim:   color.New(color.FgHiBlack).SprintFunc(),
	}
}

type globals struct {
	configPath string
	serverURL  string
	token      string
	verbose    bool
	noColor    bool
}

func main() {
	g := &globals{
		configPath: getenv("JWTGUARD_CONFIG_PATH", ""),
		serverURL:  getenv("JWTGUARD_SERVER_URL", ""),
		token:      getenv("JWTGUARD_TOKEN", ""),
	}
	ui := newUI()
	root := newRootCmd(g, ui)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.err("[ERROR]"), err.Error())
		os.Exit(1)
	}
}

func newRootCmd(g *globals, ui *ui) *cobra.Command {
	root := &cobra.Command{
		Use:   "jwtguard",
		Short: "jwtguard CLI",
		Long:  "jwtguard CLI for validating tokens and inspecting issuer keys.",
	}
	root.SetHelpTemplate(helpTemplate(ui))
	root.SilenceUsage = true

	root.PersistentFlags().StringVar(&g.configPath, "config", g.configPath, "Path to the jwtguard YAML config")
	root.PersistentFlags().StringVar(&g.serverURL, "server", g.serverURL, "jwtguard server base URL (remote mode)")
	root.PersistentFlags().StringVar(&g.token, "token", g.token, "Bearer token for admin endpoints")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Log loader activity to stderr")
	root.PersistentFlags().BoolVar(&g.noColor, "no-color", false, "Disable colored output")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if g.noColor {
			color.NoColor = true
		}
		if !g.verbose {
			log.SetOutput(io.Discard)
		}
		return nil
	}

	root.AddCommand(validateCmd(g, ui))
	root.AddCommand(decodeCmd(g, ui))
	root.AddCommand(keysCmd(g, ui))
	root.AddCommand(benchCmd(g, ui))
	root.AddCommand(eventsCmd(g, ui))
	return root
}

func (g *globals) logger() *slog.Logger {
	level := slog.LevelError
	if g.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func (g *globals) loadConfig() (*config.Config, error) {
	if strings.TrimSpace(g.configPath) == "" {
		return nil, errors.New("config is required (use --config or JWTGUARD_CONFIG_PATH)")
	}
	cfg, err := config.LoadConfig(g.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newValidator builds a local validator without the Redis store; the CLI
// is short lived and should not write shared state.
func (g *globals) newValidator() (*validator.TokenValidator, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	logger := g.logger()
	configs, err := cfg.BuildIssuerConfigs(logger, nil)
	if err != nil {
		return nil, err
	}
	v, err := validator.New(configs,
		validator.WithParserConfig(cfg.ParserConfig()),
		validator.WithMonitorConfig(cfg.MonitorConfig()),
		validator.WithLogger(logger),
	)
	if err != nil {
		for _, ic := range configs {
			_ = ic.Loader().Close()
		}
		return nil, err
	}
	return v, nil
}

type client struct {
	baseURL    string
	httpClient *http.Client
}

func newClient(baseURL string) *client {
	return &client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *client) request(method, path string, token string, body any) (int, []byte, error) {
	var buf *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		buf = bytes.NewReader(b)
	} else {
		buf = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, c.baseURL+path, buf)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out, nil
}

// readToken takes the token from args, from stdin for "-" or piped input,
// or from a no-echo prompt on a terminal.
func readToken(args []string, stdin io.Reader, interactive bool) (string, error) {
	if len(args) > 0 && args[0] != "-" {
		return strings.TrimSpace(args[0]), nil
	}
	if len(args) == 0 && interactive {
		return promptSecret("Token")
	}
	line, err := bufio.NewReader(io.LimitReader(stdin, 1<<20)).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	tok := strings.TrimSpace(line)
	if tok == "" {
		return "", errors.New("no token given")
	}
	return tok, nil
}

func promptSecret(label string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func helpTemplate(ui *ui) string {
	title := ui.title("jwtguard")
	return fmt.Sprintf(`%s: CLI for jwtguard

Usage:
  {{.UseLine}}

Commands:
{{range .Commands}}{{if (or .IsAvailableCommand .IsAdditionalHelpTopicCommand)}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}

Flags:
  {{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}

Global Flags:
  {{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}

Examples:
  jwtguard validate --config jwtguard.yaml --type id eyJhbGciOi...
  cat token.txt | jwtguard validate --config jwtguard.yaml -
  jwtguard validate --server http://localhost:8080 --type access
  jwtguard keys --config jwtguard.yaml
  jwtguard bench --config jwtguard.yaml --count 5000 -
  jwtguard events --server http://localhost:8080 --token $ADMIN_TOKEN

`, title)
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func maskToken(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "<unset>"
	}
	if len(v) <= 16 {
		return "****"
	}
	return v[:8] + "..." + v[len(v)-4:]
}
