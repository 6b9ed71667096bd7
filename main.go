package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	tea "charm.land/bubbletea/v2"
	"github.com/folioboard/dashboard-cli/apiclient"
	"github.com/folioboard/dashboard-cli/logger"
	"github.com/folioboard/dashboard-cli/tui"
)

// flagValues holds the raw command-line values; empty means "not given".
type flagValues struct {
	serverURL    string
	apiPrefix    string
	timeout      string
	sessionFile  string
	redisURL     string
	csrfPage     string
	csrfToken    string
	user         string
	password     string
	loginRetries string
	logLevel     string
	logFile      string
}

// config is the resolved configuration.
type config struct {
	serverURL    string
	apiPrefix    string
	timeout      time.Duration
	sessionFile  string
	redisURL     string
	csrfPage     string
	csrfToken    string
	user         string
	password     string
	loginRetries int
	logLevel     slog.Level
	logFile      string
}

var (
	flags             flagValues
	configInitialized bool
)

const usage = `Usage: dashboard [flags] <command>

Commands:
  load     load every dashboard widget (default)
  login    sign in with DASHBOARD_USER / DASHBOARD_PASSWORD
  logout   sign out and clear the local session
  status   show the local session and the signed-in user

Flags:
`

func init() {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	// Define flags (but don't parse yet to avoid conflicts with test flags)
	flag.StringVar(&flags.serverURL, "server-url", "",
		"Dashboard server URL (default: http://localhost:8000 or SERVER_URL env)")
	flag.StringVar(&flags.apiPrefix, "api-prefix", "",
		"Versioned API prefix (default: /api/v1 or API_PREFIX env)")
	flag.StringVar(&flags.timeout, "timeout", "",
		"Per-request timeout (default: 15s or REQUEST_TIMEOUT env)")
	flag.StringVar(&flags.sessionFile, "session-file", "",
		"Session storage file (default: .dashboard-session.json or SESSION_FILE env)")
	flag.StringVar(&flags.redisURL, "redis-url", "",
		"Share the session through Redis instead of a file (or REDIS_URL env)")
	flag.StringVar(&flags.csrfPage, "csrf-page", "",
		"Page whose csrf-token meta tag supplies the anti-forgery token (or CSRF_PAGE env)")
	flag.StringVar(&flags.csrfToken, "csrf-token", "",
		"Fixed anti-forgery token; takes precedence over -csrf-page (or CSRF_TOKEN env)")
	flag.StringVar(&flags.user, "user", "", "Sign-in user name (or DASHBOARD_USER env)")
	flag.StringVar(&flags.password, "password", "", "Sign-in password (or DASHBOARD_PASSWORD env)")
	flag.StringVar(&flags.loginRetries, "login-retries", "",
		"Transport retries for the sign-in call (default: 2 or LOGIN_RETRIES env)")
	flag.StringVar(&flags.logLevel, "log-level", "",
		"debug, info, warn or error (default: info or LOG_LEVEL env)")
	flag.StringVar(&flags.logFile, "log-file", "",
		"Write logs to this file; required to see logs in the terminal UI (or LOG_FILE env)")

	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
}

// initConfig parses flags and initializes configuration
// Separated from init() to avoid conflicts with test flag parsing
func initConfig() *config {
	if !configInitialized {
		configInitialized = true
		flag.Parse()
	}

	cfg, err := buildConfig(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Warn if using HTTP instead of HTTPS
	if strings.HasPrefix(strings.ToLower(cfg.serverURL), "http://") {
		fmt.Fprintln(
			os.Stderr,
			"⚠️  WARNING: Using HTTP instead of HTTPS. Session cookies will be transmitted in plaintext!",
		)
		fmt.Fprintln(
			os.Stderr,
			"⚠️  This is only safe for local development. Use HTTPS in production.",
		)
		fmt.Fprintln(os.Stderr)
	}
	return cfg
}

// buildConfig resolves every setting with priority flag > env > default.
func buildConfig(f flagValues) (*config, error) {
	cfg := &config{
		serverURL:   getConfig(f.serverURL, "SERVER_URL", "http://localhost:8000"),
		apiPrefix:   getConfig(f.apiPrefix, "API_PREFIX", apiclient.DefaultAPIPrefix),
		sessionFile: getConfig(f.sessionFile, "SESSION_FILE", ".dashboard-session.json"),
		redisURL:    getConfig(f.redisURL, "REDIS_URL", ""),
		csrfPage:    getConfig(f.csrfPage, "CSRF_PAGE", ""),
		csrfToken:   getConfig(f.csrfToken, "CSRF_TOKEN", ""),
		user:        getConfig(f.user, "DASHBOARD_USER", ""),
		password:    getConfig(f.password, "DASHBOARD_PASSWORD", ""),
		logFile:     getConfig(f.logFile, "LOG_FILE", ""),
	}

	if err := validateServerURL(cfg.serverURL); err != nil {
		return nil, fmt.Errorf("invalid SERVER_URL: %w", err)
	}

	timeout, err := time.ParseDuration(getConfig(f.timeout, "REQUEST_TIMEOUT", "15s"))
	if err != nil || timeout <= 0 {
		return nil, errors.New("invalid REQUEST_TIMEOUT: must be a positive duration such as 15s")
	}
	cfg.timeout = timeout

	retries, err := strconv.Atoi(getConfig(f.loginRetries, "LOGIN_RETRIES", "2"))
	if err != nil || retries < 0 {
		return nil, errors.New("invalid LOGIN_RETRIES: must be a non-negative integer")
	}
	cfg.loginRetries = retries

	level, err := logger.ParseLevel(getConfig(f.logLevel, "LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	cfg.logLevel = level

	return cfg, nil
}

// getConfig returns value with priority: flag > env > default
func getConfig(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return getEnv(envKey, defaultValue)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// validateServerURL validates that the server URL is properly formatted
func validateServerURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("server URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("URL must include a host")
	}

	return nil
}

// isTTY reports whether stderr is a character device (interactive terminal).
// We check stderr because the TUI renders to stderr, allowing stdout to be piped.
func isTTY() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

// newLogger sends logs to the log file when set. Otherwise logs go to stderr,
// or nowhere while the TUI owns the terminal.
func newLogger(cfg *config, tty bool) (*slog.Logger, func(), error) {
	if cfg.logFile != "" {
		f, err := os.OpenFile(cfg.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		return logger.New(f, cfg.logLevel), func() { _ = f.Close() }, nil
	}
	if tty {
		return logger.Discard(), func() {}, nil
	}
	return logger.New(os.Stderr, cfg.logLevel), func() {}, nil
}

func main() {
	cfg := initConfig()
	command := flag.Arg(0)
	if command == "" {
		command = cmdLoad
	}

	tty := isTTY()
	log, closeLog, err := newLogger(cfg, tty)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var runErr error
	if tty {
		// Run TUI program on stderr so stdout pipes are not corrupted
		m := tui.NewModel()
		// WithInput(nil): disable stdin/keyboard input so BubbleTea skips terminal
		// capability queries (?2026/?2027). Ctrl+C is handled by signal.NotifyContext.
		p := tea.NewProgram(m, tea.WithOutput(os.Stderr), tea.WithInput(nil))

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
			}
		}()

		d := tui.NewProgramDisplayer(p)
		d.Banner(cfg.serverURL)
		runErr = run(cfg, command, d, log)
		p.Quit() // let BubbleTea drain terminal query responses before exiting
		wg.Wait()
	} else {
		d := tui.NewPlainDisplayer(os.Stderr)
		d.Banner(cfg.serverURL)
		runErr = run(cfg, command, d, log)
	}

	closeLog()
	os.Exit(exitCode(runErr))
}

// exitCode maps a command result to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errSignInRequired):
		return 2
	default:
		return 1
	}
}

func run(cfg *config, command string, d tui.Displayer, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, d, log)
	if err != nil {
		d.Fatal(err)
		return err
	}
	defer a.close()

	err = a.dispatch(ctx, command)
	var shown shownError
	if err != nil && !errors.Is(err, errSignInRequired) && !errors.As(err, &shown) {
		d.Fatal(err)
	}
	return err
}
