package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"mindmuse/internal/domain"
	"mindmuse/internal/infra/config"
	"mindmuse/internal/infra/logger"
	"mindmuse/internal/infra/tracer"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	cmd := "chat"
	if len(os.Args) >= 2 && !strings.HasPrefix(os.Args[1], "-") {
		cmd = os.Args[1]
	}

	var err error
	switch cmd {
	case "serve":
		err = runServe()
	case "chat":
		err = runChat()
	case "ask":
		err = runAsk(positionalArgs(os.Args[2:]))
	case "doctor":
		err = runDoctor()
	case "encrypt":
		err = runEncrypt(positionalArgs(os.Args[2:]))
	case "version":
		fmt.Println("mindmuse " + version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'mindmuse --help' for usage information.\n", cmd)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`mindmuse - supportive mental-wellness chat

USAGE:
    mindmuse [COMMAND] [FLAGS]

COMMANDS:
    serve       Run the chat proxy (/api/chat, /api/health, /ws)
    chat        Open the terminal chat (default)
    ask TEXT    Send one message and print the reply (reads stdin without TEXT)
    doctor      Run health checks on your setup
    encrypt     Encrypt a secret for config.yaml (passphrase in MINDMUSE_CONFIG_KEY)
    version     Print the version

FLAGS:
    -h, --help         Show this help message
    --config PATH      Config file path (default: ./config.yaml)

CONFIGURATION:
    Config file: ./config.yaml (optional; defaults apply without it)
    Environment: MINDMUSE_* variables override config.
                 OPENROUTER_API_KEY, DEFAULT_MODEL, SITE_URL, SITE_NAME and PORT
                 configure the proxy.

EXAMPLES:
    OPENROUTER_API_KEY=... mindmuse serve
    mindmuse chat
    mindmuse ask "I can't sleep before exams"
    MINDMUSE_CONFIG_KEY=... mindmuse encrypt sk-or-...`)
}

func configPath() string {
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	if p := os.Getenv("MINDMUSE_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// positionalArgs drops --config and its value.
func positionalArgs(args []string) []string {
	var out []string
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--config":
			i++
		case strings.HasPrefix(args[i], "--config="):
		default:
			out = append(out, args[i])
		}
	}
	return out
}

// runtimeEnv is the config, logger and tracer shared by every command.
type runtimeEnv struct {
	cfg     *config.Config
	log     *slog.Logger
	cleanup func()
}

func setupRuntime(ctx context.Context) (*runtimeEnv, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, domain.NewDomainError("config.Load", domain.ErrConfigLoad, err.Error())
	}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		logCloser()
		return nil, fmt.Errorf("tracer: %w", err)
	}

	return &runtimeEnv{
		cfg: cfg,
		log: log,
		cleanup: func() {
			if err := tracerShutdown(context.Background()); err != nil {
				log.Warn("tracer shutdown failed", "error", err)
			}
			logCloser()
		},
	}, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runEncrypt(args []string) error {
	passphrase := os.Getenv("MINDMUSE_CONFIG_KEY")
	if passphrase == "" {
		return fmt.Errorf("set MINDMUSE_CONFIG_KEY to the passphrase used to load the config")
	}

	var plaintext string
	if len(args) > 0 {
		plaintext = args[0]
	} else {
		fmt.Fprint(os.Stderr, "Value to encrypt: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("read value: %w", err)
		}
		plaintext = strings.TrimSpace(line)
	}
	if plaintext == "" {
		return fmt.Errorf("nothing to encrypt")
	}

	enc, err := config.EncryptValue(plaintext, passphrase)
	if err != nil {
		return err
	}
	fmt.Println("enc:" + enc)
	return nil
}
