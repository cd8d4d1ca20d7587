// ABOUTME: Entry point for the workflow-gateway server
// ABOUTME: serve runs the gateway, health probes it, token signs user tokens

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/workflow-gateway/internal/auth"
	"github.com/2389/workflow-gateway/internal/config"
	"github.com/2389/workflow-gateway/internal/gateway"
)

// Version is set at build time via -ldflags.
var version = "dev"

const banner = `
                    _     __ _                                _
__      _____  _ __| | __/ _| | _____      __   __ _  __ _| |_ _____      ____ _ _   _
\ \ /\ / / _ \| '__| |/ / |_| |/ _ \ \ /\ / /  / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
 \ V  V / (_) | |  |   <|  _| | (_) \ V  V /  | (_| | (_| | ||  __/\ V  V / (_| | |_| |
  \_/\_/ \___/|_|  |_|\_\_| |_|\___/ \_/\_/    \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                                               |___/                             |___/
`

// defaultTokenTTL is the lifetime of tokens issued by the token command.
const defaultTokenTTL = 30 * 24 * time.Hour

func usage() {
	fmt.Println("Usage: workflow-gateway <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                          Start the gateway server")
	fmt.Println("  health                         Check gateway health")
	fmt.Println("  token --user ID [--ttl 720h]   Print a signed API token for a user")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "health":
		err = runHealth(ctx)
	case "token":
		err = runToken(os.Args[2:], os.Stdout)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := config.DefaultPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	if cfg.Server.GRPCAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:      %s ", cfg.Server.GRPCAddr)
		gray.Println("(health)")
	}
	green.Print("    ▶ ")
	fmt.Printf("Providers: ")
	for i, p := range cfg.Providers {
		if i > 0 {
			fmt.Print(", ")
		}
		cyan.Print(p.ID)
		gray.Printf(" (%s)", p.Kind)
	}
	fmt.Println()
	if cfg.Auth.JWTSecret == "" {
		yellow.Println("    ! auth disabled: every request runs as the local user")
	}
	fmt.Println()

	logger.Info("starting workflow-gateway",
		"config", configPath,
		"grpc_addr", cfg.Server.GRPCAddr,
		"http_addr", cfg.Server.HTTPAddr,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Println(string(body))
	return nil
}

// tokenArgs are the flags of the token command.
type tokenArgs struct {
	user string
	ttl  time.Duration
}

// parseTokenArgs supports both "--flag value" and "--flag=value".
func parseTokenArgs(args []string) (tokenArgs, error) {
	out := tokenArgs{ttl: defaultTokenTTL}
	value := func(i *int, arg, name string) (string, error) {
		if v, ok := strings.CutPrefix(arg, name+"="); ok {
			return v, nil
		}
		if *i+1 >= len(args) {
			return "", fmt.Errorf("%s requires a value", name)
		}
		*i++
		return args[*i], nil
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--user" || strings.HasPrefix(arg, "--user="):
			v, err := value(&i, arg, "--user")
			if err != nil {
				return out, err
			}
			out.user = strings.TrimSpace(v)
		case arg == "--ttl" || strings.HasPrefix(arg, "--ttl="):
			v, err := value(&i, arg, "--ttl")
			if err != nil {
				return out, err
			}
			ttl, err := time.ParseDuration(v)
			if err != nil {
				return out, fmt.Errorf("invalid --ttl: %w", err)
			}
			if ttl <= 0 {
				return out, errors.New("--ttl must be positive")
			}
			out.ttl = ttl
		case strings.HasPrefix(arg, "-"):
			return out, fmt.Errorf("unknown flag: %s", arg)
		default:
			return out, fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	if out.user == "" {
		return out, errors.New("--user flag is required")
	}
	return out, nil
}

func runToken(args []string, w io.Writer) error {
	opts, err := parseTokenArgs(args)
	if err != nil {
		return err
	}

	configPath := config.DefaultPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret not configured in %s", configPath)
	}

	token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate(opts.user, opts.ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	_, err = fmt.Fprintln(w, token)
	return err
}
