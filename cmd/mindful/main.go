// Mindful - supportive companion gateway with long-term memory
// License: MIT
//
// Copyright (c) 2026 Mindful contributors

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dotsetgreg/mindful/pkg/bus"
	"github.com/dotsetgreg/mindful/pkg/channels"
	"github.com/dotsetgreg/mindful/pkg/chat"
	"github.com/dotsetgreg/mindful/pkg/config"
	"github.com/dotsetgreg/mindful/pkg/gateway"
	"github.com/dotsetgreg/mindful/pkg/identity"
	"github.com/dotsetgreg/mindful/pkg/memory"
	"github.com/dotsetgreg/mindful/pkg/providers"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

const appName = "mindful"

// formatVersion returns the version string with optional git commit
func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

// formatBuildInfo returns build time and go version info
func formatBuildInfo() (build string, goVer string) {
	if buildTime != "" {
		build = buildTime
	}
	goVer = goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return
}

func printVersion() {
	fmt.Printf("%s %s\n", appName, formatVersion())
	build, goVer := formatBuildInfo()
	if build != "" {
		fmt.Printf("  Build: %s\n", build)
	}
	if goVer != "" {
		fmt.Printf("  Go: %s\n", goVer)
	}
}

func main() {
	if err := executeCLI(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func getConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".mindful", "config.json")
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(getConfigPath())
}

func setupLogging(cfg config.LogConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if strings.EqualFold(cfg.Format, "console") {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func validateRuntimeConfig(cfg *config.Config) error {
	configPath := getConfigPath()
	if err := providers.ValidateProviderConfig(cfg); err != nil {
		return fmt.Errorf("%w (configure credentials in %s or via environment)", err, configPath)
	}
	return nil
}

// memoryCompleteFunc adapts the active provider into the constrained
// completion the consolidation worker runs.
func memoryCompleteFunc(provider providers.LLMProvider, mc config.MemoryConfig) memory.CompleteFunc {
	return func(ctx context.Context, system, input string) (string, error) {
		resp, err := provider.Chat(ctx, []providers.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: input},
		}, mc.Model, map[string]interface{}{
			"max_tokens":  mc.MaxTokens,
			"temperature": mc.Temperature,
		})
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	}
}

func buildMemoryService(cfg *config.Config, provider providers.LLMProvider) (*memory.Service, error) {
	return memory.NewService(memory.Config{
		Workspace:           cfg.WorkspacePath(),
		WorkerPoll:          time.Duration(cfg.Memory.WorkerPollMS) * time.Millisecond,
		WorkerLease:         time.Duration(cfg.Memory.WorkerLeaseSeconds) * time.Second,
		ConsolidateTimeout:  time.Duration(cfg.Memory.TimeoutSeconds) * time.Second,
		JobRetention:        time.Duration(cfg.Memory.JobRetentionDays) * 24 * time.Hour,
		MaintenanceEnabled:  cfg.Maintenance.Enabled,
		MaintenanceSchedule: cfg.Maintenance.Schedule,
	}, memoryCompleteFunc(provider, cfg.Memory))
}

func runOnboard() error {
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config already exists at %s\n", configPath)
		fmt.Print("Overwrite? (y/n): ")
		reader := bufio.NewReader(os.Stdin)
		response, readErr := reader.ReadString('\n')
		if readErr != nil {
			fmt.Println("Aborted.")
			return nil
		}
		response = strings.ToLower(strings.TrimSpace(response))
		if response != "y" && response != "yes" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	cfg := config.DefaultConfig()
	if err := config.SaveConfig(configPath, cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	workspace := cfg.WorkspacePath()
	if err := os.MkdirAll(filepath.Join(workspace, "state"), 0755); err != nil {
		return fmt.Errorf("creating workspace: %w", err)
	}

	fmt.Printf("%s is ready!\n", appName)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Add your API key to", configPath)
	fmt.Println("     Get one at: https://openrouter.ai/keys")
	fmt.Println("  2. (Optional) Add a Discord bot token to channels.discord.token")
	fmt.Println("  3. Chat locally: mindful chat")
	fmt.Println("  4. Run the gateway: mindful serve")
	fmt.Println("  5. Check readiness: mindful status")
	return nil
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	setupLogging(cfg.Log)
	if err := validateRuntimeConfig(cfg); err != nil {
		return err
	}

	provider, err := providers.CreateProvider(cfg)
	if err != nil {
		return fmt.Errorf("creating provider: %w", err)
	}

	mem, err := buildMemoryService(cfg, provider)
	if err != nil {
		return fmt.Errorf("initializing memory subsystem: %w", err)
	}
	defer mem.Close()

	turns, err := chat.NewService(cfg.Companion, provider, mem)
	if err != nil {
		return fmt.Errorf("initializing chat service: %w", err)
	}

	resolver := identity.NewResolver(cfg.Identity)
	server := gateway.NewServer(cfg.ListenAddr(), turns, resolver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("✓ Provider: %s (%s)\n", providers.ActiveProviderName(cfg), cfg.Companion.Model)
	fmt.Printf("✓ Workspace: %s\n", cfg.WorkspacePath())

	msgBus := bus.NewMessageBus()
	channelManager, err := channels.NewManager(cfg.Channels, msgBus)
	if err != nil {
		return fmt.Errorf("creating channel manager: %w", err)
	}
	enabled := channelManager.EnabledChannels()
	if len(enabled) > 0 {
		if err := channelManager.StartAll(ctx); err != nil {
			return fmt.Errorf("starting channels: %w", err)
		}
		defer channelManager.StopAll(context.Background())

		router := channels.NewRouter(msgBus, turns)
		go router.Run(ctx)
		fmt.Printf("✓ Channels enabled: %s\n", strings.Join(enabled, ", "))
	}

	fmt.Printf("✓ Gateway listening on %s\n", cfg.ListenAddr())
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(ctx); err != nil {
		return err
	}

	fmt.Println("✓ Gateway stopped")
	return nil
}

func runChat(identityID, message string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	setupLogging(cfg.Log)
	if err := validateRuntimeConfig(cfg); err != nil {
		return err
	}

	provider, err := providers.CreateProvider(cfg)
	if err != nil {
		return fmt.Errorf("creating provider: %w", err)
	}

	mem, err := buildMemoryService(cfg, provider)
	if err != nil {
		return fmt.Errorf("initializing memory subsystem: %w", err)
	}
	defer mem.Close()

	turns, err := chat.NewService(cfg.Companion, provider, mem)
	if err != nil {
		return fmt.Errorf("initializing chat service: %w", err)
	}

	if strings.TrimSpace(message) != "" {
		reply, err := turns.HandleTurn(context.Background(), identityID, message)
		if err != nil {
			return err
		}
		fmt.Printf("\n%s %s\n", appName, reply)
		// Let the exchange land in memory before the process exits.
		drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		mem.Drain(drainCtx)
		return nil
	}

	fmt.Printf("%s Interactive mode (Ctrl+C to exit)\n\n", appName)
	interactiveMode(turns, identityID)
	return nil
}

func interactiveMode(turns *chat.Service, identityID string) {
	prompt := fmt.Sprintf("%s You: ", appName)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     filepath.Join(os.TempDir(), ".mindful_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})

	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		fmt.Println("Falling back to simple input mode...")
		simpleInteractiveMode(turns, identityID)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			return
		}

		reply, err := turns.HandleTurn(context.Background(), identityID, input)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}

		fmt.Printf("\n%s %s\n\n", appName, reply)
	}
}

func simpleInteractiveMode(turns *chat.Service, identityID string) {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Printf("%s You: ", appName)
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			return
		}

		reply, err := turns.HandleTurn(context.Background(), identityID, input)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}

		fmt.Printf("\n%s %s\n\n", appName, reply)
	}
}

func runStatus() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	configPath := getConfigPath()

	fmt.Printf("%s Status\n", appName)
	fmt.Printf("Version: %s\n", formatVersion())
	build, _ := formatBuildInfo()
	if build != "" {
		fmt.Printf("Build: %s\n", build)
	}
	fmt.Println()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Println("Config:", configPath, "✓")
	} else {
		fmt.Println("Config:", configPath, "✗")
	}

	workspace := cfg.WorkspacePath()
	if _, err := os.Stat(workspace); err == nil {
		fmt.Println("Workspace:", workspace, "✓")
	} else {
		fmt.Println("Workspace:", workspace, "✗")
	}
	conversationsDB := filepath.Join(workspace, "state", "conversations.db")
	if _, err := os.Stat(conversationsDB); err == nil {
		fmt.Println("Conversations DB:", conversationsDB, "✓")
	} else {
		fmt.Println("Conversations DB:", conversationsDB, "not initialized")
	}

	fmt.Printf("Model: %s\n", cfg.Companion.Model)
	fmt.Printf("Memory model: %s\n", cfg.Memory.Model)

	status := func(enabled bool) string {
		if enabled {
			return "✓"
		}
		return "not set"
	}
	providerName, credsReady, credMode, err := providers.ProviderCredentialStatus(cfg)
	if err != nil {
		fmt.Println("Provider:", err)
	} else {
		fmt.Printf("Provider: %s (%s) %s\n", providerName, credMode, status(credsReady))
	}
	discordReady := strings.TrimSpace(cfg.Channels.Discord.Token) != ""

	fmt.Println("Discord token:", status(discordReady))
	fmt.Println("Gateway ready:", status(err == nil && credsReady))
	return nil
}
