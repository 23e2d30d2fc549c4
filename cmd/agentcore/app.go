package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"golang.org/x/term"

	"agentcore/pkg/config"
	"agentcore/pkg/logx"
	"agentcore/pkg/persistence"
)

// EnvPassword unlocks the secrets file without a terminal prompt.
const EnvPassword = "AGENTCORE_PASSWORD"

// app is the loaded project: its config and opened stores.
type app struct {
	dir    string
	cfg    config.Config
	stores *persistence.Stores
	logger *logx.Logger
}

// loadApp resolves the project directory, loads its config, unlocks secrets
// and opens the configured stores.
func loadApp(ctx context.Context, g *globalFlags) (*app, error) {
	dir, err := projectDir(g.projectDir)
	if err != nil {
		return nil, err
	}
	if err := config.LoadConfig(dir); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg, err := config.GetConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Debug.Enabled {
		logx.SetDebugConfig(true)
		logx.SetDebugDomains(cfg.Debug.Domains)
	}

	if err := unlockSecrets(dir); err != nil {
		return nil, err
	}

	stores, err := persistence.Open(cfg.Storage, filepath.Join(dir, config.ProjectConfigDir))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	a := &app{dir: dir, cfg: cfg, stores: stores, logger: logx.NewLogger("cli")}
	if stores.Runs != nil {
		n, err := stores.Runs.MarkInterrupted(ctx)
		if err != nil {
			a.logger.Warn("⚠️  Failed to mark interrupted runs: %v", err)
		} else if n > 0 {
			a.logger.Info("🔄 Marked %d stale runs as interrupted", n)
		}
	}
	return a, nil
}

func (a *app) Close() {
	if err := a.stores.Close(); err != nil {
		a.logger.Warn("⚠️  Failed to close storage: %v", err)
	}
}

func projectDir(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve project path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("stat project path: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", abs)
	}
	return abs, nil
}

// unlockSecrets loads the encrypted secrets file when one exists. The
// password comes from the environment or, on a terminal, from a prompt.
func unlockSecrets(dir string) error {
	if !config.SecretsFileExists(dir) {
		return nil
	}
	password := os.Getenv(EnvPassword)
	if password == "" {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return fmt.Errorf("secrets file is locked: set %s", EnvPassword)
		}
		p, err := readPassword("Project password: ")
		if err != nil {
			return err
		}
		password = p
	}
	if _, err := config.UnlockSecrets(dir, password); err != nil {
		return fmt.Errorf("unlock secrets: %w", err)
	}
	return nil
}

func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	s := string(b)
	for i := range b {
		b[i] = 0
	}
	return s, nil
}
