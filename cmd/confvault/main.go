package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"

	apiclient "github.com/splax/confvault/pkg/api/client"
)

const defaultAPIBaseURL = "http://localhost:4000"

type cliConfig struct {
	APIBaseURL  string `json:"api_base_url"`
	AccessToken string `json:"access_token"`
	Username    string `json:"username,omitempty"`
}

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "login":
		err = commandLogin(args, false)
	case "signup":
		err = commandLogin(args, true)
	case "logout":
		err = commandLogout()
	case "env":
		err = commandEnv(args)
	case "var":
		err = commandVar(args)
	case "audit":
		err = commandAudit(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "%s unknown command: %s\n", color.RedString("✗"), cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("✗"), describeError(err))
		os.Exit(1)
	}
}

// describeError turns API errors into one line hints.
func describeError(err error) string {
	var apiErr apiclient.APIError
	if !errors.As(err, &apiErr) {
		return err.Error()
	}
	msg := apiErr.Message
	if msg == "" {
		msg = apiErr.Error()
	}
	switch apiErr.Status {
	case 401:
		return msg + "\n" + color.CyanString("→") + " Run " + color.YellowString("confvault login") + " to refresh your token"
	case 403:
		return msg + "\n" + color.CyanString("→") + " The stored ciphertext could not be opened with the server key"
	default:
		return msg
	}
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return withDefaults(cliConfig{}), nil
		}
		return cliConfig{}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, err
	}
	return withDefaults(cfg), nil
}

func withDefaults(cfg cliConfig) cliConfig {
	if env := strings.TrimSpace(os.Getenv("CONFVAULT_API")); env != "" {
		cfg.APIBaseURL = env
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	return cfg
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func configPath() (string, error) {
	if override := strings.TrimSpace(os.Getenv("CONFVAULT_CONFIG")); override != "" {
		return override, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "confvault", "config.json"), nil
}

func printUsage() {
	fmt.Printf("confvault CLI %s\n\n", buildVersion)
	fmt.Print(`Usage:
	confvault login --username <name> [--password secret] [--api http://localhost:4000]
	confvault signup --username <name> [--password secret] [--api http://localhost:4000]
	confvault logout
	confvault env list
	confvault env create <name> [--description text]
	confvault env delete <name>
	confvault var list <env>
	confvault var get <env> <key> [--decrypt]
	confvault var set <env> <key> [value] [--secret] [--tags a,b] [--description text]
	confvault var delete <env> <key>
	confvault audit [--action create|update|delete] [--entity-type environment|variable] [--entity-id id] [--limit N] [--offset N]
	confvault version

Listing commands accept --json for raw output and --jq <expr> to filter it.
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
