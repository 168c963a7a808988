package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	apiclient "github.com/splax/confvault/pkg/api/client"
)

const requestTimeout = 15 * time.Second

// session is an authenticated client built from the saved config.
type session struct {
	client *apiclient.Client
	token  string
}

func newSession() (session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return session{}, err
	}
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return session{}, errors.New("not logged in; run `confvault login` first")
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return session{}, err
	}
	return session{client: client, token: cfg.AccessToken}, nil
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SortFlags = false
	return fs
}

func commandLogin(args []string, signup bool) error {
	name := "login"
	if signup {
		name = "signup"
	}
	fs := newFlagSet(name)
	username := fs.StringP("username", "u", "", "Username")
	password := fs.StringP("password", "p", "", "Password (supply to avoid prompt)")
	apiBase := fs.String("api", "", "API base URL (default "+defaultAPIBaseURL+")")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*username) == "" {
		return errors.New("--username is required")
	}

	secret := *password
	if secret == "" {
		var err error
		if secret, err = promptHidden("Password: "); err != nil {
			return err
		}
	}

	cfg, _ := loadConfig()
	if strings.TrimSpace(*apiBase) != "" {
		cfg.APIBaseURL = strings.TrimSpace(*apiBase)
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	authenticate := client.Login
	if signup {
		authenticate = client.Signup
	}
	resp, err := authenticate(ctx, *username, secret)
	if err != nil {
		return err
	}
	cfg.AccessToken = resp.Token.AccessToken
	cfg.Username = resp.User.Username
	if err := saveConfig(cfg); err != nil {
		return err
	}
	success("Logged in as %s", color.YellowString(resp.User.Username))
	return nil
}

func commandLogout() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.AccessToken = ""
	cfg.Username = ""
	if err := saveConfig(cfg); err != nil {
		return err
	}
	success("Logged out")
	return nil
}

func commandEnv(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: confvault env <list|create|delete>")
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "list":
		return envList(rest)
	case "create":
		return envCreate(rest)
	case "delete":
		return envDelete(rest)
	default:
		return fmt.Errorf("unknown env command %q", sub)
	}
}

func envList(args []string) error {
	fs := newFlagSet("env list")
	out := registerOutputFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	s, err := newSession()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	envs, err := s.client.ListEnvironments(ctx, s.token)
	if err != nil {
		return err
	}
	if out.raw() {
		return out.emit(os.Stdout, envs)
	}
	if len(envs) == 0 {
		hint("No environments yet. Create one with %s", color.YellowString("confvault env create <name>"))
		return nil
	}
	rows := make([][]string, 0, len(envs))
	for _, env := range envs {
		rows = append(rows, []string{env.Name, env.Description, env.CreatedAt.Local().Format(time.RFC3339)})
	}
	return printTable(os.Stdout, []string{"NAME", "DESCRIPTION", "CREATED"}, rows)
}

func envCreate(args []string) error {
	fs := newFlagSet("env create")
	description := fs.StringP("description", "d", "", "Environment description")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: confvault env create <name> [--description text]")
	}
	s, err := newSession()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	env, err := s.client.CreateEnvironment(ctx, s.token, fs.Arg(0), *description)
	if err != nil {
		return err
	}
	success("Created environment %s", color.YellowString(env.Name))
	return nil
}

func envDelete(args []string) error {
	fs := newFlagSet("env delete")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: confvault env delete <name>")
	}
	s, err := newSession()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	env, err := s.client.DeleteEnvironment(ctx, s.token, fs.Arg(0))
	if err != nil {
		return err
	}
	success("Deleted environment %s", color.YellowString(env.Name))
	return nil
}

func commandVar(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: confvault var <list|get|set|delete>")
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "list":
		return varList(rest)
	case "get":
		return varGet(rest)
	case "set":
		return varSet(rest)
	case "delete":
		return varDelete(rest)
	default:
		return fmt.Errorf("unknown var command %q", sub)
	}
}

func varList(args []string) error {
	fs := newFlagSet("var list")
	out := registerOutputFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: confvault var list <env>")
	}
	s, err := newSession()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	vars, err := s.client.ListVariables(ctx, s.token, fs.Arg(0))
	if err != nil {
		return err
	}
	if out.raw() {
		return out.emit(os.Stdout, vars)
	}
	rows := make([][]string, 0, len(vars))
	for _, v := range vars {
		rows = append(rows, []string{v.Key, displayValue(v), v.Tags, v.UpdatedAt.Local().Format(time.RFC3339)})
	}
	return printTable(os.Stdout, []string{"KEY", "VALUE", "TAGS", "UPDATED"}, rows)
}

func varGet(args []string) error {
	fs := newFlagSet("var get")
	decrypt := fs.Bool("decrypt", false, "Return the plaintext of a secret")
	out := registerOutputFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errors.New("usage: confvault var get <env> <key> [--decrypt]")
	}
	s, err := newSession()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	v, err := s.client.GetVariable(ctx, s.token, fs.Arg(0), fs.Arg(1), *decrypt)
	if err != nil {
		return err
	}
	if out.raw() {
		return out.emit(os.Stdout, v)
	}
	if *decrypt || !v.IsSecret {
		fmt.Println(v.Value)
		return nil
	}
	fmt.Println(displayValue(v))
	return nil
}

func varSet(args []string) error {
	fs := newFlagSet("var set")
	secret := fs.BoolP("secret", "s", false, "Encrypt the value at rest and redact it in audit history")
	tags := fs.StringP("tags", "t", "", "Comma separated tags")
	description := fs.StringP("description", "d", "", "Variable description")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 || fs.NArg() > 3 {
		return errors.New("usage: confvault var set <env> <key> [value] [--secret]")
	}
	value := fs.Arg(2)
	if fs.NArg() == 2 {
		var err error
		if *secret {
			value, err = promptHidden("Value: ")
		} else {
			value, err = promptLine("Value: ")
		}
		if err != nil {
			return err
		}
	}
	s, err := newSession()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	v, created, err := s.client.SetVariable(ctx, s.token, fs.Arg(0), fs.Arg(1), apiclient.SetVariableInput{
		Value:       value,
		IsSecret:    *secret,
		Tags:        *tags,
		Description: *description,
	})
	if err != nil {
		return err
	}
	verb := "Updated"
	if created {
		verb = "Created"
	}
	kind := "variable"
	if v.IsSecret {
		kind = "secret"
	}
	success("%s %s %s in %s", verb, kind, color.YellowString(v.Key), color.YellowString(fs.Arg(0)))
	return nil
}

func varDelete(args []string) error {
	fs := newFlagSet("var delete")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errors.New("usage: confvault var delete <env> <key>")
	}
	s, err := newSession()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := s.client.DeleteVariable(ctx, s.token, fs.Arg(0), fs.Arg(1)); err != nil {
		return err
	}
	success("Deleted %s from %s", color.YellowString(fs.Arg(1)), color.YellowString(fs.Arg(0)))
	return nil
}

func commandAudit(args []string) error {
	fs := newFlagSet("audit")
	var filter apiclient.AuditFilter
	fs.StringVar(&filter.Action, "action", "", "Filter by action (create|update|delete)")
	fs.StringVar(&filter.EntityType, "entity-type", "", "Filter by entity type (environment|variable)")
	fs.StringVar(&filter.EntityID, "entity-id", "", "Filter by entity id")
	fs.IntVarP(&filter.Limit, "limit", "n", 0, "Maximum entries to return")
	fs.IntVar(&filter.Offset, "offset", 0, "Entries to skip")
	out := registerOutputFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	s, err := newSession()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	page, err := s.client.AuditLogs(ctx, s.token, filter)
	if err != nil {
		return err
	}
	if out.raw() {
		return out.emit(os.Stdout, page)
	}
	rows := make([][]string, 0, len(page.Logs))
	for _, entry := range page.Logs {
		rows = append(rows, []string{
			entry.Timestamp.Local().Format(time.RFC3339),
			entry.UserName,
			entry.Action,
			entry.EntityType,
			entry.EntityID,
			auditChange(entry),
		})
	}
	if err := printTable(os.Stdout, []string{"TIME", "USER", "ACTION", "TYPE", "ENTITY", "CHANGE"}, rows); err != nil {
		return err
	}
	hint("Showing %d of %d entries", len(page.Logs), page.Total)
	return nil
}

func promptHidden(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	data, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return string(data), nil
}

func promptLine(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
