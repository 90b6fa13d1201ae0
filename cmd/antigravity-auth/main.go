// Package main provides the antigravity-auth CLI: the interactive account
// enrollment loop plus list/remove maintenance over the persisted pool.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/ink-splatters/opencode-antigravity-auth/internal/antigravity"
	"github.com/ink-splatters/opencode-antigravity-auth/internal/buildinfo"
	"github.com/ink-splatters/opencode-antigravity-auth/internal/config"
	"github.com/ink-splatters/opencode-antigravity-auth/internal/logging"
	"github.com/ink-splatters/opencode-antigravity-auth/internal/util"
	"github.com/ink-splatters/opencode-antigravity-auth/sdk/antigravitypool"
	log "github.com/sirupsen/logrus"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	var configPath string
	var noBrowser bool
	var callbackPort int
	flag.StringVar(&configPath, "config", "", "path to config.yaml")
	flag.BoolVar(&noBrowser, "no-browser", false, "do not open a browser; print the URL instead")
	flag.IntVar(&callbackPort, "callback-port", 0, "fixed OAuth callback port (0 = provider default)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err = logging.ConfigureLogOutput(cfg); err != nil {
		log.Fatalf("configure logging: %v", err)
	}
	if callbackPort == 0 {
		callbackPort = cfg.CallbackPort
	}

	ctx := context.Background()
	store, closeStore, err := antigravitypool.NewStoreFromConfig(ctx, cfg)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer closeStore()

	pool, err := antigravitypool.LoadFromDisk(ctx, store, "")
	if err != nil {
		log.Fatalf("load account pool: %v", err)
	}

	switch flag.Arg(0) {
	case "", "login":
		runLogin(ctx, cfg, pool, noBrowser, callbackPort)
	case "list":
		runList(pool)
	case "remove":
		runRemove(ctx, pool, flag.Arg(1))
	case "version":
		fmt.Printf("antigravity-auth %s (%s, built %s)\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
	default:
		fmt.Fprintf(os.Stderr, "usage: antigravity-auth [flags] login|list|remove <email>|version\n")
		os.Exit(2)
	}
}

// runLogin drives the enrollment loop: per iteration prompt for a project
// id, run one authorization round trip, then ask whether to add another,
// bounded at the account cap.
func runLogin(ctx context.Context, cfg *config.Config, pool *antigravitypool.Pool, noBrowser bool, callbackPort int) {
	stdin := bufio.NewReader(os.Stdin)
	orchestrator := &antigravitypool.Orchestrator{
		OAuth:        antigravity.NewClient(util.NewProxyHTTPClient(cfg.ProxyURL)),
		Pool:         pool,
		CallbackPort: callbackPort,
		NoBrowser:    noBrowser,
		Prompt: func(message string) (string, error) {
			fmt.Print(message)
			line, err := stdin.ReadString('\n')
			if err != nil {
				return "", err
			}
			return strings.TrimSpace(line), nil
		},
		OnAuthURL: func(url string) {
			if err := clipboard.WriteAll(url); err == nil {
				fmt.Println("(authorization URL copied to clipboard)")
			}
		},
	}

	for i := 0; i < antigravitypool.MaxEnrollAccounts; i++ {
		projectID, ok, err := promptLine("Google Cloud project id (optional, enter to skip)", "my-project")
		if err != nil {
			log.Fatalf("prompt failed: %v", err)
		}
		if !ok {
			fmt.Println("Login cancelled.")
			return
		}

		account, err := orchestrator.LoginOnce(ctx, projectID)
		if err != nil {
			log.Errorf("authentication failed: %v", err)
			retry, errConfirm := confirm("Try again?")
			if errConfirm != nil || !retry {
				return
			}
			i--
			continue
		}
		fmt.Printf("Enrolled %s (%d account(s) in pool)\n", account.Email, pool.Count())

		if i+1 >= antigravitypool.MaxEnrollAccounts {
			fmt.Printf("Account limit of %d reached.\n", antigravitypool.MaxEnrollAccounts)
			return
		}
		again, err := confirm("Add another account?")
		if err != nil || !again {
			return
		}
	}
}

func runList(pool *antigravitypool.Pool) {
	accounts := pool.Snapshot()
	if len(accounts) == 0 {
		fmt.Println("No accounts enrolled. Run `antigravity-auth login` to add one.")
		return
	}
	now := time.Now().UnixMilli()
	fmt.Printf("%-40s %-24s %-12s %s\n", "EMAIL", "PROJECT", "STATUS", "LAST USED")
	for _, acc := range accounts {
		project := acc.ProjectID
		if project == "" {
			project = acc.ManagedProjectID
		}
		if project == "" {
			project = "-"
		}
		status := "ready"
		if acc.IsRateLimited && acc.RateLimitResetTime > now {
			status = fmt.Sprintf("cooled %ds", (acc.RateLimitResetTime-now)/1000)
		}
		lastUsed := "-"
		if acc.LastUsed > 0 {
			lastUsed = time.UnixMilli(acc.LastUsed).Format(time.RFC3339)
		}
		fmt.Printf("%-40s %-24s %-12s %s\n", acc.Email, project, status, lastUsed)
	}
}

func runRemove(ctx context.Context, pool *antigravitypool.Pool, email string) {
	if email == "" {
		fmt.Fprintln(os.Stderr, "usage: antigravity-auth remove <email>")
		os.Exit(2)
	}
	for _, acc := range pool.Snapshot() {
		if strings.EqualFold(acc.Email, email) {
			target := acc
			if pool.RemoveAccount(ctx, &target) {
				fmt.Printf("Removed %s (%d account(s) remain)\n", email, pool.Count())
				return
			}
		}
	}
	fmt.Printf("No account matching %s\n", email)
	os.Exit(1)
}
