package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jordanhart/captor"
	"github.com/jordanhart/captor/internal/output"
	"github.com/jordanhart/captor/internal/storage"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	configPath   string
	cfg          *storage.Config
	outputFormat string
)

func loadConfig() error {
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	// Check if config exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		// Use default config
		cfg = storage.DefaultConfig()
		return nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	cfg = storage.DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	return nil
}

func newEngine() (*captor.Engine, error) {
	return captor.NewEngine(captor.EngineConfigFrom(cfg))
}

func newFormatter() *output.Formatter {
	return output.NewFormatter(output.Format(outputFormat))
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "captor",
		Short: "Official-account article capture - search, save, and sync publications into a local archive",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "f", "json", "output format: json, text, human (default: json)")

	rootCmd.AddCommand(accountsCmd())
	rootCmd.AddCommand(captureCmd())
	rootCmd.AddCommand(jobsCmd())
	rootCmd.AddCommand(articlesCmd())
	rootCmd.AddCommand(autosyncCmd())
	rootCmd.AddCommand(authCmd())
	rootCmd.AddCommand(overviewCmd())
	rootCmd.AddCommand(daemonCmd())
	rootCmd.AddCommand(initConfigCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func accountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Search, save, and manage capture targets",
	}

	var searchOffset, searchLimit int
	search := &cobra.Command{
		Use:   "search <keyword>",
		Short: "Search the upstream account directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			results, total, err := engine.SearchAccounts(cmd.Context(), args[0], searchOffset, searchLimit)
			if err != nil {
				return err
			}
			return newFormatter().OutputSearchResults(results, total)
		},
	}
	search.Flags().IntVar(&searchOffset, "offset", 0, "result offset")
	search.Flags().IntVar(&searchLimit, "limit", 10, "result count")

	var addBiz, addNickname, addAlias, addAvatar, addIntro string
	add := &cobra.Command{
		Use:   "add <fakeid>",
		Short: "Save an account as a capture target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			account, err := engine.SaveAccount(captor.AccountProfile{
				FakeID:   args[0],
				Biz:      addBiz,
				Nickname: addNickname,
				Alias:    addAlias,
				Avatar:   addAvatar,
				Intro:    addIntro,
			})
			if err != nil {
				return err
			}
			return newFormatter().OutputAccounts([]captor.Account{*account}, 1)
		},
	}
	add.Flags().StringVar(&addBiz, "biz", "", "upstream biz identifier")
	add.Flags().StringVar(&addNickname, "nickname", "", "account display name")
	add.Flags().StringVar(&addAlias, "alias", "", "account alias")
	add.Flags().StringVar(&addAvatar, "avatar", "", "avatar URL")
	add.Flags().StringVar(&addIntro, "intro", "", "account introduction")

	var listFavorites bool
	var listOffset, listLimit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List saved accounts, favorites first",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			accounts, total, err := engine.ListAccounts(listFavorites, listOffset, listLimit)
			if err != nil {
				return err
			}
			return newFormatter().OutputAccounts(accounts, total)
		},
	}
	list.Flags().BoolVar(&listFavorites, "favorites", false, "only favorites")
	list.Flags().IntVar(&listOffset, "offset", 0, "result offset")
	list.Flags().IntVar(&listLimit, "limit", 50, "result count")

	favorite := &cobra.Command{
		Use:   "favorite <account-id> <true|false>",
		Short: "Set an account's favorite flag (favorites are auto-synced)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fav, err := strconv.ParseBool(args[1])
			if err != nil {
				return fmt.Errorf("invalid flag %q: %w", args[1], err)
			}
			engine, err := newEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			account, err := engine.SetFavorite(args[0], fav)
			if err != nil {
				return err
			}
			if account == nil {
				return fmt.Errorf("account %s not found", args[0])
			}
			return newFormatter().OutputAccounts([]captor.Account{*account}, 1)
		},
	}

	cmd.AddCommand(search, add, list, favorite)
	return cmd
}

func captureCmd() *cobra.Command {
	var days int
	var startTS, endTS int64
	var wait bool

	cmd := &cobra.Command{
		Use:   "capture <account-id>",
		Short: "Capture an account's articles over a publish-time window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			if endTS == 0 {
				endTS = time.Now().Unix()
			}
			if startTS == 0 {
				startTS = endTS - int64(days)*86400
			}

			job, err := engine.SubmitJob(args[0], startTS, endTS)
			if err != nil {
				return err
			}

			fm := newFormatter()
			if wait {
				engine.Wait()
				if job, err = engine.GetJob(job.ID); err != nil {
					return err
				}
				if job.Status != storage.JobSuccess {
					fm.Warning("job %s finished %s: %s", job.ID, job.Status, job.Error)
				}
			}
			return fm.OutputJob(job)
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "lookback window in days (when --start-ts is unset)")
	cmd.Flags().Int64Var(&startTS, "start-ts", 0, "window start as a unix timestamp")
	cmd.Flags().Int64Var(&endTS, "end-ts", 0, "window end as a unix timestamp (default: now)")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "block until the job finishes")
	return cmd
}

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage capture jobs",
	}

	var q captor.JobQuery
	list := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			jobs, total, err := engine.ListJobs(q)
			if err != nil {
				return err
			}
			return newFormatter().OutputJobs(jobs, total)
		},
	}
	list.Flags().StringVar(&q.Status, "status", "", "filter by status")
	list.Flags().StringVar(&q.AccountID, "account", "", "filter by account id")
	list.Flags().StringVar(&q.Source, "source", "", "filter by source")
	list.Flags().StringVar(&q.Keyword, "keyword", "", "match job id or account name")
	list.Flags().IntVar(&q.Offset, "offset", 0, "result offset")
	list.Flags().IntVar(&q.Limit, "limit", 50, "result count")

	show := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE:  jobAction(func(e *captor.Engine, id string) (*captor.Job, error) { return e.GetJob(id) }),
	}

	var logLimit int
	logs := &cobra.Command{
		Use:   "logs <job-id>",
		Short: "Show a job's progress trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			entries, err := engine.GetJobLogs(args[0], logLimit)
			if err != nil {
				return err
			}
			return newFormatter().OutputJobLogs(entries)
		},
	}
	logs.Flags().IntVar(&logLimit, "limit", 500, "max entries")

	cancel := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE:  jobAction(func(e *captor.Engine, id string) (*captor.Job, error) { return e.CancelJob(id) }),
	}

	retry := &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Resubmit a finished job's window as a new job",
		Args:  cobra.ExactArgs(1),
		RunE:  jobAction(func(e *captor.Engine, id string) (*captor.Job, error) { return e.RetryJob(id) }),
	}

	cmd.AddCommand(list, show, logs, cancel, retry)
	return cmd
}

// jobAction wraps a single-job engine call into a cobra handler.
func jobAction(fn func(*captor.Engine, string) (*captor.Job, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		job, err := fn(engine, args[0])
		if err != nil {
			return err
		}
		if job == nil {
			return fmt.Errorf("job %s not found", args[0])
		}
		return newFormatter().OutputJob(job)
	}
}

func articlesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "articles",
		Short: "Browse captured articles",
	}

	var accountID, keyword string
	var offset, limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List captured articles, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			articles, total, err := engine.ListArticles(accountID, keyword, offset, limit)
			if err != nil {
				return err
			}
			return newFormatter().OutputArticles(articles, total)
		},
	}
	list.Flags().StringVar(&accountID, "account", "", "filter by account id")
	list.Flags().StringVar(&keyword, "keyword", "", "match title or digest")
	list.Flags().IntVar(&offset, "offset", 0, "result offset")
	list.Flags().IntVar(&limit, "limit", 50, "result count")

	show := &cobra.Command{
		Use:   "show <article-id>",
		Short: "Show one article with its stored content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			art, err := engine.GetArticle(args[0])
			if err != nil {
				return err
			}
			if art == nil {
				return fmt.Errorf("article %s not found", args[0])
			}
			return newFormatter().OutputArticles([]captor.Article{*art}, 1)
		},
	}

	refresh := &cobra.Command{
		Use:   "refresh <article-id>",
		Short: "Refetch and re-extract one article's body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			art, err := engine.RefreshArticleContent(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return newFormatter().OutputArticles([]captor.Article{*art}, 1)
		},
	}

	cmd.AddCommand(list, show, refresh)
	return cmd
}

func autosyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autosync",
		Short: "Inspect and control the auto-sync scheduler",
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show scheduler state and enrollment",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			st, err := engine.SchedulerStatus()
			if err != nil {
				return err
			}
			return newFormatter().OutputSchedulerStatus(st)
		},
	}

	var policyEnabled bool
	var interval, lookback, overlap int
	policy := &cobra.Command{
		Use:   "policy <account-id>",
		Short: "Set an account's auto-sync policy (values are clamped to supported ranges)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			account, err := engine.SetAutoSyncPolicy(args[0], policyEnabled, interval, lookback, overlap)
			if err != nil {
				return err
			}
			if account == nil {
				return fmt.Errorf("account %s not found", args[0])
			}
			return newFormatter().OutputAccounts([]captor.Account{*account}, 1)
		},
	}
	policy.Flags().BoolVar(&policyEnabled, "enabled", true, "enroll the account")
	policy.Flags().IntVar(&interval, "interval", storage.DefaultAutoSyncIntervalMinutes, "minutes between runs")
	policy.Flags().IntVar(&lookback, "lookback", storage.DefaultAutoSyncLookbackDays, "window lookback in days")
	policy.Flags().IntVar(&overlap, "overlap", storage.DefaultAutoSyncOverlapHours, "overlap past last success in hours")

	var queueAccount string
	var queueAll bool
	queue := &cobra.Command{
		Use:   "queue",
		Short: "Mark enrolled accounts due for an immediate run",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			ids, err := engine.QueueAutoSyncNow(queueAccount, !queueAll, 100)
			if err != nil {
				return err
			}
			fm := newFormatter()
			if len(ids) == 0 {
				fm.Warning("no enrolled accounts matched")
			}
			fm.Success("queued %d accounts: %v", len(ids), ids)
			return nil
		},
	}
	queue.Flags().StringVar(&queueAccount, "account", "", "queue one account by id")
	queue.Flags().BoolVar(&queueAll, "all", false, "queue every enrolled account, not just favorites")

	runNow := &cobra.Command{
		Use:   "run-now",
		Short: "Perform one scheduling pass immediately and wait for the job",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			if err := engine.RunSchedulerNow(cmd.Context()); err != nil {
				return err
			}
			engine.Wait()

			st, err := engine.SchedulerStatus()
			if err != nil {
				return err
			}
			return newFormatter().OutputSchedulerStatus(st)
		},
	}

	cmd.AddCommand(status, policy, queue, runNow)
	return cmd
}

func authCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the upstream session",
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the persisted session state",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			st, err := engine.AuthState()
			if err != nil {
				return err
			}
			return newFormatter().OutputAuthStatus(st)
		},
	}

	var cookiesFile, accountName string
	set := &cobra.Command{
		Use:   "set-token <token>",
		Short: "Save a session token and cookie file exported from a logged-in browser",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cookiesFile == "" {
				return fmt.Errorf("--cookies-file is required")
			}
			cookieJSON, err := os.ReadFile(cookiesFile)
			if err != nil {
				return fmt.Errorf("read cookies file: %w", err)
			}

			engine, err := newEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			if err := engine.SetCredentials(args[0], string(cookieJSON), accountName); err != nil {
				return err
			}
			newFormatter().Success("session saved")
			return nil
		},
	}
	set.Flags().StringVar(&cookiesFile, "cookies-file", "", "path to a JSON cookie export")
	set.Flags().StringVar(&accountName, "account-name", "", "operator account label")

	logout := &cobra.Command{
		Use:   "logout",
		Short: "Discard the persisted session",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			if err := engine.Logout(); err != nil {
				return err
			}
			newFormatter().Success("logged out")
			return nil
		},
	}

	cmd.AddCommand(status, set, logout)
	return cmd
}

func overviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "overview",
		Short: "Show database totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			o, err := engine.DBOverview()
			if err != nil {
				return err
			}
			return newFormatter().OutputOverview(o)
		},
	}
}

func initConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "Create a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = "./config/config.yaml"
			}

			dir := filepath.Dir(configPath)
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}

			if _, err := os.Stat(configPath); err == nil {
				return fmt.Errorf("config file already exists: %s", configPath)
			}

			data, err := yaml.Marshal(storage.DefaultConfig())
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			if err := os.WriteFile(configPath, data, 0644); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}

			fmt.Printf("Created default config at %s\n", configPath)
			return nil
		},
	}
}
