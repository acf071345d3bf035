package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jordanhart/captor"
)

type Format string

const (
	FormatJSON  Format = "json"
	FormatText  Format = "text"
	FormatHuman Format = "human"
)

type Formatter struct {
	format Format
	out    io.Writer
	err    io.Writer
}

// NewFormatter creates a new output formatter
func NewFormatter(format Format) *Formatter {
	return &Formatter{
		format: format,
		out:    os.Stdout,
		err:    os.Stderr,
	}
}

// NewFormatterWithWriters creates a formatter with custom output writers for testability
func NewFormatterWithWriters(format Format, out, errW io.Writer) *Formatter {
	return &Formatter{
		format: format,
		out:    out,
		err:    errW,
	}
}

// Warning prints a warning to stderr regardless of format
func (f *Formatter) Warning(format string, args ...any) {
	fmt.Fprintf(f.err, "warning: "+format+"\n", args...)
}

// Success prints a confirmation message. In JSON mode it becomes a
// {"status": "ok", "message": ...} document so scripts can parse it.
func (f *Formatter) Success(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if f.format == FormatJSON {
		json.NewEncoder(f.out).Encode(map[string]string{"status": "ok", "message": msg})
		return
	}
	fmt.Fprintln(f.out, msg)
}

// OutputAccounts outputs saved accounts
func (f *Formatter) OutputAccounts(accounts []captor.Account, total int) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(map[string]any{"accounts": accounts, "total": total})
	case FormatText:
		for _, a := range accounts {
			fmt.Fprintf(f.out, "id=%s\tnickname=%s\tfavorite=%t\tauto_sync=%t\n",
				a.ID, a.Nickname, a.IsFavorite, a.AutoSync.Enabled)
		}
		return nil
	case FormatHuman:
		if len(accounts) == 0 {
			fmt.Fprintln(f.out, "No saved accounts")
			return nil
		}
		fmt.Fprintf(f.out, "Accounts (%d):\n\n", total)
		for _, a := range accounts {
			fmt.Fprintf(f.out, "ID: %s\n", a.ID)
			fmt.Fprintf(f.out, "Nickname: %s\n", a.Nickname)
			if a.Intro != "" {
				fmt.Fprintf(f.out, "Intro: %s\n", a.Intro)
			}
			fmt.Fprintf(f.out, "Favorite: %t\n", a.IsFavorite)
			if a.AutoSync.Enabled {
				fmt.Fprintf(f.out, "Auto-sync: every %dm, lookback %dd, overlap %dh\n",
					a.AutoSync.IntervalMinutes, a.AutoSync.LookbackDays, a.AutoSync.OverlapHours)
				if a.AutoSync.NextRunAt != nil {
					fmt.Fprintf(f.out, "Next run: %s\n", a.AutoSync.NextRunAt.Format("2006-01-02 15:04"))
				}
				if a.AutoSync.LastError != "" {
					fmt.Fprintf(f.out, "Last error: %s (%d consecutive failures)\n",
						a.AutoSync.LastError, a.AutoSync.ConsecutiveFailures)
				}
			}
			if a.LastSyncAt != nil {
				fmt.Fprintf(f.out, "Last sync: %s\n", a.LastSyncAt.Format("2006-01-02 15:04"))
			}
			fmt.Fprintln(f.out, "---")
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// OutputSearchResults outputs upstream directory hits
func (f *Formatter) OutputSearchResults(results []captor.AccountSearchResult, total int) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(map[string]any{"results": results, "total": total})
	case FormatText:
		for _, r := range results {
			fmt.Fprintf(f.out, "fakeid=%s\tnickname=%s\tsaved=%t\n", r.FakeID, r.Nickname, r.Saved)
		}
		return nil
	case FormatHuman:
		if len(results) == 0 {
			fmt.Fprintln(f.out, "No accounts found")
			return nil
		}
		fmt.Fprintf(f.out, "Search results (%d total):\n\n", total)
		for _, r := range results {
			marker := " "
			if r.Saved {
				marker = "*"
			}
			fmt.Fprintf(f.out, "%s %s\t%s\n", marker, r.FakeID, r.Nickname)
			if r.Intro != "" {
				fmt.Fprintf(f.out, "   %s\n", r.Intro)
			}
		}
		fmt.Fprintln(f.out, "\n* already saved")
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// OutputJob outputs a single job
func (f *Formatter) OutputJob(job *captor.Job) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(job)
	case FormatText:
		fmt.Fprintf(f.out, "id=%s\tstatus=%s\tcreated=%d\tupdated=%d\tpages=%d/%d\n",
			job.ID, job.Status, job.CreatedCount, job.UpdatedCount, job.ScannedPages, job.MaxPages)
		return nil
	case FormatHuman:
		fmt.Fprintf(f.out, "Job: %s\n", job.ID)
		fmt.Fprintf(f.out, "Account: %s (%s)\n", job.AccountName, job.AccountID)
		fmt.Fprintf(f.out, "Status: %s (source %s)\n", job.Status, job.Source)
		fmt.Fprintf(f.out, "Window: %s .. %s\n",
			time.Unix(job.StartTS, 0).Format("2006-01-02 15:04"),
			time.Unix(job.EndTS, 0).Format("2006-01-02 15:04"))
		fmt.Fprintf(f.out, "Progress: %d created, %d updated, %d content, %d duplicates, %d/%d pages\n",
			job.CreatedCount, job.UpdatedCount, job.ContentUpdatedCount,
			job.DuplicatesSkipped, job.ScannedPages, job.MaxPages)
		if job.Error != "" {
			fmt.Fprintf(f.out, "Error: %s\n", job.Error)
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// OutputJobs outputs a job listing
func (f *Formatter) OutputJobs(jobs []captor.Job, total int) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(map[string]any{"jobs": jobs, "total": total})
	case FormatText:
		for _, j := range jobs {
			fmt.Fprintf(f.out, "id=%s\taccount=%s\tstatus=%s\tsource=%s\tcreated_at=%s\n",
				j.ID, j.AccountName, j.Status, j.Source, j.CreatedAt.Format(time.RFC3339))
		}
		return nil
	case FormatHuman:
		if len(jobs) == 0 {
			fmt.Fprintln(f.out, "No jobs")
			return nil
		}
		fmt.Fprintf(f.out, "Jobs (%d):\n\n", total)
		for _, j := range jobs {
			fmt.Fprintf(f.out, "%-22s %-10s %-10s %s\n", j.ID, j.Status, j.Source, j.AccountName)
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// OutputJobLogs outputs a job's progress trail
func (f *Formatter) OutputJobLogs(logs []captor.JobLogEntry) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(logs)
	case FormatText, FormatHuman:
		for _, l := range logs {
			line := fmt.Sprintf("%s [%s] %s", l.CreatedAt.Format("15:04:05"), l.Level, l.Message)
			if len(l.Payload) > 0 {
				if b, err := json.Marshal(l.Payload); err == nil {
					line += " " + string(b)
				}
			}
			fmt.Fprintln(f.out, line)
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// OutputArticles outputs an article listing
func (f *Formatter) OutputArticles(articles []captor.Article, total int) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(map[string]any{"articles": articles, "total": total})
	case FormatText:
		for _, a := range articles {
			fmt.Fprintf(f.out, "id=%s\ttitle=%s\turl=%s\tpublished=%s\n",
				a.ID, a.Title, a.URL, formatUnix(a.PublishTS))
		}
		return nil
	case FormatHuman:
		if len(articles) == 0 {
			fmt.Fprintln(f.out, "No articles")
			return nil
		}
		fmt.Fprintf(f.out, "Articles (%d):\n\n", total)
		for _, a := range articles {
			fmt.Fprintf(f.out, "ID: %s\n", a.ID)
			fmt.Fprintf(f.out, "Title: %s\n", a.Title)
			fmt.Fprintf(f.out, "URL: %s\n", a.URL)
			if a.PublishTS > 0 {
				fmt.Fprintf(f.out, "Published: %s\n", formatUnix(a.PublishTS))
			}
			fmt.Fprintf(f.out, "Content stored: %t\n", a.HasContent)
			fmt.Fprintln(f.out, "---")
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// OutputSchedulerStatus outputs the auto-sync scheduler state
func (f *Formatter) OutputSchedulerStatus(st *captor.SchedulerStatus) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(st)
	case FormatText:
		fmt.Fprintf(f.out, "enabled=%t\trunner=%t\ttick=%ds\tenrolled=%d\tdue=%d\tauth=%s\n",
			st.Enabled, st.RunnerAlive, st.TickSeconds, st.EnrolledCount, st.DueCount, st.AuthStatus)
		return nil
	case FormatHuman:
		fmt.Fprintf(f.out, "Auto-sync: enabled=%t, runner alive=%t, tick %ds\n",
			st.Enabled, st.RunnerAlive, st.TickSeconds)
		fmt.Fprintf(f.out, "Enrolled accounts: %d (%d due)\n", st.EnrolledCount, st.DueCount)
		fmt.Fprintf(f.out, "Session: %s\n", st.AuthStatus)
		if st.ActiveJob != nil {
			fmt.Fprintf(f.out, "Active job: %s (%s) for %s\n",
				st.ActiveJob.ID, st.ActiveJob.Status, st.ActiveJob.AccountName)
		} else {
			fmt.Fprintln(f.out, "Active job: none")
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// OutputAuthStatus outputs the session state
func (f *Formatter) OutputAuthStatus(st *captor.AuthStatus) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(st)
	case FormatText:
		fmt.Fprintf(f.out, "status=%s\taccount=%s\n", st.Status, st.AccountName)
		return nil
	case FormatHuman:
		fmt.Fprintf(f.out, "Session: %s\n", st.Status)
		if st.AccountName != "" {
			fmt.Fprintf(f.out, "Operator account: %s\n", st.AccountName)
		}
		if st.LastError != "" {
			fmt.Fprintf(f.out, "Last error: %s\n", st.LastError)
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// OutputOverview outputs database totals
func (f *Formatter) OutputOverview(o *captor.Overview) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(o)
	case FormatText:
		fmt.Fprintf(f.out, "accounts=%d\tarticles=%d\tjobs=%d\tauth=%s\n",
			o.Accounts, o.Articles, o.Jobs, o.AuthStatus)
		return nil
	case FormatHuman:
		fmt.Fprintf(f.out, "Accounts: %d\n", o.Accounts)
		fmt.Fprintf(f.out, "Articles: %d\n", o.Articles)
		fmt.Fprintf(f.out, "Jobs: %d\n", o.Jobs)
		for status, n := range o.JobsByStatus {
			fmt.Fprintf(f.out, "  %s: %d\n", status, n)
		}
		fmt.Fprintf(f.out, "Session: %s\n", o.AuthStatus)
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

func formatUnix(ts int64) string {
	if ts == 0 {
		return "unknown"
	}
	return time.Unix(ts, 0).Format("2006-01-02 15:04")
}
