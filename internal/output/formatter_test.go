package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/jordanhart/captor"
)

func TestOutputJob_JSON(t *testing.T) {
	var out, errBuf bytes.Buffer
	f := NewFormatterWithWriters(FormatJSON, &out, &errBuf)

	job := &captor.Job{
		ID:           "job_abc123",
		AccountID:    "acct_wx_demo",
		AccountName:  "Tech Weekly",
		Status:       "success",
		Source:       "manual",
		CreatedCount: 4,
		ScannedPages: 2,
		MaxPages:     300,
	}
	if err := f.OutputJob(job); err != nil {
		t.Fatalf("OutputJob failed: %v", err)
	}

	var decoded captor.Job
	if err := json.Unmarshal(out.Bytes(), &decoded); err != nil {
		t.Fatalf("failed to decode JSON: %v", err)
	}
	if decoded.ID != "job_abc123" || decoded.CreatedCount != 4 {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestOutputJob_Human(t *testing.T) {
	var out, errBuf bytes.Buffer
	f := NewFormatterWithWriters(FormatHuman, &out, &errBuf)

	job := &captor.Job{
		ID:          "job_abc123",
		AccountName: "Tech Weekly",
		Status:      "failed",
		Source:      "scheduled",
		Error:       "session invalid",
		MaxPages:    300,
	}
	if err := f.OutputJob(job); err != nil {
		t.Fatalf("OutputJob failed: %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "Tech Weekly") {
		t.Errorf("missing account name in output: %s", got)
	}
	if !strings.Contains(got, "session invalid") {
		t.Errorf("missing error in output: %s", got)
	}
}

func TestOutputJobs_Text(t *testing.T) {
	var out, errBuf bytes.Buffer
	f := NewFormatterWithWriters(FormatText, &out, &errBuf)

	jobs := []captor.Job{
		{ID: "job_1", AccountName: "A", Status: "success", Source: "manual", CreatedAt: time.Unix(1700000000, 0)},
		{ID: "job_2", AccountName: "B", Status: "running", Source: "retry", CreatedAt: time.Unix(1700000100, 0)},
	}
	if err := f.OutputJobs(jobs, 2); err != nil {
		t.Fatalf("OutputJobs failed: %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "id=job_1") || !strings.Contains(got, "status=running") {
		t.Errorf("unexpected text output: %s", got)
	}
}

func TestOutputAccounts_Human(t *testing.T) {
	var out, errBuf bytes.Buffer
	f := NewFormatterWithWriters(FormatHuman, &out, &errBuf)

	accounts := []captor.Account{{
		ID:         "acct_wx_demo",
		Nickname:   "Tech Weekly",
		IsFavorite: true,
		AutoSync: captor.AutoSyncState{
			Enabled:             true,
			IntervalMinutes:     360,
			LookbackDays:        7,
			OverlapHours:        6,
			LastError:           "login required",
			ConsecutiveFailures: 2,
		},
	}}
	if err := f.OutputAccounts(accounts, 1); err != nil {
		t.Fatalf("OutputAccounts failed: %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "every 360m") {
		t.Errorf("missing auto-sync policy in output: %s", got)
	}
	if !strings.Contains(got, "2 consecutive failures") {
		t.Errorf("missing failure streak in output: %s", got)
	}
}

func TestOutputAccounts_HumanEmpty(t *testing.T) {
	var out, errBuf bytes.Buffer
	f := NewFormatterWithWriters(FormatHuman, &out, &errBuf)

	if err := f.OutputAccounts(nil, 0); err != nil {
		t.Fatalf("OutputAccounts failed: %v", err)
	}
	if !strings.Contains(out.String(), "No saved accounts") {
		t.Errorf("unexpected empty output: %s", out.String())
	}
}

func TestOutputJobLogs(t *testing.T) {
	var out, errBuf bytes.Buffer
	f := NewFormatterWithWriters(FormatHuman, &out, &errBuf)

	logs := []captor.JobLogEntry{
		{Level: "info", Message: "page scanned", Payload: map[string]any{"page": 1}, CreatedAt: time.Unix(1700000000, 0)},
		{Level: "warn", Message: "article content fetch failed", CreatedAt: time.Unix(1700000001, 0)},
	}
	if err := f.OutputJobLogs(logs); err != nil {
		t.Fatalf("OutputJobLogs failed: %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "[info] page scanned") || !strings.Contains(got, `"page":1`) {
		t.Errorf("unexpected log output: %s", got)
	}
}

func TestSuccessJSON(t *testing.T) {
	var out, errBuf bytes.Buffer
	f := NewFormatterWithWriters(FormatJSON, &out, &errBuf)

	f.Success("saved account %s", "acct_wx_demo")

	var decoded map[string]string
	if err := json.Unmarshal(out.Bytes(), &decoded); err != nil {
		t.Fatalf("failed to decode JSON: %v", err)
	}
	if decoded["status"] != "ok" || !strings.Contains(decoded["message"], "acct_wx_demo") {
		t.Errorf("decoded = %v", decoded)
	}
}

func TestUnknownFormat(t *testing.T) {
	var out, errBuf bytes.Buffer
	f := NewFormatterWithWriters(Format("xml"), &out, &errBuf)

	if err := f.OutputOverview(&captor.Overview{}); err == nil {
		t.Error("expected error for unknown format")
	}
}
