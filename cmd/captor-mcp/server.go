package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"

	captor "github.com/jordanhart/captor"
)

const (
	protocolVersion = "2024-11-05"
	serverVersion   = "0.1.0"
)

type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// toolResult is the MCP tool-call result shape: a list of content blocks,
// flagged when the call failed.
type toolResult struct {
	Content []contentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func textResult(format string, args ...any) toolResult {
	return toolResult{Content: []contentBlock{{Type: "text", Text: fmt.Sprintf(format, args...)}}}
}

func jsonResult(v any) toolResult {
	b, err := json.Marshal(v)
	if err != nil {
		return errorResult("marshal response: %v", err)
	}
	return toolResult{Content: []contentBlock{{Type: "text", Text: string(b)}}}
}

func errorResult(format string, args ...any) toolResult {
	return toolResult{
		Content: []contentBlock{{Type: "text", Text: fmt.Sprintf("Error: "+format, args...)}},
		IsError: true,
	}
}

// server exposes the capture database as MCP tools over stdio.
type server struct {
	engine *captor.Engine
}

func newServer(engine *captor.Engine) *server {
	return &server{engine: engine}
}

// run reads newline-delimited JSON-RPC requests from stdin and answers on
// stdout. Diagnostics go to stderr so they never corrupt the protocol stream.
func (s *server) run() error {
	log.SetOutput(os.Stderr)
	log.Printf("captor-mcp starting")

	enc := json.NewEncoder(os.Stdout)
	in := bufio.NewScanner(os.Stdin)
	in.Buffer(make([]byte, 1<<20), 1<<20)

	for in.Scan() {
		var req jsonRPCRequest
		if err := json.Unmarshal(in.Bytes(), &req); err != nil {
			log.Printf("invalid json-rpc: %v", err)
			continue
		}

		// A request without an ID is a notification; nothing to answer.
		if len(req.ID) == 0 || string(req.ID) == "null" {
			log.Printf("notification: %s", req.Method)
			continue
		}

		if err := enc.Encode(s.handleRequest(req)); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}

	return in.Err()
}

func (s *server) handleRequest(req jsonRPCRequest) jsonRPCResponse {
	resp := jsonRPCResponse{JSONRPC: "2.0", ID: req.ID}

	switch req.Method {
	case "initialize":
		resp.Result = map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": "captor", "version": serverVersion},
		}
	case "tools/list":
		resp.Result = map[string]any{"tools": toolSpecs()}
	case "tools/call":
		resp.Result = s.handleToolsCall(req.Params)
	case "ping":
		resp.Result = map[string]any{}
	default:
		resp.Error = &rpcError{Code: -32601, Message: fmt.Sprintf("method not found: %s", req.Method)}
	}

	return resp
}

func toolSpecs() []map[string]any {
	return []map[string]any{
		{
			"name":        "list_accounts",
			"description": "List saved official accounts with their favorite flag and auto-sync state. Returns nicknames, IDs, and sync schedules.",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"favorites": map[string]any{
						"type":        "boolean",
						"description": "Only return favorite accounts",
					},
					"limit": map[string]any{
						"type":        "integer",
						"description": "Maximum number of accounts to return (default 50)",
					},
					"offset": map[string]any{
						"type":        "integer",
						"description": "Number of accounts to skip for pagination (default 0)",
					},
				},
			},
		},
		{
			"name":        "list_articles",
			"description": "List captured articles, newest first, optionally scoped to one account. Returns titles, URLs, publish timestamps, and whether a full body is stored. Bodies are omitted from listings; use get_article_text.",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"account_id": map[string]any{
						"type":        "string",
						"description": "Only return articles captured from this account",
					},
					"limit": map[string]any{
						"type":        "integer",
						"description": "Maximum number of articles to return (default 20)",
					},
					"offset": map[string]any{
						"type":        "integer",
						"description": "Number of articles to skip for pagination (default 0)",
					},
				},
			},
		},
		{
			"name":        "search_articles",
			"description": "Search captured articles by keyword across title and digest. Returns the same listing shape as list_articles.",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "Keyword to search for",
					},
					"account_id": map[string]any{
						"type":        "string",
						"description": "Only search articles captured from this account",
					},
					"limit": map[string]any{
						"type":        "integer",
						"description": "Maximum number of articles to return (default 20)",
					},
				},
				"required": []string{"query"},
			},
		},
		{
			"name":        "get_article_text",
			"description": "Get the stored plain-text body of one article, with its title, author, and URL. Returns a summary-only note when no body has been captured yet.",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"article_id": map[string]any{
						"type":        "string",
						"description": "The article ID",
					},
				},
				"required": []string{"article_id"},
			},
		},
		{
			"name":        "job_status",
			"description": "Get one capture job by ID, or the currently active job when no ID is given. Returns status, counters, window, and error text.",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"job_id": map[string]any{
						"type":        "string",
						"description": "The job ID. If omitted, returns the active job or a note that the system is idle.",
					},
				},
			},
		},
		{
			"name":        "db_overview",
			"description": "Summarize the database: account, article, and job counts, job counts by status, and login state.",
			"inputSchema": map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
	}
}

func (s *server) handleToolsCall(params json.RawMessage) any {
	var call struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(params, &call); err != nil {
		return errorResult("invalid tool call: %v", err)
	}

	switch call.Name {
	case "list_accounts":
		return s.handleListAccounts(call.Arguments)
	case "list_articles":
		return s.handleListArticles(call.Arguments)
	case "search_articles":
		return s.handleSearchArticles(call.Arguments)
	case "get_article_text":
		return s.handleGetArticleText(call.Arguments)
	case "job_status":
		return s.handleJobStatus(call.Arguments)
	case "db_overview":
		return s.handleDBOverview()
	default:
		return errorResult("unknown tool: %s", call.Name)
	}
}

func (s *server) handleListAccounts(args json.RawMessage) any {
	var params struct {
		Favorites bool `json:"favorites"`
		Limit     int  `json:"limit"`
		Offset    int  `json:"offset"`
	}
	json.Unmarshal(args, &params)
	if params.Limit <= 0 {
		params.Limit = 50
	}

	accounts, total, err := s.engine.ListAccounts(params.Favorites, params.Offset, params.Limit)
	if err != nil {
		return errorResult("%v", err)
	}

	log.Printf("list_accounts: favorites=%t -> %d of %d", params.Favorites, len(accounts), total)
	return jsonResult(map[string]any{"accounts": accounts, "total": total})
}

func (s *server) handleListArticles(args json.RawMessage) any {
	var params struct {
		AccountID string `json:"account_id"`
		Limit     int    `json:"limit"`
		Offset    int    `json:"offset"`
	}
	json.Unmarshal(args, &params)
	if params.Limit <= 0 {
		params.Limit = 20
	}

	articles, total, err := s.engine.ListArticles(params.AccountID, "", params.Offset, params.Limit)
	if err != nil {
		return errorResult("%v", err)
	}

	log.Printf("list_articles: account=%q -> %d of %d", params.AccountID, len(articles), total)
	return jsonResult(map[string]any{"articles": articles, "total": total})
}

func (s *server) handleSearchArticles(args json.RawMessage) any {
	var params struct {
		Query     string `json:"query"`
		AccountID string `json:"account_id"`
		Limit     int    `json:"limit"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return errorResult("invalid arguments: %v", err)
	}
	if params.Query == "" {
		return errorResult("query parameter is required")
	}
	if params.Limit <= 0 {
		params.Limit = 20
	}

	articles, total, err := s.engine.ListArticles(params.AccountID, params.Query, 0, params.Limit)
	if err != nil {
		return errorResult("%v", err)
	}

	log.Printf("search_articles: q=%q -> %d of %d", params.Query, len(articles), total)
	return jsonResult(map[string]any{"articles": articles, "total": total})
}

func (s *server) handleGetArticleText(args json.RawMessage) any {
	var params struct {
		ArticleID string `json:"article_id"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return errorResult("invalid arguments: %v", err)
	}
	if params.ArticleID == "" {
		return errorResult("article_id parameter is required")
	}

	article, err := s.engine.GetArticle(params.ArticleID)
	if err != nil {
		return errorResult("%v", err)
	}
	if article == nil {
		return errorResult("article not found: %s", params.ArticleID)
	}

	log.Printf("get_article_text: id=%s has_content=%t", article.ID, article.HasContent)
	if !article.HasContent {
		return textResult("# %s\n\nBy %s\n%s\n\nNo body captured yet; digest: %s",
			article.Title, article.Author, article.URL, article.Digest)
	}
	return textResult("# %s\n\nBy %s\n%s\n\n%s",
		article.Title, article.Author, article.URL, article.ContentText)
}

func (s *server) handleJobStatus(args json.RawMessage) any {
	var params struct {
		JobID string `json:"job_id"`
	}
	json.Unmarshal(args, &params)

	if params.JobID == "" {
		job, err := s.engine.ActiveJob()
		if err != nil {
			return errorResult("%v", err)
		}
		if job == nil {
			return textResult("No capture job is running.")
		}
		log.Printf("job_status: active id=%s", job.ID)
		return jsonResult(job)
	}

	job, err := s.engine.GetJob(params.JobID)
	if err != nil {
		return errorResult("%v", err)
	}
	if job == nil {
		return errorResult("job not found: %s", params.JobID)
	}

	log.Printf("job_status: id=%s status=%s", job.ID, job.Status)
	return jsonResult(job)
}

func (s *server) handleDBOverview() any {
	overview, err := s.engine.DBOverview()
	if err != nil {
		return errorResult("%v", err)
	}

	log.Printf("db_overview: %d accounts, %d articles, %d jobs",
		overview.Accounts, overview.Articles, overview.Jobs)
	return jsonResult(overview)
}
