package tabletalkctl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("tabletalkctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "TableTalk API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 30*time.Second), "HTTP timeout (e.g. 30s)")
	tables := fs.String("tables", "", "comma-separated table names to restrict ask to (default: all)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	runner := &runner{
		client:  client,
		baseURL: strings.TrimRight(*baseURL, "/"),
		apiKey:  strings.TrimSpace(*apiKey),
		stdout:  stdout,
		stderr:  stderr,
	}

	command := strings.TrimSpace(fs.Arg(0))
	rest := fs.Args()[1:]
	switch command {
	case "health":
		return runner.get(ctx, "/v1/health")
	case "ready":
		return runner.get(ctx, "/v1/ready")
	case "tables":
		return runner.get(ctx, "/v1/tables")
	case "table":
		if len(rest) != 1 {
			_, _ = fmt.Fprintln(stderr, "usage: tabletalkctl table <name>")
			return 2
		}
		return runner.get(ctx, "/v1/tables/"+rest[0])
	case "history":
		return runner.get(ctx, "/v1/history")
	case "upload":
		if len(rest) != 2 {
			_, _ = fmt.Fprintln(stderr, "usage: tabletalkctl upload <name> <file.csv>")
			return 2
		}
		return runner.upload(ctx, rest[0], rest[1])
	case "drop":
		if len(rest) != 1 {
			_, _ = fmt.Fprintln(stderr, "usage: tabletalkctl drop <name>")
			return 2
		}
		return runner.drop(ctx, rest[0])
	case "ask":
		if len(rest) == 0 {
			_, _ = fmt.Fprintln(stderr, "usage: tabletalkctl [-tables a,b] ask <question>")
			return 2
		}
		return runner.ask(ctx, strings.Join(rest, " "), splitTables(*tables))
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}
}

type runner struct {
	client  *http.Client
	baseURL string
	apiKey  string
	stdout  io.Writer
	stderr  io.Writer
}

func (r *runner) get(ctx context.Context, path string) int {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+path, nil)
	if err != nil {
		_, _ = fmt.Fprintf(r.stderr, "request failed: %v\n", err)
		return 1
	}
	req.Header.Set("Accept", "application/json")
	return r.do(req)
}

func (r *runner) drop(ctx context.Context, tableName string) int {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, r.baseURL+"/v1/tables/"+tableName, nil)
	if err != nil {
		_, _ = fmt.Fprintf(r.stderr, "request failed: %v\n", err)
		return 1
	}
	return r.do(req)
}

func (r *runner) upload(ctx context.Context, tableName, csvPath string) int {
	file, err := os.Open(csvPath)
	if err != nil {
		_, _ = fmt.Fprintf(r.stderr, "open %s: %v\n", csvPath, err)
		return 1
	}
	defer func() { _ = file.Close() }()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filepath.Base(csvPath))
	if err == nil {
		_, err = io.Copy(part, file)
	}
	if err == nil {
		err = writer.Close()
	}
	if err != nil {
		_, _ = fmt.Fprintf(r.stderr, "build upload: %v\n", err)
		return 1
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/tables/"+tableName, body)
	if err != nil {
		_, _ = fmt.Fprintf(r.stderr, "request failed: %v\n", err)
		return 1
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return r.do(req)
}

func (r *runner) do(req *http.Request) int {
	if r.apiKey != "" {
		req.Header.Set("X-API-Key", r.apiKey)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		_, _ = fmt.Fprintf(r.stderr, "request failed: %v\n", err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		_, _ = fmt.Fprintf(r.stderr, "read response: %v\n", err)
		return 1
	}
	if resp.StatusCode >= 400 {
		_, _ = fmt.Fprintf(r.stderr, "http %d: %s\n", resp.StatusCode, strings.TrimSpace(string(responseBody)))
		return 1
	}
	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(r.stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(r.stdout, string(responseBody))
	}
	return 0
}

// ask streams the answer. Pipeline events are printed one per line as
// they arrive; summary tokens are written contiguously so the prose
// reads as a sentence.
func (r *runner) ask(ctx context.Context, question string, tables []string) int {
	body := map[string]any{"question": question}
	if len(tables) > 0 {
		body["tables"] = tables
	}
	payload, err := json.Marshal(body)
	if err != nil {
		_, _ = fmt.Fprintf(r.stderr, "encode question: %v\n", err)
		return 1
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/query", bytes.NewReader(payload))
	if err != nil {
		_, _ = fmt.Fprintf(r.stderr, "request failed: %v\n", err)
		return 1
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if r.apiKey != "" {
		req.Header.Set("X-API-Key", r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		_, _ = fmt.Fprintf(r.stderr, "request failed: %v\n", err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		responseBody, _ := io.ReadAll(resp.Body)
		_, _ = fmt.Fprintf(r.stderr, "http %d: %s\n", resp.StatusCode, strings.TrimSpace(string(responseBody)))
		return 1
	}

	failed := false
	inSummary := false
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	event := ""
	for scanner.Scan() {
		line := scanner.Text()
		if after, ok := strings.CutPrefix(line, "event: "); ok {
			event = after
			continue
		}
		after, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		switch event {
		case "summary":
			var token struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal([]byte(after), &token); err == nil {
				_, _ = fmt.Fprint(r.stdout, token.Text)
				inSummary = true
			}
		case "done":
			if inSummary {
				_, _ = fmt.Fprintln(r.stdout)
			}
		case "error":
			failed = true
			_, _ = fmt.Fprintf(r.stderr, "[%s] %s\n", event, after)
		default:
			_, _ = fmt.Fprintf(r.stdout, "[%s] %s\n", event, after)
		}
	}
	if err := scanner.Err(); err != nil {
		_, _ = fmt.Fprintf(r.stderr, "read stream: %v\n", err)
		return 1
	}
	if failed {
		return 1
	}
	return 0
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: tabletalkctl [flags] <command>")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                 GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                  GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  tables                 GET /v1/tables")
	_, _ = fmt.Fprintln(w, "  table <name>           GET /v1/tables/{name}")
	_, _ = fmt.Fprintln(w, "  upload <name> <file>   POST /v1/tables/{name} (CSV upload)")
	_, _ = fmt.Fprintln(w, "  drop <name>            DELETE /v1/tables/{name}")
	_, _ = fmt.Fprintln(w, "  history                GET /v1/history")
	_, _ = fmt.Fprintln(w, "  ask <question>         POST /v1/query (streams the answer; -tables restricts it)")
}

func splitTables(raw string) []string {
	var names []string
	for _, name := range strings.Split(raw, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
