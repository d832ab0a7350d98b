package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/hamed0406/opsmonitor/internal/domain"
)

const usage = `usage: opsmonitor-cli <command> [flags]

commands:
  add     register a service (prompts for the URL when --url is omitted)
  list    show monitored services and their status
  check   probe one service now: check <id>
  logs    show recent log entries

environment:
  API_BASE  API root (default http://localhost:8080)
  API_KEY   key sent as X-API-Key
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

type client struct {
	base string
	key  string
	http *http.Client
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	c := &client{
		base: strings.TrimRight(envOr("API_BASE", "http://localhost:8080"), "/"),
		key:  os.Getenv("API_KEY"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
	if len(args) == 0 {
		args = []string{"add"}
	}

	var err error
	switch args[0] {
	case "add":
		err = c.add(args[1:], stdin, stdout)
	case "list":
		err = c.list(stdout)
	case "check":
		err = c.check(args[1:], stdout)
	case "logs":
		err = c.logs(args[1:], stdout)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprint(stderr, usage)
		return 2
	}
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}

func (c *client) add(args []string, stdin io.Reader, stdout io.Writer) error {
	var (
		name, rawURL, kind string
		expected           int
		inactive           bool
	)
	flagSet := pflag.NewFlagSet("add", pflag.ContinueOnError)
	flagSet.StringVar(&name, "name", "", "display name (defaults to the host)")
	flagSet.StringVar(&rawURL, "url", "", "URL, host or host:port to monitor")
	flagSet.StringVarP(&kind, "type", "t", string(domain.KindHTTP), "check type: http, ping or tcp")
	flagSet.IntVar(&expected, "expected-status", http.StatusOK, "expected HTTP status code")
	flagSet.BoolVar(&inactive, "inactive", false, "register without scheduling checks")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	if rawURL == "" {
		fmt.Fprint(stdout, "Enter a site URL to monitor (e.g., https://example.com): ")
		line, _ := bufio.NewReader(stdin).ReadString('\n')
		rawURL = strings.TrimSpace(line)
	}
	if rawURL == "" {
		return errors.New("a URL is required")
	}
	if domain.CheckKind(kind) == domain.KindHTTP {
		if !strings.Contains(rawURL, "://") {
			rawURL = "https://" + rawURL
		}
		if _, err := url.ParseRequestURI(rawURL); err != nil {
			return fmt.Errorf("invalid URL: %w", err)
		}
	}
	if name == "" {
		name = hostOf(rawURL)
	}

	body, _ := json.Marshal(map[string]any{
		"name":            name,
		"url":             rawURL,
		"check_type":      kind,
		"expected_status": expected,
		"is_active":       !inactive,
	})
	var t domain.Target
	if err := c.do(http.MethodPost, "/api/services", body, &t); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Added %s (%s). It will be checked on the next cycle.\n", t.Name, t.ID)
	return nil
}

func (c *client) list(stdout io.Writer) error {
	var ts []domain.Target
	if err := c.do(http.MethodGet, "/api/services", nil, &ts); err != nil {
		return err
	}
	for _, t := range ts {
		fmt.Fprintf(stdout, "%-36s  %-9s %-8s %s (%s)\n", t.ID, t.Status, latency(t.ResponseTimeMS), t.Name, t.URL)
	}
	return nil
}

func (c *client) check(args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: check <id>")
	}
	var t domain.Target
	if err := c.do(http.MethodPost, "/api/services/"+url.PathEscape(args[0])+"/check", nil, &t); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s is %s (%s)\n", t.Name, t.Status, latency(t.ResponseTimeMS))
	return nil
}

func (c *client) logs(args []string, stdout io.Writer) error {
	var (
		level, source string
		limit         int
	)
	flagSet := pflag.NewFlagSet("logs", pflag.ContinueOnError)
	flagSet.StringVar(&level, "level", "", "only this level (INFO, WARNING, CRITICAL, ...)")
	flagSet.StringVar(&source, "source", "", "only this source")
	flagSet.IntVarP(&limit, "limit", "n", 50, "maximum entries")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	q := url.Values{}
	if level != "" {
		q.Set("level", level)
	}
	if source != "" {
		q.Set("source", source)
	}
	q.Set("limit", fmt.Sprint(limit))

	var entries []domain.LogEntry
	if err := c.do(http.MethodGet, "/api/logs?"+q.Encode(), nil, &entries); err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Fprintf(stdout, "%s  %-8s %-15s %s\n", e.Timestamp.Format(time.RFC3339), e.Level, e.Source, e.Message)
	}
	return nil
}

func (c *client) do(method, path string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.key != "" {
		req.Header.Set("X-API-Key", c.key)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("contacting API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error != "" {
			return fmt.Errorf("API returned %s: %s", resp.Status, e.Error)
		}
		return fmt.Errorf("API returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func latency(ms *float64) string {
	if ms == nil {
		return "-"
	}
	return fmt.Sprintf("%.0fms", *ms)
}

func hostOf(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return raw
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
