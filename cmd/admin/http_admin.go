package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	os.Exit(adminRequest(http.MethodGet, adminURL(*baseURL, "/admin/v1/state", nil), 5*time.Second))
}

func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	os.Exit(adminRequest(http.MethodPost, adminURL(*baseURL, "/admin/v1/snapshot", nil), 10*time.Second))
}

func adminURL(base, path string, q url.Values) string {
	u := strings.TrimRight(strings.TrimSpace(base), "/") + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// adminRequest prints the response body and returns the process exit code.
func adminRequest(method, u string, timeout time.Duration) int {
	req, err := http.NewRequest(method, u, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		return 2
	}
	cl := &http.Client{Timeout: timeout}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		return 1
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		return 1
	}
	return 0
}

func recentCmd(args []string) {
	fs := flag.NewFlagSet("recent", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	building := fs.String("building", "", "building id filter")
	limit := fs.Int("limit", 50, "result limit")
	_ = fs.Parse(args)

	q := url.Values{}
	if b := strings.TrimSpace(*building); b != "" {
		q.Set("building", b)
	}
	q.Set("limit", fmt.Sprint(*limit))
	os.Exit(adminRequest(http.MethodGet, adminURL(*baseURL, "/admin/v1/events", q), 5*time.Second))
}
