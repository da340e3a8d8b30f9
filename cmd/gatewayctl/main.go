// Command gatewayctl is a small admin CLI against a running gateway's admin
// API (spec.md §6 "Admin Bearer" endpoints). Grounded on the teacher's
// internal/tui/status_bar.go use of golang.org/x/term for terminal-size and
// tty detection, repurposed here to cap the width of the separator line it
// prints and to decide
// whether the admin password may be prompted for interactively.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"golang.org/x/term"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8000", "gateway base URL")
	password := flag.String("password", os.Getenv("ADMIN_PASSWORD"), "admin password (prompted if omitted and stdin is a tty)")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: gatewayctl [-url URL] [-password PASS] <status|accounts|keys|stats>")
		os.Exit(2)
	}

	if *password == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		*password = promptPassword()
	}

	c := &client{baseURL: strings.TrimRight(*baseURL, "/"), password: *password}

	var err error
	switch args[0] {
	case "status":
		err = c.get("/api/proxy/status", false)
	case "stats":
		err = c.get("/api/proxy/stats", true)
	case "accounts":
		err = c.get("/api/accounts", true)
	case "keys":
		err = c.get("/api/keys", true)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func promptPassword() string {
	fmt.Fprint(os.Stderr, "admin password: ")
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return ""
	}
	return string(b)
}

type client struct {
	baseURL  string
	password string
}

func (c *client) get(path string, admin bool) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if admin {
		req.Header.Set("Authorization", "Bearer "+c.password)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s: %s", resp.Status, string(body))
	}

	return printPretty(body)
}

func printPretty(body []byte) error {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		_, err := os.Stdout.Write(body)
		return err
	}
	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()

	width := 80
	if tw, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && tw > 0 {
		width = tw
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return err
	}
	fmt.Fprintln(w, strings.Repeat("-", min(width, 80)))
	return nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
