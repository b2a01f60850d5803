// Command riskctl is the operator CLI against the risk engine's
// operational HTTP surface (spec §6: status, config view/reload/validate,
// lockout list/clear, pnl show), rendering tabular output the way an
// on-call operator would read it from a terminal.
//
// Table rendering is grounded on the polybot example's console notifier
// (tablewriter.NewWriter/Header/Append/Render); subcommand dispatch uses
// the standard library's flag package, since no repository in the
// retrieval pack wires a CLI framework to otherwise ground one on.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "risk engine operational server address")
	flag.Parse()
	args := flag.Args()

	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	client := &client{base: *addr, http: &http.Client{Timeout: 10 * time.Second}}

	var err error
	switch args[0] {
	case "status":
		err = cmdStatus(client)
	case "config":
		err = dispatchConfig(client, args[1:])
	case "lockout":
		err = dispatchLockout(client, args[1:])
	case "pnl":
		err = cmdPnL(client, args[1:])
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "riskctl:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: riskctl [-addr URL] <command>

commands:
  status                 summary of accounts, daily P&L, active lockouts
  config view             print the currently loaded rule document
  config reload           re-read and apply the rule file from disk
  config validate         check the on-disk rule file without applying it
  lockout list             list active lockouts
  lockout clear <account>  clear an account's active lockout
  pnl <account>            show an account's daily realized P&L`)
}

func dispatchConfig(c *client, args []string) error {
	if len(args) == 0 {
		usage()
		return fmt.Errorf("config requires a subcommand")
	}
	switch args[0] {
	case "view":
		return cmdConfigView(c)
	case "reload":
		return cmdConfigReload(c)
	case "validate":
		return cmdConfigValidate(c)
	default:
		return fmt.Errorf("unknown config subcommand %q", args[0])
	}
}

func dispatchLockout(c *client, args []string) error {
	if len(args) == 0 {
		usage()
		return fmt.Errorf("lockout requires a subcommand")
	}
	switch args[0] {
	case "list":
		return cmdLockoutList(c)
	case "clear":
		if len(args) < 2 {
			return fmt.Errorf("lockout clear requires an account id")
		}
		return cmdLockoutClear(c, args[1])
	default:
		return fmt.Errorf("unknown lockout subcommand %q", args[0])
	}
}

// client is a minimal JSON HTTP client against internal/server's routes.
type client struct {
	base string
	http *http.Client
}

func (c *client) get(path string, out any) error {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decode(resp, out)
}

func (c *client) post(path string, out any) error {
	resp, err := c.http.Post(c.base+path, "application/json", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decode(resp, out)
}

func decode(resp *http.Response, out any) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

func cmdStatus(c *client) error {
	var status struct {
		Status        string            `json:"status"`
		UptimeSeconds int               `json:"uptime_seconds"`
		Accounts      []string          `json:"accounts"`
		DailyPnL      map[string]string `json:"daily_pnl"`
		Lockouts      []lockoutRow      `json:"lockouts"`
	}
	if err := c.get("/api/status", &status); err != nil {
		return err
	}

	fmt.Printf("status: %s (uptime %ds)\n\n", status.Status, status.UptimeSeconds)

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Account", "Daily P&L")
	for _, account := range status.Accounts {
		table.Append(account, status.DailyPnL[account])
	}
	table.Render()

	if len(status.Lockouts) > 0 {
		fmt.Println()
		renderLockouts(status.Lockouts)
	}
	return nil
}

type lockoutRow struct {
	AccountID        string `json:"account_id"`
	Reason           string `json:"reason"`
	Kind             string `json:"kind"`
	ExpiresAt        string `json:"expires_at"`
	RemainingSeconds int64  `json:"remaining_seconds"`
}

func renderLockouts(rows []lockoutRow) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Account", "Reason", "Kind", "Expires At", "Remaining (s)")
	for _, r := range rows {
		table.Append(r.AccountID, r.Reason, r.Kind, r.ExpiresAt, fmt.Sprintf("%d", r.RemainingSeconds))
	}
	table.Render()
}

func cmdLockoutList(c *client) error {
	var rows []lockoutRow
	if err := c.get("/api/lockouts/", &rows); err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Println("no active lockouts")
		return nil
	}
	renderLockouts(rows)
	return nil
}

func cmdLockoutClear(c *client, account string) error {
	var out map[string]string
	if err := c.post("/api/lockouts/"+account+"/clear", &out); err != nil {
		return err
	}
	fmt.Printf("cleared lockout for %s\n", account)
	return nil
}

func cmdConfigView(c *client) error {
	var doc json.RawMessage
	if err := c.get("/api/config/", &doc); err != nil {
		return err
	}
	pretty, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(pretty))
	return nil
}

func cmdConfigReload(c *client) error {
	var out map[string]string
	if err := c.post("/api/config/reload", &out); err != nil {
		return err
	}
	fmt.Println("configuration reloaded")
	return nil
}

func cmdConfigValidate(c *client) error {
	var out struct {
		Valid bool   `json:"valid"`
		Error string `json:"error"`
	}
	if err := c.post("/api/config/validate", &out); err != nil {
		return err
	}
	if out.Valid {
		fmt.Println("valid")
		return nil
	}
	fmt.Printf("invalid: %s\n", out.Error)
	return nil
}

func cmdPnL(c *client, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("pnl requires an account id")
	}
	var out struct {
		AccountID        string `json:"account_id"`
		DailyRealizedPnL string `json:"daily_realized_pnl"`
	}
	if err := c.get("/api/pnl/"+args[0], &out); err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", out.AccountID, out.DailyRealizedPnL)
	return nil
}
