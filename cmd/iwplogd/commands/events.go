package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/iwplog/iwplogd/internal/cli/output"
)

var (
	eventsOutput    string
	eventsAdminPort int
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List events held by a running server",
	Long: `List the event records of a running iwplogd server, newest first.

Reads the admin API, so the server must be running with the admin
listener enabled.

Examples:
  # List events as a table
  iwplogd events

  # List events as JSON
  iwplogd events --output json

  # Custom admin port
  iwplogd events --admin-port 9780`,
	RunE: runEvents,
}

func init() {
	eventsCmd.Flags().IntVar(&eventsAdminPort, "admin-port", 8780, "Admin listener port")
	eventsCmd.Flags().StringVarP(&eventsOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// eventSummary mirrors one entry of the GET /api/events body.
type eventSummary struct {
	ID         string    `json:"id" yaml:"id"`
	IP         string    `json:"ip" yaml:"ip"`
	Datetime   time.Time `json:"datetime" yaml:"datetime"`
	ErrorCode  string    `json:"error_code" yaml:"error_code"`
	ErrorClass string    `json:"error_class" yaml:"error_class"`
	Categories int       `json:"categories" yaml:"categories"`
	LogLines   int       `json:"log_lines" yaml:"log_lines"`
}

type eventList struct {
	Count  int            `json:"count" yaml:"count"`
	Events []eventSummary `json:"events" yaml:"events"`
}

func runEvents(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(eventsOutput)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/api/events", eventsAdminPort)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("admin API unreachable at %s (is the server running?): %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("admin API returned %s", resp.Status)
	}

	var list eventList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return fmt.Errorf("invalid admin API response: %w", err)
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, list)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, list)
	default:
		if list.Count == 0 {
			fmt.Println("No events recorded.")
			return nil
		}
		table := output.NewTableData("ID", "DEVICE", "FAULT TIME", "ERROR", "CLASS", "CATEGORIES", "LINES")
		for _, ev := range list.Events {
			table.AddRow(ev.ID, ev.IP, ev.Datetime.Format(time.RFC3339), ev.ErrorCode, ev.ErrorClass,
				strconv.Itoa(ev.Categories), strconv.Itoa(ev.LogLines))
		}
		return output.PrintTable(os.Stdout, table)
	}
}
