package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

type eventCount struct {
	Event    string `json:"event"`
	Category string `json:"category"`
	Count    int64  `json:"count"`
}

func eventsCmd(g *globals, ui *ui) *cobra.Command {
	return &cobra.Command{
		Use:     "events",
		Short:   "Show security event counters of a running server",
		Example: "jwtguard events --server http://localhost:8080 --token $ADMIN_TOKEN",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if g.serverURL == "" {
				return errors.New("server is required (use --server or JWTGUARD_SERVER_URL)")
			}
			if g.token == "" {
				return errors.New("token is required (use --token or JWTGUARD_TOKEN)")
			}
			c := newClient(g.serverURL)
			spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
			spin.Suffix = " Fetching security events..."
			spin.Start()
			status, resp, err := c.request("GET", "/v1/admin/security-events", g.token, nil)
			spin.Stop()
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d) using token %s: %s", status, maskToken(g.token), string(resp))
			}
			var out struct {
				Events []eventCount `json:"events"`
			}
			if err := json.Unmarshal(resp, &out); err != nil {
				fmt.Println(string(resp))
				return nil
			}
			if len(out.Events) == 0 {
				fmt.Println(ui.dim("no events recorded"))
				return nil
			}
			for _, e := range out.Events {
				paint := ui.err
				switch e.Category {
				case "success":
					paint = ui.ok
				case "jwks":
					paint = ui.warn
				}
				fmt.Printf("  %-30s %-18s %d\n", paint(e.Event), ui.dim(e.Category), e.Count)
			}
			return nil
		},
	}
}
