package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/david/rfp-finder/internal/ingest"
)

// triggerCommand asks a running server to scan, instead of scanning locally.
func triggerCommand() *cli.Command {
	return &cli.Command{
		Name:      "trigger",
		Usage:     "start a scan on a running server",
		ArgsUsage: "[UTILITY_ID]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Value: "http://localhost:8080", EnvVars: []string{"RFP_SERVER"}},
			&cli.StringFlag{Name: "secret", EnvVars: []string{"ADMIN_SECRET"}, Usage: "admin secret for the server"},
		},
		Action: func(c *cli.Context) error {
			secret := strings.TrimSpace(c.String("secret"))
			if secret == "" {
				return fmt.Errorf("%w: missing ADMIN_SECRET", ingest.ErrConfig)
			}

			endpoint := strings.TrimRight(c.String("server"), "/") + "/api/v1/scan"
			if id := c.Args().First(); id != "" {
				endpoint += "/" + url.PathEscape(id)
			}
			req, err := http.NewRequestWithContext(c.Context, http.MethodPost, endpoint, nil)
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}
			req.Header.Set("X-Admin-Secret", secret)

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("send request: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("read response: %w", err)
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
			}

			var results []ingest.ScanResult
			if c.Args().First() != "" {
				var one ingest.ScanResult
				if err := json.Unmarshal(body, &one); err != nil {
					return fmt.Errorf("decode response: %w", err)
				}
				results = append(results, one)
			} else if err := json.Unmarshal(body, &results); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			renderRuns(os.Stdout, runsOf(results))
			return nil
		},
	}
}
