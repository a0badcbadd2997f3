// Command enginectl is the operator CLI for the engine's control
// plane: submit, list, inspect, and remove jobs against a running
// engined over its HTTP surface.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/skysweep/internal/jobs"
)

var addr string

func main() {
	rootCmd := &cobra.Command{
		Use:   "enginectl",
		Short: "Control the surveillance data-acquisition engine's Job Manager",
	}
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "http://localhost:8090", "engined control-plane address")

	rootCmd.AddCommand(createCmd(), submitCmd(), listCmd(), getCmd(), removeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type client struct {
	base string
	http *http.Client
}

func newClient() *client {
	return &client{base: addr, http: &http.Client{Timeout: 10 * time.Second}}
}

func (c *client) do(method, path string, body []byte, out any) error {
	req, err := http.NewRequest(method, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("enginectl: request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errBody struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &errBody) == nil && errBody.Error != "" {
			return fmt.Errorf("enginectl: %s", errBody.Error)
		}
		return fmt.Errorf("enginectl: %s %s: status %d", method, path, resp.StatusCode)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("enginectl: decode response: %w", err)
		}
	}
	return nil
}

func createCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create an empty job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := json.Marshal(map[string]string{"name": args[0]})
			if err != nil {
				return err
			}
			var job jobs.Job
			if err := newClient().do(http.MethodPost, "/jobs", body, &job); err != nil {
				return err
			}
			fmt.Printf("job %d created: %s (%s)\n", job.ID, job.Name, job.State)
			return nil
		},
	}
}

func submitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit <file.yaml>",
		Short: "Submit a YAML job description and queue it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("enginectl: read %s: %w", args[0], err)
			}
			var resp struct {
				ID uint64 `json:"id"`
			}
			if err := newClient().do(http.MethodPost, "/jobs/submit", text, &resp); err != nil {
				return err
			}
			fmt.Printf("job %d queued\n", resp.ID)
			return nil
		},
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List every tracked job",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var list []jobs.Job
			if err := newClient().do(http.MethodGet, "/jobs", nil, &list); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSTATE\tPRODUCER\tCONSUMER")
			for _, j := range list {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", j.ID, j.Name, j.State, j.Producer.Site, j.Consumer.Site)
			}
			return w.Flush()
		},
	}
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("enginectl: invalid job id %q: %w", args[0], err)
			}
			var job jobs.Job
			if err := newClient().do(http.MethodGet, fmt.Sprintf("/jobs/%d", id), nil, &job); err != nil {
				return err
			}
			fmt.Printf("ID:       %d\n", job.ID)
			fmt.Printf("Name:     %s\n", job.Name)
			fmt.Printf("State:    %s\n", job.State)
			fmt.Printf("Producer: %s (%s)\n", job.Producer.Site, job.Producer.Kind)
			fmt.Printf("Stages:   %d\n", len(job.Stages))
			fmt.Printf("Consumer: %s\n", job.Consumer.Site)
			return nil
		},
	}
}

func removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Short:   "Remove a job (fails if the job is Running)",
		Aliases: []string{"remove", "delete"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("enginectl: invalid job id %q: %w", args[0], err)
			}
			if err := newClient().do(http.MethodDelete, fmt.Sprintf("/jobs/%d", id), nil, nil); err != nil {
				return err
			}
			fmt.Printf("job %d removed\n", id)
			return nil
		},
	}
}
