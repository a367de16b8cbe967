package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var adminAddr string

func main() {
	root := &cobra.Command{
		Use:   "poolctl",
		Short: "Inspect and control a running httpclient poold instance.",
	}
	root.PersistentFlags().StringVar(&adminAddr, "addr", "http://localhost:8090", "poold admin server address")
	root.AddCommand(statsCmd())
	root.AddCommand(drainCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func statsCmd() *cobra.Command {
	var origin string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print point-in-time stats for every pool, or one origin with --origin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/debug/pools"
			if origin != "" {
				path = "/debug/pools/" + origin
			}
			body, err := getJSON(path)
			if err != nil {
				return err
			}
			fmt.Println(body)
			return nil
		},
	}
	cmd.Flags().StringVar(&origin, "origin", "", "limit output to a single origin")
	return cmd
}

func drainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drain <origin>",
		Short: "Shut down the pool for one origin and forget it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			origin := args[0]
			resp, err := http.Post(adminAddr+"/debug/pools/"+origin+"/drain", "application/json", nil)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusNotFound {
				return fmt.Errorf("no pool tracked for origin %q", origin)
			}
			if resp.StatusCode != http.StatusAccepted {
				return fmt.Errorf("drain failed: %s", resp.Status)
			}
			fmt.Printf("drained %s\n", origin)
			return nil
		},
	}
}

func getJSON(path string) (string, error) {
	resp, err := http.Get(adminAddr + path)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var v interface{}
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return "", err
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(pretty), nil
}
