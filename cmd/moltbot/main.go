package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/MrGarbonzo/secret-moltbot/internal/version"
	"github.com/spf13/cobra"
)

// devCommands is populated by dev.go (build tag "dev") with dev-only subcommands.
var devCommands []*cobra.Command

const requestTimeout = 30 * time.Second

// resolveServerURL returns the server URL from the flag or MOLTBOT_SERVER_URL
// env var. Returns an error if neither is set.
func resolveServerURL(cmd *cobra.Command, flagValue string) (string, error) {
	normalize := func(v string) string {
		for len(v) > 0 && v[len(v)-1] == '/' {
			v = v[:len(v)-1]
		}
		return v
	}
	if cmd.Flags().Changed("server") {
		return normalize(flagValue), nil
	}
	if v := os.Getenv("MOLTBOT_SERVER_URL"); v != "" {
		return normalize(v), nil
	}
	return "", fmt.Errorf("server URL required: use --server flag or set MOLTBOT_SERVER_URL")
}

func main() {
	rootCmd := &cobra.Command{
		Use:     "moltbot",
		Short:   "Moltbot - TEE-resident Moltbook agent with verifiable attestation",
		Version: version.Version,
	}
	rootCmd.SetVersionTemplate(version.String("moltbot") + "\n")

	rootCmd.AddCommand(newAttestCmd())
	rootCmd.AddCommand(newCertCmd())
	rootCmd.AddCommand(newStatusCmd())
	for _, cmd := range devCommands {
		rootCmd.AddCommand(cmd)
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newAttestCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "attest",
		Short: "Print the agent's current attestation view",
		Long: `Query the running agent for a freshly computed attestation view:
enclave measurement registers, the inference service's TLS identity, the
binding digest, and the resulting trust tier.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := resolveServerURL(cmd, serverURL)
			if err != nil {
				return err
			}
			body, _, err := getJSON(resolved + "/api/attestation")
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), body)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "Moltbot server URL (or set MOLTBOT_SERVER_URL)")
	return cmd
}

func newCertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cert",
		Short: "Inspect the agent's birth certificate",
	}
	cmd.AddCommand(newCertShowCmd())
	cmd.AddCommand(newCertVerifyCmd())
	return cmd
}

func newCertShowCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the stored birth certificate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := resolveServerURL(cmd, serverURL)
			if err != nil {
				return err
			}
			body, status, err := getJSON(resolved + "/api/birth-certificate")
			if err != nil {
				return err
			}
			if status == http.StatusNotFound {
				fmt.Fprintln(cmd.OutOrStdout(), "no birth certificate yet (agent has not completed registration)")
				return nil
			}
			if status != http.StatusOK {
				return fmt.Errorf("server returned %d: %s", status, body)
			}
			return printJSON(cmd.OutOrStdout(), body)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "Moltbot server URL (or set MOLTBOT_SERVER_URL)")
	return cmd
}

func newCertVerifyCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the birth certificate against the current measurements",
		Long: `Fetch the birth certificate and its comparison against the current
attestation view. Exit code 0 means the record is intact and the code
measurement is unchanged (or not applicable); 1 means the code has changed
since birth; 2 means the stored record is corrupt or unverifiable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := resolveServerURL(cmd, serverURL)
			if err != nil {
				return err
			}
			body, status, err := getJSON(resolved + "/api/birth-certificate")
			if err != nil {
				return err
			}

			var res struct {
				Status      string `json:"status"`
				CodeChanged string `json:"code_changed_since_birth"`
				Error       string `json:"error"`
			}
			if err := json.Unmarshal(body, &res); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}

			switch {
			case status == http.StatusNotFound:
				fmt.Fprintln(cmd.OutOrStdout(), "NOT FOUND: no birth certificate yet")
				os.Exit(2)
			case res.Status == "corrupt":
				fmt.Fprintf(cmd.OutOrStdout(), "CORRUPT: %s\n", res.Error)
				os.Exit(2)
			case status != http.StatusOK:
				return fmt.Errorf("server returned %d: %s", status, body)
			case res.CodeChanged == "true":
				fmt.Fprintln(cmd.OutOrStdout(), "CHANGED: code measurement differs from birth certificate")
				os.Exit(1)
			case res.CodeChanged == "not_applicable":
				fmt.Fprintln(cmd.OutOrStdout(), "OK: record intact (no enclave measurement at birth, nothing to compare)")
			default:
				fmt.Fprintln(cmd.OutOrStdout(), "OK: record intact, code measurement unchanged since birth")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "Moltbot server URL (or set MOLTBOT_SERVER_URL)")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the agent's lifecycle status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := resolveServerURL(cmd, serverURL)
			if err != nil {
				return err
			}
			body, _, err := getJSON(resolved + "/api/status")
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), body)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "Moltbot server URL (or set MOLTBOT_SERVER_URL)")
	return cmd
}

func getJSON(url string) ([]byte, int, error) {
	client := &http.Client{Timeout: requestTimeout}
	resp, err := client.Get(url)
	if err != nil {
		return nil, 0, fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func printJSON(w io.Writer, body []byte) error {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(out))
	return nil
}
