package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bryanchriswhite/ColorChecker/internal/region"
	"github.com/spf13/cobra"
)

var addrFlag string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running service",
	Long:  `Print the within-tolerance state reported by a running service.`,
	Example: `  colorchecker status
  colorchecker status --addr http://camera.local:8080`,
	RunE: runStatus,
}

var pickCmd = &cobra.Command{
	Use:   "pick",
	Short: "Use the current region color as the reference",
	Long: `Ask a running service to take the average color of the next frame as
the new reference color. Uses http.admin_token from the config (or
COLORCHECKER_ADMIN_TOKEN) when set.`,
	RunE: runPick,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(pickCmd)
	for _, c := range []*cobra.Command{statusCmd, pickCmd} {
		c.Flags().StringVar(&addrFlag, "addr", "", "service base URL (default http://localhost:<http.port>)")
	}
}

func baseURL() (string, string, error) {
	mgr, cfg, err := loadConfig()
	if err != nil {
		return "", "", err
	}
	mgr.Close()
	if addrFlag != "" {
		return strings.TrimRight(addrFlag, "/"), cfg.HTTP.AdminToken, nil
	}
	return fmt.Sprintf("http://localhost:%d", cfg.HTTP.Port), cfg.HTTP.AdminToken, nil
}

func get(url, token string, v any) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, v)
}

func runStatus(cmd *cobra.Command, args []string) error {
	base, _, err := baseURL()
	if err != nil {
		return err
	}
	var st struct {
		Status bool `json:"status"`
	}
	if err := get(base+"/cgi/getstatus.cgi", "", &st); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "within tolerance: %t\n", st.Status)
	return nil
}

func runPick(cmd *cobra.Command, args []string) error {
	base, token, err := baseURL()
	if err != nil {
		return err
	}
	var c region.Color
	if err := get(base+"/cgi/pickcurrent.cgi", token, &c); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "reference color: %s %s\n", c, c.Hex())
	return nil
}
