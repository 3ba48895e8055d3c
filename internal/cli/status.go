package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/aditya/relaychat/internal/config"
	"github.com/aditya/relaychat/pkg/orchestrator"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show relay server status",
	Long:  `Query the running relay server's health endpoint and print its status.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/api/health", cfg.Server.Port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		fmt.Println("Status: stopped")
		return nil
	}
	defer resp.Body.Close()

	var health orchestrator.Health
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("failed to decode health response: %w", err)
	}

	fmt.Printf("Status: %s\n", health.Status)
	fmt.Printf("Database connected: %v\n", health.DatabaseConnected)
	fmt.Printf("AI service: %s\n", health.AIService)
	fmt.Printf("Timestamp: %s\n", health.Timestamp.Format(time.RFC3339))

	return nil
}
