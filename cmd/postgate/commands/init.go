package commands

import (
	"fmt"
	"os"

	"github.com/MEKXH/postgate/internal/config"
	"github.com/spf13/cobra"
)

func NewInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize postgate configuration",
		RunE:  runInit,
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := config.ConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config already exists: %s\n", configPath)
		return nil
	}

	cfg := config.DefaultConfig()
	auditDir, err := cfg.AuditDir()
	if err != nil {
		return err
	}

	for _, dir := range []string{config.ConfigDir(), auditDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Printf("Postgate initialized!\n")
	fmt.Printf("Config: %s\n", configPath)
	fmt.Printf("Audit log: %s\n", auditDir)
	fmt.Printf("\nNext steps:\n")
	fmt.Printf("1. Edit %s to enable a channel (discord, telegram, slack or webhook)\n", configPath)
	fmt.Printf("2. Run 'postgate serve' to start the gateway\n")

	return nil
}
