package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rohankatakam/harvest/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets redacted",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := yaml.Marshal(redacted(cfg))
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(out)
		return err
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check that the configuration is complete for extraction",
	RunE: func(cmd *cobra.Command, args []string) error {
		result := cfg.Validate(config.ValidationContextExtract)
		for _, w := range result.Warnings {
			fmt.Printf("⚠ %s\n", w)
		}
		if result.HasErrors() {
			return fmt.Errorf("%s", result.Error())
		}
		fmt.Println("✓ configuration is valid")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func redacted(c *config.Config) config.Config {
	out := *c
	if out.GitHub.Token != "" {
		out.GitHub.Token = mask(out.GitHub.Token)
	}
	if len(out.GitHub.Tokens) > 0 {
		masked := make([]string, len(out.GitHub.Tokens))
		for i, t := range out.GitHub.Tokens {
			masked[i] = mask(t)
		}
		out.GitHub.Tokens = masked
	}
	if out.Neo4j.Password != "" {
		out.Neo4j.Password = "****"
	}
	if out.Storage.PostgresDSN != "" {
		out.Storage.PostgresDSN = "****"
	}
	return out
}

func mask(secret string) string {
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "****" + secret[len(secret)-4:]
}
