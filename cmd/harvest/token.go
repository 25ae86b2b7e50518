package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rohankatakam/harvest/internal/config"
)

const tokenPageURL = "https://github.com/settings/tokens/new?description=harvest&scopes=repo"

var tokenOpenBrowser bool

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage the GitHub token stored in the OS keychain",
}

var tokenSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Store a GitHub token in the OS keychain",
	RunE: func(cmd *cobra.Command, args []string) error {
		km := config.NewKeyringManager()
		if !km.IsAvailable() {
			return fmt.Errorf("OS keychain is not available, set GITHUB_TOKEN or github.token instead")
		}

		if tokenOpenBrowser {
			if err := browser.OpenURL(tokenPageURL); err != nil {
				fmt.Printf("Could not open a browser, visit %s\n", tokenPageURL)
			}
		}

		fmt.Print("GitHub token: ")
		token, err := readSecret()
		if err != nil {
			return err
		}
		if token == "" {
			return fmt.Errorf("no token entered")
		}

		if err := km.SetGitHubToken(token); err != nil {
			return err
		}
		fmt.Println("✓ Saved to keychain")
		return nil
	},
}

var tokenDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove the GitHub token from the OS keychain",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.NewKeyringManager().DeleteGitHubToken(); err != nil {
			return err
		}
		fmt.Println("✓ Removed from keychain")
		return nil
	},
}

func init() {
	tokenSetCmd.Flags().BoolVar(&tokenOpenBrowser, "open", false, "open the GitHub token page in a browser first")
	tokenCmd.AddCommand(tokenSetCmd)
	tokenCmd.AddCommand(tokenDeleteCmd)
}

// readSecret reads without echo from a terminal, or a line from piped stdin
func readSecret() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
