package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/statehound/internal/browser"
	"github.com/xkilldash9x/statehound/internal/config"
	"github.com/xkilldash9x/statehound/internal/idp"
	"github.com/xkilldash9x/statehound/internal/observability"
	"github.com/xkilldash9x/statehound/internal/provider"
)

var cookiesCmd = &cobra.Command{
	Use:   "cookies (attacker|victim)",
	Short: "Mint a cookie jar for a control account interactively.",
	Long: `Opens a visible browser on the provider's sign-in page so you can
complete the login by hand, including any challenges the automated form
fill cannot pass, then saves the session cookies to the account's jar.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCookies(cmd.Context(), args[0])
	},
}

func runCookies(ctx context.Context, role string) error {
	cfg := config.Get()
	logger := observability.GetLogger()

	var account config.Account
	switch role {
	case "attacker":
		account = cfg.Accounts.Attacker
	case "victim":
		account = cfg.Accounts.Victim
	default:
		return fmt.Errorf("unknown role %q (want attacker or victim)", role)
	}
	if account.CookieFile == "" {
		return fmt.Errorf("accounts.%s.cookie_file is not configured", role)
	}

	prov, err := idp.ParseProvider(cfg.Attack.Provider)
	if err != nil {
		return fmt.Errorf("attack.provider: %w", err)
	}

	// Interactive logins need a window regardless of the configured mode.
	browserCfg := cfg.Browser
	browserCfg.Headless = false

	chrome, err := browser.New(ctx, browserCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}
	defer chrome.Close()

	if err := chrome.Navigate(ctx, provider.LoginPageURL(prov)); err != nil {
		return fmt.Errorf("failed to open sign-in page: %w", err)
	}

	fmt.Printf("Log in as %s (%s) in the browser window, then press Enter here.\n", account.Name, account.Username)
	if _, err := bufio.NewReader(os.Stdin).ReadString('\n'); err != nil {
		return fmt.Errorf("aborted: %w", err)
	}

	if err := chrome.SaveCookies(ctx, account.CookieFile); err != nil {
		return fmt.Errorf("failed to save cookie jar: %w", err)
	}
	logger.Info("Cookie jar saved",
		zap.String("role", role),
		zap.String("path", account.CookieFile),
	)
	return nil
}
