package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bionicotaku/lingo-utils-appleid"
)

var authorizeURLCmd = &cobra.Command{
	Use:   "authorize-url",
	Short: "Print an authorization URL with a fresh state and nonce",
	RunE: func(cmd *cobra.Command, _ []string) error {
		exchanger, err := newExchanger()
		if err != nil {
			return err
		}
		state, nonce := appleid.NewNonce(), appleid.NewNonce()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "state : %s\n", state)
		fmt.Fprintf(out, "nonce : %s\n", nonce)
		fmt.Fprintln(out, exchanger.AuthCodeURL(state, nonce))
		return nil
	},
}

var exchangeCmd = &cobra.Command{
	Use:   "exchange",
	Short: "Redeem an authorization code and verify the returned identity token",
	RunE: func(cmd *cobra.Command, _ []string) error {
		code := v.GetString("code")
		if code == "" {
			return errors.New("code is required (flag --code or env APPLE_CODE)")
		}
		exchanger, err := newExchanger()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), v.GetDuration("timeout"))
		defer cancel()

		result, err := exchanger.Exchange(ctx, code, v.GetString("nonce"))
		if err != nil {
			return fmt.Errorf("exchange failed [%s]: %w", appleid.CodeOf(err), err)
		}
		logger.Info("authorization code redeemed", "token_type", result.Token.TokenType, "has_refresh_token", result.Token.RefreshToken != "")
		printClaims(cmd, result.Claims)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{authorizeURLCmd, exchangeCmd} {
		c.Flags().String("team-id", "", "Apple developer team ID (env APPLE_TEAM_ID)")
		c.Flags().String("key-id", "", "Sign in with Apple key ID (env APPLE_KEY_ID)")
		c.Flags().String("private-key", "", "Path to the .p8 private key (env APPLE_PRIVATE_KEY)")
		c.Flags().String("redirect-url", "", "Registered redirect URL (env APPLE_REDIRECT_URL)")
		c.Flags().StringSlice("scope", nil, "Scopes to request, e.g. name,email (env APPLE_SCOPE)")
		rootCmd.AddCommand(c)
	}
	exchangeCmd.Flags().String("code", "", "Authorization code to redeem (env APPLE_CODE)")
	exchangeCmd.Flags().String("nonce", "", "Nonce sent with the authorization request (env APPLE_NONCE)")
}

func newExchanger() (*appleid.Exchanger, error) {
	clientIDs := splitList(v.GetString("client-id"))
	if len(clientIDs) != 1 {
		return nil, errors.New("exactly one client-id is required to redeem codes")
	}
	keyPath := v.GetString("private-key")
	if keyPath == "" {
		return nil, errors.New("private-key is required (flag --private-key or env APPLE_PRIVATE_KEY)")
	}
	pem, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}

	verifier, err := appleid.NewVerifier(verifierConfig())
	if err != nil {
		return nil, fmt.Errorf("create verifier: %w", err)
	}
	return appleid.NewExchanger(appleid.ExchangeConfig{
		TeamID:        v.GetString("team-id"),
		ClientID:      clientIDs[0],
		KeyID:         v.GetString("key-id"),
		PrivateKeyPEM: pem,
		RedirectURL:   v.GetString("redirect-url"),
		Scopes:        splitList(strings.Join(v.GetStringSlice("scope"), ",")),
	}, verifier)
}
