package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/bionicotaku/lingo-utils-appleid"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify an identity token against Apple's published keys",
	RunE: func(cmd *cobra.Command, _ []string) error {
		token := v.GetString("token")
		if token == "" {
			return errors.New("token is required (flag --token or env APPLE_TOKEN)")
		}

		verifier, err := appleid.NewVerifier(verifierConfig())
		if err != nil {
			return fmt.Errorf("create verifier: %w", err)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), v.GetDuration("timeout"))
		defer cancel()

		claims, err := verifier.Verify(ctx, appleid.VerificationRequest{
			IDToken: token,
			Nonce:   v.GetString("nonce"),
		})
		if err != nil {
			return fmt.Errorf("verification failed [%s]: %w", appleid.CodeOf(err), err)
		}
		printClaims(cmd, claims)
		return nil
	},
}

func init() {
	verifyCmd.Flags().String("token", "", "Identity token to verify (env APPLE_TOKEN)")
	verifyCmd.Flags().String("nonce", "", "Nonce the token must carry (env APPLE_NONCE)")
	rootCmd.AddCommand(verifyCmd)
}

func printClaims(cmd *cobra.Command, claims appleid.Claims) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "== Apple Identity Token Verified ==")
	fmt.Fprintf(out, "subject          : %s\n", claims.Subject())
	fmt.Fprintf(out, "email            : %s\n", claims.Email())
	fmt.Fprintf(out, "email_verified   : %t\n", claims.EmailVerified())
	fmt.Fprintf(out, "is_private_email : %t\n", claims.IsPrivateEmail())
	fmt.Fprintf(out, "audience         : %v\n", claims.Audience())
	if exp := claims.ExpiresAt(); !exp.IsZero() {
		fmt.Fprintf(out, "expires_at       : %s\n", exp.Format(time.RFC3339))
	}

	names := make([]string, 0, len(claims))
	for name := range claims {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintln(out, "claims:")
	for _, name := range names {
		fmt.Fprintf(out, "  %s: %v\n", name, claims[name])
	}
}
