package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/lanternkey/astool/pkg/astctx"
)

func runLogin(actx *astctx.Context, logger zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	region := fs.String("region", "global", "region to create an account in")
	bundle := fs.String("bundle", "", "pinned bundle version (default: latest)")
	platform := fs.String("platform", "i", "platform code: i/ios or a/android")
	userID := fs.Int64("user-id", 0, "externally-assigned user id for the new account")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == 0 {
		return fmt.Errorf("login: -user-id is required")
	}

	plat, err := parsePlatform(*platform)
	if err != nil {
		return err
	}

	authKey, err := actx.CreateAccount(context.Background(), *region, *bundle, plat, *userID)
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}

	logger.Info().Str("region", *region).Int64("user_id", *userID).Msg("account created")
	fmt.Printf("region=%s user_id=%d authorization_key=%s\n", *region, *userID, authKey)
	return nil
}
