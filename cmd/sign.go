package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/livescore/internal/adapters/http/auth"
)

func newSignCmd() *cobra.Command {
	var (
		keyID  string
		secret string
		at     int64
	)
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Print the authentication headers for a submission",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ts := time.Now()
			if at > 0 {
				ts = time.Unix(at, 0)
			}
			stamp := strconv.FormatInt(ts.Unix(), 10)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %s\n", auth.HeaderKey, keyID)
			fmt.Fprintf(out, "%s: %s\n", auth.HeaderTimestamp, stamp)
			fmt.Fprintf(out, "%s: %s\n", auth.HeaderSignature, auth.Signature(secret, keyID, stamp))
			return nil
		},
	}
	cmd.Flags().StringVar(&keyID, "key", "", "key identifier")
	cmd.Flags().StringVar(&secret, "secret", "", "shared secret")
	cmd.Flags().Int64Var(&at, "at", 0, "unix timestamp to sign (default now)")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("secret")
	return cmd
}
