package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/spf13/cobra"
	"github.com/spokescan/spokescan/pkg/airdrop"
)

// ImportCmd loads the wallet and/or community reward files from disk or from a bucket.
func ImportCmd(configPath *string) *cobra.Command {
	var wallet, community, bucket string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "import airdrop reward files",
		Example: `  rewardsctl import --wallet wallet-rewards.json
  rewardsctl import --bucket airdrop --wallet 2024/wallet.json --community 2024/community.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			if wallet == "" && community == "" {
				return fmt.Errorf("expected --wallet and/or --community")
			}
			ctx := cmd.Context()

			e, err := newEnv(ctx, *configPath)
			if err != nil {
				return err
			}
			defer e.Close()

			var files airdrop.Files
			if bucket != "" {
				client, err := airdrop.NewS3Client(ctx)
				if err != nil {
					return err
				}
				if wallet != "" {
					files.Wallet = airdrop.S3Source{Client: client, Bucket: bucket, Key: wallet}
				}
				if community != "" {
					files.Community = airdrop.S3Source{Client: client, Bucket: bucket, Key: community}
				}
			} else {
				if files.Wallet, err = localFile(wallet); err != nil {
					return err
				}
				if files.Community, err = localFile(community); err != nil {
					return err
				}
			}

			counts, err := airdrop.NewImporter(e.db, e.logger).Process(ctx, files)
			if err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(counts)
		},
	}
	cmd.Flags().StringVar(&wallet, "wallet", "", "wallet rewards file (object key with --bucket)")
	cmd.Flags().StringVar(&community, "community", "", "community rewards file (object key with --bucket)")
	cmd.Flags().StringVar(&bucket, "bucket", "", "read files from this S3 bucket")
	return cmd
}

func localFile(path string) (airdrop.Source, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return airdrop.Bytes(filepath.Base(path), raw), nil
}
