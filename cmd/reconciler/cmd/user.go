package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"neoexcelsync/cmd/reconciler/config"
	"neoexcelsync/internal/auth"
	"neoexcelsync/internal/store"
	"neoexcelsync/pkg/errors"
)

var createUserCmd = &cobra.Command{
	Use:   "create-user",
	Short: "Add an API user to the database",
	Long: `Create-user hashes the password with bcrypt and inserts the account into
the users table of NEOSYNC_DATABASE_URL, creating the schema when needed.

Examples:
  reconciler create-user --username operator --password 's3cret'
  reconciler create-user --username operator --password 's3cret' --env-file /etc/neosync/.env`,
	RunE: runCreateUser,
}

func init() {
	createUserCmd.Flags().String("username", "", "login name (required)")
	createUserCmd.Flags().String("password", "", "password (required)")
	createUserCmd.Flags().String("env-file", ".env", "env file loaded before reading the configuration")
	_ = createUserCmd.MarkFlagRequired("username")
	_ = createUserCmd.MarkFlagRequired("password")
	rootCmd.AddCommand(createUserCmd)
}

func runCreateUser(cmd *cobra.Command, args []string) error {
	envFile, _ := cmd.Flags().GetString("env-file")
	if err := loadEnvFile(envFile); err != nil {
		return err
	}
	username, _ := cmd.Flags().GetString("username")
	password, _ := cmd.Flags().GetString("password")
	if strings.TrimSpace(password) == "" {
		return errors.ValidationError(errors.CodeMissingField, "password", "", nil)
	}

	cfg, err := config.LoadServeConfig(viper.GetViper())
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, config.KeyDatabaseURL, "", nil).
			WithSuggestion("set NEOSYNC_DATABASE_URL")
	}
	authSvc, err := auth.NewService(cfg.Auth)
	if err != nil {
		return err
	}
	hash, err := authSvc.HashPassword(password)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		return err
	}

	id, err := db.CreateUser(ctx, username, hash)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created user %s (id %d)\n", strings.TrimSpace(username), id)
	return nil
}
