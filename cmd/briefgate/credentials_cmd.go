package main

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/briefgate/pkg/credentials"
)

func (a *app) credentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Inspect and store PDF services credentials",
	}
	cmd.AddCommand(a.credentialsShowCmd(), a.credentialsStoreCmd())
	return cmd
}

func (a *app) credentialsShowCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Resolve credentials and print where they came from, masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := &services{cfg: a.cfg, getenv: a.getenv}
			creds, err := s.resolveCredentials(cmd.Context(), path)
			if err != nil {
				return err
			}
			sum := creds.Summary()
			if a.jsonOut {
				return a.printJSON(sum)
			}
			_, _ = fmt.Fprintf(a.stdout, "source:    %s\nclient_id: %s\n", sum.Source, sum.ClientIDMasked)
			if sum.OrganizationID != "" {
				_, _ = fmt.Fprintf(a.stdout, "org_id:    %s\n", sum.OrganizationID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "credentials", "", "Credentials JSON tried before the standard locations")
	return cmd
}

func (a *app) credentialsStoreCmd() *cobra.Command {
	var profile string
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Encrypt the credentials from the environment into the vault",
		Long: fmt.Sprintf(`Reads %s and %s from the environment and stores them
encrypted under the given profile. The vault passphrase is read from %s.`,
			credentials.EnvClientID, credentials.EnvClientSecret, EnvVaultPassphrase),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			vp := a.cfg.PDFServices.VaultPath
			if vp == "" {
				return errors.New("no vault configured (set pdf_services.vault_path or BRIEFGATE_VAULT_PATH)")
			}
			pass := a.getenv(EnvVaultPassphrase)
			if pass == "" {
				return fmt.Errorf("%s is not set", EnvVaultPassphrase)
			}
			id := strings.TrimSpace(a.getenv(credentials.EnvClientID))
			secret := strings.TrimSpace(a.getenv(credentials.EnvClientSecret))
			if id == "" || secret == "" {
				return fmt.Errorf("%s and %s must both be set", credentials.EnvClientID, credentials.EnvClientSecret)
			}
			if profile == "" {
				profile = a.cfg.PDFServices.VaultProfile
			}

			db, err := sql.Open("sqlite", vp)
			if err != nil {
				return fmt.Errorf("open vault: %w", err)
			}
			defer func() { _ = db.Close() }()
			v, err := credentials.OpenVault(ctx, db, pass)
			if err != nil {
				return err
			}
			if err := v.Put(ctx, profile, credentials.Credentials{ClientID: id, ClientSecret: secret}); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(a.stdout, "stored %s under profile %q\n", credentials.Mask(id), profile)
			return nil
		},
	}
	cmd.Flags().StringVar(&profile, "profile", "", "Vault profile (default from config)")
	return cmd
}
