package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"agentcore/pkg/config"
)

func secretsCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage the encrypted project secrets file",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set NAME",
		Short: "Store a secret, e.g. ANTHROPIC_API_KEY",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := projectDir(g.projectDir)
			if err != nil {
				return err
			}
			name := strings.TrimSpace(args[0])
			if name == "" {
				return errors.New("secret name is empty")
			}

			password, secrets, err := openSecrets(dir)
			if err != nil {
				return err
			}
			value, err := readPassword(fmt.Sprintf("Value for %s: ", name))
			if err != nil {
				return err
			}
			if value == "" {
				return errors.New("secret value is empty")
			}
			secrets[name] = value

			if err := config.EncryptSecretsFile(dir, password, secrets); err != nil {
				return fmt.Errorf("failed to encrypt secrets: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Stored %s (%d secrets)\n", name, len(secrets))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored secret names",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := projectDir(g.projectDir)
			if err != nil {
				return err
			}
			if !config.SecretsFileExists(dir) {
				fmt.Fprintln(cmd.OutOrStdout(), "No secrets file")
				return nil
			}
			_, secrets, err := openSecrets(dir)
			if err != nil {
				return err
			}
			names := make([]string, 0, len(secrets))
			for name := range secrets {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	})
	return cmd
}

// openSecrets returns the password and current contents of the secrets file.
// A new file asks for the password twice.
func openSecrets(dir string) (string, map[string]string, error) {
	password := os.Getenv(EnvPassword)
	if !config.SecretsFileExists(dir) {
		if password == "" {
			p, err := newPassword()
			if err != nil {
				return "", nil, err
			}
			password = p
		}
		return password, map[string]string{}, nil
	}

	if password == "" {
		p, err := readPassword("Project password: ")
		if err != nil {
			return "", nil, err
		}
		password = p
	}
	secrets, err := config.DecryptSecretsFile(dir, password)
	if err != nil {
		return "", nil, err
	}
	if secrets == nil {
		secrets = map[string]string{}
	}
	return password, secrets, nil
}

func newPassword() (string, error) {
	const maxAttempts = 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		p1, err := readPassword("New project password: ")
		if err != nil {
			return "", err
		}
		p2, err := readPassword("Confirm password: ")
		if err != nil {
			return "", err
		}
		if p1 != "" && p1 == p2 {
			return p1, nil
		}
		fmt.Fprintln(os.Stderr, "❌ Passwords are empty or do not match.")
	}
	return "", fmt.Errorf("passwords do not match after %d attempts", maxAttempts)
}
