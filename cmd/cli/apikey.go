package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/anstrom/certsweep/internal/auth"
)

var apikeyJSON bool

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage API keys",
	Long: `Keys are never stored. Generate a key, hand it to the client and put
its bcrypt hash into api.api_key_hashes.`,
}

var apikeyGenerateCmd = &cobra.Command{
	Use:     "generate NAME",
	Short:   "Generate a new API key",
	Example: `  certsweep apikey generate dashboard`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAPIKeyGenerate(cmd.OutOrStdout(), args[0], apikeyJSON)
	},
}

var apikeyHashCmd = &cobra.Command{
	Use:   "hash KEY",
	Short: "Print the bcrypt hash of an existing key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !auth.IsValidAPIKeyFormat(args[0]) {
			return fmt.Errorf("not a certsweep API key")
		}
		hash, err := auth.HashAPIKey(args[0])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
		return err
	},
}

func init() {
	rootCmd.AddCommand(apikeyCmd)
	apikeyCmd.AddCommand(apikeyGenerateCmd, apikeyHashCmd)
	apikeyGenerateCmd.Flags().BoolVar(&apikeyJSON, "json", false, "print the key as JSON")
}

func runAPIKeyGenerate(w io.Writer, name string, asJSON bool) error {
	generated, err := auth.GenerateAPIKey(name)
	if err != nil {
		return err
	}

	if asJSON {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(generated)
	}

	fmt.Fprintf(w, "Name:    %s\n", generated.Name)
	fmt.Fprintf(w, "Key:     %s\n", generated.Key)
	fmt.Fprintf(w, "Hash:    %s\n", generated.Hash)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "The key is shown only once. Add the hash to api.api_key_hashes:")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "api:")
	fmt.Fprintln(w, "  auth_enabled: true")
	fmt.Fprintln(w, "  api_key_hashes:")
	fmt.Fprintf(w, "    - %q\n", generated.Hash)
	return nil
}
