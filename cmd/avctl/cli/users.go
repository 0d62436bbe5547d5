package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/olexisomar/ai-visibility/internal/auth"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage users and API keys",
}

var generateKeysCmd = &cobra.Command{
	Use:   "generate-api-keys",
	Short: "Issue API keys for users without one",
	Long:  "Issues an API key for every user that has none. Each plain key is printed exactly once; only the hash is stored.",
	RunE:  runGenerateKeys,
}

func init() {
	usersCmd.AddCommand(generateKeysCmd)
	rootCmd.AddCommand(usersCmd)
}

func runGenerateKeys(cmd *cobra.Command, args []string) error {
	database, err := openDB()
	if err != nil {
		return err
	}
	defer database.Close()

	users, err := database.ListUsersWithoutAPIKey(cmd.Context())
	if err != nil {
		return err
	}

	if len(users) == 0 {
		fmt.Println("All users already have an API key.")
		return nil
	}

	type issuedKey struct {
		Email string `json:"email"`
		Key   string `json:"key"`
	}
	issued := make([]issuedKey, 0, len(users))

	for _, user := range users {
		generated, err := auth.GenerateAPIKey()
		if err != nil {
			return err
		}

		if err := database.CreateAPIKey(cmd.Context(), user.ID, generated.Prefix, generated.Hash); err != nil {
			return fmt.Errorf("failed to store key for %s: %w", user.Email, err)
		}

		issued = append(issued, issuedKey{Email: user.Email, Key: generated.PlainKey})
	}

	if jsonOut {
		printJSON(issued)
		return nil
	}

	fmt.Println("Store these keys now, they will not be shown again:")
	for _, key := range issued {
		fmt.Printf("  %-40s %s\n", key.Email, key.Key)
	}
	return nil
}
