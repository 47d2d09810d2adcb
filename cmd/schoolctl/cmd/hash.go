package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"school-service/internal/hashing"
	"school-service/internal/service"
)

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password [password]",
	Short: "Hash a password for seeding the user store",
	Long: `Hash a password with the configured argon2id parameters and pepper.
Without an argument the password is read from the first line of stdin.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHashPassword,
}

func init() {
	hashPasswordCmd.Flags().Bool("skip-policy", false, "Do not enforce the password policy")
}

func runHashPassword(cmd *cobra.Command, args []string) error {
	var password string
	if len(args) == 1 {
		password = args[0]
	} else {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return errors.New("no password given")
		}
		password = strings.TrimRight(line, "\r\n")
	}

	if skip, _ := cmd.Flags().GetBool("skip-policy"); !skip {
		if err := service.ValidatePassword(password); err != nil {
			return fmt.Errorf("password %w", err)
		}
	}

	hash, err := hashing.NewHasher(cfg).HashPassword(password)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), hash)
	return nil
}
