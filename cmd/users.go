package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/galaxyproto/caduceus/internal/auth"
	"github.com/galaxyproto/caduceus/internal/config"
)

func usersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage web channel user accounts",
	}
	cmd.AddCommand(usersCreateCmd())
	cmd.AddCommand(usersListCmd())
	cmd.AddCommand(usersDeleteCmd())
	cmd.AddCommand(usersLinkCmd())
	cmd.AddCommand(usersPasswdCmd())
	return cmd
}

func openUserStore() (*auth.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return auth.Open(config.ExpandHome(cfg.Auth.DBPath), cfg.Auth.JWTSecret, cfg.TokenExpiry())
}

// promptPassword reads a password from the flag or, failing that, stdin.
func promptPassword(password, username string) (string, error) {
	if password != "" {
		return password, nil
	}
	fmt.Printf("Password for %s: ", username)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	return line, nil
}

func usersCreateCmd() *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "create <username>",
		Short: "Create a user account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openUserStore()
			if err != nil {
				return err
			}
			defer store.Close()

			pw, err := promptPassword(password, args[0])
			if err != nil {
				return err
			}
			user, err := store.CreateUser(context.Background(), args[0], pw)
			if err != nil {
				return err
			}
			fmt.Printf("✓ User created: %s (%s)\n", user.ID, user.Username)
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "password (prompted when omitted)")
	return cmd
}

func usersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List user accounts and their Telegram linkage",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openUserStore()
			if err != nil {
				return err
			}
			defer store.Close()

			users, err := store.ListUsers(context.Background())
			if err != nil {
				return err
			}
			if len(users) == 0 {
				fmt.Println("No users found")
				return nil
			}
			for _, u := range users {
				telegram := "not linked"
				if u.TelegramID != 0 {
					telegram = fmt.Sprintf("telegram %d", u.TelegramID)
				}
				fmt.Printf("%s  %-20s %s  created %s\n",
					u.ID, u.Username, telegram, u.CreatedAt.Format("2006-01-02"))
			}
			return nil
		},
	}
}

func usersDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <username>",
		Short: "Remove a user account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openUserStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DeleteUser(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Printf("✓ User removed: %s\n", args[0])
			return nil
		},
	}
}

func usersLinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "link <username> <telegram-id>",
		Short: "Link a Telegram ID to a user account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			telegramID, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("telegram id must be numeric: %q", args[1])
			}

			store, err := openUserStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.LinkTelegram(context.Background(), args[0], telegramID); err != nil {
				return err
			}
			fmt.Printf("✓ Linked %s to Telegram %d\n", args[0], telegramID)
			return nil
		},
	}
}

func usersPasswdCmd() *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "passwd <username>",
		Short: "Change a user's password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openUserStore()
			if err != nil {
				return err
			}
			defer store.Close()

			pw, err := promptPassword(password, args[0])
			if err != nil {
				return err
			}
			if err := store.SetPassword(context.Background(), args[0], pw); err != nil {
				return err
			}
			fmt.Printf("✓ Password updated for %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "new password (prompted when omitted)")
	return cmd
}
