package main

import (
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/notecollab/backend/internal/users"
	"github.com/spf13/cobra"
)

func newUsersCommand() *cobra.Command {
	usersCmd := &cobra.Command{
		Use:   "users",
		Short: "Manage the user directory",
	}

	var username, displayName, email string
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Register a user and print its id",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnvironment()
			if err != nil {
				return err
			}
			defer env.Close()

			userService, err := users.NewService(users.ServiceConfig{Database: env.db, Clock: time.Now})
			if err != nil {
				return err
			}
			user, err := userService.Create(cmd.Context(), users.NewUser{
				Username:    username,
				DisplayName: displayName,
				Email:       email,
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), user.ID)
			return err
		},
	}
	createCmd.Flags().StringVar(&username, "username", "", "Unique username")
	createCmd.Flags().StringVar(&displayName, "display-name", "", "Name shown to collaborators")
	createCmd.Flags().StringVar(&email, "email", "", "Contact email")
	_ = createCmd.MarkFlagRequired("username")

	usersCmd.AddCommand(createCmd)
	return usersCmd
}

func newTokenCommand() *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Manage access tokens",
	}

	var userID string
	issueCmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue an access token for an existing user",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnvironment()
			if err != nil {
				return err
			}
			defer env.Close()

			userService, err := users.NewService(users.ServiceConfig{Database: env.db, Clock: time.Now})
			if err != nil {
				return err
			}
			user, err := userService.Lookup(cmd.Context(), userID)
			if err != nil {
				return fmt.Errorf("lookup user %s: %w", userID, err)
			}
			issuer, err := env.tokenIssuer()
			if err != nil {
				return err
			}
			token, expiresIn, err := issuer.IssueToken(cmd.Context(), user.ID)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\nexpires_in=%d\n", token, expiresIn)
			return err
		},
	}
	issueCmd.Flags().StringVar(&userID, "user-id", "", "User id to issue the token for")
	_ = issueCmd.MarkFlagRequired("user-id")

	tokenCmd.AddCommand(issueCmd)
	return tokenCmd
}
