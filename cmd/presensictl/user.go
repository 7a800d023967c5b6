package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iliyamo/presensi-qr/internal/model"
	"github.com/iliyamo/presensi-qr/internal/repository"
)

func userCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}
	cmd.AddCommand(userAddCmd(a))
	cmd.AddCommand(userActiveCmd(a, "disable", false))
	cmd.AddCommand(userActiveCmd(a, "enable", true))
	return cmd
}

func userAddCmd(a *app) *cobra.Command {
	var name, phone, password, role string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create an account and print its id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			role = strings.ToUpper(strings.TrimSpace(role))
			if !model.ValidRole(role) {
				return fmt.Errorf("unknown role %q (want %s, %s or %s)", role, model.RoleAdmin, model.RoleEmployee, model.RoleSecurity)
			}
			if strings.TrimSpace(name) == "" || strings.TrimSpace(phone) == "" || password == "" {
				return fmt.Errorf("--name, --phone and --password are required")
			}
			db, err := a.open()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			id, err := repository.NewUserRepo(db).Create(ctx, strings.TrimSpace(name), phone, password, role, a.cfg.BcryptCost)
			if err != nil {
				return fmt.Errorf("create user: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&phone, "phone", "", "login phone number")
	cmd.Flags().StringVar(&password, "password", "", "initial password")
	cmd.Flags().StringVar(&role, "role", model.RoleEmployee, "ADMIN, EMPLOYEE or SECURITY")
	return cmd
}

func userActiveCmd(a *app, verb string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <user-id>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.open()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			if err := repository.NewUserRepo(db).SetActive(ctx, args[0], active); err != nil {
				return fmt.Errorf("%s %s: %w", verb, args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %sd\n", args[0], verb)
			return nil
		},
	}
}
