package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/stemsi/exstem-guard/internal/database"
	"github.com/stemsi/exstem-guard/internal/model"
	"github.com/stemsi/exstem-guard/internal/service"
)

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a JWT signed with JWT_SECRET",
	}
	cmd.PersistentFlags().Bool("ask-secret", false, "Prompt for the signing secret instead of reading JWT_SECRET")
	cmd.AddCommand(studentTokenCmd(), adminTokenCmd())
	return cmd
}

func studentTokenCmd() *cobra.Command {
	var studentID, classID int
	var register bool
	cmd := &cobra.Command{
		Use:   "student",
		Short: "Mint a student token",
		Long: "Mint a student token. With --register (the default) the token becomes the\n" +
			"student's active login in Redis, as the single-device check requires.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log := setup()
			if err := overrideSecret(cmd, &cfg.JWTSecret); err != nil {
				return err
			}

			ctx := context.Background()
			auth := service.NewAuthService(cfg, nil)
			if register {
				rdb, err := database.NewRedisClient(ctx, cfg, log)
				if err != nil {
					return err
				}
				defer rdb.Close()
				auth = service.NewAuthService(cfg, rdb)
			}

			token, err := auth.GenerateStudentToken(ctx, studentID, classID)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&studentID, "student-id", 0, "Student ID (required)")
	f.IntVar(&classID, "class-id", 0, "Class ID")
	f.BoolVar(&register, "register", true, "Register the token as the active login in Redis")
	_ = cmd.MarkFlagRequired("student-id")
	return cmd
}

func adminTokenCmd() *cobra.Command {
	var adminID, roleID int
	var perms []string
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Mint an admin token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _ := setup()
			if err := overrideSecret(cmd, &cfg.JWTSecret); err != nil {
				return err
			}
			for _, p := range perms {
				if !knownPermission(p) {
					return fmt.Errorf("unknown permission %q", p)
				}
			}

			token, err := service.NewAuthService(cfg, nil).GenerateAdminToken(adminID, roleID, perms)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	all := make([]string, 0, len(model.AllPermissions))
	for _, p := range model.AllPermissions {
		all = append(all, string(p))
	}
	f := cmd.Flags()
	f.IntVar(&adminID, "admin-id", 0, "Admin ID (required)")
	f.IntVar(&roleID, "role-id", 0, "Role ID")
	f.StringSliceVar(&perms, "perm", all, "Permissions to grant (repeatable)")
	_ = cmd.MarkFlagRequired("admin-id")
	return cmd
}

func knownPermission(p string) bool {
	for _, known := range model.AllPermissions {
		if string(known) == p {
			return true
		}
	}
	return false
}

// overrideSecret replaces secret with one typed at the terminal when
// --ask-secret is set.
func overrideSecret(cmd *cobra.Command, secret *string) error {
	ask, _ := cmd.Flags().GetBool("ask-secret")
	if !ask {
		return nil
	}
	fmt.Fprint(os.Stderr, "JWT secret: ")
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("read secret: %w", err)
	}
	if len(b) == 0 {
		return fmt.Errorf("empty secret")
	}
	*secret = string(b)
	return nil
}
