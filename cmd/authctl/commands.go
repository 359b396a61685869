package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/oauthmodel"
	"github.com/jrsteele09/go-auth-client/users"
	"github.com/spf13/cobra"
)

// readSecret returns value, or the first line of in when value is empty.
func readSecret(in io.Reader, prompt, value string) (string, error) {
	if value != "" {
		return value, nil
	}
	fmt.Fprint(os.Stderr, prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// userError keeps the backend's wording for the terminal.
func userError(err error) error {
	if err == nil {
		return nil
	}
	return errors.New(autherrors.UserMessage(err))
}

func printUser(u *users.User) {
	if u == nil {
		return
	}
	fmt.Printf("  Name:         %s\n", u.Name())
	fmt.Printf("  Email:        %s\n", u.Email)
	if u.Organization != "" {
		fmt.Printf("  Organization: %s\n", u.Organization)
	}
	if u.Role != "" {
		fmt.Printf("  Role:         %s\n", u.Role)
	}
}

func loginCmd() *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the token pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := readSecret(cmd.InOrStdin(), "Password: ", password)
			if err != nil {
				return err
			}
			return withApp(func(ctx context.Context, a *app) error {
				user, err := a.session.Login(ctx, email, secret)
				if err != nil {
					return userError(err)
				}
				success("Signed in as %s", user.Email)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", "", "Account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (read from stdin when omitted)")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func registerCmd() *cobra.Command {
	var profile oauthmodel.RegisterRequest

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in with it",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := readSecret(cmd.InOrStdin(), "Password: ", profile.Password)
			if err != nil {
				return err
			}
			profile.Password = secret
			return withApp(func(ctx context.Context, a *app) error {
				user, err := a.session.Register(ctx, profile)
				if err != nil {
					return userError(err)
				}
				success("Registered and signed in as %s", user.Email)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&profile.Email, "email", "e", "", "Account email")
	cmd.Flags().StringVarP(&profile.Password, "password", "p", "", "Password (read from stdin when omitted)")
	cmd.Flags().StringVar(&profile.DisplayName, "name", "", "Display name")
	cmd.Flags().StringVar(&profile.Organization, "org", "", "Organization")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored tokens and tell the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				if err := a.session.Logout(ctx); err != nil {
					return err
				}
				success("Signed out")
				return nil
			})
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				if err := a.session.Bootstrap(ctx); err != nil {
					return userError(err)
				}
				state := a.session.State()
				if !state.Authenticated() {
					return errors.New("not signed in")
				}
				printUser(state.User)
				return nil
			})
		},
	}
}

func refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the refresh token for a new pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				if err := a.session.Refresh(ctx); err != nil {
					return userError(err)
				}
				success("Tokens refreshed")
				return nil
			})
		},
	}
}

func statusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Bootstrap the session and print its state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				bootErr := a.session.Bootstrap(ctx)
				state := a.session.State()
				if asJSON {
					return json.NewEncoder(os.Stdout).Encode(state)
				}
				fmt.Printf("  Status:      %s\n", state.Status)
				fmt.Printf("  Initialized: %t\n", state.Initialized)
				printUser(state.User)
				if bootErr != nil {
					fmt.Printf("  Last error:  %s\n", autherrors.UserMessage(bootErr))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the state as JSON")

	return cmd
}

func forgotPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forgot-password <email>",
		Short: "Ask the backend to send a reset link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				if err := a.session.ForgotPassword(ctx, args[0]); err != nil {
					return userError(err)
				}
				success("If an account exists for %s, a reset link is on its way", args[0])
				return nil
			})
		},
	}
}

func resetPasswordCmd() *cobra.Command {
	var newPassword string

	cmd := &cobra.Command{
		Use:   "reset-password <token>",
		Short: "Set a new password with a reset token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := readSecret(cmd.InOrStdin(), "New password: ", newPassword)
			if err != nil {
				return err
			}
			return withApp(func(ctx context.Context, a *app) error {
				if err := a.session.ResetPassword(ctx, args[0], secret, ""); err != nil {
					return userError(err)
				}
				success("Password updated, sign in again with authctl login")
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&newPassword, "password", "p", "", "New password (read from stdin when omitted)")

	return cmd
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "GET a protected path with the stored credentials",
		Long: `GET a path on the backend through the refreshing client. An expired
access token is refreshed once and the request replayed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.client.URL(args[0]), nil)
				if err != nil {
					return err
				}
				resp, err := a.client.Do(req)
				if err != nil {
					return userError(err)
				}
				defer resp.Body.Close()

				if _, err := io.Copy(os.Stdout, resp.Body); err != nil {
					return err
				}
				if resp.StatusCode >= http.StatusBadRequest {
					return fmt.Errorf("%s returned %s", args[0], resp.Status)
				}
				return nil
			})
		},
	}
}
