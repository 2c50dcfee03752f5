package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"gwi.com/chatsync/internal/client"
	"gwi.com/chatsync/internal/config"
	"gwi.com/chatsync/internal/store"
)

const sessionKey = "session"

var rootCmd = &cobra.Command{
	Use:          "chat",
	Short:        "Terminal client for the chat service",
	SilenceUsage: true,
}

func main() {
	config.LoadConfig()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd.AddCommand(newSignupCmd(), newLoginCmd(), newLogoutCmd(), newReplCmd())
	rootCmd.RunE = newReplCmd().RunE
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func openLocal() (*store.LocalStore, error) {
	local, err := store.NewLocalStore(config.AppConfig.StatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open local state %s: %w", config.AppConfig.StatePath, err)
	}
	return local, nil
}

func newClient() *client.Client {
	c := client.New(config.AppConfig.APIURL)
	c.SetDebug(config.AppConfig.Debug())
	return c
}

// readPassword prompts without echo when no password flag was given.
func readPassword(password string) (string, error) {
	if password != "" {
		return password, nil
	}
	rl, err := readline.NewEx(&readline.Config{InterruptPrompt: "^C"})
	if err != nil {
		return "", err
	}
	defer rl.Close()
	secret, err := rl.ReadPassword("password: ")
	if err != nil {
		return "", err
	}
	if len(secret) == 0 {
		return "", errors.New("password is required")
	}
	return string(secret), nil
}

func newSignupCmd() *cobra.Command {
	var opts struct {
		Email    string
		Password string
		Name     string
	}
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and sign in",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			password, err := readPassword(opts.Password)
			if err != nil {
				return err
			}
			c := newClient()
			if _, err := c.SignUp(ctx, opts.Email, password, opts.Name); err != nil {
				return err
			}
			return signIn(ctx, c, opts.Email, password)
		},
	}
	cmd.Flags().StringVarP(&opts.Email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&opts.Password, "password", "p", "", "account password (prompted when empty)")
	cmd.Flags().StringVarP(&opts.Name, "name", "n", "", "display name")
	cobra.CheckErr(cmd.MarkFlagRequired("email"))
	return cmd
}

func newLoginCmd() *cobra.Command {
	var opts struct {
		Email    string
		Password string
	}
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and remember the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(opts.Password)
			if err != nil {
				return err
			}
			return signIn(cmd.Context(), newClient(), opts.Email, password)
		},
	}
	cmd.Flags().StringVarP(&opts.Email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&opts.Password, "password", "p", "", "account password (prompted when empty)")
	cobra.CheckErr(cmd.MarkFlagRequired("email"))
	return cmd
}

func signIn(ctx context.Context, c *client.Client, email, password string) error {
	session, err := c.SignIn(ctx, strings.TrimSpace(email), password)
	if err != nil {
		return err
	}
	local, err := openLocal()
	if err != nil {
		return err
	}
	defer local.Close()
	if err := local.SaveValue(ctx, sessionKey, session); err != nil {
		return err
	}
	infoColor.Printf("Signed in as %s\n", session.User.Email)
	return nil
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			local, err := openLocal()
			if err != nil {
				return err
			}
			defer local.Close()
			return local.DeleteValue(cmd.Context(), sessionKey)
		},
	}
}

// resumeSession returns a client signed in with the stored session, or an
// error telling the user to sign in.
func resumeSession(ctx context.Context, local *store.LocalStore) (*client.Client, error) {
	var session client.Session
	ok, err := local.LoadValue(ctx, sessionKey, &session)
	if err != nil {
		return nil, err
	}
	if !ok || session.Token == "" {
		return nil, errors.New("not signed in; run `chat login` first")
	}

	c := client.NewWithSession(config.AppConfig.APIURL, &session)
	c.SetDebug(config.AppConfig.Debug())
	if _, err := c.Verify(ctx); err != nil {
		if client.IsUnauthorized(err) {
			_ = local.DeleteValue(ctx, sessionKey)
			return nil, errors.New("session expired; run `chat login` again")
		}
		return nil, err
	}
	return c, nil
}
