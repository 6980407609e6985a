package cmd

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"peerchat/client"
	"peerchat/logger"
)

var errLoginFailed = errors.New("login failed: unknown user or wrong password")

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Log in and chat with online friends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd)
		},
	}

	flags := cmd.Flags()
	flags.StringP("user", "u", "", "username")
	flags.StringP("password", "p", "", "password")
	flags.Bool("register", false, "register the user before logging in")
	flags.String("directory", "", "directory address (default localhost:1099)")
	flags.String("host", "", "host advertised to peers (default localhost)")
	flags.Int("port", 0, "local port for peers and notifications, 0 picks one")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func runChat(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd, map[string]string{
		"directory_addr": "directory",
		"client_host":    "host",
		"client_port":    "port",
	})
	if err != nil {
		return err
	}
	logger.Init(cmd.ErrOrStderr())

	user, _ := cmd.Flags().GetString("user")
	password, _ := cmd.Flags().GetString("password")
	register, _ := cmd.Flags().GetBool("register")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session := client.NewSession(client.Config{
		DirectoryAddr: cfg.DirectoryAddr,
		Host:          cfg.ClientHost,
		Port:          cfg.ClientPort,
		InboxCapacity: cfg.InboxCapacity,
		CallTimeout:   cfg.CallTimeout,
	})
	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.Close()

	if register {
		ok, err := session.Register(ctx, user, password)
		if err != nil {
			return fmt.Errorf("register: %w", err)
		}
		if !ok {
			fmt.Fprintf(cmd.OutOrStdout(), "user %s already exists, logging in\n", user)
		}
	}

	r := newREPL(session, cmd.OutOrStdout())
	ok, err := session.Login(ctx, user, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if !ok {
		return errLoginFailed
	}

	return r.run(ctx, cmd.InOrStdin())
}
