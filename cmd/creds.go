package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Donghyun-Son/srtgo/internal/credentials"
	"github.com/Donghyun-Son/srtgo/internal/crypto"
	"github.com/Donghyun-Son/srtgo/internal/rail"
)

func newCredsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "creds",
		Short: "Store encrypted rail logins, payment cards and Telegram settings",
	}
	cmd.AddCommand(newCredsLoginCmd())
	cmd.AddCommand(newCredsCardCmd())
	cmd.AddCommand(newCredsTelegramCmd())
	return cmd
}

// withStore opens the database and the credential store for one command.
func withStore(fn func(ctx context.Context, s *credentials.Store) error) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	d, err := openDB(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer d.Close()

	aead, err := crypto.New(cfg.CredentialsKey)
	if err != nil {
		return err
	}
	return fn(ctx, credentials.NewStore(d, aead))
}

func newCredsLoginCmd() *cobra.Command {
	var (
		userID   int64
		railType string
		identity string
	)
	c := &cobra.Command{
		Use:   "login",
		Short: "Store the rail account login; the password is read from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := rail.ParseVariant(railType)
			if err != nil {
				return err
			}
			secret, err := readSecret(cmd.InOrStdin(), cmd.ErrOrStderr(), "password: ")
			if err != nil {
				return err
			}
			return withStore(func(ctx context.Context, s *credentials.Store) error {
				if err := s.SetLogin(ctx, userID, v, credentials.Login{Identity: identity, Secret: secret}); err != nil {
					return err
				}
				fmt.Fprintf(os.Stdout, "stored %s login for user %d\n", v, userID)
				return nil
			})
		},
	}
	c.Flags().Int64Var(&userID, "user-id", 0, "user id")
	c.Flags().StringVar(&railType, "rail", "SRT", "SRT or KTX")
	c.Flags().StringVar(&identity, "id", "", "membership number, email or phone number")
	_ = c.MarkFlagRequired("user-id")
	_ = c.MarkFlagRequired("id")
	return c
}

func newCredsCardCmd() *cobra.Command {
	var (
		userID   int64
		railType string
		card     rail.Card
	)
	c := &cobra.Command{
		Use:   "card",
		Short: "Store the payment card; the two-digit card password is read from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := rail.ParseVariant(railType)
			if err != nil {
				return err
			}
			if card.Password, err = readSecret(cmd.InOrStdin(), cmd.ErrOrStderr(), "card password (first two digits): "); err != nil {
				return err
			}
			if err := credentials.ValidateCard(card); err != nil {
				return err
			}
			return withStore(func(ctx context.Context, s *credentials.Store) error {
				if err := s.SetCard(ctx, userID, v, card); err != nil {
					return err
				}
				fmt.Fprintf(os.Stdout, "stored %s card for user %d\n", v, userID)
				return nil
			})
		},
	}
	c.Flags().Int64Var(&userID, "user-id", 0, "user id")
	c.Flags().StringVar(&railType, "rail", "SRT", "SRT or KTX")
	c.Flags().StringVar(&card.Number, "number", "", "card number")
	c.Flags().StringVar(&card.BirthOrBizID, "holder", "", "YYMMDD birth date, or business registration number")
	c.Flags().StringVar(&card.Expiry, "expiry", "", "expiry YYMM")
	_ = c.MarkFlagRequired("user-id")
	_ = c.MarkFlagRequired("number")
	_ = c.MarkFlagRequired("holder")
	_ = c.MarkFlagRequired("expiry")
	return c
}

func newCredsTelegramCmd() *cobra.Command {
	var (
		userID   int64
		chatID   string
		disabled bool
	)
	c := &cobra.Command{
		Use:   "telegram",
		Short: "Store the Telegram bot used for notifications; the bot token is read from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := readSecret(cmd.InOrStdin(), cmd.ErrOrStderr(), "bot token: ")
			if err != nil {
				return err
			}
			return withStore(func(ctx context.Context, s *credentials.Store) error {
				t := credentials.Telegram{BotToken: token, ChatID: chatID, Enabled: !disabled}
				if err := s.SetTelegram(ctx, userID, t); err != nil {
					return err
				}
				fmt.Fprintf(os.Stdout, "stored telegram settings for user %d (enabled=%t)\n", userID, t.Enabled)
				return nil
			})
		},
	}
	c.Flags().Int64Var(&userID, "user-id", 0, "user id")
	c.Flags().StringVar(&chatID, "chat-id", "", "chat id notifications are sent to")
	c.Flags().BoolVar(&disabled, "disabled", false, "store the settings but do not send messages")
	_ = c.MarkFlagRequired("user-id")
	_ = c.MarkFlagRequired("chat-id")
	return c
}

// readSecret reads one line so secrets stay out of shell history. Terminal input is not echoed.
func readSecret(in io.Reader, prompt io.Writer, label string) (string, error) {
	fmt.Fprint(prompt, label)
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", err
		}
		return nonEmpty(string(b))
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return nonEmpty(line)
}

func nonEmpty(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("empty input")
	}
	return s, nil
}
