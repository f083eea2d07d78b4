// Package credentials resolves a user's rail login, payment card and Telegram settings.
// Secrets are sealed with internal/crypto before they reach the database.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Donghyun-Son/srtgo/internal/crypto"
	"github.com/Donghyun-Son/srtgo/internal/db"
	"github.com/Donghyun-Son/srtgo/internal/rail"
)

var ErrNotFound = errors.New("credentials: not found")

type Login struct {
	Identity string
	Secret   string
}

type Telegram struct {
	BotToken string
	ChatID   string
	Enabled  bool
}

type Store struct {
	db   *db.DB
	aead *crypto.AEAD
}

func NewStore(d *db.DB, a *crypto.AEAD) *Store { return &Store{db: d, aead: a} }

func (s *Store) SetLogin(ctx context.Context, userID int64, v rail.Variant, l Login) error {
	if l.Identity == "" || l.Secret == "" {
		return fmt.Errorf("login id and password required")
	}
	id, err := s.aead.EncryptToString("login_id", l.Identity)
	if err != nil {
		return err
	}
	pw, err := s.aead.EncryptToString("password", l.Secret)
	if err != nil {
		return err
	}
	return s.db.Exec(ctx, `
INSERT INTO rail_credentials(user_id, rail_type, login_id_enc, password_enc) VALUES ($1,$2,$3,$4)
ON CONFLICT (user_id, rail_type) DO UPDATE SET login_id_enc=EXCLUDED.login_id_enc, password_enc=EXCLUDED.password_enc, updated_at=now()`,
		userID, string(v), id, pw)
}

func (s *Store) LoginCredentials(ctx context.Context, userID int64, v rail.Variant) (Login, error) {
	var id, pw string
	err := s.db.QueryRow(ctx, `SELECT login_id_enc, password_enc FROM rail_credentials WHERE user_id=$1 AND rail_type=$2`,
		userID, string(v)).Scan(&id, &pw)
	if err != nil {
		return Login{}, notFound(err)
	}
	var l Login
	if l.Identity, err = s.aead.DecryptString("login_id", id); err != nil {
		return Login{}, err
	}
	if l.Secret, err = s.aead.DecryptString("password", pw); err != nil {
		return Login{}, err
	}
	return l, nil
}

func (s *Store) SetCard(ctx context.Context, userID int64, v rail.Variant, c rail.Card) error {
	if err := ValidateCard(c); err != nil {
		return err
	}
	fields := []struct{ name, val string }{
		{"card_number", normalizeCardNumber(c.Number)},
		{"card_password", c.Password},
		{"card_birth", c.BirthOrBizID},
		{"card_expiry", c.Expiry},
	}
	enc := make([]string, len(fields))
	for i, f := range fields {
		v, err := s.aead.EncryptToString(f.name, f.val)
		if err != nil {
			return err
		}
		enc[i] = v
	}
	return s.db.Exec(ctx, `
INSERT INTO payment_cards(user_id, rail_type, number_enc, password_enc, birth_enc, expiry_enc) VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (user_id, rail_type) DO UPDATE SET number_enc=EXCLUDED.number_enc, password_enc=EXCLUDED.password_enc,
	birth_enc=EXCLUDED.birth_enc, expiry_enc=EXCLUDED.expiry_enc, updated_at=now()`,
		userID, string(v), enc[0], enc[1], enc[2], enc[3])
}

func (s *Store) PaymentCard(ctx context.Context, userID int64, v rail.Variant) (rail.Card, error) {
	var num, pw, birth, exp string
	err := s.db.QueryRow(ctx, `SELECT number_enc, password_enc, birth_enc, expiry_enc FROM payment_cards WHERE user_id=$1 AND rail_type=$2`,
		userID, string(v)).Scan(&num, &pw, &birth, &exp)
	if err != nil {
		return rail.Card{}, notFound(err)
	}
	var c rail.Card
	for _, f := range []struct {
		name string
		in   string
		out  *string
	}{
		{"card_number", num, &c.Number},
		{"card_password", pw, &c.Password},
		{"card_birth", birth, &c.BirthOrBizID},
		{"card_expiry", exp, &c.Expiry},
	} {
		if *f.out, err = s.aead.DecryptString(f.name, f.in); err != nil {
			return rail.Card{}, err
		}
	}
	return c, nil
}

func (s *Store) SetTelegram(ctx context.Context, userID int64, t Telegram) error {
	if t.BotToken == "" || t.ChatID == "" {
		return fmt.Errorf("bot token and chat id required")
	}
	tok, err := s.aead.EncryptToString("telegram_token", t.BotToken)
	if err != nil {
		return err
	}
	return s.db.Exec(ctx, `
INSERT INTO telegram_settings(user_id, bot_token_enc, chat_id, enabled) VALUES ($1,$2,$3,$4)
ON CONFLICT (user_id) DO UPDATE SET bot_token_enc=EXCLUDED.bot_token_enc, chat_id=EXCLUDED.chat_id, enabled=EXCLUDED.enabled, updated_at=now()`,
		userID, tok, t.ChatID, t.Enabled)
}

func (s *Store) Telegram(ctx context.Context, userID int64) (Telegram, error) {
	var tok string
	var t Telegram
	err := s.db.QueryRow(ctx, `SELECT bot_token_enc, chat_id, enabled FROM telegram_settings WHERE user_id=$1`, userID).
		Scan(&tok, &t.ChatID, &t.Enabled)
	if err != nil {
		return Telegram{}, notFound(err)
	}
	if t.BotToken, err = s.aead.DecryptString("telegram_token", tok); err != nil {
		return Telegram{}, err
	}
	return t, nil
}

// ValidateCard checks the shape of card fields before they are stored.
func ValidateCard(c rail.Card) error {
	n := normalizeCardNumber(c.Number)
	if len(n) < 15 || len(n) > 16 || !allDigits(n) {
		return fmt.Errorf("card number must be 15 or 16 digits")
	}
	if len(c.Password) != 2 || !allDigits(c.Password) {
		return fmt.Errorf("card password must be the first 2 digits")
	}
	if (len(c.BirthOrBizID) != 6 && len(c.BirthOrBizID) != 10) || !allDigits(c.BirthOrBizID) {
		return fmt.Errorf("birth date (YYMMDD) or 10-digit business number required")
	}
	if len(c.Expiry) != 4 || !allDigits(c.Expiry) {
		return fmt.Errorf("expiry must be YYMM")
	}
	return nil
}

func normalizeCardNumber(s string) string {
	return strings.NewReplacer("-", "", " ", "").Replace(s)
}

func allDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return s != ""
}

func notFound(err error) error {
	if db.IsNotFound(err) {
		return ErrNotFound
	}
	return db.WrapNotFound(err)
}
