package poll

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/Donghyun-Son/srtgo/internal/rail"
)

type Action int

const (
	ContinueSilently Action = iota
	ContinueWithNotice
	ReLogin
	ClearBotState
	Abort
)

func (a Action) String() string {
	switch a {
	case ContinueSilently:
		return "continue"
	case ContinueWithNotice:
		return "continue_with_notice"
	case ReLogin:
		return "relogin"
	case ClearBotState:
		return "clear_bot_state"
	case Abort:
		return "abort"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

type Category string

const (
	SoldOut            Category = "sold_out"
	TransientIO        Category = "transient_io"
	BotDetected        Category = "bot_detected"
	SessionExpired     Category = "session_expired"
	InvalidCredentials Category = "invalid_credentials"
	Fatal              Category = "fatal"
	Unclassified       Category = "unclassified"
)

// Decision is what the engine should do about one failure.
type Decision struct {
	Action   Action
	Category Category
	// Notice is user-facing text for ContinueWithNotice.
	Notice string
	// Reason is the failure message recorded for Abort.
	Reason string
}

// Rules holds the message fragments for one backend.
type Rules struct {
	BotDetected        []string `yaml:"bot_detected"`
	SessionExpired     []string `yaml:"session_expired"`
	InvalidCredentials []string `yaml:"invalid_credentials"`
	SoldOut            []string `yaml:"sold_out"`
	Transient          []string `yaml:"transient"`
}

//go:embed rules.yaml
var defaultRules []byte

type Classifier struct {
	rules map[rail.Variant]Rules
}

func NewClassifier(rules map[rail.Variant]Rules) *Classifier {
	return &Classifier{rules: rules}
}

// DefaultClassifier uses the built-in tables.
func DefaultClassifier() *Classifier {
	c, err := ParseRules(defaultRules)
	if err != nil {
		panic(fmt.Sprintf("poll: embedded rules.yaml: %v", err))
	}
	return c
}

// LoadClassifier reads tables from a YAML file, falling back to the built-in tables for any
// backend the file leaves out.
func LoadClassifier(path string) (*Classifier, error) {
	if path == "" {
		return DefaultClassifier(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("classifier rules: %w", err)
	}
	c, err := ParseRules(b)
	if err != nil {
		return nil, err
	}
	for v, r := range DefaultClassifier().rules {
		if _, ok := c.rules[v]; !ok {
			c.rules[v] = r
		}
	}
	return c, nil
}

func ParseRules(b []byte) (*Classifier, error) {
	var raw map[string]Rules
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("classifier rules: %w", err)
	}
	rules := make(map[rail.Variant]Rules, len(raw))
	for k, r := range raw {
		v, err := rail.ParseVariant(k)
		if err != nil {
			return nil, fmt.Errorf("classifier rules: %w", err)
		}
		rules[v] = r
	}
	return NewClassifier(rules), nil
}

// Classify maps a rail failure to a recovery action. It has no side effects.
func (c *Classifier) Classify(err error, v rail.Variant) Decision {
	if err == nil {
		return Decision{Action: ContinueSilently}
	}
	if errors.Is(err, rail.ErrConfig) {
		return Decision{Action: Abort, Category: Fatal, Reason: "configuration error: " + err.Error()}
	}
	r, ok := c.rules[v]
	if !ok {
		return Decision{Action: Abort, Category: Fatal, Reason: fmt.Sprintf("no error rules for rail type %q", v)}
	}

	msg := err.Error()
	switch {
	case containsAny(msg, r.BotDetected):
		return Decision{Action: ClearBotState, Category: BotDetected}
	case containsAny(msg, r.SessionExpired):
		return Decision{Action: ReLogin, Category: SessionExpired}
	case containsAny(msg, r.InvalidCredentials):
		return Decision{Action: Abort, Category: InvalidCredentials, Reason: "login rejected: " + msg}
	case containsAny(msg, r.SoldOut):
		return Decision{Action: ContinueSilently, Category: SoldOut}
	case containsAny(msg, r.Transient), transient(err):
		return Decision{Action: ContinueSilently, Category: TransientIO}
	}
	return Decision{Action: ContinueWithNotice, Category: Unclassified, Notice: msg}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func transient(err error) bool {
	var (
		netErr    net.Error
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	switch {
	case errors.Is(err, rail.ErrMalformedResponse),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr),
		errors.As(err, &syntaxErr),
		errors.As(err, &typeErr):
		return true
	}
	return false
}
