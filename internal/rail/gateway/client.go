// Package gateway implements rail.Client against a JSON rail gateway: a sidecar that owns the
// ticketing sites' wire protocols and exposes one uniform API per backend under /{variant}/.
//
// Both backends share the success schema. Their error envelopes differ and are normalized to
// *rail.UpstreamError here so callers only ever see the upstream message text.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Donghyun-Son/srtgo/internal/rail"
	"github.com/Donghyun-Son/srtgo/internal/session"
)

const (
	headerSession  = "X-Rail-Session"
	headerBotToken = "X-Rail-Bot-Token"
)

// Factory builds one Client per poll run.
type Factory struct {
	BaseURL  string
	HTTP     *http.Client
	Sessions session.Store
	Log      *slog.Logger
}

func (f *Factory) NewClient(v rail.Variant, scope string) (rail.Client, error) {
	if v != rail.SRT && v != rail.KTX {
		return nil, fmt.Errorf("%w: unsupported rail type %q", rail.ErrConfig, v)
	}
	if f.BaseURL == "" {
		return nil, fmt.Errorf("%w: RAIL_GATEWAY_URL is not set", rail.ErrConfig)
	}
	if _, err := url.Parse(f.BaseURL); err != nil {
		return nil, fmt.Errorf("%w: RAIL_GATEWAY_URL: %v", rail.ErrConfig, err)
	}
	hc := f.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	sessions := f.Sessions
	if sessions == nil {
		sessions = session.NewMemory(session.DefaultTTL)
	}
	log := f.Log
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		variant:  v,
		base:     strings.TrimRight(f.BaseURL, "/") + "/" + strings.ToLower(string(v)),
		hc:       hc,
		sessions: sessions,
		key:      string(v) + ":" + scope,
		log:      log.With("component", "rail", "rail", string(v)),
	}, nil
}

type Client struct {
	variant  rail.Variant
	base     string
	hc       *http.Client
	sessions session.Store
	key      string
	log      *slog.Logger

	mu     sync.Mutex
	sess   session.Session
	loaded bool
}

func (c *Client) Login(ctx context.Context, identity, secret string) (bool, error) {
	var out struct {
		OK bool `json:"ok"`
	}
	err := c.do(ctx, http.MethodPost, "/login", map[string]string{"id": identity, "password": secret}, &out)
	if err != nil {
		return false, err
	}
	return out.OK, nil
}

func (c *Client) SearchTrains(ctx context.Context, p rail.SearchParams) ([]rail.Train, error) {
	in := struct {
		Departure          string           `json:"departure"`
		Arrival            string           `json:"arrival"`
		Date               string           `json:"date"`
		Time               string           `json:"time"`
		Passengers         []rail.Passenger `json:"passengers"`
		IncludeUnavailable bool             `json:"include_unavailable"`
	}{p.Departure, p.Arrival, p.Date, p.Time, p.Passengers, p.IncludeUnavailable}

	var out struct {
		Trains []*train `json:"trains"`
	}
	if err := c.do(ctx, http.MethodPost, "/trains/search", in, &out); err != nil {
		return nil, err
	}
	trains := make([]rail.Train, 0, len(out.Trains))
	for _, t := range out.Trains {
		if t == nil {
			continue
		}
		trains = append(trains, t)
	}
	return trains, nil
}

func (c *Client) Reserve(ctx context.Context, t rail.Train, passengers []rail.Passenger, seat rail.SeatOption) (rail.Reservation, error) {
	ref := trainRef{Number: t.Number(), DepartureTime: t.DepartureTime()}
	if gt, ok := t.(*train); ok {
		ref.Token = gt.Token
	}
	in := struct {
		Train      trainRef         `json:"train"`
		Passengers []rail.Passenger `json:"passengers"`
		SeatOption rail.SeatOption  `json:"seat_option"`
	}{ref, passengers, seat}

	var out struct {
		Reservation *reservation `json:"reservation"`
	}
	if err := c.do(ctx, http.MethodPost, "/reservations", in, &out); err != nil {
		return nil, err
	}
	if out.Reservation == nil {
		return nil, fmt.Errorf("%w: reservation missing from reserve response", rail.ErrMalformedResponse)
	}
	return out.Reservation, nil
}

func (c *Client) PayWithCard(ctx context.Context, r rail.Reservation, p rail.CardPayment) (bool, error) {
	in := struct {
		CardNumber   string          `json:"card_number"`
		CardPassword string          `json:"card_password"`
		BirthOrBizID string          `json:"birth_or_biz_id"`
		Expiry       string          `json:"expiry"`
		Installments int             `json:"installments"`
		HolderType   rail.HolderType `json:"holder_type"`
	}{p.Number, p.Password, p.BirthOrBizID, p.Expiry, p.Installments, p.Holder}

	var out struct {
		OK bool `json:"ok"`
	}
	if err := c.do(ctx, http.MethodPost, "/reservations/"+url.PathEscape(r.ID())+"/payment", in, &out); err != nil {
		return false, err
	}
	return out.OK, nil
}

func (c *Client) Cancel(ctx context.Context, reservationID string) (bool, error) {
	var out struct {
		OK bool `json:"ok"`
	}
	if err := c.do(ctx, http.MethodDelete, "/reservations/"+url.PathEscape(reservationID), nil, &out); err != nil {
		return false, err
	}
	return out.OK, nil
}

func (c *Client) Refund(ctx context.Context, t rail.Ticket) (bool, error) {
	var out struct {
		OK bool `json:"ok"`
	}
	if err := c.do(ctx, http.MethodPost, "/tickets/"+url.PathEscape(t.Number)+"/refund", nil, &out); err != nil {
		return false, err
	}
	return out.OK, nil
}

func (c *Client) ClearBotState(ctx context.Context) {
	c.mu.Lock()
	c.sess.BotToken = ""
	s := c.sess
	c.mu.Unlock()
	if err := c.sessions.Save(ctx, c.key, s); err != nil {
		c.log.Warn("clear bot token", "err", err)
	}
}

// Close forgets the run's session.
func (c *Client) Close(ctx context.Context) error {
	return c.sessions.Delete(ctx, c.key)
}

func (c *Client) session(ctx context.Context) session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		c.loaded = true
		s, ok, err := c.sessions.Load(ctx, c.key)
		if err != nil {
			c.log.Warn("load session", "err", err)
		}
		if ok {
			c.sess = s
		}
		c.sess.Rail = string(c.variant)
	}
	return c.sess
}

func (c *Client) remember(ctx context.Context, res *http.Response) {
	cookie := res.Header.Get(headerSession)
	bot := res.Header.Get(headerBotToken)
	if cookie == "" && bot == "" {
		return
	}
	c.mu.Lock()
	if cookie != "" {
		c.sess.Cookie = cookie
	}
	if bot != "" {
		c.sess.BotToken = bot
	}
	s := c.sess
	c.mu.Unlock()
	if err := c.sessions.Save(ctx, c.key, s); err != nil {
		c.log.Warn("save session", "err", err)
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("rail: encode %s: %w", path, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("%w: %v", rail.ErrConfig, err)
	}
	req.Header.Set("accept", "application/json")
	if in != nil {
		req.Header.Set("content-type", "application/json")
	}
	s := c.session(ctx)
	if s.Cookie != "" {
		req.Header.Set(headerSession, s.Cookie)
	}
	if s.BotToken != "" {
		req.Header.Set(headerBotToken, s.BotToken)
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("rail: %s %s: %w", method, path, err)
	}
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("rail: read %s: %w", path, err)
	}
	c.remember(ctx, res)

	if uerr := c.upstreamError(res.StatusCode, b); uerr != nil {
		return uerr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("%w: %s: %v", rail.ErrMalformedResponse, path, err)
	}
	return nil
}

// upstreamError extracts the backend's error envelope. SRT reports {"error":{"code","message"}};
// KTX keeps the site's flat h_msg_cd/h_msg_txt pair.
func (c *Client) upstreamError(status int, b []byte) error {
	var code, msg string
	switch c.variant {
	case rail.SRT:
		var env struct {
			Error *struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil && env.Error != nil {
			code, msg = env.Error.Code, env.Error.Message
		}
	case rail.KTX:
		var env struct {
			Result string `json:"strResult"`
			Code   string `json:"h_msg_cd"`
			Text   string `json:"h_msg_txt"`
		}
		if json.Unmarshal(b, &env) == nil && (env.Result == "FAIL" || (status >= 400 && env.Text != "")) {
			code, msg = env.Code, env.Text
		}
	}
	if msg == "" && status >= 400 {
		msg = strings.TrimSpace(string(b))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		if msg == "" {
			msg = http.StatusText(status)
		}
		code = fmt.Sprintf("HTTP%d", status)
	}
	if msg == "" {
		return nil
	}
	return &rail.UpstreamError{Variant: c.variant, Code: code, Message: msg}
}

type trainRef struct {
	Number        string `json:"number"`
	DepartureTime string `json:"departure_time"`
	Token         string `json:"token,omitempty"`
}

type train struct {
	Num     string `json:"number"`
	Label   string `json:"name"`
	Dep     string `json:"departure_time"`
	Arr     string `json:"arrival_time"`
	General bool   `json:"general_seat"`
	Special bool   `json:"special_seat"`
	Standby bool   `json:"standby"`
	Token   string `json:"token"`
}

func (t *train) Number() string             { return t.Num }
func (t *train) Name() string               { return t.Label }
func (t *train) DepartureTime() string      { return t.Dep }
func (t *train) ArrivalTime() string        { return t.Arr }
func (t *train) GeneralSeatAvailable() bool { return t.General }
func (t *train) SpecialSeatAvailable() bool { return t.Special }
func (t *train) StandbyAvailable() bool     { return t.Standby }

type reservation struct {
	RID        string        `json:"id"`
	TicketList []rail.Ticket `json:"tickets"`
	Waiting    bool          `json:"waiting"`
	Text       string        `json:"summary"`
}

func (r *reservation) ID() string             { return r.RID }
func (r *reservation) Tickets() []rail.Ticket { return r.TicketList }
func (r *reservation) IsWaiting() bool        { return r.Waiting }
func (r *reservation) Summary() string        { return r.Text }
