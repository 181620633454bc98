// ============================================================================
// zerog-bots Social - X (Twitter) 帳號連結
// ============================================================================
//
// Package: internal/social
// 文件: linker.go
// 功能: 以錢包的 X auth_token 完成 campaign 後端發起的 OAuth2 PKCE 授權
//
// 流程（跨兩個後端）:
//   1. campaign  oauth/init        送出 challenge + state
//   2. X         GET  authorize    取得 auth_code
//   3. X         POST authorize    approval=true，取得 redirect_uri
//   4. campaign  GET  callback     不跟隨重新導向，從 Location 取出 privy state / code
//   5. campaign  oauth/link        送出 code + state + verifier 完成連結
//
// token 失效（"Could not authenticate you"）為終止錯誤，不再重試。
//
// ============================================================================

package social

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ChuLiYu/zerog-bots/internal/retry"
	"github.com/ChuLiYu/zerog-bots/internal/transport"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	ErrMissingToken  = errors.New("no twitter token for wallet")
	ErrInvalidToken  = errors.New("twitter token is invalid")
	ErrNoAuthCode    = errors.New("no auth_code in authorize response")
	ErrNoRedirect    = errors.New("no redirect_uri in approve response")
	ErrCallbackState = errors.New("oauth callback did not return state and code")
)

// X web 客戶端的公開參數
const (
	AuthorizeURL  = "https://x.com/i/api/2/oauth2/authorize"
	CallbackURL   = "https://auth.privy.io/api/v1/oauth/callback"
	ClientID      = "QzU1Y3VrM0xUaHdROWNJeGRZbkE6MTpjaQ"
	OAuthScope    = "users.read tweet.read offline.access"
	webBearer     = "AAAAAAAAAAAAAAAAAAAAANRILgAAAAAAnNwIzUejRCOuH5E6I8xnZz4puTs%3D1Zv7ttfk8LF81IUq16cHjhLTvJu4FA33AGWWjCpTnA"
	invalidMarker = "could not authenticate you"
)

// Provider 發起與完成連結的 campaign 後端
type Provider interface {
	InitOAuth(ctx context.Context, challenge, state string) (string, error)
	LinkOAuth(ctx context.Context, code, state, verifier string) (string, error)
}

// Linker 一個錢包的 X session
type Linker struct {
	http      transport.Doer
	authToken string
	csrf      string

	AuthorizeURL string
	CallbackURL  string
	ClientID     string
}

// NewLinker 建立 linker；doer 不應跟隨重新導向
func NewLinker(doer transport.Doer, authToken string) *Linker {
	return &Linker{
		http:         doer,
		authToken:    strings.TrimSpace(authToken),
		AuthorizeURL: AuthorizeURL,
		CallbackURL:  CallbackURL,
		ClientID:     ClientID,
	}
}

// Link 完成整個授權流程，回傳 campaign 後端確認的 X 帳號名稱
func (l *Linker) Link(ctx context.Context, p Provider) (string, error) {
	logger := zerolog.Ctx(ctx)
	if l.authToken == "" {
		return "", retry.Permanent(ErrMissingToken)
	}

	pkce, err := NewPKCE()
	if err != nil {
		return "", err
	}
	if _, err := p.InitOAuth(ctx, pkce.Challenge, pkce.State); err != nil {
		return "", err
	}

	code, err := l.Authorize(ctx, pkce)
	if err != nil {
		return "", err
	}
	redirect, err := l.Approve(ctx, code)
	if err != nil {
		return "", err
	}
	state, privyCode, err := l.Callback(ctx, redirect)
	if err != nil {
		return "", err
	}

	username, err := p.LinkOAuth(ctx, privyCode, state, pkce.Verifier)
	if err != nil {
		return "", err
	}
	logger.Info().Str("twitter", username).Msg("twitter account linked")
	return username, nil
}

// Authorize 以 GET 取得 X 的授權碼
func (l *Linker) Authorize(ctx context.Context, p PKCE) (string, error) {
	var out struct {
		AuthCode string `json:"auth_code"`
	}
	if err := l.call(ctx, transport.Request{Method: "GET", URL: l.AuthorizeURL, Query: l.authorizeQuery(p)}, &out); err != nil {
		return "", err
	}
	if out.AuthCode == "" {
		return "", ErrNoAuthCode
	}
	return out.AuthCode, nil
}

// Approve 同意授權，回傳 campaign 的 callback 位址
func (l *Linker) Approve(ctx context.Context, authCode string) (string, error) {
	var out struct {
		RedirectURI string `json:"redirect_uri"`
	}
	form := url.Values{"approval": {"true"}, "code": {authCode}}
	if err := l.call(ctx, transport.Request{Method: "POST", URL: l.AuthorizeURL, Form: form}, &out); err != nil {
		return "", err
	}
	if out.RedirectURI == "" {
		return "", ErrNoRedirect
	}
	return out.RedirectURI, nil
}

// Callback 造訪 callback 位址（不跟隨重新導向），從 Location 取出 privy state 與 code
func (l *Linker) Callback(ctx context.Context, redirect string) (string, string, error) {
	resp, err := transport.Do(ctx, l.http, transport.Request{Method: "GET", URL: redirect})
	if err != nil {
		return "", "", fmt.Errorf("oauth callback failed: %w", err)
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return "", "", fmt.Errorf("%w: status %d without location", ErrCallbackState, resp.Status)
	}
	u, err := url.Parse(location)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrCallbackState, err)
	}
	q := u.Query()
	state, code := q.Get("privy_oauth_state"), q.Get("privy_oauth_code")
	if state == "" || code == "" {
		return "", "", fmt.Errorf("%w: %s", ErrCallbackState, location)
	}
	return state, code, nil
}

func (l *Linker) authorizeQuery(p PKCE) url.Values {
	return url.Values{
		"client_id":             {l.ClientID},
		"code_challenge":        {p.Challenge},
		"code_challenge_method": {"S256"},
		"redirect_uri":          {l.CallbackURL},
		"response_type":         {"code"},
		"scope":                 {OAuthScope},
		"state":                 {p.State},
	}
}

// call 送出帶 X session 的請求；403 帶回新的 ct0 時更新後重送一次
func (l *Linker) call(ctx context.Context, r transport.Request, out interface{}) error {
	if l.csrf == "" {
		token, err := newCSRF()
		if err != nil {
			return err
		}
		l.csrf = token
	}

	for refreshed := false; ; refreshed = true {
		r.Headers = l.headers()
		resp, err := transport.DoJSON(ctx, l.http, r, out)
		if err == nil {
			return nil
		}
		if resp != nil && strings.Contains(strings.ToLower(string(resp.Body)), invalidMarker) {
			return retry.Permanent(ErrInvalidToken)
		}
		if !refreshed && transport.StatusOf(err) == 403 {
			if ct0 := cookieValue(resp.Header.Values("Set-Cookie"), "ct0"); ct0 != "" && ct0 != l.csrf {
				zerolog.Ctx(ctx).Debug().Msg("refreshed twitter csrf token")
				l.csrf = ct0
				continue
			}
		}
		if transport.StatusOf(err) == 401 {
			return retry.Permanent(fmt.Errorf("%w: %v", ErrInvalidToken, err))
		}
		return fmt.Errorf("twitter request failed: %w", err)
	}
}

func (l *Linker) headers() map[string]string {
	return map[string]string{
		"authorization":             "Bearer " + webBearer,
		"cookie":                    "auth_token=" + l.authToken + "; ct0=" + l.csrf,
		"x-csrf-token":              l.csrf,
		"x-twitter-auth-type":       "OAuth2Session",
		"x-twitter-active-user":     "yes",
		"x-twitter-client-language": "en",
		"origin":                    "https://x.com",
		"referer":                   "https://x.com/",
	}
}

func newCSRF() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate csrf token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// cookieValue 從 Set-Cookie 標頭取出指定 cookie
func cookieValue(setCookies []string, name string) string {
	for _, raw := range setCookies {
		pair, _, _ := strings.Cut(raw, ";")
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if ok && k == name {
			return v
		}
	}
	return ""
}
