// ============================================================================
// zerog-bots Campaign - Puzzlemania 後端客戶端
// ============================================================================
//
// Package: internal/campaign
// 文件: campaign.go
// 功能: Privy 錢包登入（SIWE）與 deform GraphQL 任務 API
//
// 登入握手:
//   1. POST {privy}/siwe/init            取得 nonce
//   2. 以私鑰 personal_sign SIWE 訊息
//   3. POST {privy}/siwe/authenticate    取得 bearer / access / refresh / identity token
//   4. POST {deform} UserLogin           以 bearer 交換 deform session token
//   5. 尚未同意條款時 POST {privy}/users/me/accept_terms
//
// 之後所有 deform 呼叫都帶 "Bearer <session token>"，privy 呼叫帶 "Bearer <bearer token>"。
//
// ============================================================================

package campaign

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ChuLiYu/zerog-bots/internal/chain"
	"github.com/ChuLiYu/zerog-bots/internal/config"
	"github.com/ChuLiYu/zerog-bots/internal/outcome"
	"github.com/ChuLiYu/zerog-bots/internal/retry"
	"github.com/ChuLiYu/zerog-bots/internal/transport"
	"github.com/ChuLiYu/zerog-bots/pkg/types"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	ErrLoginFailed        = errors.New("campaign login failed")
	ErrNotLoggedIn        = errors.New("campaign session is not established")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrTwitterNotLinked   = errors.New("no twitter account in linked accounts")
	ErrUnexpectedResponse = errors.New("unexpected campaign response")
)

const (
	privyClient  = "react-auth:2.4.1"
	siweChainID  = "eip155:42161"
	twitterOAuth = "twitter_oauth"
)

// Backend 任務執行器依賴的後端操作
type Backend interface {
	Login(ctx context.Context) (types.LoginSession, error)
	TwitterLinked(ctx context.Context) (string, bool, error)
	InitOAuth(ctx context.Context, challenge, state string) (string, error)
	LinkOAuth(ctx context.Context, code, state, verifier string) (string, error)
	Tasks(ctx context.Context) ([]types.Task, error)
	Verify(ctx context.Context, activityID string, metadata map[string]interface{}) (types.Outcome, error)
	ReferralCode(ctx context.Context) (string, error)
}

// Client Puzzlemania 後端客戶端；一個錢包一個實例
type Client struct {
	http    transport.Doer
	cfg     config.Campaign
	wallet  types.Wallet
	session types.LoginSession
	now     func() time.Time
}

// New 建立客戶端
func New(doer transport.Doer, cfg config.Campaign, wallet types.Wallet) *Client {
	return &Client{http: doer, cfg: cfg, wallet: wallet, now: time.Now}
}

// Session 目前的登入會話
func (c *Client) Session() types.LoginSession {
	return c.session
}

// ============================================================================
// 登入
// ============================================================================

type privyUser struct {
	HasAcceptedTerms bool `json:"has_accepted_terms"`
	LinkedAccounts   []struct {
		Type     string `json:"type"`
		Username string `json:"username"`
	} `json:"linked_accounts"`
}

type authResponse struct {
	Token            string    `json:"token"`
	PrivyAccessToken string    `json:"privy_access_token"`
	RefreshToken     string    `json:"refresh_token"`
	IdentityToken    string    `json:"identity_token"`
	IsNewUser        bool      `json:"is_new_user"`
	User             privyUser `json:"user"`
}

// Login 完成登入握手並回傳完整的會話
func (c *Client) Login(ctx context.Context) (types.LoginSession, error) {
	logger := zerolog.Ctx(ctx)
	c.session = types.LoginSession{}

	var nonce struct {
		Nonce string `json:"nonce"`
	}
	if _, err := transport.DoJSON(ctx, c.http, c.privy("siwe/init", map[string]interface{}{
		"address": c.wallet.Address.Hex(),
	}, false), &nonce); err != nil {
		return types.LoginSession{}, fmt.Errorf("%w: failed to get nonce: %v", ErrLoginFailed, err)
	}
	if nonce.Nonce == "" {
		return types.LoginSession{}, fmt.Errorf("%w: empty nonce", ErrLoginFailed)
	}

	message := c.SIWEMessage(nonce.Nonce, c.now())
	signature, err := chain.PersonalSign(c.wallet.PrivateKey, message)
	if err != nil {
		return types.LoginSession{}, fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}

	var auth authResponse
	if _, err := transport.DoJSON(ctx, c.http, c.privy("siwe/authenticate", map[string]interface{}{
		"message":          message,
		"signature":        signature,
		"chainId":          siweChainID,
		"walletClientType": "metamask",
		"connectorType":    "injected",
		"mode":             "login-or-sign-up",
	}, false), &auth); err != nil {
		return types.LoginSession{}, fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}

	c.session.BearerToken = auth.Token
	c.session.AccessToken = auth.PrivyAccessToken
	c.session.RefreshToken = auth.RefreshToken
	c.session.IdentityToken = auth.IdentityToken
	if auth.IsNewUser {
		logger.Info().Msg("registered new campaign account")
	} else {
		logger.Info().Msg("logged in to campaign")
	}

	var login struct {
		Data struct {
			UserLogin string `json:"userLogin"`
		} `json:"data"`
	}
	if _, err := transport.DoJSON(ctx, c.http, c.deformRequest("UserLogin", map[string]interface{}{
		"operationName": "UserLogin",
		"variables":     map[string]interface{}{"data": map[string]string{"externalAuthToken": auth.Token}},
		"query":         userLoginQuery,
	}, false), &login); err != nil {
		return types.LoginSession{}, fmt.Errorf("%w: UserLogin: %v", ErrLoginFailed, err)
	}
	c.session.SessionToken = login.Data.UserLogin

	if err := c.session.Validate(); err != nil {
		return types.LoginSession{}, fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}

	if !auth.User.HasAcceptedTerms {
		if err := c.acceptTerms(ctx); err != nil {
			return types.LoginSession{}, fmt.Errorf("%w: %v", ErrLoginFailed, err)
		}
		logger.Info().Msg("terms accepted")
	}
	return c.session, nil
}

// SIWEMessage 產生要簽名的 SIWE 訊息
func (c *Client) SIWEMessage(nonce string, at time.Time) string {
	domain := c.cfg.Origin
	if u, err := url.Parse(c.cfg.Origin); err == nil && u.Host != "" {
		domain = u.Host
	}
	return fmt.Sprintf("%s wants you to sign in with your Ethereum account:\n%s\n\n"+
		"By signing, you are proving you own this wallet and logging in. "+
		"This does not initiate a transaction or cost any fees.\n\n"+
		"URI: %s\nVersion: 1\nChain ID: 42161\nNonce: %s\nIssued At: %s\nResources:\n- https://privy.io",
		domain, c.wallet.Address.Hex(), c.cfg.Origin, nonce, at.UTC().Format("2006-01-02T15:04:05.000Z"))
}

func (c *Client) acceptTerms(ctx context.Context) error {
	var out struct {
		HasAcceptedTerms bool `json:"has_accepted_terms"`
	}
	resp, err := transport.DoJSON(ctx, c.http, c.privy("users/me/accept_terms", map[string]interface{}{}, true), &out)
	if err != nil {
		return fmt.Errorf("failed to accept terms: %w", err)
	}
	if !out.HasAcceptedTerms {
		return fmt.Errorf("%w: terms not accepted: %s", ErrUnexpectedResponse, resp.Body)
	}
	return nil
}

// ============================================================================
// 社群帳號連結
// ============================================================================

// TwitterLinked 查詢會話中是否已連結 X 帳號，回傳帳號名稱
func (c *Client) TwitterLinked(ctx context.Context) (string, bool, error) {
	if c.session.BearerToken == "" {
		return "", false, ErrNotLoggedIn
	}
	var out struct {
		User privyUser `json:"user"`
	}
	if _, err := transport.DoJSON(ctx, c.http, c.privy("sessions", map[string]interface{}{
		"refresh_token": c.session.RefreshToken,
	}, true), &out); err != nil {
		return "", false, fmt.Errorf("failed to get linked accounts: %w", err)
	}
	for _, acc := range out.User.LinkedAccounts {
		if acc.Type == twitterOAuth {
			return acc.Username, true, nil
		}
	}
	return "", false, nil
}

// InitOAuth 開始 X OAuth 流程，回傳授權 URL
func (c *Client) InitOAuth(ctx context.Context, challenge, state string) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	if _, err := transport.DoJSON(ctx, c.http, c.privy("oauth/init", map[string]interface{}{
		"provider":       "twitter",
		"redirect_to":    c.cfg.Origin + "/",
		"code_challenge": challenge,
		"state_code":     state,
	}, true), &out); err != nil {
		return "", fmt.Errorf("failed to init oauth: %w", err)
	}
	return out.URL, nil
}

// LinkOAuth 以授權碼完成連結，回傳 X 帳號名稱
func (c *Client) LinkOAuth(ctx context.Context, code, state, verifier string) (string, error) {
	var out privyUser
	_, err := transport.DoJSON(ctx, c.http, c.privy("oauth/link", map[string]interface{}{
		"authorization_code": code,
		"state_code":         state,
		"code_verifier":      verifier,
	}, true), &out)
	if err != nil {
		if transport.StatusOf(err) == 429 {
			return "", ErrRateLimited
		}
		return "", fmt.Errorf("link request failed: %w", err)
	}
	for _, acc := range out.LinkedAccounts {
		if acc.Type == twitterOAuth {
			return acc.Username, nil
		}
	}
	// 後端已回應但沒有 twitter 帳號，重試也不會改變結果
	return "", retry.Permanent(ErrTwitterNotLinked)
}

// ============================================================================
// 任務
// ============================================================================

// Tasks 取得 campaign 的活動列表（依後端回傳順序）
func (c *Client) Tasks(ctx context.Context) ([]types.Task, error) {
	if c.session.SessionToken == "" {
		return nil, ErrNotLoggedIn
	}
	var out struct {
		Data struct {
			Campaign struct {
				Activities []types.Task `json:"activities"`
			} `json:"campaign"`
		} `json:"data"`
	}
	resp, err := transport.DoJSON(ctx, c.http, c.deformRequest("CampaignActivitiesPanel", map[string]interface{}{
		"operationName": "CampaignActivitiesPanel",
		"variables":     map[string]interface{}{"campaignId": c.cfg.CampaignID, "isTrusted": true},
		"query":         activitiesQuery,
	}, true), &out)
	if err != nil {
		return nil, fmt.Errorf("failed to get tasks: %w", err)
	}
	if out.Data.Campaign.Activities == nil {
		return nil, fmt.Errorf("%w: no activities in %s", ErrUnexpectedResponse, truncate(resp.Body))
	}
	return out.Data.Campaign.Activities, nil
}

// Verify 提交任務驗證
//
// 後端回應包含「已完成」標記時回傳 AlreadyDone；紀錄為 COMPLETED 時回傳 Success；
// 其餘情況回傳錯誤。
func (c *Client) Verify(ctx context.Context, activityID string, metadata map[string]interface{}) (types.Outcome, error) {
	if c.session.SessionToken == "" {
		return types.Outcome{}, ErrNotLoggedIn
	}

	data := map[string]interface{}{"activityId": activityID}
	if metadata != nil {
		data["metadata"] = metadata
	}

	var out struct {
		Data struct {
			VerifyActivity struct {
				Record struct {
					ID     string           `json:"id"`
					Status types.TaskStatus `json:"status"`
				} `json:"record"`
			} `json:"verifyActivity"`
		} `json:"data"`
	}
	resp, err := transport.Do(ctx, c.http, c.deformRequest("VerifyActivity", map[string]interface{}{
		"operationName": "VerifyActivity",
		"variables":     map[string]interface{}{"data": data},
		"query":         verifyActivityQuery,
	}, true))
	if resp != nil {
		if m, ok := outcome.Match(string(resp.Body), outcome.ActivityMarkers); ok {
			return types.AlreadyDone(m), nil
		}
	}
	if err != nil {
		return types.Outcome{}, fmt.Errorf("failed to verify activity %s: %w", activityID, err)
	}
	if err := resp.Decode(&out); err != nil {
		return types.Outcome{}, err
	}
	if out.Data.VerifyActivity.Record.Status != types.TaskCompleted {
		return types.Outcome{}, fmt.Errorf("%w: activity %s not completed: %s", ErrUnexpectedResponse, activityID, truncate(resp.Body))
	}
	return types.Success(out.Data.VerifyActivity.Record.ID), nil
}

// ReferralCode 取得本錢包在 campaign 中的推薦碼
func (c *Client) ReferralCode(ctx context.Context) (string, error) {
	if c.session.SessionToken == "" {
		return "", ErrNotLoggedIn
	}
	var out struct {
		Data *struct {
			UserMe struct {
				CampaignSpot struct {
					Points       float64 `json:"points"`
					ReferralCode string  `json:"referralCode"`
				} `json:"campaignSpot"`
			} `json:"userMe"`
		} `json:"data"`
	}
	resp, err := transport.DoJSON(ctx, c.http, c.deformRequest("UserMe", map[string]interface{}{
		"operationName": "UserMe",
		"variables":     map[string]interface{}{"campaignId": c.cfg.CampaignID},
		"query":         userMeQuery,
	}, true), &out)
	if err != nil {
		return "", fmt.Errorf("failed to get user info: %w", err)
	}
	if out.Data == nil {
		return "", fmt.Errorf("%w: %s", ErrUnexpectedResponse, truncate(resp.Body))
	}
	spot := out.Data.UserMe.CampaignSpot
	zerolog.Ctx(ctx).Info().Float64("points", spot.Points).Str("referral_code", spot.ReferralCode).Msg("campaign user info")
	return spot.ReferralCode, nil
}

// ============================================================================
// 請求組裝
// ============================================================================

func (c *Client) privy(path string, body interface{}, authed bool) transport.Request {
	headers := map[string]string{
		"accept":       "application/json",
		"origin":       c.cfg.Origin,
		"referer":      c.cfg.Origin + "/",
		"privy-app-id": c.cfg.AppID,
		"privy-client": privyClient,
	}
	if authed {
		headers["authorization"] = "Bearer " + c.session.BearerToken
	}
	return transport.Request{
		Method:  "POST",
		URL:     strings.TrimRight(c.cfg.PrivyURL, "/") + "/" + path,
		Headers: headers,
		JSON:    body,
	}
}

func (c *Client) deformRequest(operation string, body interface{}, authed bool) transport.Request {
	headers := map[string]string{
		"accept":                  "*/*",
		"origin":                  c.cfg.Origin,
		"referer":                 c.cfg.Origin + "/",
		"x-apollo-operation-name": operation,
	}
	if authed {
		headers["authorization"] = "Bearer " + c.session.SessionToken
	}
	return transport.Request{Method: "POST", URL: c.cfg.DeformURL, Headers: headers, JSON: body}
}

func truncate(b []byte) string {
	const max = 300
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
