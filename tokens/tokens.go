// Package tokens provides the credentials simulated participants present when
// joining a channel.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"resty.dev/v3"
	"rtc-soak/session"
)

var ErrEmptyToken = errors.New("token server returned an empty token")

// Static joins with the app id alone, for projects without token
// authentication.
type Static struct {
	AppID string
}

func (s Static) Credentials(context.Context, string, session.Identity, session.Role) (session.Credentials, error) {
	return session.Credentials{AppID: s.AppID}, nil
}

type TokenRequest struct {
	ChannelName string `json:"channelName"`
	Uid         uint32 `json:"uid"`
	Role        string `json:"role"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

// Client fetches a fresh token from a token server for every join.
type Client struct {
	appId      string
	apiRoot    string
	apiKey     string
	httpClient *resty.Client
}

func NewClient(appId, apiRoot, apiKey string) *Client {
	return &Client{
		appId:      appId,
		apiRoot:    apiRoot,
		apiKey:     apiKey,
		httpClient: resty.New(),
	}
}

func (c *Client) Credentials(
	ctx context.Context,
	channel string,
	identity session.Identity,
	role session.Role,
) (session.Credentials, error) {
	url := c.apiRoot + "/rtc/token"

	requestData := TokenRequest{
		ChannelName: channel,
		Uid:         uint32(identity),
		Role:        string(role),
	}

	var result TokenResponse

	req := c.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(requestData).
		SetResult(&result)
	if c.apiKey != "" {
		req.SetHeader("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := req.Post(url)
	if err != nil {
		return session.Credentials{}, fmt.Errorf("fetching token failed: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		return session.Credentials{}, fmt.Errorf("fetching token failed: %v", resp.Status())
	}

	if result.Token == "" {
		return session.Credentials{}, ErrEmptyToken
	}

	return session.Credentials{AppID: c.appId, Token: result.Token}, nil
}

func (c *Client) Close() error {
	return c.httpClient.Close()
}
