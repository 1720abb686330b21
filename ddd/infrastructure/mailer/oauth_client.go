package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/oauth2"

	"outreach-service/ddd/domain/entity"
)

// oauthClient issues API calls on behalf of an account from its stored refresh token.
// Token sources are cached per account so access tokens are reused until they expire.
type oauthClient struct {
	conf    *oauth2.Config
	sources sync.Map // account id + refresh token -> oauth2.TokenSource
}

func newOAuthClient(conf *oauth2.Config) *oauthClient {
	return &oauthClient{conf: conf}
}

func (o *oauthClient) tokenSource(account *entity.MailAccount) (oauth2.TokenSource, error) {
	if strings.TrimSpace(account.RefreshToken) == "" {
		return nil, fmt.Errorf("account %s has no refresh token", account.AccountID)
	}
	key := account.AccountID + "|" + account.RefreshToken
	src, ok := o.sources.Load(key)
	if !ok {
		ts := oauth2.ReuseTokenSource(nil, o.conf.TokenSource(context.Background(), &oauth2.Token{RefreshToken: account.RefreshToken}))
		src, _ = o.sources.LoadOrStore(key, ts)
	}
	return src.(oauth2.TokenSource), nil
}

func (o *oauthClient) httpClient(ctx context.Context, account *entity.MailAccount) (*http.Client, error) {
	ts, err := o.tokenSource(account)
	if err != nil {
		return nil, err
	}
	return oauth2.NewClient(ctx, ts), nil
}

func (o *oauthClient) postJSON(ctx context.Context, account *entity.MailAccount, url string, payload interface{}) error {
	client, err := o.httpClient(ctx, account)
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("post %s: status %d: %s", url, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
