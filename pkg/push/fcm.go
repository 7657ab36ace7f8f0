package push

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	fcmScope        = "https://www.googleapis.com/auth/firebase.messaging"
	defaultTokenURL = "https://oauth2.googleapis.com/token"
)

// Credentials is the subset of a Google service-account key file FCM needs.
type Credentials struct {
	ProjectID   string `json:"project_id"`
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	TokenURI    string `json:"token_uri"`
}

func LoadCredentials(path string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("read fcm credentials: %w", err)
	}
	var c Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return Credentials{}, fmt.Errorf("parse fcm credentials: %w", err)
	}
	if c.ProjectID == "" || c.ClientEmail == "" || c.PrivateKey == "" {
		return Credentials{}, errors.New("fcm credentials missing project_id, client_email or private_key")
	}
	return c, nil
}

// FCMGateway sends notifications through the FCM HTTP v1 API. The OAuth access token is
// obtained with a signed service-account assertion and reused until shortly before expiry.
type FCMGateway struct {
	creds    Credentials
	key      *rsa.PrivateKey
	endpoint string
	tokenURL string
	client   *http.Client
	nowFn    func() time.Time

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

// NewFCMGateway builds a gateway. tokenURL overrides the token_uri of the credentials when set.
func NewFCMGateway(creds Credentials, endpoint, tokenURL string, client *http.Client) (*FCMGateway, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(creds.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("parse fcm private key: %w", err)
	}
	if tokenURL == "" {
		tokenURL = creds.TokenURI
	}
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &FCMGateway{
		creds:    creds,
		key:      key,
		endpoint: strings.TrimRight(endpoint, "/"),
		tokenURL: tokenURL,
		client:   client,
		nowFn:    time.Now,
	}, nil
}

func (g *FCMGateway) Send(ctx context.Context, n Notification) error {
	token, err := g.token(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(map[string]any{
		"message": map[string]any{
			"token": n.Token,
			"notification": map[string]string{
				"title": n.Title,
				"body":  n.Body,
			},
			"data": n.Data,
		},
	})
	if err != nil {
		return err
	}

	u := fmt.Sprintf("%s/v1/projects/%s/messages:send", g.endpoint, url.PathEscape(g.creds.ProjectID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("fcm send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		g.mu.Lock()
		g.accessToken = ""
		g.mu.Unlock()
	}
	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("fcm send: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (g *FCMGateway) token(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.nowFn()
	if g.accessToken != "" && now.Before(g.expiresAt) {
		return g.accessToken, nil
	}

	// Google expects aud as a plain string, so MapClaims rather than RegisteredClaims.
	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":   g.creds.ClientEmail,
		"scope": fcmScope,
		"aud":   g.tokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}).SignedString(g.key)
	if err != nil {
		return "", fmt.Errorf("sign fcm assertion: %w", err)
	}

	form := url.Values{
		"grant_type": {"urn:ietf:params:oauth:grant-type:jwt-bearer"},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fcm token exchange: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("fcm token exchange: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("fcm token exchange: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("fcm token exchange: empty access token")
	}

	g.accessToken = tok.AccessToken
	g.expiresAt = now.Add(time.Duration(tok.ExpiresIn)*time.Second - time.Minute)
	return g.accessToken, nil
}
