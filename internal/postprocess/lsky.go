package postprocess

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// ErrLskyUnauthorized means the host rejected the bearer token.
var ErrLskyUnauthorized = errors.New("lsky: token rejected")

// LskyClient talks to a Lsky Pro image host.
type LskyClient struct {
	client        *http.Client
	uploadTimeout time.Duration
	tokenTimeout  time.Duration
}

func NewLskyClient(client *http.Client, uploadTimeout time.Duration) *LskyClient {
	if client == nil {
		client = http.DefaultClient
	}
	if uploadTimeout <= 0 {
		uploadTimeout = 30 * time.Second
	}
	return &LskyClient{client: client, uploadTimeout: uploadTimeout, tokenTimeout: 10 * time.Second}
}

// FetchToken exchanges credentials for an API token.
func (l *LskyClient) FetchToken(ctx context.Context, baseURL, email, password string) (string, error) {
	payload, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return "", err
	}
	reqCtx, cancel := context.WithTimeout(ctx, l.tokenTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/api/v1/tokens", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	body, status, err := l.do(req)
	if err != nil {
		return "", err
	}
	if !success(status) {
		return "", fmt.Errorf("lsky token: status %d", status)
	}
	res := gjson.ParseBytes(body)
	token := res.Get("data.token").String()
	if !res.Get("status").Bool() || token == "" {
		return "", fmt.Errorf("lsky token: %s", res.Get("message").String())
	}
	return token, nil
}

// Upload sends data as a multipart "file" field and returns the hosted URL.
func (l *LskyClient) Upload(ctx context.Context, baseURL, token string, data []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="image.png"`)
	header.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(header)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	reqCtx, cancel := context.WithTimeout(ctx, l.uploadTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/api/v1/upload", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	body, status, err := l.do(req)
	if err != nil {
		return "", err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return "", fmt.Errorf("%w: status %d", ErrLskyUnauthorized, status)
	}
	if !success(status) {
		return "", fmt.Errorf("lsky upload: status %d", status)
	}
	res := gjson.ParseBytes(body)
	url := res.Get("data.links.url").String()
	if !res.Get("status").Bool() || url == "" {
		return "", fmt.Errorf("lsky upload: unexpected response %s", strings.TrimSpace(string(body)))
	}
	return url, nil
}

func (l *LskyClient) do(req *http.Request) ([]byte, int, error) {
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func success(status int) bool {
	return status >= 200 && status < 300
}
