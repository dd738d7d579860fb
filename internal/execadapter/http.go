package execadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/freedeaths/tidbcloud-skills/internal/skill"
)

const defaultHTTPTimeout = 60 * time.Second

// HTTPAdapter executes HTTP operations against a SUT's API. Credentials are
// read from the environment or a credential file as declared in sut.yaml and
// are held only inside the adapter.
type HTTPAdapter struct {
	sut    string
	cfg    skill.Config
	creds  map[string]string
	client *http.Client
	logger *slog.Logger
}

// NewHTTPAdapter creates an HTTP adapter for one SUT.
func NewHTTPAdapter(sut string, cfg skill.Config, logger *slog.Logger) *HTTPAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPAdapter{
		sut:    sut,
		cfg:    cfg,
		creds:  loadCredentials(cfg.Connection.Auth),
		client: &http.Client{Timeout: defaultHTTPTimeout},
		logger: logger,
	}
}

// loadCredentials reads credential values from the declared environment
// variables, falling back to the credential file. Never returned to callers.
func loadCredentials(auth skill.Auth) map[string]string {
	creds := make(map[string]string)
	for key, envName := range auth.EnvVars {
		if value := os.Getenv(envName); value != "" {
			creds[key] = value
		}
	}
	if len(creds) > 0 {
		return creds
	}

	credFile := auth.CredentialFile
	if credFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return creds
		}
		credFile = filepath.Join(home, ".tidb-credentials.json")
	} else {
		credFile = os.ExpandEnv(credFile)
	}

	data, err := os.ReadFile(credFile)
	if err != nil {
		return creds
	}
	var loaded map[string]string
	if err := json.Unmarshal(data, &loaded); err != nil {
		return creds
	}
	for k, v := range loaded {
		if v != "" {
			creds[k] = v
		}
	}
	return creds
}

// Execute performs one HTTP operation and returns a normalized Outcome.
func (a *HTTPAdapter) Execute(ctx context.Context, operationID string, req Request) (Outcome, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	target, err := a.buildURL(req.Path, req.Query)
	if err != nil {
		return Outcome{Success: false, Error: err.Error(), Class: FailureValidation}, nil
	}

	var bodyBytes []byte
	if req.Body != nil {
		bodyBytes, err = json.Marshal(req.Body)
		if err != nil {
			return Outcome{Success: false, Error: fmt.Sprintf("encode body: %v", err), Class: FailureValidation}, nil
		}
	}

	start := time.Now()
	resp, err := a.do(ctx, method, target, req.Headers, bodyBytes)
	durationMS := time.Since(start).Milliseconds()
	if err != nil {
		a.logger.Warn("http execution failed",
			slog.String("operation", operationID), slog.String("error", err.Error()))
		return Outcome{
			Success:    false,
			Body:       map[string]any{},
			Error:      err.Error(),
			DurationMS: durationMS,
			Class:      FailureTransient,
		}, nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Outcome{
			Success:    false,
			StatusCode: resp.StatusCode,
			Body:       map[string]any{},
			Error:      fmt.Sprintf("read response: %v", err),
			DurationMS: durationMS,
			Class:      FailureTransient,
		}, nil
	}

	body := decodeBody(raw)
	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	out := Outcome{
		Success:    success,
		StatusCode: resp.StatusCode,
		Body:       body,
		DurationMS: durationMS,
		Class:      classifyHTTP(resp.StatusCode),
	}
	if !success {
		out.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}

	a.logger.Debug("http executed",
		slog.String("operation", operationID),
		slog.String("method", method),
		slog.Int("status", resp.StatusCode),
		slog.Int64("duration_ms", durationMS))
	return out, nil
}

// do sends the request, performing a digest-auth handshake when configured.
func (a *HTTPAdapter) do(ctx context.Context, method, target string, headers map[string]string, body []byte) (*http.Response, error) {
	build := func() (*http.Request, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		httpReq, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return nil, err
		}
		for k, v := range headers {
			httpReq.Header.Set(k, v)
		}
		if body != nil && httpReq.Header.Get("Content-Type") == "" {
			httpReq.Header.Set("Content-Type", "application/json")
		}
		return httpReq, nil
	}

	httpReq, err := build()
	if err != nil {
		return nil, err
	}
	if a.cfg.Connection.Auth.Type == "bearer" {
		if token := a.creds["token"]; token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized && a.cfg.Connection.Auth.Type == "digest" {
		challenge := resp.Header.Get("WWW-Authenticate")
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		public, private := a.creds["public_key"], a.creds["private_key"]
		if public == "" || private == "" {
			return nil, fmt.Errorf("digest auth required but credentials are not configured")
		}
		authz, err := digestAuthorization(challenge, method, httpReq.URL.RequestURI(), public, private)
		if err != nil {
			return nil, err
		}
		retry, err := build()
		if err != nil {
			return nil, err
		}
		retry.Header.Set("Authorization", authz)
		return a.client.Do(retry)
	}
	return resp, nil
}

func (a *HTTPAdapter) buildURL(path string, query map[string]string) (string, error) {
	host := a.cfg.Connection.Host
	if host == "" {
		return "", fmt.Errorf("sut config has no connection host")
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	scheme := "https"
	if rest, found := strings.CutPrefix(host, "http://"); found {
		// Plain http hosts are only used by local test doubles.
		scheme, host = "http", rest
	}
	u := url.URL{
		Scheme: scheme,
		Host:   host,
		Path:   strings.TrimSuffix(a.cfg.Connection.BasePath, "/") + path,
	}
	if len(query) > 0 {
		q := u.Query()
		for k, v := range query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func decodeBody(raw []byte) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err == nil {
		return body
	}
	return map[string]any{"raw": truncate(string(raw), 1000)}
}
