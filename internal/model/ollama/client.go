// Package ollama implements the model capability on a local Ollama server.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/normanking/mikochat/internal/model"
	"github.com/rs/zerolog"
)

// Sentinel errors for easy checking.
var (
	ErrNotRunning       = errors.New("ollama is not running")
	ErrModelNotFound    = errors.New("model not found")
	ErrSessionDestroyed = errors.New("session destroyed")
)

// Config holds configuration options for the client.
type Config struct {
	// BaseURL is the Ollama API base URL (default: http://127.0.0.1:11434)
	BaseURL string

	// Model is the model name to chat with, e.g. qwen2.5:3b
	Model string

	// Languages the model is trusted with; constraints outside this set
	// make the capability report unavailable.
	Languages []string

	// Timeout for non-streaming requests (default: 2m)
	Timeout time.Duration
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:   "http://127.0.0.1:11434",
		Model:     "qwen2.5:3b",
		Languages: []string{"ja", "en"},
		Timeout:   2 * time.Minute,
	}
}

// Client is a model.Capability backed by Ollama. It is safe for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     zerolog.Logger

	mu      sync.Mutex
	pulling bool
}

var _ model.Capability = (*Client)(nil)

// New creates a client, filling zero config values with defaults.
func New(cfg Config, logger zerolog.Logger) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = def.Languages
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	return &Client{
		cfg: cfg,
		// No client timeout: pulls stream for minutes. Requests carry their
		// own deadline instead.
		httpClient: &http.Client{},
		logger:     logger.With().Str("component", "ollama").Logger(),
	}
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.cfg.Model
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string {
	return c.cfg.BaseURL
}

func (c *Client) supports(langs []string) bool {
	for _, l := range langs {
		if !slices.Contains(c.cfg.Languages, strings.ToLower(l)) {
			return false
		}
	}
	return true
}

// matchesModel compares names treating a missing tag as ":latest".
func matchesModel(installed, wanted string) bool {
	norm := func(s string) string {
		if !strings.Contains(s, ":") {
			return s + ":latest"
		}
		return s
	}
	return norm(installed) == norm(wanted)
}

// do sends a JSON request and returns the response for the caller to close.
func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", ErrNotRunning, err)
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}

	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrModelNotFound
	}
	var apiErr apiError
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
		return nil, fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
	}
	return nil, fmt.Errorf("unexpected status: %s", resp.Status)
}

// ListModels returns the installed models.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result listModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return result.Models, nil
}

func (c *Client) installed(ctx context.Context) (bool, error) {
	models, err := c.ListModels(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range models {
		if matchesModel(m.Name, c.cfg.Model) {
			return true, nil
		}
	}
	return false, nil
}

// Availability implements model.Capability.
func (c *Client) Availability(ctx context.Context, cons model.Constraints) (model.Availability, error) {
	if !c.supports(cons.InputLanguages) || !c.supports(cons.OutputLanguages) {
		return model.Unavailable, nil
	}

	ok, err := c.installed(ctx)
	if err != nil {
		return "", model.Wrap(model.KindCheck, "availability", err)
	}
	if ok {
		return model.Available, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pulling {
		return model.Downloading, nil
	}
	return model.Downloadable, nil
}

// Create implements model.Capability. A missing model is pulled first, with
// progress reported to opts.Monitor.
func (c *Client) Create(ctx context.Context, opts model.CreateOptions) (model.Session, error) {
	if !c.supports(opts.Constraints.InputLanguages) || !c.supports(opts.Constraints.OutputLanguages) {
		return nil, model.Wrap(model.KindCreate, "create", model.ErrCapabilityUnavailable)
	}

	ok, err := c.installed(ctx)
	if err != nil {
		return nil, model.Wrap(model.KindCreate, "create", err)
	}
	if !ok {
		if err := c.Pull(ctx, opts.Monitor); err != nil {
			return nil, model.Wrap(model.KindCreate, "pull", err)
		}
	}

	s := &session{
		id:     uuid.NewString(),
		client: c,
		system: opts.SystemPrompt,
	}
	c.logger.Info().Str("session", s.id).Str("model", c.cfg.Model).Msg("Session created")
	return s, nil
}

// Pull downloads the model, streaming progress to monitor (may be nil).
func (c *Client) Pull(ctx context.Context, monitor model.ProgressObserver) error {
	c.mu.Lock()
	c.pulling = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.pulling = false
		c.mu.Unlock()
	}()

	c.logger.Info().Str("model", c.cfg.Model).Msg("Pulling model")
	resp, err := c.do(ctx, http.MethodPost, "/api/pull", pullRequest{Model: c.cfg.Model, Stream: true})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var p pullProgress
		if err := json.Unmarshal(line, &p); err != nil {
			return fmt.Errorf("decode progress: %w", err)
		}
		if p.Error != "" {
			return errors.New(p.Error)
		}
		if monitor != nil && p.Total > 0 {
			monitor(float64(p.Completed) / float64(p.Total))
		}
		if p.Status == "success" {
			if monitor != nil {
				monitor(1)
			}
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read progress: %w", err)
	}
	return errors.New("pull ended without success")
}

// Unload asks the server to evict the model from memory.
func (c *Client) Unload(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodPost, "/api/generate", generateRequest{Model: c.cfg.Model, KeepAlive: 0})
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) chat(ctx context.Context, messages []chatMessage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodPost, "/api/chat", chatRequest{
		Model:    c.cfg.Model,
		Messages: messages,
		Stream:   false,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if strings.TrimSpace(result.Message.Content) == "" {
		return "", errors.New("empty reply")
	}
	return result.Message.Content, nil
}
