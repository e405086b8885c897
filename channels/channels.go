// Package channels resolves the wanted channel list from its configured
// source and keeps the pool's wanted set in sync with it.
package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/c360/chatstream/config"
	"github.com/c360/chatstream/errors"
)

// Provider resolves the current wanted channel list.
type Provider interface {
	Channels(ctx context.Context) ([]string, error)
}

// Static always returns the same list.
type Static []string

// Channels implements Provider.
func (s Static) Channels(context.Context) ([]string, error) {
	out := make([]string, len(s))
	copy(out, s)
	return out, nil
}

// File reads a JSON array of channel names from a file on every call, so
// edits take effect on the next sync.
type File struct {
	Path string
}

// Channels implements Provider.
func (f *File) Channels(context.Context) ([]string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, errors.WrapTransient(err, "channels", "Channels", "read channel file")
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, errors.WrapPermanent(err, "channels", "Channels", "decode channel file")
	}
	return list, nil
}

// HTTP fetches the channel list from an endpoint returning
// {"data": {"channels": [...]}}. Token, when set, is sent as a bearer
// token.
type HTTP struct {
	URL    string
	Token  string
	Client *http.Client
}

type httpResponse struct {
	Data struct {
		Channels []string `json:"channels"`
	} `json:"data"`
}

// Channels implements Provider.
func (h *HTTP) Channels(ctx context.Context) ([]string, error) {
	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return nil, errors.WrapPermanent(err, "channels", "Channels", "build request")
	}
	if h.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.Token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.WrapTransient(err, "channels", "Channels", "fetch channel list")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("channel endpoint returned %d", resp.StatusCode)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, errors.WrapTransient(err, "channels", "Channels", "fetch channel list")
		}
		return nil, errors.WrapPermanent(err, "channels", "Channels", "fetch channel list")
	}

	var body httpResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.WrapTransient(err, "channels", "Channels", "decode channel list")
	}
	return body.Data.Channels, nil
}

// FromConfig builds the provider the configuration names.
func FromConfig(cfg config.ChannelsConfig) (Provider, error) {
	switch cfg.Source {
	case "static", "":
		return Static(cfg.Static), nil
	case "file":
		return &File{Path: cfg.Path}, nil
	case "http":
		return &HTTP{URL: cfg.URL, Token: cfg.Token}, nil
	default:
		return nil, errors.WrapFatal(errors.ErrInvalidConfig, "channels", "FromConfig",
			"channel source must be static, file, or http, got "+cfg.Source)
	}
}
