package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/teslashibe/go-voicebot/internal/httpc"
)

// Envelope is the body a tool server answers with.
type Envelope struct {
	Success bool   `json:"success"`
	Result  string `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RemoteClient calls tools hosted by a tool server at POST /tools/<name>.
type RemoteClient struct {
	baseURL string
	http    *http.Client
}

// NewRemoteClient creates a client for the tool server at baseURL.
func NewRemoteClient(baseURL string, hc *http.Client) *RemoteClient {
	return &RemoteClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    httpc.Or(hc, 0),
	}
}

// Call posts args to the named tool and unwraps the envelope.
func (c *RemoteClient) Call(ctx context.Context, name string, args any) (string, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("tools: marshal %s arguments: %w", name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tools/"+name, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("tools: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("tools: read response: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("tools: %s returned status %d: %s", name, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if !env.Success {
		if env.Error == "" {
			env.Error = "tool server reported failure"
		}
		return "", errors.New(env.Error)
	}
	return env.Result, nil
}

// RemoteSearcher searches through a tool server.
type RemoteSearcher struct {
	Client *RemoteClient
}

// Search implements Searcher.
func (s RemoteSearcher) Search(ctx context.Context, query, site string) (string, error) {
	var (
		result string
		err    error
	)
	if site == "" {
		result, err = s.Client.Call(ctx, NameSearchWeb, SearchWebArgs{Query: query})
	} else {
		result, err = s.Client.Call(ctx, NameSearchWebpage, SearchWebpageArgs{Query: query, Webpage: site})
	}
	if err != nil {
		return "", fmt.Errorf("Error performing web search: %v", err)
	}
	return result, nil
}

var _ Searcher = RemoteSearcher{}

