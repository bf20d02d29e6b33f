package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/boardlink/internal/printer"
)

// apiError is a non-2xx response from the bridge.
type apiError struct {
	Status  int
	Message string
	Body    map[string]any
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
}

// apiClient calls the bridge's HTTP API.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base: strings.TrimSuffix(base, "/"),
		http: &http.Client{Timeout: 45 * time.Second},
	}
}

// clientFor builds a client from --api, or from http.addr in the config.
func clientFor(cmd *cobra.Command) (*apiClient, error) {
	if apiAddr != "" {
		return newAPIClient(apiAddr), nil
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return newAPIClient(baseURL(cfg.HTTP.Addr)), nil
}

// baseURL turns a listen address such as ":5000" or "0.0.0.0:5000" into a
// URL a local client can reach.
func baseURL(listenAddr string) string {
	host, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return "http://" + listenAddr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach bridge at %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		if json.Unmarshal(data, &apiErr.Body) == nil {
			if msg, ok := apiErr.Body["error"].(string); ok {
				apiErr.Message = msg
			}
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *apiClient) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *apiClient) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *apiClient) delete(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodDelete, path, nil, out)
}

// commandContext returns the command's context, or Background when the
// command was not run through Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// reportAPIError prints a failed call with suggestions suited to the failure.
func reportAPIError(c *apiClient, action string, err error) error {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return printer.ErrorWithContext(
			fmt.Sprintf("failed to %s", action),
			apiErr.Message,
			map[string]string{"Bridge": c.base, "Status": fmt.Sprint(apiErr.Status)},
			nil,
		)
	}
	return printer.ErrorWithContext(
		"bridge not reachable",
		err.Error(),
		map[string]string{"Bridge": c.base},
		[]string{
			"Start the bridge:\n  boardlink serve",
			"Point at a running bridge:\n  boardlink --api http://host:5000 <command>",
		},
	)
}
