package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/samber/lo"

	"github.com/wricardo/mcp-training/pongrelay/game/service"
	"github.com/wricardo/mcp-training/pongrelay/game/state"
)

// Client is a thin MCP client that proxies to the REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// NewClient creates a new MCP client that calls the REST API
func NewClient(baseURL string) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	c.initMCPServer()
	return c
}

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		"Pong Relay",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(`Pong Relay - MCP Interface

This is a read-only window onto a running match relay. It proxies every
request to the REST API server. Players connect over the websocket
gateway at /ws; these tools only observe.

AVAILABLE TOOLS:
- get_stats: Waiting players, live sessions, and router group counts
- list_queue: Client ids currently waiting for an opponent
- list_sessions: Ids of all stored sessions
- get_session: Full shared state of one session (ball, paddles, score, status)

SESSION STATUS:
- active: both players connected
- degraded: one player left or dropped
- ended: both players gone`),
	)

	c.registerTools()
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_stats",
		Description: "Get matchmaking and broadcast router counts",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleGetStats)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_queue",
		Description: "List client ids waiting for an opponent, oldest first",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleListQueue)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_sessions",
		Description: "List all stored match sessions",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleListSessions)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_session",
		Description: "Get the shared state of a specific session",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": map[string]interface{}{
					"type":        "string",
					"description": "Session ID to retrieve",
				},
			},
			Required: []string{"session_id"},
		},
	}, c.handleGetSession)
}

// GetMCPServer returns the underlying MCP server for HTTP and stdio transports
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// apiCall makes an HTTP request to the REST API
func (c *Client) apiCall(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp map[string]string
		json.NewDecoder(resp.Body).Decode(&errResp)
		if msg, ok := errResp["error"]; ok {
			return fmt.Errorf("%s", msg)
		}
		return fmt.Errorf("API error: %d", resp.StatusCode)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

type statsResponse struct {
	Waiting     int `json:"waiting"`
	Sessions    int `json:"sessions"`
	Groups      int `json:"groups"`
	Subscribers int `json:"subscribers"`
}

type queueResponse struct {
	Total   int      `json:"total"`
	Waiting []string `json:"waiting"`
}

type sessionsResponse struct {
	Total    int      `json:"total"`
	Sessions []string `json:"sessions"`
}

func (c *Client) handleGetStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var stats statsResponse
	if err := c.apiCall(ctx, "GET", "/api/stats", nil, &stats); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Waiting players: %d\nSessions: %d\nRouter groups: %d\nSubscribers: %d",
		stats.Waiting, stats.Sessions, stats.Groups, stats.Subscribers)
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleListQueue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var resp queueResponse
	if err := c.apiCall(ctx, "GET", "/api/queue", nil, &resp); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if resp.Total == 0 {
		return mcp.NewToolResultText("No players waiting"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Waiting players (%d, oldest first):\n", resp.Total)
	for i, id := range resp.Waiting {
		fmt.Fprintf(&b, "%d. %s\n", i+1, id)
	}
	return mcp.NewToolResultText(strings.TrimRight(b.String(), "\n")), nil
}

func (c *Client) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var resp sessionsResponse
	if err := c.apiCall(ctx, "GET", "/api/sessions", nil, &resp); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if resp.Total == 0 {
		return mcp.NewToolResultText("No sessions"), nil
	}

	result := fmt.Sprintf("Sessions (%d):\n- %s", resp.Total, strings.Join(resp.Sessions, "\n- "))
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleGetSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	sessionID, _ := args["session_id"].(string)
	if sessionID == "" {
		return mcp.NewToolResultError("session_id is required"), nil
	}

	var info service.SessionInfo
	err := c.apiCall(ctx, "GET", "/api/sessions/"+url.PathEscape(sessionID), nil, &info)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatSessionInfo(&info)), nil
}

// formatSessionInfo renders a session as plain text, left player first
func formatSessionInfo(info *service.SessionInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session: %s\nStatus: %s\n", info.ID, info.Status)

	s := info.State
	fmt.Fprintf(&b, "Score: %d - %d\n", s.Score.Left, s.Score.Right)
	fmt.Fprintf(&b, "Ball: pos=(%g,%g) vel=(%g,%g)\n", s.Ball.X, s.Ball.Y, s.Ball.VX, s.Ball.VY)

	ids := lo.Keys(s.Players)
	sort.Slice(ids, func(i, j int) bool {
		ri, rj := s.Players[ids[i]].Role, s.Players[ids[j]].Role
		if ri != rj {
			return ri == state.RoleLeft
		}
		return ids[i] < ids[j]
	})

	for _, id := range ids {
		p := s.Players[id]
		conn := "connected"
		if !p.Connected {
			conn = "disconnected"
		}
		fmt.Fprintf(&b, "Player %s [%s, %s]: pos=(%g,%g) vel=(%g,%g)\n",
			id, p.Role, conn, p.X, p.Y, p.VX, p.VY)
	}

	return strings.TrimRight(b.String(), "\n")
}
