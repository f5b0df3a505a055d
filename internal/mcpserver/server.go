// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes the monitor's admin operations as tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/tgmonitor/internal/apperr"
	"github.com/starford/tgmonitor/internal/models"
	"github.com/starford/tgmonitor/internal/ruleservice"
	"github.com/starford/tgmonitor/internal/session"
	"github.com/starford/tgmonitor/internal/transport"
)

const contractURI = "tgmonitor://rule-format"

// Monitor is the session manager.
type Monitor interface {
	Login(ctx context.Context, phone, proof string) (models.SessionState, error)
	SetProxy(ctx context.Context, tc transport.Config) error
	Status() session.Status
	ListDialogs(ctx context.Context) ([]session.Dialog, error)
	SetTarget(id int64) error
	StartMonitor(ctx context.Context) models.StartOutcome
	StopMonitor(ctx context.Context)
}

// Rules is the rule administration service.
type Rules interface {
	List(ctx context.Context) ([]models.KeywordRule, error)
	Create(ctx context.Context, r models.KeywordRule) (models.KeywordRule, error)
	CreateBatch(ctx context.Context, rules []models.KeywordRule) (ruleservice.BatchResult, error)
	Update(ctx context.Context, r models.KeywordRule) (models.KeywordRule, error)
	Delete(ctx context.Context, id int64) error
	DeleteBatch(ctx context.Context, ids []int64) (int, error)
}

// Server wraps the MCP server with the admin tools.
type Server struct {
	mcp   *server.MCPServer
	mon   Monitor
	rules Rules
}

// New creates a new MCP server with all tools registered.
func New(mon Monitor, rules Rules, version string) *Server {
	s := &Server{mon: mon, rules: rules}

	s.mcp = server.NewMCPServer(
		"tgmonitor",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("login",
		mcp.WithDescription("Start or advance the login sequence. Call with an empty proof first, "+
			"then with the verification code, then with the password if the state asks for it."),
		mcp.WithString("phone", mcp.Required(), mcp.Description("Phone number in E.164 form, e.g. +15551234567")),
		mcp.WithString("proof", mcp.Description("Verification code or password")),
	), s.login)

	s.mcp.AddTool(mcp.NewTool("status",
		mcp.WithDescription("Report session state, monitor state and the destination chat."),
	), s.status)

	s.mcp.AddTool(mcp.NewTool("set_proxy",
		mcp.WithDescription("Change how the connection reaches the network and reconnect."),
		mcp.WithString("type", mcp.Required(), mcp.Enum(transport.TypeNone, transport.TypeSOCKS5, transport.TypeMTProxy)),
		mcp.WithString("url", mcp.Description("socks5://[user:pass@]host:port or an MTProxy link")),
	), s.setProxy)

	s.mcp.AddTool(mcp.NewTool("list_dialogs",
		mcp.WithDescription("List chats the account can post into, for choosing the destination."),
	), s.listDialogs)

	s.mcp.AddTool(mcp.NewTool("set_target",
		mcp.WithDescription("Set the destination chat that relayed messages are sent to."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Chat id from list_dialogs")),
	), s.setTarget)

	s.mcp.AddTool(mcp.NewTool("start_monitor",
		mcp.WithDescription("Start relaying matching messages."),
	), s.startMonitor)

	s.mcp.AddTool(mcp.NewTool("stop_monitor",
		mcp.WithDescription("Stop relaying. The session stays logged in."),
	), s.stopMonitor)

	s.mcp.AddTool(mcp.NewTool("list_rules",
		mcp.WithDescription("List all keyword rules."),
	), s.listRules)

	s.mcp.AddTool(mcp.NewTool("add_rules",
		mcp.WithDescription("Add one or more keyword rules. Duplicates are skipped. "+
			"Read the rule format first via get_rule_contract or the "+contractURI+" resource."),
		mcp.WithArray("rules", mcp.Required(), mcp.Items(map[string]any{"type": "object"}),
			mcp.Description("Rule objects following the rule format contract")),
	), s.addRules)

	s.mcp.AddTool(mcp.NewTool("update_rule",
		mcp.WithDescription("Replace a keyword rule."),
		mcp.WithNumber("id", mcp.Required()),
		mcp.WithObject("rule", mcp.Required(), mcp.Description("Rule object following the rule format contract")),
	), s.updateRule)

	s.mcp.AddTool(mcp.NewTool("delete_rules",
		mcp.WithDescription("Delete keyword rules by id."),
		mcp.WithArray("ids", mcp.Required(), mcp.Items(map[string]any{"type": "number"})),
	), s.deleteRules)

	s.mcp.AddTool(mcp.NewTool("get_rule_contract",
		mcp.WithDescription("Returns the keyword rule format. Call this before adding or updating rules."),
	), s.getRuleContract)

	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Keyword Rule Format",
			mcp.WithResourceDescription("Format and semantics of keyword rules."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readRuleFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func errorResult(err error) *mcp.CallToolResult {
	if errors.Is(err, apperr.ErrNotAuthenticated) {
		return mcp.NewToolResultError("not authenticated: call login first")
	}
	return mcp.NewToolResultError(err.Error())
}

// decodeArg re-decodes a structured argument into v.
func decodeArg(req mcp.CallToolRequest, key string, v any) error {
	raw, ok := req.GetArguments()[key]
	if !ok {
		return fmt.Errorf("required argument %q not found", key)
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("argument %q: %w", key, err)
	}
	return nil
}

func (s *Server) login(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	phone, err := req.RequireString("phone")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	proof := ""
	if p, pErr := req.RequireString("proof"); pErr == nil {
		proof = p
	}
	st, err := s.mon.Login(ctx, phone, proof)
	if err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText("state: " + st.String()), nil
}

func (s *Server) status(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.mon.Status()), nil
}

func (s *Server) setProxy(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typ, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tc := transport.Config{Type: typ}
	if u, uErr := req.RequireString("url"); uErr == nil {
		tc.URL = u
	}
	if err := s.mon.SetProxy(ctx, tc); err != nil {
		return errorResult(err), nil
	}
	return jsonResult(s.mon.Status()), nil
}

func (s *Server) listDialogs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dialogs, err := s.mon.ListDialogs(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(dialogs), nil
}

func (s *Server) setTarget(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireFloat("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.mon.SetTarget(int64(id)); err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("target: %d", int64(id))), nil
}

func (s *Server) startMonitor(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out := s.mon.StartMonitor(ctx)
	if out != models.StartStarted {
		return mcp.NewToolResultError("start: " + out.String()), nil
	}
	return mcp.NewToolResultText("start: " + out.String()), nil
}

func (s *Server) stopMonitor(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.mon.StopMonitor(ctx)
	return mcp.NewToolResultText("stopped"), nil
}

func (s *Server) listRules(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rules, err := s.rules.List(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(rules), nil
}

func (s *Server) addRules(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var rules []models.KeywordRule
	if err := decodeArg(req, "rules", &rules); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	for i := range rules {
		rules[i].ID = 0
	}
	res, err := s.rules.CreateBatch(ctx, rules)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res), nil
}

func (s *Server) updateRule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireFloat("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var rule models.KeywordRule
	if err := decodeArg(req, "rule", &rule); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rule.ID = int64(id)
	updated, err := s.rules.Update(ctx, rule)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(updated), nil
}

func (s *Server) deleteRules(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var ids []int64
	if err := decodeArg(req, "ids", &ids); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.rules.DeleteBatch(ctx, ids)
	if err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted: %d", n)), nil
}

func (s *Server) getRuleContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(RuleFormatContract), nil
}

func (s *Server) readRuleFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     RuleFormatContract,
		},
	}, nil
}
