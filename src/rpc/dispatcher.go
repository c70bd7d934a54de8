package rpc

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/trufae/notelink/src/collab"
)

// protocolVersion is the MCP protocol version this dispatcher speaks.
const protocolVersion = "2025-06-18"

// ToolHandlerFunc answers one tools/call invocation for a single tool
// name. Returning an error produces a server-error response; the
// handler itself is responsible for distinguishing invalid-params
// conditions by returning an *InvalidParamsError.
type ToolHandlerFunc func(args map[string]interface{}) (*CallToolResult, error)

// InvalidParamsError marks a tool-argument decode failure, per §4.5
// ("input decode failure -> invalid-params").
type InvalidParamsError struct{ Err error }

func (e *InvalidParamsError) Error() string { return e.Err.Error() }
func (e *InvalidParamsError) Unwrap() error { return e.Err }

// Dispatcher implements C5: the transport-agnostic JSON-RPC 2.0 method
// dispatcher for the MCP surface, grounded in shape on
// src/wmcp/mcp_http.go's processMCPRequest switch.
type Dispatcher struct {
	ServerName string
	ServerVers string

	catalog catalog
	store   *ScoreStore
	log     collab.ActivityLog

	mu      sync.Mutex
	host    string
	port    int
	tempDir string

	toolHandlers map[string]ToolHandlerFunc
	initialized  bool
}

// NewDispatcher builds a Dispatcher. tempDir is the process-owned
// directory PngArtifacts are written to and resources/read is
// restricted to.
func NewDispatcher(serverName, serverVers, tempDir string, activityLog collab.ActivityLog) *Dispatcher {
	return &Dispatcher{
		ServerName:   serverName,
		ServerVers:   serverVers,
		store:        NewScoreStore(),
		log:          activityLog,
		tempDir:      tempDir,
		toolHandlers: make(map[string]ToolHandlerFunc),
	}
}

// Store exposes the ScoreStore so tool handler constructors can close
// over it without the rpc package depending on src/tools.
func (d *Dispatcher) Store() *ScoreStore { return d.store }

// TempDir returns the process-owned artifact directory.
func (d *Dispatcher) TempDir() string { return d.tempDir }

// RegisterTool wires a ToolHandlerFunc under name, used by backend.New
// to install the play and engrave handlers from src/tools.
func (d *Dispatcher) RegisterTool(name string, fn ToolHandlerFunc) {
	d.toolHandlers[name] = fn
}

// SetAddr informs the dispatcher of the backend's resolved host/port
// once BackendSupervisor's listener is ready, so engrave can compose
// correct artifact URLs (§4.7).
func (d *Dispatcher) SetAddr(host string, port int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.host, d.port = host, port
}

// Addr returns the dispatcher's current notion of the backend address.
func (d *Dispatcher) Addr() (string, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.host, d.port
}

// Handle decodes rawBody as a JSON-RPC request, dispatches it, and
// returns the response plus whether the request was a notification
// (in which case the caller must emit no response frame/body).
func (d *Dispatcher) Handle(rawBody []byte, transport Transport) (*Response, bool) {
	if len(rawBody) == 0 {
		return errorResponse(nil, CodeParseError, "empty request body"), false
	}
	if !utf8.Valid(rawBody) {
		return errorResponse(nil, CodeParseError, "request body is not valid UTF-8"), false
	}

	var req Request
	if err := json.Unmarshal(rawBody, &req); err != nil {
		return errorResponse(nil, CodeParseError, fmt.Sprintf("invalid json: %v", err)), false
	}
	if req.JSONRPC != "" && req.JSONRPC != "2.0" {
		return errorResponse(req.ID, CodeInvalidRequest, "invalid jsonrpc version"), false
	}
	if req.Method == "" {
		return errorResponse(req.ID, CodeInvalidRequest, "method is required"), false
	}

	event := collab.ActivityEvent{
		Timestamp:    time.Now(),
		Method:       req.Method,
		Transport:    string(transport),
		RequestBytes: len(rawBody),
		RequestBody:  string(rawBody),
	}

	resp := d.dispatch(&req, &event)
	if d.log != nil {
		d.log.Add(event)
		if resp != nil {
			if data, err := json.Marshal(resp); err == nil {
				d.log.PatchLastResponse(string(data))
			}
		}
	}

	if req.IsNotification() {
		return nil, true
	}
	return resp, false
}

func (d *Dispatcher) dispatch(req *Request, event *collab.ActivityEvent) *Response {
	switch req.Method {
	case "ping":
		return resultResponse(req.ID, map[string]interface{}{})

	case "initialize":
		var params initializeParams
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				return errorResponse(req.ID, CodeInvalidParams, "invalid initialize params")
			}
		}
		event.ClientName = params.ClientInfo.Name
		event.ClientVers = params.ClientInfo.Version
		return resultResponse(req.ID, map[string]interface{}{
			"protocolVersion": protocolVersion,
			"capabilities": map[string]interface{}{
				"tools":     map[string]interface{}{"listChanged": false},
				"prompts":   map[string]interface{}{"listChanged": false},
				"resources": map[string]interface{}{"listChanged": false},
			},
			"serverInfo": map[string]interface{}{
				"name":    d.ServerName,
				"version": d.ServerVers,
			},
		})

	case "notifications/initialized":
		d.mu.Lock()
		d.initialized = true
		d.mu.Unlock()
		return nil

	case "tools/list":
		return resultResponse(req.ID, map[string]interface{}{"tools": d.catalog.Tools()})

	case "tools/call":
		return d.handleToolCall(req, event)

	case "resources/list":
		return resultResponse(req.ID, map[string]interface{}{"resources": []interface{}{}})

	case "resources/templates/list":
		return resultResponse(req.ID, map[string]interface{}{"resourceTemplates": []interface{}{}})

	case "prompts/list":
		return resultResponse(req.ID, map[string]interface{}{"prompts": d.catalog.Prompts()})

	case "resources/read":
		return d.handleResourceRead(req)

	default:
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

func (d *Dispatcher) handleToolCall(req *Request, event *collab.ActivityEvent) *Response {
	var params CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, CodeInvalidParams, "invalid params")
	}
	if params.Name == "" {
		return errorResponse(req.ID, CodeInvalidParams, "tool name is required")
	}
	event.Tool = params.Name

	handler, ok := d.toolHandlers[params.Name]
	if !ok {
		return errorResponse(req.ID, CodeServerError, fmt.Sprintf("unknown tool %q", params.Name))
	}

	result, err := handler(params.Arguments)
	if err != nil {
		var invalid *InvalidParamsError
		if errors.As(err, &invalid) {
			return errorResponse(req.ID, CodeInvalidParams, invalid.Error())
		}
		// Collaborator/validation errors never crash the dispatcher
		// (§4.6, §7); they become server-error responses.
		log.Printf("[dispatch] tool %q failed: %v", params.Name, err)
		return errorResponse(req.ID, CodeServerError, err.Error())
	}
	return resultResponse(req.ID, result)
}

func (d *Dispatcher) handleResourceRead(req *Request) *Response {
	var params readResourceParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, CodeInvalidParams, "invalid params")
	}
	if params.URI == "" {
		return errorResponse(req.ID, CodeInvalidParams, "resource URI is required")
	}
	if !strings.HasPrefix(params.URI, "file://") {
		return errorResponse(req.ID, CodeServerError, "only file:// resource URIs are supported")
	}
	rawPath := strings.TrimPrefix(params.URI, "file://")

	tempDir, err := filepath.Abs(d.tempDir)
	if err != nil {
		return errorResponse(req.ID, CodeServerError, "server temp directory unavailable")
	}
	resolved, err := filepath.Abs(rawPath)
	if err != nil || !strings.HasPrefix(resolved, tempDir+string(os.PathSeparator)) {
		return errorResponse(req.ID, CodeServerError, "resource path is outside the artifact directory")
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return errorResponse(req.ID, CodeServerError, fmt.Sprintf("could not read resource: %v", err))
	}

	return resultResponse(req.ID, map[string]interface{}{
		"contents": []map[string]interface{}{
			{
				"uri":      params.URI,
				"mimeType": "image/png",
				"blob":     base64.StdEncoding.EncodeToString(data),
			},
		},
	})
}
