package interceptor

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starskrime/mcp-action-firewall/approval"
	"github.com/starskrime/mcp-action-firewall/jsonrpc"
	"github.com/starskrime/mcp-action-firewall/policy"
	"github.com/starskrime/mcp-action-firewall/router"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func scenarioPolicy() policy.Config {
	return policy.Config{
		Global: policy.RuleSet{
			AllowPrefixes: []string{"get_"},
			BlockKeywords: []string{"delete"},
			DefaultAction: policy.ActionPtr(policy.Block),
		},
	}
}

type harness struct {
	ic    *Interceptor
	store *approval.Store
	ids   atomic.Int64
}

func newHarness(t *testing.T, maxAttempts int, opts ...approval.Option) *harness {
	t.Helper()
	engine, _ := policy.New(scenarioPolicy(), "")
	h := &harness{store: approval.NewStore(opts...)}
	h.ic = New(engine, h.store, Settings{TTL: 5 * time.Minute, MaxAttempts: maxAttempts}, discardLogger(),
		WithIDSource(func() jsonrpc.ID {
			return jsonrpc.StringID(fmt.Sprintf("firewall-%d", h.ids.Add(1)))
		}))
	return h
}

func parse(t *testing.T, line string) jsonrpc.Message {
	t.Helper()
	msg, err := jsonrpc.Parse([]byte(line))
	require.NoError(t, err)
	return msg
}

func toolCallLine(id any, name, args string) string {
	idJSON, _ := json.Marshal(id)
	return fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"method":"tools/call","params":{"name":%q,"arguments":%s}}`, idJSON, name, args)
}

// toolText decodes a synthesized tool result.
func toolText(t *testing.T, data []byte) (id string, text string, isError bool) {
	t.Helper()
	var resp struct {
		ID     json.RawMessage `json:"id"`
		Result struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
			IsError bool `json:"isError"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(data, &resp))
	require.Len(t, resp.Result.Content, 1)
	assert.Equal(t, "text", resp.Result.Content[0].Type)
	return string(resp.ID), resp.Result.Content[0].Text, resp.Result.IsError
}

func paused(t *testing.T, data []byte) PausedPayload {
	t.Helper()
	_, text, isError := toolText(t, data)
	assert.False(t, isError)
	var p PausedPayload
	require.NoError(t, json.Unmarshal([]byte(text), &p))
	return p
}

func TestFromAgent_AllowForwardsVerbatim(t *testing.T) {
	h := newHarness(t, 1)
	line := toolCallLine(1, "get_balance", `{}`)

	d := h.ic.FromAgent(parse(t, line))

	assert.Equal(t, line, string(d.ToTarget))
	assert.Nil(t, d.ToAgent)
	require.NotNil(t, d.Route)
	assert.Equal(t, router.Passthrough, d.Route.Kind)
	assert.Equal(t, "1", d.Route.TargetID.Key())
	assert.Equal(t, "get_balance", d.Route.Tool)
	assert.Equal(t, 0, h.store.Len())
}

func TestFromAgent_BlockPausesWithFrozenArguments(t *testing.T) {
	h := newHarness(t, 1)

	d := h.ic.FromAgent(parse(t, toolCallLine(2, "delete_user", `{"id":42}`)))

	assert.Nil(t, d.ToTarget, "blocked calls never reach the target")
	assert.Nil(t, d.Route)
	require.NotNil(t, d.ToAgent)

	id, text, _ := toolText(t, d.ToAgent)
	assert.Equal(t, "2", id)
	assert.Contains(t, text, `"id":42`)

	p := paused(t, d.ToAgent)
	assert.Equal(t, StatusPaused, p.Status)
	assert.Equal(t, "delete_user", p.Action.Tool)
	assert.Equal(t, `{"id":42}`, string(p.Action.Arguments))
	assert.Equal(t, 300, p.ExpiresInSeconds)
	assert.Regexp(t, `approval code: \*\*[0-9]{4}\*\*`, p.Instruction)
	assert.Contains(t, p.Instruction, "do NOT retry")
	assert.Contains(t, p.Instruction, ConfirmToolName)
	assert.Equal(t, 1, h.store.Len())
}

func TestFromAgent_BlockEchoesArgumentsExactly(t *testing.T) {
	tests := []struct {
		name string
		args string
	}{
		{name: "compact", args: `{"query":"<script>&</script>","nested":{"list":[1,2.50,"x"]},"unicode":"héllo"}`},
		{name: "whitespace", args: `{"id": 42, "note": "a"}`},
		{name: "tabs", args: "{ \"id\" :42 ,\t\"tags\": [ \"a\" , \"b\" ] }"},
		{name: "tricky tool text", args: `{"note":"\"action\":{\"tool\":\"x\",\"arguments\":null}"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 1)

			d := h.ic.FromAgent(parse(t, toolCallLine("abc", "delete_rows", tt.args)))

			_, text, _ := toolText(t, d.ToAgent)
			assert.Contains(t, text, `"arguments":`+tt.args+`}`)
			p := paused(t, d.ToAgent)
			assert.Equal(t, tt.args, string(p.Action.Arguments))
		})
	}
}

func codeFrom(t *testing.T, data []byte) string {
	t.Helper()
	p := paused(t, data)
	idx := strings.Index(p.Instruction, "approval code: **")
	require.GreaterOrEqual(t, idx, 0)
	start := idx + len("approval code: **")
	return p.Instruction[start : start+approval.CodeLength]
}

func confirmLine(id any, code string) string {
	return toolCallLine(id, ConfirmToolName, fmt.Sprintf(`{"otp":%q}`, code))
}

func TestFromAgent_EmptyToolNameIsRefused(t *testing.T) {
	h := newHarness(t, 1)

	d := h.ic.FromAgent(parse(t, toolCallLine(4, "", `{"id":42}`)))

	assert.Nil(t, d.ToTarget)
	assert.Nil(t, d.Route)
	id, text, isError := toolText(t, d.ToAgent)
	assert.Equal(t, "4", id)
	assert.True(t, isError)
	assert.Contains(t, text, "requires a tool name")
	assert.Zero(t, h.store.Len())
}

func TestConfirm_ReplaysFrozenCallOnce(t *testing.T) {
	h := newHarness(t, 1)
	blocked := h.ic.FromAgent(parse(t, toolCallLine(2, "delete_user", `{"id":42}`)))
	code := codeFrom(t, blocked.ToAgent)

	d := h.ic.FromAgent(parse(t, confirmLine(3, code)))

	assert.Nil(t, d.ToAgent)
	require.NotNil(t, d.ToTarget)
	require.NotNil(t, d.Route)
	assert.Equal(t, router.Replay, d.Route.Kind)
	assert.Equal(t, "3", d.Route.AgentID.Key())
	assert.Equal(t, `"firewall-1"`, d.Route.TargetID.Key())

	replay := parse(t, string(d.ToTarget)).(*jsonrpc.Request)
	assert.Equal(t, `"firewall-1"`, replay.ID.Key())
	call, err := jsonrpc.ParseToolCall(replay)
	require.NoError(t, err)
	assert.Equal(t, "delete_user", call.Name)
	assert.Equal(t, `{"id":42}`, string(call.Arguments))

	again := h.ic.FromAgent(parse(t, confirmLine(4, code)))
	assert.Nil(t, again.ToTarget, "a code replays at most once")
	_, text, isError := toolText(t, again.ToAgent)
	assert.True(t, isError)
	assert.Contains(t, text, "unknown approval code")
}

func TestConfirm_WrongCodeLocksOut(t *testing.T) {
	h := newHarness(t, 1, approval.WithCodeSource(func() (string, error) { return "1234", nil }))
	h.ic.FromAgent(parse(t, toolCallLine(2, "delete_user", `{"id":42}`)))

	d := h.ic.FromAgent(parse(t, confirmLine(3, "9999")))
	assert.Nil(t, d.ToTarget)
	id, text, isError := toolText(t, d.ToAgent)
	assert.Equal(t, "3", id)
	assert.True(t, isError)
	assert.Contains(t, text, "Re-issue the original tool call")

	d = h.ic.FromAgent(parse(t, confirmLine(4, "1234")))
	assert.Nil(t, d.ToTarget, "locked out actions never execute")
	_, _, isError = toolText(t, d.ToAgent)
	assert.True(t, isError)
}

func TestConfirm_WrongCodeRetry(t *testing.T) {
	h := newHarness(t, 3, approval.WithCodeSource(func() (string, error) { return "1234", nil }))
	h.ic.FromAgent(parse(t, toolCallLine(2, "delete_user", `{}`)))

	d := h.ic.FromAgent(parse(t, confirmLine(3, "0000")))
	_, text, isError := toolText(t, d.ToAgent)
	assert.True(t, isError)
	assert.Contains(t, text, "2 attempt(s) remain")

	d = h.ic.FromAgent(parse(t, confirmLine(4, "1234")))
	require.NotNil(t, d.ToTarget)
}

func TestConfirm_Expired(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	h := newHarness(t, 1, approval.WithClock(func() time.Time { return clock() }))
	blocked := h.ic.FromAgent(parse(t, toolCallLine(2, "delete_user", `{}`)))
	code := codeFrom(t, blocked.ToAgent)

	later := now.Add(10 * time.Minute)
	clock = func() time.Time { return later }

	d := h.ic.FromAgent(parse(t, confirmLine(3, code)))
	assert.Nil(t, d.ToTarget)
	_, text, isError := toolText(t, d.ToAgent)
	assert.True(t, isError)
	assert.Contains(t, text, "expired")
}

func TestConfirm_MissingCode(t *testing.T) {
	h := newHarness(t, 1)
	for _, args := range []string{`{}`, `{"otp":1234}`, `{"otp":""}`, `[]`} {
		d := h.ic.FromAgent(parse(t, toolCallLine(5, ConfirmToolName, args)))
		assert.Nil(t, d.ToTarget, "args %s", args)
		_, text, isError := toolText(t, d.ToAgent)
		assert.True(t, isError)
		assert.Contains(t, text, "Missing 'otp'")
	}
}

func TestConfirm_NotForwardedEvenIfAllowed(t *testing.T) {
	engine, _ := policy.New(policy.Config{Global: policy.RuleSet{AllowPrefixes: []string{"firewall_"}}}, "")
	ic := New(engine, approval.NewStore(), Settings{TTL: time.Minute, MaxAttempts: 1}, discardLogger())

	d := ic.FromAgent(parse(t, confirmLine(1, "1234")))
	assert.Nil(t, d.ToTarget)
	assert.NotNil(t, d.ToAgent)
}

func TestFromAgent_PassthroughKinds(t *testing.T) {
	h := newHarness(t, 1)
	tests := []struct {
		name  string
		line  string
		route *router.Kind
	}{
		{name: "notification", line: `{"jsonrpc":"2.0","method":"notifications/initialized"}`},
		{name: "response to target request", line: `{"jsonrpc":"2.0","id":"srv-1","result":{}}`},
		{name: "initialize", line: `{"jsonrpc":"2.0","id":0,"method":"initialize","params":{}}`, route: ptr(router.Passthrough)},
		{name: "tools/list", line: `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, route: ptr(router.ToolList)},
		{name: "bad tools/call params", line: `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":[1]}`, route: ptr(router.Passthrough)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := h.ic.FromAgent(parse(t, tt.line))
			assert.Equal(t, tt.line, string(d.ToTarget))
			assert.Nil(t, d.ToAgent)
			if tt.route == nil {
				assert.Nil(t, d.Route)
				return
			}
			require.NotNil(t, d.Route)
			assert.Equal(t, *tt.route, d.Route.Kind)
		})
	}
}

func TestFromAgent_InvalidLinePassesThrough(t *testing.T) {
	h := newHarness(t, 1)
	msg, err := jsonrpc.Parse([]byte(`not json`))
	require.Error(t, err)

	d := h.ic.FromAgent(msg)
	assert.Equal(t, "not json", string(d.ToTarget))
}

func ptr[T any](v T) *T { return &v }

func TestFromTarget_AugmentsToolList(t *testing.T) {
	h := newHarness(t, 1)
	line := `{"jsonrpc":"2.0","id":1,"result":{"tools":[{"name":"get_balance","inputSchema":{"type":"object"}}],"_meta":{"k":"v"}}}`
	route := &router.Route{Kind: router.ToolList}

	out := h.ic.FromTarget(parse(t, line), route)

	var resp struct {
		ID     int `json:"id"`
		Result struct {
			Tools []struct {
				Name        string         `json:"name"`
				InputSchema map[string]any `json:"inputSchema"`
			} `json:"tools"`
			Meta map[string]string `json:"_meta"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(out, &resp))
	assert.Equal(t, 1, resp.ID)
	require.Len(t, resp.Result.Tools, 2)
	assert.Equal(t, "get_balance", resp.Result.Tools[0].Name)
	assert.Equal(t, ConfirmToolName, resp.Result.Tools[1].Name)
	assert.Equal(t, map[string]string{"k": "v"}, resp.Result.Meta)

	schema := resp.Result.Tools[1].InputSchema
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []any{CodeArgument}, schema["required"])
	props := schema["properties"].(map[string]any)
	assert.Equal(t, "string", props[CodeArgument].(map[string]any)["type"])
}

func TestFromTarget_ToolListEdgeCases(t *testing.T) {
	h := newHarness(t, 1)
	route := &router.Route{Kind: router.ToolList}
	unchanged := []string{
		`{"jsonrpc":"2.0","id":1,"result":{"tools":[{"name":"firewall_confirm"}]}}`,
		`{"jsonrpc":"2.0","id":1,"result":{"tools":[],"nextCursor":"page-2"}}`,
		`{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"no tools"}}`,
		`{"jsonrpc":"2.0","id":1,"result":"weird"}`,
	}
	for _, line := range unchanged {
		assert.Equal(t, line, string(h.ic.FromTarget(parse(t, line), route)))
	}

	out := h.ic.FromTarget(parse(t, `{"jsonrpc":"2.0","id":1,"result":{}}`), route)
	assert.Contains(t, string(out), ConfirmToolName)
}

func TestFromTarget_ReplayRewritesID(t *testing.T) {
	h := newHarness(t, 1)
	line := `{"jsonrpc":"2.0","id":"firewall-1","result":{"content":[{"type":"text","text":"deleted"}]}}`
	var agentID jsonrpc.ID
	require.NoError(t, json.Unmarshal([]byte("3"), &agentID))
	route := &router.Route{TargetID: jsonrpc.StringID("firewall-1"), AgentID: agentID, Kind: router.Replay}

	out := h.ic.FromTarget(parse(t, line), route)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":3,"result":{"content":[{"type":"text","text":"deleted"}]}}`, string(out))
}

func TestFromTarget_PassthroughIsVerbatim(t *testing.T) {
	h := newHarness(t, 1)
	lines := []string{
		`{"jsonrpc":"2.0","id":7,"result":{"content":[]}}`,
		`{"jsonrpc":"2.0","method":"notifications/tools/list_changed"}`,
		`{"jsonrpc":"2.0","id":"srv-1","method":"roots/list"}`,
	}
	for _, line := range lines {
		assert.Equal(t, line, string(h.ic.FromTarget(parse(t, line), nil)))
		assert.Equal(t, line, string(h.ic.FromTarget(parse(t, line), &router.Route{Kind: router.Passthrough})))
	}
}

func TestConfirmTool(t *testing.T) {
	tool := ConfirmTool()
	assert.Equal(t, ConfirmToolName, tool.Name)
	assert.NotEmpty(t, tool.Description)
}
