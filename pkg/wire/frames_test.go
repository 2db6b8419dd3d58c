package wire

import (
	"strings"
	"testing"
)

func TestDecodePing(t *testing.T) {
	f, err := Decode([]byte(`{"type":"PING"}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if _, ok := f.(Ping); !ok {
		t.Fatalf("Decode() = %T, want Ping", f)
	}
}

func TestDecodeSessionSync(t *testing.T) {
	data := []byte(`{"type":"session_sync","session":{"session_id":"s1","mode":"unattended","max_turns":5,"messages":[{"role":"user","content":"hi"}]}}`)
	f, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	sync, ok := f.(SessionSync)
	if !ok {
		t.Fatalf("Decode() = %T, want SessionSync", f)
	}
	if sync.Session.SessionID != "s1" || sync.Session.MaxTurns != 5 {
		t.Errorf("session = %+v", sync.Session)
	}
	if len(sync.Session.Messages) != 1 || sync.Session.Messages[0].Content != "hi" {
		t.Errorf("messages = %+v", sync.Session.Messages)
	}
}

func TestDecodeSessionSyncWithoutSession(t *testing.T) {
	if _, err := Decode([]byte(`{"type":"session_sync"}`)); err == nil {
		t.Fatal("Decode() accepted session_sync without a session")
	}
}

func TestDecodeToolFrames(t *testing.T) {
	f, err := Decode([]byte(`{"type":"tool_call","call_id":"c1","name":"bash","args":"ls"}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	call, ok := f.(ToolCall)
	if !ok {
		t.Fatalf("Decode() = %T, want ToolCall", f)
	}
	if call.CallID != "c1" || call.Name != "bash" || call.Args != "ls" {
		t.Errorf("ToolCall = %+v", call)
	}

	f, err = Decode([]byte(`{"type":"tool_result","call_id":"c1","status":"ok","result":"done","duration_ms":42}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	res, ok := f.(ToolResult)
	if !ok {
		t.Fatalf("Decode() = %T, want ToolResult", f)
	}
	if res.CallID != "c1" || res.Result != "done" || res.DurationMS != 42 {
		t.Errorf("ToolResult = %+v", res)
	}
}

func TestDecodeProgressFramesCarrySession(t *testing.T) {
	data := []byte(`{"type":"llm_result","model":"m1","tokens":100,"context_pct":12.5,"session":{"session_id":"s9"}}`)
	f, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	snap := SessionOf(f)
	if snap == nil || snap.SessionID != "s9" {
		t.Errorf("SessionOf() = %+v, want session s9", snap)
	}
}

func TestDecodeAskUserTextFallback(t *testing.T) {
	// Some servers put the question in "text" instead of "question".
	f, err := Decode([]byte(`{"type":"ask_user","text":"which region?"}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	ask, ok := f.(AskUser)
	if !ok {
		t.Fatalf("Decode() = %T, want AskUser", f)
	}
	if ask.Question != "which region?" {
		t.Errorf("Question = %q", ask.Question)
	}
}

func TestDecodeOutput(t *testing.T) {
	f, err := Decode([]byte(`{"type":"OUTPUT","input_id":"i1","result":"all done","session":{"session_id":"s1"}}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	out, ok := f.(Output)
	if !ok {
		t.Fatalf("Decode() = %T, want Output", f)
	}
	if out.InputID != "i1" || out.Result != "all done" {
		t.Errorf("Output = %+v", out)
	}
}

func TestDecodeErrorMessageFallback(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"error field", `{"type":"ERROR","error":"boom"}`, "boom"},
		{"message field", `{"type":"ERROR","message":"bang"}`, "bang"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Decode([]byte(tt.data))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			ef, ok := f.(ErrorFrame)
			if !ok {
				t.Fatalf("Decode() = %T, want ErrorFrame", f)
			}
			if ef.Message != tt.want {
				t.Errorf("Message = %q, want %q", ef.Message, tt.want)
			}
		})
	}
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"SOMETHING_NEW"}`))
	if err == nil {
		t.Fatal("Decode() accepted an unknown frame type")
	}
	if !strings.Contains(err.Error(), "SOMETHING_NEW") {
		t.Errorf("error %q does not name the unknown type", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, err := Decode([]byte(`{"type":`)); err == nil {
		t.Fatal("Decode() accepted malformed JSON")
	}
}
