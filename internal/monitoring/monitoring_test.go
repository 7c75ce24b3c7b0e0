package monitoring

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"", LevelDiag, false},
		{"ops", LevelOps, false},
		{"DIAG", LevelDiag, false},
		{" trace ", LevelTrace, false},
		{"debug", LevelTrace, false},
		{"loud", LevelOps, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewStreams_Apply(t *testing.T) {
	var buf bytes.Buffer
	var ops, diag, trace io.Writer
	set := func(o, d, tr io.Writer) { ops, diag, trace = o, d, tr }

	NewStreams(&buf, LevelOps).Apply(set)
	if ops == nil || diag != nil || trace != nil {
		t.Errorf("ops level: got %v %v %v", ops, diag, trace)
	}

	NewStreams(&buf, LevelTrace).Apply(set)
	if ops == nil || diag == nil || trace == nil {
		t.Error("trace level should enable every stream")
	}
	if LevelDiag.String() != "diag" || Level(9).String() != "Level(9)" {
		t.Error("unexpected Level.String")
	}
}

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got []string
	SetLogger(func(format string, v ...interface{}) { got = append(got, format) })
	Logf("read failed: %v", io.ErrUnexpectedEOF)
	if len(got) != 1 {
		t.Fatalf("custom logger called %d times", len(got))
	}

	SetLogger(nil)
	Logf("muted")
	if len(got) != 1 {
		t.Error("nil logger should mute Logf")
	}
}

func TestOpsLogger(t *testing.T) {
	if NewStreams(nil, LevelTrace).OpsLogger() != nil {
		t.Error("no ops writer should give a nil logger")
	}
	var buf bytes.Buffer
	NewStreams(&buf, LevelOps).OpsLogger()("frame %d dropped", 7)
	if !strings.HasSuffix(buf.String(), "frame 7 dropped\n") {
		t.Errorf("ops output = %q", buf.String())
	}
}
