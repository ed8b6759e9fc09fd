package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/meshvoice/internal/client/peer"
	"github.com/dkeye/meshvoice/internal/client/sink"
	"github.com/dkeye/meshvoice/internal/protocol"
)

type fakeController struct {
	calls   []string
	inVoice bool
	volErr  error
}

func (f *fakeController) JoinVoice(context.Context) error {
	f.calls = append(f.calls, "join")
	f.inVoice = true
	return nil
}

func (f *fakeController) LeaveVoice() error {
	f.calls = append(f.calls, "leave")
	f.inVoice = false
	return nil
}

func (f *fakeController) EnableMicrophone(context.Context) error {
	f.calls = append(f.calls, "mic-on")
	return nil
}

func (f *fakeController) DisableMicrophone() { f.calls = append(f.calls, "mic-off") }

func (f *fakeController) SetVolume(id string, pct int) error {
	f.calls = append(f.calls, "vol "+id)
	return f.volErr
}

func (f *fakeController) Roster() []protocol.UserInfo {
	return []protocol.UserInfo{{UserID: "u1", Username: "bob"}, {UserID: "u2", Username: "carol"}}
}

func (f *fakeController) InVoice() bool { return f.inVoice }

type fakeLinks []peer.Info

func (l fakeLinks) Snapshot() []peer.Info { return l }

func TestExecute(t *testing.T) {
	c := &fakeController{}
	var out bytes.Buffer
	ctx := context.Background()

	for _, line := range []string{"voice join", "mic on", "mic off", "vol u1 40", "voice leave", ""} {
		if _, err := execute(ctx, line, &out, c, fakeLinks{}); err != nil {
			t.Fatalf("%q: %v", line, err)
		}
	}
	want := []string{"join", "mic-on", "mic-off", "vol u1", "leave"}
	if strings.Join(c.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("calls = %v", c.calls)
	}

	if _, err := execute(ctx, "vol u1 loud", &out, c, fakeLinks{}); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := execute(ctx, "dance", &out, c, fakeLinks{}); !errors.Is(err, errUsage) {
		t.Fatalf("err = %v", err)
	}
	c.volErr = sink.ErrNoSuchSink
	if _, err := execute(ctx, "vol ghost 10", &out, c, fakeLinks{}); !errors.Is(err, sink.ErrNoSuchSink) {
		t.Fatalf("err = %v", err)
	}
	if quit, _ := execute(ctx, "quit", &out, c, fakeLinks{}); !quit {
		t.Fatal("quit not reported")
	}
}

func TestUsersShowsLinkState(t *testing.T) {
	var out bytes.Buffer
	links := fakeLinks{{RemoteID: "u1", State: peer.StateConnected}}
	if _, err := execute(context.Background(), "users", &out, &fakeController{}, links); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	if !strings.Contains(got, "u1\tbob\tconnected") || !strings.Contains(got, "u2\tcarol\n") {
		t.Fatalf("output:\n%s", got)
	}
}

func TestCommandLoopQuitLeavesVoice(t *testing.T) {
	c := &fakeController{}
	var out bytes.Buffer
	in := strings.NewReader("voice join\nbogus\nquit\n")

	done := make(chan error, 1)
	go func() { done <- commandLoop(context.Background(), in, &out, c, fakeLinks{}) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
	if c.inVoice || c.calls[len(c.calls)-1] != "leave" {
		t.Fatalf("calls = %v", c.calls)
	}
	if !strings.Contains(out.String(), "error: usage") {
		t.Fatalf("output:\n%s", out.String())
	}
}

func TestCommandLoopKeepsRunningAfterEOF(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- commandLoop(ctx, strings.NewReader(""), &bytes.Buffer{}, &fakeController{}, fakeLinks{}) }()

	select {
	case <-done:
		t.Fatal("loop stopped at end of input")
	case <-time.After(50 * time.Millisecond):
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}
