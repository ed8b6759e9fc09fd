package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dkeye/meshvoice/internal/client/peer"
	"github.com/dkeye/meshvoice/internal/protocol"
)

var errUsage = errors.New("usage: voice join|leave, mic on|off, vol <id> <0-100>, users, quit")

type controller interface {
	JoinVoice(ctx context.Context) error
	LeaveVoice() error
	EnableMicrophone(ctx context.Context) error
	DisableMicrophone()
	SetVolume(remoteID string, pct int) error
	Roster() []protocol.UserInfo
	InVoice() bool
}

type linkLister interface {
	Snapshot() []peer.Info
}

// commandLoop runs stdin commands until quit or ctx ends. End of input
// leaves the client running.
func commandLoop(ctx context.Context, in io.Reader, out io.Writer, c controller, links linkLister) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			quit, err := execute(ctx, line, out, c, links)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
			if quit {
				if c.InVoice() {
					return c.LeaveVoice()
				}
				return nil
			}
		}
	}
}

func execute(ctx context.Context, line string, out io.Writer, c controller, links linkLister) (bool, error) {
	f := strings.Fields(line)
	if len(f) == 0 {
		return false, nil
	}
	switch {
	case f[0] == "quit" || f[0] == "exit":
		return true, nil
	case f[0] == "users":
		printRoster(out, c.Roster(), links.Snapshot())
		return false, nil
	case f[0] == "voice" && len(f) == 2 && f[1] == "join":
		return false, c.JoinVoice(ctx)
	case f[0] == "voice" && len(f) == 2 && f[1] == "leave":
		return false, c.LeaveVoice()
	case f[0] == "mic" && len(f) == 2 && f[1] == "on":
		return false, c.EnableMicrophone(ctx)
	case f[0] == "mic" && len(f) == 2 && f[1] == "off":
		c.DisableMicrophone()
		return false, nil
	case f[0] == "vol" && len(f) == 3:
		pct, err := strconv.Atoi(f[2])
		if err != nil {
			return false, fmt.Errorf("volume %q: %w", f[2], err)
		}
		return false, c.SetVolume(f[1], pct)
	default:
		return false, errUsage
	}
}

func printRoster(out io.Writer, users []protocol.UserInfo, links []peer.Info) {
	state := make(map[string]peer.State, len(links))
	for _, l := range links {
		state[l.RemoteID] = l.State
	}
	for _, u := range users {
		s, ok := state[u.UserID]
		if !ok {
			fmt.Fprintf(out, "  %s\t%s\n", u.UserID, u.Username)
			continue
		}
		fmt.Fprintf(out, "  %s\t%s\t%s\n", u.UserID, u.Username, s)
	}
}
