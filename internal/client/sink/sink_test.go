package sink

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

// chanTrack yields packets pushed by the test until closed.
type chanTrack struct {
	id   string
	pkts chan *rtp.Packet
}

func newChanTrack(id string) *chanTrack {
	return &chanTrack{id: id, pkts: make(chan *rtp.Packet, 16)}
}

func (t *chanTrack) ID() string { return t.id }

func (t *chanTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	p, ok := <-t.pkts
	if !ok {
		return nil, nil, io.EOF
	}
	return p, nil, nil
}

type recordingRenderer struct {
	mu      sync.Mutex
	volumes []float64
	closed  chan struct{}
}

func newRecordingRenderer() *recordingRenderer {
	return &recordingRenderer{closed: make(chan struct{})}
}

func (r *recordingRenderer) Render(_ *rtp.Packet, v float64) error {
	r.mu.Lock()
	r.volumes = append(r.volumes, v)
	r.mu.Unlock()
	return nil
}

func (r *recordingRenderer) Close() error {
	close(r.closed)
	return nil
}

func (r *recordingRenderer) waitRendered(t *testing.T, n int) []float64 {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		r.mu.Lock()
		got := append([]float64(nil), r.volumes...)
		r.mu.Unlock()
		if len(got) >= n {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("rendered %d packets, want %d", len(got), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSetVolume(t *testing.T) {
	rr := newRecordingRenderer()
	reg := NewRegistry(func(string) (Renderer, error) { return rr, nil })

	if err := reg.SetVolume("bob", 50); !errors.Is(err, ErrNoSuchSink) {
		t.Fatalf("SetVolume before bind = %v, want ErrNoSuchSink", err)
	}
	track := newChanTrack("audio-bob")
	if err := reg.Bind("bob", track); err != nil {
		t.Fatal(err)
	}
	if v, _ := reg.Volume("bob"); v != DefaultVolume {
		t.Fatalf("default volume = %d", v)
	}
	for _, bad := range []int{-1, 101} {
		if err := reg.SetVolume("bob", bad); !errors.Is(err, ErrVolumeRange) {
			t.Errorf("SetVolume(%d) = %v, want ErrVolumeRange", bad, err)
		}
	}

	track.pkts <- &rtp.Packet{}
	rr.waitRendered(t, 1)
	if err := reg.SetVolume("bob", 25); err != nil {
		t.Fatal(err)
	}
	track.pkts <- &rtp.Packet{}
	got := rr.waitRendered(t, 2)
	if got[0] != 1 || got[1] != 0.25 {
		t.Fatalf("volumes = %v, want [1 0.25]", got)
	}
}

func TestReleaseClosesRenderer(t *testing.T) {
	rr := newRecordingRenderer()
	reg := NewRegistry(func(string) (Renderer, error) { return rr, nil })
	track := newChanTrack("a")
	_ = reg.Bind("bob", track)

	if !reg.Release("bob") {
		t.Fatal("Release returned false")
	}
	if reg.Release("bob") {
		t.Fatal("second Release should report nothing to release")
	}
	if err := reg.SetVolume("bob", 10); !errors.Is(err, ErrNoSuchSink) {
		t.Fatalf("SetVolume after release = %v", err)
	}
	select {
	case <-rr.closed:
	default:
		t.Fatal("renderer still open after Release")
	}
	close(track.pkts)
}

func TestBindReplacesAndKeepsVolume(t *testing.T) {
	var mu sync.Mutex
	var renderers []*recordingRenderer
	reg := NewRegistry(func(string) (Renderer, error) {
		mu.Lock()
		defer mu.Unlock()
		rr := newRecordingRenderer()
		renderers = append(renderers, rr)
		return rr, nil
	})
	first := newChanTrack("one")
	_ = reg.Bind("bob", first)
	_ = reg.SetVolume("bob", 40)
	second := newChanTrack("two")
	_ = reg.Bind("bob", second)

	if v, _ := reg.Volume("bob"); v != 40 {
		t.Errorf("volume after rebind = %d, want 40", v)
	}
	first.pkts <- &rtp.Packet{}
	select {
	case <-renderers[0].closed:
	case <-time.After(2 * time.Second):
		t.Fatal("replaced sink kept running")
	}
	if got := reg.IDs(); len(got) != 1 || got[0] != "bob" {
		t.Errorf("IDs = %v", got)
	}
}

// countingRenderer tracks how many renderers are open at once.
type countingRenderer struct {
	*recordingRenderer
	open *atomic.Int32
}

func (c countingRenderer) Close() error {
	c.open.Add(-1)
	return c.recordingRenderer.Close()
}

func TestRebindNeverOverlapsRenderers(t *testing.T) {
	var open, peak atomic.Int32
	reg := NewRegistry(func(string) (Renderer, error) {
		n := open.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		return countingRenderer{recordingRenderer: newRecordingRenderer(), open: &open}, nil
	})

	// none of these tracks ever yields, so their readers stay in ReadRTP
	tracks := []*chanTrack{newChanTrack("one"), newChanTrack("two"), newChanTrack("three")}
	for _, tr := range tracks {
		if err := reg.Bind("bob", tr); err != nil {
			t.Fatal(err)
		}
	}
	if p := peak.Load(); p != 1 {
		t.Fatalf("%d renderers open at once for one remote", p)
	}
	reg.Release("bob")
	if n := open.Load(); n != 0 {
		t.Fatalf("%d renderers left open", n)
	}
	for _, tr := range tracks {
		close(tr.pkts)
	}
}

// notifyRenderer signals every packet it rendered.
type notifyRenderer struct {
	Renderer
	rendered chan struct{}
}

func (n notifyRenderer) Render(pkt *rtp.Packet, v float64) error {
	err := n.Renderer.Render(pkt, v)
	n.rendered <- struct{}{}
	return err
}

func TestRebindRecordingStaysReadable(t *testing.T) {
	dir := t.TempDir()
	recorders, err := RecorderFactory(dir)
	if err != nil {
		t.Fatal(err)
	}
	rendered := make(chan struct{}, 16)
	reg := NewRegistry(func(id string) (Renderer, error) {
		r, err := recorders(id)
		if err != nil {
			return nil, err
		}
		return notifyRenderer{Renderer: r, rendered: rendered}, nil
	})

	pkt := func(seq uint16) *rtp.Packet {
		return &rtp.Packet{Header: rtp.Header{Timestamp: uint32(seq) * 960, SequenceNumber: seq}, Payload: []byte{0xf8, 0xff, 0xfe}}
	}
	first := newChanTrack("one")
	_ = reg.Bind("bob", first)
	first.pkts <- pkt(1)
	<-rendered

	second := newChanTrack("two")
	_ = reg.Bind("bob", second)
	for seq := uint16(1); seq <= 3; seq++ {
		second.pkts <- pkt(seq)
		<-rendered
	}
	reg.Release("bob")
	close(first.pkts)
	close(second.pkts)

	f, err := os.Open(filepath.Join(dir, "bob.ogg"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	r, _, err := oggreader.NewWith(f)
	if err != nil {
		t.Fatalf("recording header: %v", err)
	}
	pages := 0
	for {
		_, _, err := r.ParseNextPage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("page %d: %v", pages, err)
		}
		pages++
	}
	// comment header plus one page per packet of the second stream
	if pages != 4 {
		t.Fatalf("pages = %d, want 4", pages)
	}
}

func TestReleaseAll(t *testing.T) {
	reg := NewRegistry(nil)
	_ = reg.Bind("a", newChanTrack("a"))
	_ = reg.Bind("b", newChanTrack("b"))
	if n := reg.ReleaseAll(); n != 2 {
		t.Fatalf("ReleaseAll = %d, want 2", n)
	}
	if len(reg.IDs()) != 0 {
		t.Fatal("sinks remain after ReleaseAll")
	}
}

func TestOggRecorderMutesAtZero(t *testing.T) {
	factory, err := RecorderFactory(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	r, err := factory("bob")
	if err != nil {
		t.Fatal(err)
	}
	rec := r.(*OggRecorder)
	pkt := &rtp.Packet{Header: rtp.Header{Timestamp: 960, SequenceNumber: 1}, Payload: []byte{0xf8, 0xff, 0xfe}}
	if err := rec.Render(pkt, 0); err != nil {
		t.Fatal(err)
	}
	if err := rec.Render(pkt, 1); err != nil {
		t.Fatal(err)
	}
	if err := rec.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestRecorderFactoryPaths(t *testing.T) {
	dir := t.TempDir()
	factory, err := RecorderFactory(filepath.Join(dir, "rec"))
	if err != nil {
		t.Fatal(err)
	}
	r, err := factory("../escape")
	if err != nil {
		t.Fatal(err)
	}
	_ = r.Close()
	if _, err := os.Stat(filepath.Join(dir, "rec", "escape.ogg")); err != nil {
		t.Fatalf("recording not confined to dir: %v", err)
	}
}
