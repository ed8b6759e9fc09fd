package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/meshvoice/internal/adapters/rtc"
	"github.com/dkeye/meshvoice/internal/client/media"
	"github.com/dkeye/meshvoice/internal/client/peer"
	"github.com/dkeye/meshvoice/internal/client/signaling"
	"github.com/dkeye/meshvoice/internal/client/sink"
	"github.com/dkeye/meshvoice/internal/client/voice"
	"github.com/dkeye/meshvoice/internal/config"
	"github.com/dkeye/meshvoice/internal/logging"
)

func newRootCmd() *cobra.Command {
	v := config.NewClientViper()

	root := &cobra.Command{
		Use:           "meshvoice",
		Short:         "Headless participant for MeshVoice rooms",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().String("config", "", "client config file (yaml)")
	root.PersistentFlags().String("log-level", "info", "log level")
	_ = v.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	_ = v.BindPFlag("log_level", root.PersistentFlags().Lookup("log-level"))

	join := &cobra.Command{
		Use:   "join <room>",
		Short: "Join a room and optionally its voice channel",
		Long: `Join a room on a MeshVoice relay. Commands are read from stdin:

  voice join|leave   enter or leave voice
  mic on|off         unmute or mute the microphone
  vol <id> <0-100>   set the playback volume of a participant
  users              list room members
  quit               leave and exit`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				v.Set("room", args[0])
			}
			cfg, err := config.LoadClient(v)
			if err != nil {
				return err
			}
			logging.Setup("dev", cfg.LogLevel)
			return run(cmd.Context(), cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	bindJoinFlags(v, join.Flags())
	root.AddCommand(join)
	return root
}

func bindJoinFlags(v *viper.Viper, fs *pflag.FlagSet) {
	fs.String("server", v.GetString("server"), "relay websocket url")
	fs.String("room", "", "room id")
	fs.StringP("name", "n", "", "display name")
	fs.StringSlice("ice-servers", v.GetStringSlice("ice_servers"), "STUN/TURN urls")
	fs.String("capture", "", "Opus-in-Ogg file used as microphone (silence when empty)")
	fs.String("record-dir", "", "record each participant to <dir>/<id>.ogg")
	fs.Bool("voice", false, "join voice right after the room")
	fs.Bool("mic", false, "enable the microphone when joining voice")

	for key, flag := range map[string]string{
		"server":      "server",
		"room":        "room",
		"name":        "name",
		"ice_servers": "ice-servers",
		"capture":     "capture",
		"record_dir":  "record-dir",
		"voice":       "voice",
		"mic":         "mic",
	} {
		_ = v.BindPFlag(key, fs.Lookup(flag))
	}
}

func run(ctx context.Context, cfg *config.Client, in io.Reader, out io.Writer) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	factory, err := rtc.NewFactory(cfg.ICEServers, logging.NewPionFactory(log.Logger, logging.ParseLevel("warn")))
	if err != nil {
		return fmt.Errorf("webrtc: %w", err)
	}

	var renderers sink.RendererFactory
	if cfg.RecordDir != "" {
		if renderers, err = sink.RecorderFactory(cfg.RecordDir); err != nil {
			return err
		}
	}
	sinks := sink.NewRegistry(renderers)

	var dev media.Device = media.SilenceDevice{}
	if cfg.Capture != "" {
		dev = media.NewOggDevice(cfg.Capture, true)
	}

	tr, err := signaling.Dial(ctx, cfg.Server)
	if err != nil {
		return err
	}
	defer tr.Close()

	peers := peer.NewManager(factory.ConnFactory(), tr, sinks)
	mic := media.NewController(dev, peers)
	session := voice.NewSession(tr, peers, mic, sinks, voice.Options{
		MicOnJoin: cfg.Mic,
		OnEvent:   func(ev voice.Event) { printEvent(out, ev) },
	})

	if err := session.JoinRoom(cfg.Name, cfg.Room); err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	runCtx, quit := context.WithCancel(gctx)
	defer quit()

	g.Go(func() error {
		err := session.Run(runCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if cfg.Voice {
		// waits for the room snapshot, which Run dispatches
		g.Go(func() error {
			err := session.JoinVoice(runCtx)
			if err != nil && !errors.Is(err, context.Canceled) {
				fmt.Fprintf(out, "voice unavailable: %v\n", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		defer quit()
		return commandLoop(runCtx, in, out, session, peers)
	})
	return g.Wait()
}

func printEvent(out io.Writer, ev voice.Event) {
	switch ev.Kind {
	case voice.EventRoster:
		fmt.Fprintf(out, "joined as %s\n", ev.UserID)
	case voice.EventUserJoined:
		fmt.Fprintf(out, "+ %s (%s)\n", ev.Username, ev.UserID)
	case voice.EventUserLeft:
		fmt.Fprintf(out, "- %s (%s)\n", ev.Username, ev.UserID)
	case voice.EventError:
		fmt.Fprintf(out, "server: %s\n", ev.Code)
	}
}
