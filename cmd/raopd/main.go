package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"

	"raopcore/config"
	"raopcore/queue"
	"raopcore/raopcore"
)

// udpTimingTransport sends framed timing-request packets to the sender's
// timing port. The read side (TimingResponse / Sync ingestion) belongs to
// the RTSP/RTP signaling layer, out of scope here; this binary only shows
// the Receiver wiring.
type udpTimingTransport struct {
	conn *net.UDPConn
}

func (t *udpTimingTransport) Send(payload []byte) error {
	_, err := t.conn.Write(payload)
	return err
}

// nullSink discards audio. A real build swaps this for an ALSA/CoreAudio/
// WASAPI-backed Sink; the Receiver never knows the difference.
type nullSink struct {
	state  queue.PlayState
	volume float32
}

func (s *nullSink) Open(bufferBytes int) error { return nil }

func (s *nullSink) Play() error    { s.state = queue.Playing; return nil }
func (s *nullSink) Stop() error    { s.state = queue.Stopped; return nil }
func (s *nullSink) Release() error { return nil }

func (s *nullSink) Write(p []byte) (int, error) { return len(p), nil }

func (s *nullSink) SetVolume(linear float32) error {
	s.volume = linear
	return nil
}

func (s *nullSink) PlaybackHeadPosition() (uint32, error) { return 0, nil }
func (s *nullSink) State() queue.PlayState                { return s.state }

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	configPath := "raopd.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("config error", "error", err)
		os.Exit(1)
	}

	timingAddr := "127.0.0.1:6002"
	if len(os.Args) > 2 {
		timingAddr = os.Args[2]
	}
	raddr, err := net.ResolveUDPAddr("udp", timingAddr)
	if err != nil {
		logger.Error("resolve timing address failed", "error", err, "address", timingAddr)
		os.Exit(1)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		logger.Error("dial timing socket failed", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	receiver := raopcore.New(cfg, &nullSink{}, &udpTimingTransport{conn: conn}, logger)
	receiver.Start(ctx)

	logger.Info("raopd started", "sampleRate", cfg.Format.SampleRate, "channels", cfg.Format.Channels, "timingAddress", timingAddr)

	<-ctx.Done()

	logger.Info("shutting down...")
	receiver.Close()
	logger.Info("shutdown complete")
}
