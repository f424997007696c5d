// Command udpslideshow multicasts small JPEG thumbnails of a directory of
// images, one datagram per frame, using netudp's multicast send path.
//
// Adapted from rcarmo-codebits-tv/cmd/server, which drove the same
// directory-of-images idea through internal/frame and internal/mcast's
// fragmenting sender. With fragmentation out of scope here, frames are
// generated pre-shrunk to fit one datagram (internal/slideshow) and sent
// directly via a single Endpoint.Send call.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"netudp/internal/slideshow"
	"netudp/udp"
	"netudp/udp/udplog"
)

func main() {
	var (
		addr      string
		port      uint16
		ifaceName string
		ttl       uint8
		dir       string
		interval  time.Duration
		fps       time.Duration
		quality   int
		width     int
		height    int
		timestamp bool
	)

	cmd := &cobra.Command{
		Use:   "udpslideshow",
		Short: "Multicast a directory of images as single-datagram JPEG thumbnails",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				return fmt.Errorf("--dir is required")
			}

			gen := slideshow.New(width, height, quality, interval)
			gen.SetTimestamp(timestamp)
			if err := gen.Load(dir); err != nil {
				return fmt.Errorf("load slides: %w", err)
			}

			cfg := udp.DefaultConfig()
			cfg.InputEnabled = false
			cfg.MulticastTTL = ttl
			if ifaceName != "" {
				cfg.MulticastOutgoingInterfaces[ifaceName] = struct{}{}
			}

			ep := udp.NewEndpoint(cfg, udp.WithLogger(udplog.New(logrus.InfoLevel)))
			ep.Handle(func(ev udp.Event) {
				if ev.Kind == udp.EventSocketError {
					fmt.Fprintf(os.Stderr, "socket error: %s\n", ev.ErrText)
				}
			})

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			if err := ep.Start(ctx); err != nil {
				return fmt.Errorf("start: %w", err)
			}
			defer ep.Stop(context.Background())

			return runLoop(ctx, ep, gen, addr, port, fps)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&addr, "group", "224.0.0.250", "multicast group address")
	flags.Uint16Var(&port, "port", 5000, "multicast port")
	flags.StringVar(&ifaceName, "iface", "", "outgoing interface name (empty = all capable interfaces)")
	flags.Uint8Var(&ttl, "ttl", 8, "multicast TTL")
	flags.StringVar(&dir, "dir", "", "directory of images to cycle through")
	flags.DurationVar(&interval, "slide-interval", 5*time.Second, "time between slide changes")
	flags.DurationVar(&fps, "period", 200*time.Millisecond, "time between sent frames")
	flags.IntVar(&quality, "quality", 70, "JPEG quality (1-100), lowered automatically if a frame won't fit one datagram")
	flags.IntVar(&width, "width", 160, "thumbnail width")
	flags.IntVar(&height, "height", 120, "thumbnail height")
	flags.BoolVar(&timestamp, "timestamp", false, "overlay a timestamp on each frame")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runLoop(ctx context.Context, ep *udp.Endpoint, gen *slideshow.Generator, addr string, port uint16, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			frame, err := gen.Next()
			if err != nil {
				fmt.Fprintf(os.Stderr, "generate frame: %v\n", err)
				continue
			}
			if _, err := ep.SendTo(ctx, frame, addr, port); err != nil {
				fmt.Fprintf(os.Stderr, "send: %v\n", err)
			}
		}
	}
}
