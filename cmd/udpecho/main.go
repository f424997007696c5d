// Command udpecho is a small demo exercising netudp's unicast and
// multicast paths: it either echoes back whatever it receives, or
// periodically sends a payload to a destination (unicast or multicast).
//
// Grounded on jroosing-HydraDNS/cmd/hydradns for the cobra+viper
// flag/config wiring idiom, and on rcarmo-codebits-tv/cmd/server for the
// signal.NotifyContext shutdown shape.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"netudp/udp"
	"netudp/udp/udplog"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		rxAddr     string
		rxPort     uint16
		txPort     uint16
		groups     []string
		send       string
		sendPeriod time.Duration
		verbose    bool
		configFile string
	)

	cmd := &cobra.Command{
		Use:   "udpecho",
		Short: "Echo or periodically send datagrams over netudp",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configFile != "" {
				viper.SetConfigFile(configFile)
				if err := viper.ReadInConfig(); err != nil {
					return fmt.Errorf("read config: %w", err)
				}
				viper.WatchConfig()
				viper.OnConfigChange(func(in fsnotify.Event) {
					logrus.Infof("config changed: %s", in.Name)
				})
			}

			level := logrus.InfoLevel
			if verbose {
				level = logrus.DebugLevel
			}
			log := udplog.New(level)

			cfg := udp.DefaultConfig()
			cfg.RxAddress = rxAddr
			cfg.RxPort = rxPort
			cfg.TxPort = txPort
			for _, g := range groups {
				cfg.MulticastListeningGroups[g] = struct{}{}
			}

			ep := udp.NewEndpoint(cfg, udp.WithLogger(log))
			ep.Handle(func(ev udp.Event) {
				switch ev.Kind {
				case udp.EventDatagramReceived:
					d := ev.Datagram
					fmt.Printf("recv %d bytes from %s:%d\n", d.Length, d.SourceAddress, d.SourcePort)
					if send == "" {
						echoCtx, cancel := context.WithTimeout(context.Background(), time.Second)
						if _, err := ep.SendTo(echoCtx, d.Payload(), d.SourceAddress, d.SourcePort); err != nil {
							fmt.Fprintf(os.Stderr, "echo: %v\n", err)
						}
						cancel()
					}
				case udp.EventSocketError:
					fmt.Fprintf(os.Stderr, "socket error: %s\n", ev.ErrText)
				case udp.EventBoundChanged:
					fmt.Printf("bound=%v\n", ev.Bounded)
				}
			})

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			if err := ep.Start(ctx); err != nil {
				return fmt.Errorf("start: %w", err)
			}
			defer ep.Stop(context.Background())

			if send == "" {
				<-ctx.Done()
				return nil
			}
			return runSender(ctx, ep, send, sendPeriod)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&rxAddr, "rx-address", "", "bind address for receiving (empty = any)")
	flags.Uint16Var(&rxPort, "rx-port", 9999, "receive port")
	flags.Uint16Var(&txPort, "tx-port", 0, "send port (0 = OS-assigned)")
	flags.StringSliceVar(&groups, "join", nil, "multicast group to join (repeatable)")
	flags.StringVar(&send, "send-to", "", "address:port to periodically send to instead of idling")
	flags.DurationVar(&sendPeriod, "send-period", time.Second, "interval between sends when --send-to is set")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	flags.StringVar(&configFile, "config", "", "optional config file (viper-readable: yaml/json/toml)")

	return cmd
}

func runSender(ctx context.Context, ep *udp.Endpoint, dest string, period time.Duration) error {
	host, port, err := splitHostPort(dest)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			seq++
			payload := fmt.Appendf(nil, "udpecho seq=%d", seq)
			if _, err := ep.SendTo(ctx, payload, host, port); err != nil {
				fmt.Fprintf(os.Stderr, "send: %v\n", err)
			}
		}
	}
}

func splitHostPort(addr string) (string, uint16, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return "", 0, fmt.Errorf("invalid address %q, want host:port", addr)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("invalid address %q, want host:port", addr)
	}
	return host, uint16(port), nil
}
