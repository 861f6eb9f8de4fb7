package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"time"

	"github.com/signalsfoundry/ephemeris-server/internal/ephemeris"
	"github.com/signalsfoundry/ephemeris-server/internal/protocol"
	"github.com/spf13/cobra"
	"golang.org/x/net/websocket"
)

type requestOptions struct {
	url      string
	at       string
	mode     string
	observer int32
	insecure bool
	timeout  time.Duration
	hex      bool
}

func newRequestCmd(a *app) *cobra.Command {
	var o requestOptions
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Send one ephemeris request to a running server and print the response",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := o.request(time.Now())
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
			defer cancel()
			raw, err := roundTrip(ctx, o.url, o.insecure, protocol.EncodeRequest(req))
			if err != nil {
				return err
			}
			return printResponse(a.stdout, req, raw, o.hex)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.url, "url", "ws://localhost:9002/", "server URL (ws:// or wss://)")
	f.StringVar(&o.at, "time", "", "epoch as RFC 3339 or POSIX seconds (default now)")
	f.StringVar(&o.mode, "mode", "i", "i for instantaneous, l for light-time corrected")
	f.Int32Var(&o.observer, "observer", -91000, "observer body ID")
	f.BoolVar(&o.insecure, "insecure", false, "skip TLS certificate verification")
	f.DurationVar(&o.timeout, "timeout", 30*time.Second, "overall request timeout")
	f.BoolVar(&o.hex, "hex", false, "dump every value with its raw bytes")
	return cmd
}

func (o requestOptions) request(now time.Time) (protocol.Request, error) {
	ts := float64(now.UnixNano()) / 1e9
	if o.at != "" {
		if secs, err := strconv.ParseFloat(o.at, 64); err == nil {
			ts = secs
		} else {
			t, err := time.Parse(time.RFC3339Nano, o.at)
			if err != nil {
				return protocol.Request{}, fmt.Errorf("--time %q is neither RFC 3339 nor POSIX seconds", o.at)
			}
			ts = float64(t.UnixNano()) / 1e9
		}
	}
	if len(o.mode) != 1 {
		return protocol.Request{}, fmt.Errorf("--mode must be a single character, got %q", o.mode)
	}
	// Other mode bytes are sent as-is so the server's error path can be exercised.
	return protocol.Request{Timestamp: ts, Mode: protocol.Mode(o.mode[0]), Observer: o.observer}, nil
}

// roundTrip sends one binary message and waits for the reply.
func roundTrip(ctx context.Context, rawURL string, insecure bool, msg []byte) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	origin := "http://localhost/"
	if u.Scheme == "wss" {
		origin = "https://localhost/"
	}
	cfg, err := websocket.NewConfig(rawURL, origin)
	if err != nil {
		return nil, err
	}
	if insecure {
		cfg.TlsConfig = &tls.Config{InsecureSkipVerify: true}
	}
	ws, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", rawURL, err)
	}
	defer ws.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = ws.SetDeadline(deadline)
	}

	if err := websocket.Message.Send(ws, msg); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	var reply []byte
	if err := websocket.Message.Receive(ws, &reply); err != nil {
		return nil, fmt.Errorf("receive: %w", err)
	}
	return reply, nil
}

func printResponse(w io.Writer, req protocol.Request, raw []byte, hex bool) error {
	resp, err := protocol.DecodeResponse(raw)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "epoch:    %s UTC\n", ephemeris.FormatUTC(req.Timestamp))
	fmt.Fprintf(w, "mode:     %s\n", req.Mode)
	fmt.Fprintf(w, "observer: %d\n", req.Observer)
	if hex {
		return protocol.Dump(w, raw)
	}
	fmt.Fprintf(w, "status:   %s\n", resp.Status)
	for _, rec := range resp.Records {
		name, _ := ephemeris.CatalogName(rec.ID)
		p := rec.State.Position
		fmt.Fprintf(w, "%10d %-16s r=(%.6E, %.6E, %.6E) km\n", rec.ID, name, p[0], p[1], p[2])
	}
	return nil
}
