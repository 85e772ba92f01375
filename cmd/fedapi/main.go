package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	"github.com/broady/fedapi"
	"github.com/broady/fedapi/federation/device"
	"github.com/broady/fedapi/federation/discovery"
	"github.com/broady/fedapi/identifiers"
	"github.com/broady/fedapi/signing"
)

type CLI struct {
	Config  string `help:"Path to a TOML configuration file." type:"existingfile" short:"c"`
	Verbose bool   `help:"Log at debug level." short:"v"`

	Version    VersionCmd    `cmd:"" help:"Print version information."`
	Routes     RoutesCmd     `cmd:"" help:"List the endpoints served by 'serve'."`
	Keygen     KeygenCmd     `cmd:"" help:"Generate an Ed25519 signing key."`
	ServerKeys ServerKeysCmd `cmd:"" name:"server-keys" help:"Fetch and verify the signing keys of a server."`
	Devices    DevicesCmd    `cmd:"" help:"Fetch a user's devices with a signed federation request."`
	Serve      ServeCmd      `cmd:"" help:"Serve the key, device and identity endpoints."`
}

// globals are passed to every command's Run method.
type globals struct {
	cfg    Config
	logger *slog.Logger
	out    io.Writer
}

type VersionCmd struct{}

func (c *VersionCmd) Run(g *globals) error {
	fmt.Fprintln(g.out, Version())
	return nil
}

type RoutesCmd struct{}

func (c *RoutesCmd) Run(g *globals) error {
	key, _, err := g.cfg.signingKey()
	if err != nil {
		return err
	}
	router, err := newServer(g.cfg, key, g.logger, http.DefaultClient).router()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(g.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "METHOD\tPATH\tAUTH\tNAME")
	for _, m := range router.Routes() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.Method, m.Path, m.Authentication, m.Name)
	}
	return tw.Flush()
}

type KeygenCmd struct {
	KeyVersion string `help:"Version part of the key ID." default:"a_1" name:"key-version"`
}

func (c *KeygenCmd) Run(g *globals) error {
	key, err := signing.GenerateKey(c.KeyVersion)
	if err != nil {
		return err
	}
	fmt.Fprintf(g.out, "key_id = %q\n", key.ID())
	fmt.Fprintf(g.out, "signing_seed = %q\n", signing.EncodeBase64(key.Seed()))
	fmt.Fprintf(g.out, "# public key %s\n", signing.EncodeBase64(key.Public()))
	return nil
}

type ServerKeysCmd struct {
	URL     string        `arg:"" help:"Base URL of the server, e.g. https://matrix.example.org:8448."`
	Timeout time.Duration `help:"Request timeout." default:"10s"`
}

func (c *ServerKeysCmd) Run(g *globals) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	client := fedapi.NewClient(c.URL, fedapi.WithUserAgent(userAgent()))
	res, err := fedapi.Send(ctx, client, discovery.GetServerKeys, discovery.GetServerKeysRequest{})
	if err != nil {
		return err
	}
	if err := signing.NewKeyRing().AddServerKey(res.ServerKey); err != nil {
		return fmt.Errorf("verify keys: %w", err)
	}
	g.logger.Info("server keys verified",
		slog.String("server", res.ServerKey.ServerName.String()),
		slog.Int("keys", len(res.ServerKey.VerifyKeys)))
	return printJSON(g.out, res.ServerKey)
}

type DevicesCmd struct {
	URL     string        `arg:"" help:"Base URL of the destination server."`
	User    string        `arg:"" help:"User ID, e.g. @alice:example.org."`
	Timeout time.Duration `help:"Request timeout." default:"10s"`
}

func (c *DevicesCmd) Run(g *globals) error {
	user, err := identifiers.ParseUserID(c.User)
	if err != nil {
		return err
	}
	key, generated, err := g.cfg.signingKey()
	if err != nil {
		return err
	}
	if generated {
		return errors.New("devices needs a configured signing_seed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()
	client := fedapi.NewClient(c.URL,
		fedapi.WithUserAgent(userAgent()),
		fedapi.WithCredentials(fedapi.Credentials{
			Origin:      g.cfg.ServerName,
			Destination: identifiers.UserServerName(user),
			Signer:      key,
		}))
	res, err := fedapi.Send(ctx, client, device.GetDevices, device.GetDevicesRequest{UserID: user})
	if err != nil {
		return err
	}
	return printJSON(g.out, res)
}

type ServeCmd struct {
	Listen string `help:"Address to listen on. Overrides the configuration."`
}

func (c *ServeCmd) Run(g *globals) error {
	cfg := g.cfg
	if c.Listen != "" {
		cfg.Listen = c.Listen
	}
	key, generated, err := cfg.signingKey()
	if err != nil {
		return err
	}
	if generated {
		g.logger.Warn("no signing_seed configured, using an ephemeral key",
			slog.String("key_id", key.ID().String()))
	}

	router, err := newServer(cfg, key, g.logger, &http.Client{Timeout: fetchTimeout}).router()
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		g.logger.Info("serving",
			slog.String("addr", cfg.Listen),
			slog.String("server_name", cfg.ServerName.String()))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	g.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	cli := &CLI{}
	ctx := kong.Parse(cli,
		kong.Name("fedapi"),
		kong.Description("Matrix federation endpoint tools and reference server."),
		kong.UsageOnError(),
	)

	level := slog.LevelInfo
	if cli.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := loadConfig(cli.Config)
	ctx.FatalIfErrorf(err)

	err = ctx.Run(&globals{cfg: cfg, logger: logger, out: os.Stdout})
	ctx.FatalIfErrorf(err)
}
