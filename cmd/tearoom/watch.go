package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"tearoom/client"
	v1 "tearoom/shared/contracts/realtime/v1"
)

var watchCmd = &cobra.Command{
	Use:   "watch [scope:id]...",
	Short: "Log in and print realtime events for the given channels",
	Long: `Log in (or reuse stored tokens) and stream realtime envelopes as JSON lines.
Channels are scope:id pairs, e.g. kitchen:k1 or room:r1, or tenant for the
whole tenant feed. The password is read
from TEAROOM_PASSWORD.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().String("server", "http://localhost:8080", "API base URL")
	watchCmd.Flags().String("email", "", "login email (skip to reuse stored tokens)")
	watchCmd.Flags().String("tenant", "", "tenant slug for login")
	watchCmd.Flags().String("tokens", "", "token file (defaults to the user config dir)")
	rootCmd.AddCommand(watchCmd)
}

func parseChannels(args []string) ([]v1.RoomPayload, error) {
	out := make([]v1.RoomPayload, 0, len(args))
	for _, a := range args {
		scope, id, _ := strings.Cut(a, ":")
		if scope == "" || (id == "" && scope != "tenant") {
			return nil, fmt.Errorf("invalid channel %q: want scope:id", a)
		}
		out = append(out, v1.RoomPayload{Scope: scope, ID: id})
	}
	return out, nil
}

func wsURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	channels, err := parseChannels(args)
	if err != nil {
		return err
	}
	server, _ := cmd.Flags().GetString("server")
	email, _ := cmd.Flags().GetString("email")
	tenant, _ := cmd.Flags().GetString("tenant")
	path, _ := cmd.Flags().GetString("tokens")

	if path == "" {
		if path, err = client.DefaultTokenPath(); err != nil {
			return err
		}
	}
	endpoint, err := wsURL(server)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log := cliLogger()
	sess := client.NewSession(server, client.NewFileTokenStore(path), client.WithLogger(log))
	if email != "" {
		u, err := sess.Login(ctx, email, os.Getenv("TEAROOM_PASSWORD"), tenant)
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}
		log.Info("watch.login", "principal_id", u.ID, "role", u.Role)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	rt := client.NewRealtime(sess, client.RealtimeConfig{
		URL:    endpoint,
		Logger: log,
		OnState: func(from, to client.State) {
			log.Info("watch.state", "from", from.String(), "to", to.String())
		},
		OnEnvelope: func(env v1.Envelope) { _ = enc.Encode(env) },
	})
	for _, ch := range channels {
		if err := rt.Join(ctx, ch); err != nil {
			return err
		}
	}
	return rt.Run(ctx)
}
