// Package main provides a CI-friendly end-to-end smoke test for tearoom.
//
// It validates:
//   - login for a kitchen console and a room user
//   - websocket handshake, subprotocol and hello
//   - kitchen channel join
//   - POST /orders -> order-created fanout to the kitchen
//   - status change -> order-status-updated fanout
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"tearoom/client"
	v1 "tearoom/shared/contracts/realtime/v1"
)

func main() {
	var (
		server    = flag.String("server", "http://127.0.0.1:8080", "API base URL")
		origin    = flag.String("origin", "http://localhost", "Origin header for the websocket handshake")
		tenant    = flag.String("tenant", "tea-house", "tenant slug")
		kitchen   = flag.String("kitchen-email", "kitchen@tea-house.test", "kitchen console login")
		room      = flag.String("room-email", "room@tea-house.test", "room user login")
		kitchenID = flag.String("kitchen", "k1", "kitchen id the order is routed to")
		timeout   = flag.Duration("timeout", 7*time.Second, "per-step timeout")
		verbose   = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	secret := os.Getenv("TEAROOM_SMOKE_PASSWORD")
	if secret == "" {
		fatalf("TEAROOM_SMOKE_PASSWORD is required")
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	wsURL, err := toWSURL(*server)
	if err != nil {
		fatalf("invalid -server: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 6*(*timeout))
	defer cancel()

	kSess := client.NewSession(*server, client.NewMemoryTokenStore())
	if _, err := kSess.Login(ctx, *kitchen, secret, *tenant); err != nil {
		fatalf("kitchen login: %v", err)
	}
	rSess := client.NewSession(*server, client.NewMemoryTokenStore())
	if _, err := rSess.Login(ctx, *room, secret, *tenant); err != nil {
		fatalf("room login: %v", err)
	}

	inbox := make(chan v1.Envelope, 64)
	open := make(chan struct{}, 1)
	rt := client.NewRealtime(kSess, client.RealtimeConfig{
		URL:         wsURL,
		Origin:      *origin,
		MaxAttempts: 3,
		OnState: func(_, to client.State) {
			if to == client.StateOpen {
				select {
				case open <- struct{}{}:
				default:
				}
			}
		},
		OnEnvelope: func(env v1.Envelope) { inbox <- env },
	})
	if err := rt.Join(ctx, v1.RoomPayload{Scope: "kitchen", ID: *kitchenID}); err != nil {
		fatalf("join: %v", err)
	}
	runErr := make(chan error, 1)
	go func() { runErr <- rt.Run(ctx) }()

	select {
	case <-open:
	case err := <-runErr:
		fatalf("realtime: %v", err)
	case <-time.After(*timeout):
		fatalf("realtime: not open after %s", *timeout)
	}
	waitFor(inbox, v1.TypeJoined, "", *timeout, *verbose)

	order, err := rSess.PlaceOrder(ctx, client.PlaceOrder{
		KitchenID: *kitchenID,
		Items:     []client.OrderItem{{Name: "sencha", Quantity: 2}},
	})
	if err != nil {
		fatalf("place order: %v", err)
	}
	waitFor(inbox, v1.TypeOrderCreated, order.ID, *timeout, *verbose)

	if _, err := kSess.SetOrderStatus(ctx, order.ID, "accepted"); err != nil {
		fatalf("accept order: %v", err)
	}
	waitFor(inbox, v1.TypeOrderStatusUpdated, order.ID, *timeout, *verbose)

	cancel()
	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		fatalf("realtime: %v", err)
	}
	fmt.Printf("OK: order=%s kitchen=%s\n", order.ID, *kitchenID)
}

// waitFor drains inbox until an envelope of typ arrives. A non-empty orderID
// must match the payload.
func waitFor(inbox <-chan v1.Envelope, typ, orderID string, timeout time.Duration, verbose bool) v1.Envelope {
	deadline := time.After(timeout)
	for {
		select {
		case env := <-inbox:
			if verbose {
				fmt.Printf("<- %s %s\n", env.Type, string(env.Payload))
			}
			if env.Type == v1.TypeError {
				fatalf("server error: %s", string(env.Payload))
			}
			if env.Type != typ {
				continue
			}
			if orderID == "" {
				return env
			}
			var p v1.OrderEventPayload
			if err := env.Decode(&p); err == nil && p.Order.ID == orderID {
				return env
			}
		case <-deadline:
			fatalf("timed out waiting for %s", typ)
		}
	}
}

func toWSURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", errors.New("missing host")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func fatalf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
