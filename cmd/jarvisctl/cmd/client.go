package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jarvis-automation/jarvis/pkg/client"
	"github.com/jarvis-automation/jarvis/pkg/protocol"
)

// relayClient returns a controller client configured from the root flags.
func relayClient() *client.Client {
	opts := []client.Option{client.WithCommandTimeout(commandTimeout)}
	if commandSecret != "" {
		opts = append(opts, client.WithCommandSecret(commandSecret))
	}
	return client.New(relayURL, opts...)
}

// sendAndPrint sends action to target and prints whatever comes back. A
// structured error from the relay or node is printed like any other response.
func sendAndPrint(ctx context.Context, w io.Writer, target string, action protocol.Action) error {
	raw, err := relayClient().SendCommand(ctx, target, action)
	var perr *protocol.Error
	if err != nil && (raw == nil || !errors.As(err, &perr)) {
		return err
	}
	return printJSON(w, raw)
}

func printJSON(w io.Writer, v any) error {
	var data []byte
	if raw, ok := v.(json.RawMessage); ok {
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", "  "); err != nil {
			return err
		}
		data = buf.Bytes()
	} else {
		var err error
		if data, err = json.MarshalIndent(v, "", "  "); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "%s\n", data)
	return err
}

// apiGet fetches path from the status API served on the relay's listener.
func apiGet(ctx context.Context, path string, dest any) error {
	u, err := url.Parse(relayURL)
	if err != nil {
		return fmt.Errorf("parse relay url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path, u.RawQuery = path, ""

	ctx, cancel := context.WithTimeout(ctx, client.DefaultQueryTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		return fmt.Errorf("cannot connect to jarvisd at %s: %w", u.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jarvisd returned HTTP %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}
