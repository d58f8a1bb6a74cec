package cmds

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/chatrelay/pkg/relay"
)

func newChatCommand(rt *runtime) *cobra.Command {
	var (
		server   string
		threadID string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with a thread on a running server; /history replays the thread",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if threadID == "" {
				threadID = uuid.NewString()
			}
			u, err := websocketURL(server, threadID)
			if err != nil {
				return err
			}
			conn, resp, err := websocket.DefaultDialer.DialContext(cmd.Context(), u, nil)
			if resp != nil && resp.Body != nil {
				_ = resp.Body.Close()
			}
			if err != nil {
				if resp != nil {
					return errors.Wrapf(err, "dial %s: %s", u, resp.Status)
				}
				return errors.Wrapf(err, "dial %s", u)
			}
			defer func() { _ = conn.Close() }()
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "thread %s\n", threadID)
			return chatLoop(conn, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "Base URL of the chatrelay server")
	cmd.Flags().StringVar(&threadID, "thread", "", "Thread to join (default: a new random ID)")
	return cmd
}

func websocketURL(server, threadID string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", errors.Wrap(err, "parse server url")
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", errors.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/websocket"
	u.RawQuery = url.Values{"threadID": []string{threadID}}.Encode()
	return u.String(), nil
}

// chatLoop sends one line per turn and prints the reply as it streams.
func chatLoop(conn *websocket.Conn, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/history" {
			line = relay.GetHistoryCommand
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			return errors.Wrap(err, "send")
		}
		if err := printReply(conn, out, strings.HasPrefix(line, relay.GetHistoryCommand)); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteMessage(websocket.CloseMessage, msg)
	return nil
}

func printReply(conn *websocket.Conn, out io.Writer, history bool) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return errors.Wrap(err, "receive")
		}
		frame := string(data)
		switch {
		case history:
			_, _ = fmt.Fprintln(out, frame)
			return nil
		case frame == relay.LoadingMarker:
		case frame == relay.DoneMarker:
			_, _ = fmt.Fprintln(out)
			return nil
		case strings.HasPrefix(frame, relay.ErrorPrefix):
			return errors.New(strings.TrimPrefix(frame, relay.ErrorPrefix))
		default:
			_, _ = fmt.Fprint(out, frame)
		}
	}
}
