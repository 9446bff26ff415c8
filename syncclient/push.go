package syncclient

import (
	"context"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cyverse-de/inquiry-notifier/model"
	"github.com/pkg/errors"
	"nhooyr.io/websocket"
)

// PushOptions describes the push channel connection.
type PushOptions struct {
	// URL is the WebSocket URL of the push channel, usually obtained from Routes.PushURL.
	URL string

	// HTTPClient is used for the WebSocket handshake. It must not have a timeout; the handshake is bounded by the
	// context passed to Run instead.
	HTTPClient *http.Client

	// Header is sent with the handshake request.
	Header http.Header

	// NewBackOff creates the reconnection policy. The default is an exponential backoff without an elapsed time
	// limit.
	NewBackOff func() backoff.BackOff

	// ReadLimit is the maximum size of a single frame. The library default applies if it's zero.
	ReadLimit int64
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	return b
}

// Run maintains the push channel until the context is done, reconnecting whenever the connection is lost. Local state
// is kept while disconnected, and the unread count is pulled after every successful connection.
func (c *Client) Run(ctx context.Context, opts PushOptions) error {
	if opts.URL == "" {
		return errors.New("no push channel URL was provided")
	}
	newBackOff := opts.NewBackOff
	if newBackOff == nil {
		newBackOff = defaultBackOff
	}
	policy := backoff.WithContext(newBackOff(), ctx)

	for {
		connected, err := c.connect(ctx, opts)
		if ctx.Err() != nil {
			c.setStatus(StatusDisconnected)
			return ctx.Err()
		}
		if connected {
			policy.Reset()
		}

		delay := policy.NextBackOff()
		if delay == backoff.Stop {
			c.setStatus(StatusDisconnected)
			return errors.Wrap(err, "giving up on the push channel")
		}
		log.Warnf("push channel unavailable, reconnecting in %s: %s", delay, err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// connect opens a single push connection and applies events until it's lost. The boolean result is true if the
// connection was established.
func (c *Client) connect(ctx context.Context, opts PushOptions) (bool, error) {
	c.setStatus(StatusConnecting)

	conn, _, err := websocket.Dial(ctx, opts.URL, &websocket.DialOptions{
		HTTPClient: opts.HTTPClient,
		HTTPHeader: opts.Header,
	})
	if err != nil {
		c.setStatus(StatusDisconnected)
		return false, &TransientError{Err: err}
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	if opts.ReadLimit > 0 {
		conn.SetReadLimit(opts.ReadLimit)
	}

	c.setStatus(StatusConnected)
	log.Infof("push channel connected to %s", opts.URL)

	c.goBackground(func() {
		if err := c.RefreshUnreadCount(ctx); err != nil {
			log.Warnf("unable to pull the unread count after connecting: %s", err)
		}
	})

	err = c.readEvents(ctx, conn)
	c.setStatus(StatusDisconnected)
	return true, err
}

// readEvents applies every decodable frame until the connection fails. Frames that can't be decoded are skipped.
func (c *Client) readEvents(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, frame, err := conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				return errors.Errorf("push channel closed by the server: %s", status)
			}
			return errors.Wrap(err, "push channel read failed")
		}

		event, err := model.DecodeEvent(frame)
		if err != nil {
			log.Warnf("skipping push frame: %s", err)
			continue
		}
		c.ApplyEvent(event)
	}
}
