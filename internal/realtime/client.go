package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	defaultHeartbeat   = 25 * time.Second
	defaultJoinTimeout = 10 * time.Second
	protocolVersion    = "1.0.0"
)

var ErrClientClosed = errors.New("realtime: client closed")

type Options struct {
	APIKey      string
	AccessToken string
	Heartbeat   time.Duration
	JoinTimeout time.Duration
	Dialer      *websocket.Dialer
	Logger      zerolog.Logger
}

// Client multiplexes channel subscriptions over one Realtime socket.
type Client struct {
	conn        *websocket.Conn
	token       string
	joinTimeout time.Duration
	logger      zerolog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	ref      int64
	topicSeq int64
	channels map[string]*channel
	replies  map[string]chan reply
	err      error

	done      chan struct{}
	closeOnce sync.Once
}

type frame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
}

type reply struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type changeEnvelope struct {
	Data struct {
		Type            EventType       `json:"type"`
		Schema          string          `json:"schema"`
		Table           string          `json:"table"`
		Record          json.RawMessage `json:"record"`
		OldRecord       json.RawMessage `json:"old_record"`
		CommitTimestamp time.Time       `json:"commit_timestamp"`
	} `json:"data"`
}

// Dial opens the socket at endpoint, e.g. wss://<ref>.supabase.co/realtime/v1/websocket.
func Dial(ctx context.Context, endpoint string, opts Options) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "parse realtime endpoint")
	}
	q := u.Query()
	if opts.APIKey != "" {
		q.Set("apikey", opts.APIKey)
	}
	q.Set("vsn", protocolVersion)
	u.RawQuery = q.Encode()

	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "dial realtime")
	}

	c := &Client{
		conn:        conn,
		token:       opts.AccessToken,
		joinTimeout: opts.JoinTimeout,
		logger:      opts.Logger,
		channels:    make(map[string]*channel),
		replies:     make(map[string]chan reply),
		done:        make(chan struct{}),
	}
	if c.joinTimeout <= 0 {
		c.joinTimeout = defaultJoinTimeout
	}
	heartbeat := opts.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}

	go c.readLoop()
	go c.heartbeatLoop(heartbeat)
	return c, nil
}

// Subscribe joins a channel listening for postgres changes matching f.
func (c *Client) Subscribe(ctx context.Context, f Filter) (Subscription, error) {
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.topicSeq++
	topic := fmt.Sprintf("realtime:%s:%s:%d", f.schema(), f.Table, c.topicSeq)
	ch := &channel{
		client: c,
		topic:  topic,
		ch:     make(chan Change, 64),
		done:   make(chan struct{}),
	}
	c.channels[topic] = ch
	c.mu.Unlock()

	change := map[string]string{
		"event":  string(f.event()),
		"schema": f.schema(),
		"table":  f.Table,
	}
	if s := f.String(); s != "" {
		change["filter"] = s
	}
	payload := map[string]interface{}{
		"config": map[string]interface{}{
			"broadcast":        map[string]bool{"self": false},
			"presence":         map[string]string{"key": ""},
			"postgres_changes": []map[string]string{change},
		},
	}
	if c.token != "" {
		payload["access_token"] = c.token
	}

	r, err := c.request(ctx, topic, "phx_join", payload)
	if err != nil {
		c.drop(topic, err)
		return nil, err
	}
	if r.Status != "ok" {
		err := errors.Errorf("realtime: join %s rejected: %s", f.Table, string(r.Response))
		c.drop(topic, err)
		return nil, err
	}

	c.logger.Debug().Str("topic", topic).Str("filter", f.String()).Msg("realtime channel joined")
	return ch, nil
}

// SetAuth pushes a refreshed access token to every joined channel.
func (c *Client) SetAuth(token string) error {
	c.mu.Lock()
	c.token = token
	topics := make([]string, 0, len(c.channels))
	for topic := range c.channels {
		topics = append(topics, topic)
	}
	c.mu.Unlock()

	for _, topic := range topics {
		if err := c.push(topic, "access_token", map[string]string{"access_token": token}, ""); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Close() error {
	c.fail(ErrClientClosed)
	return nil
}

func (c *Client) nextRef() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ref++
	return strconv.FormatInt(c.ref, 10)
}

func (c *Client) push(topic, event string, payload interface{}, ref string) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	f := frame{Topic: topic, Event: event, Payload: raw}
	if ref != "" {
		f.Ref = &ref
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(f); err != nil {
		return errors.Wrapf(err, "realtime: write %s", event)
	}
	return nil
}

func (c *Client) request(ctx context.Context, topic, event string, payload interface{}) (reply, error) {
	ref := c.nextRef()
	wait := make(chan reply, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return reply{}, err
	}
	c.replies[ref] = wait
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.replies, ref)
		c.mu.Unlock()
	}()

	if err := c.push(topic, event, payload, ref); err != nil {
		return reply{}, err
	}

	timer := time.NewTimer(c.joinTimeout)
	defer timer.Stop()
	select {
	case r := <-wait:
		return r, nil
	case <-ctx.Done():
		return reply{}, ctx.Err()
	case <-timer.C:
		return reply{}, errors.Errorf("realtime: %s on %s timed out", event, topic)
	case <-c.done:
		return reply{}, c.closeErr()
	}
}

func (c *Client) readLoop() {
	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			c.fail(errors.Wrap(err, "realtime: read"))
			return
		}

		switch f.Event {
		case "phx_reply":
			if f.Ref == nil {
				continue
			}
			var r reply
			if err := json.Unmarshal(f.Payload, &r); err != nil {
				c.logger.Warn().Err(err).Msg("realtime: bad reply payload")
				continue
			}
			c.mu.Lock()
			wait, ok := c.replies[*f.Ref]
			c.mu.Unlock()
			if ok {
				select {
				case wait <- r:
				default:
				}
			}
		case "postgres_changes":
			var env changeEnvelope
			if err := json.Unmarshal(f.Payload, &env); err != nil {
				c.logger.Warn().Err(err).Str("topic", f.Topic).Msg("realtime: bad change payload")
				continue
			}
			c.deliver(f.Topic, Change{
				Type:            env.Data.Type,
				Schema:          env.Data.Schema,
				Table:           env.Data.Table,
				Record:          env.Data.Record,
				OldRecord:       env.Data.OldRecord,
				CommitTimestamp: env.Data.CommitTimestamp,
			})
		case "phx_error", "phx_close":
			c.drop(f.Topic, errors.Errorf("realtime: channel %s: %s", f.Topic, f.Event))
		}
	}
}

func (c *Client) deliver(topic string, change Change) {
	c.mu.Lock()
	ch, ok := c.channels[topic]
	c.mu.Unlock()
	if ok {
		ch.send(change, c.done)
	}
}

func (c *Client) heartbeatLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.push("phoenix", "heartbeat", struct{}{}, c.nextRef()); err != nil {
				c.fail(err)
				return
			}
		case <-c.done:
			return
		}
	}
}

// drop removes a channel and ends its subscription with err.
func (c *Client) drop(topic string, err error) {
	c.mu.Lock()
	ch, ok := c.channels[topic]
	delete(c.channels, topic)
	c.mu.Unlock()
	if ok {
		ch.finish(err)
	}
}

func (c *Client) fail(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		channels := c.channels
		c.channels = make(map[string]*channel)
		c.mu.Unlock()

		close(c.done)
		_ = c.conn.Close()
		for _, ch := range channels {
			ch.finish(err)
		}
		if !errors.Is(err, ErrClientClosed) {
			c.logger.Warn().Err(err).Msg("realtime connection lost")
		}
	})
}

func (c *Client) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		return ErrClientClosed
	}
	return c.err
}

type channel struct {
	client *Client
	topic  string
	ch     chan Change
	done   chan struct{}

	once   sync.Once
	sendMu sync.RWMutex
	mu     sync.Mutex
	err    error
}

func (ch *channel) Changes() <-chan Change { return ch.ch }

func (ch *channel) Err() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.err
}

func (ch *channel) Close() error {
	select {
	case <-ch.client.done:
	default:
		if err := ch.client.push(ch.topic, "phx_leave", struct{}{}, ch.client.nextRef()); err != nil {
			ch.client.logger.Debug().Err(err).Str("topic", ch.topic).Msg("realtime leave failed")
		}
	}
	ch.client.drop(ch.topic, nil)
	return nil
}

func (ch *channel) send(change Change, clientDone <-chan struct{}) {
	ch.sendMu.RLock()
	defer ch.sendMu.RUnlock()
	select {
	case <-ch.done:
		return
	default:
	}
	select {
	case ch.ch <- change:
	case <-ch.done:
	case <-clientDone:
	}
}

func (ch *channel) finish(err error) {
	ch.once.Do(func() {
		ch.mu.Lock()
		ch.err = err
		ch.mu.Unlock()
		close(ch.done)

		ch.sendMu.Lock()
		close(ch.ch)
		ch.sendMu.Unlock()
	})
}
