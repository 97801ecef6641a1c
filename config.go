package mq

import (
	"fmt"
	"log/slog"
)

// Will describes an MQTT Last Will and Testament message.
type Will struct {
	Topic      string
	Message    []byte
	QoS        uint8
	Retain     bool
	Properties *Properties
}

// TransportOptions is the transport-options bag corresponding to a pool's
// nested "swoole" configuration block (see SPEC_FULL §6). LoadPoolConfigs does
// not read that block; set these options with WithTransport.
type TransportOptions struct {
	PackageMaxLength  int
	ConnectTimeoutSec float64
	TCPKeepAlive      bool
	SSLEnabled        bool
	SSLCertFile       string
	SSLKeyFile        string
	SSLCAFile         string
}

// ClientConfig is the immutable, per-pool MQTT connection configuration.
// Construct with NewClientConfig and the With* options below; once built, a
// ClientConfig is safe to share across goroutines.
type ClientConfig struct {
	Host          string
	Port          int
	KeepAlive     int
	ProtocolLevel int
	Username      string
	Password      string
	ClientID      string
	Prefix        string
	CleanSession  bool
	Will          *Will
	Properties    *Properties
	Transport     TransportOptions
	Logger        *slog.Logger
}

// ClientConfigOption mutates a ClientConfig under construction.
type ClientConfigOption func(*ClientConfig) error

// NewClientConfig builds a ClientConfig for host:port, applying options in
// order, then validates the result. Defaults: keepAlive=60s, protocolLevel=5,
// cleanSession=true.
func NewClientConfig(host string, port int, opts ...ClientConfigOption) (*ClientConfig, error) {
	cfg := &ClientConfig{
		Host:          host,
		Port:          port,
		KeepAlive:     60,
		ProtocolLevel: 5,
		CleanSession:  true,
		Logger:        slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if err := validateClientConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// WithKeepAlive sets the keep-alive interval in seconds (0 disables pinging).
func WithKeepAlive(seconds int) ClientConfigOption {
	return func(c *ClientConfig) error {
		c.KeepAlive = seconds
		return nil
	}
}

// WithProtocolLevel selects MQTT 3.1.1 (4) or MQTT 5.0 (5).
func WithProtocolLevel(level int) ClientConfigOption {
	return func(c *ClientConfig) error {
		c.ProtocolLevel = level
		return nil
	}
}

// WithCredentials sets the username/password used at CONNECT.
func WithCredentials(username, password string) ClientConfigOption {
	return func(c *ClientConfig) error {
		c.Username = username
		c.Password = password
		return nil
	}
}

// WithClientID pins a fixed client ID, bypassing the ClientIdProvider.
func WithClientID(id string) ClientConfigOption {
	return func(c *ClientConfig) error {
		c.ClientID = id
		return nil
	}
}

// WithClientPrefix sets the prefix handed to the ClientIdProvider when no
// fixed ClientID is set.
func WithClientPrefix(prefix string) ClientConfigOption {
	return func(c *ClientConfig) error {
		c.Prefix = prefix
		return nil
	}
}

// WithCleanSession sets the CONNECT clean-session/clean-start flag.
func WithCleanSession(clean bool) ClientConfigOption {
	return func(c *ClientConfig) error {
		c.CleanSession = clean
		return nil
	}
}

// WithWill attaches a Last Will and Testament to the connection.
func WithWill(w Will) ClientConfigOption {
	return func(c *ClientConfig) error {
		c.Will = &w
		return nil
	}
}

// WithConnectProperties attaches MQTT v5 CONNECT properties.
func WithConnectProperties(p *Properties) ClientConfigOption {
	return func(c *ClientConfig) error {
		c.Properties = p
		return nil
	}
}

// WithTransport overrides the rendered transport-options bag wholesale.
func WithTransport(t TransportOptions) ClientConfigOption {
	return func(c *ClientConfig) error {
		c.Transport = t
		return nil
	}
}

// WithLogger overrides the default logger (slog.Default()).
func WithLogger(l *slog.Logger) ClientConfigOption {
	return func(c *ClientConfig) error {
		if l != nil {
			c.Logger = l
		}
		return nil
	}
}

// ShareTopicConfig configures the group names a topic is shared-subscribed under.
type ShareTopicConfig struct {
	GroupName []string
}

// TopicConfig is a declarative per-topic configuration used by the
// Subscribe/Publish Listeners to derive wire-level topic strings.
type TopicConfig struct {
	Topic string
	QoS   uint8

	EnableMultiSub bool
	MultiSubNum    int

	EnableShareTopic bool
	ShareTopic       ShareTopicConfig

	EnableQueueTopic bool

	// MQTT v5 subscription filter options.
	NoLocal           bool
	RetainAsPublished bool
	RetainHandling    uint8
	Filter            string

	Properties map[string]string
}

// PoolConfig bounds a connection pool's resource usage.
type PoolConfig struct {
	MinConnections   int
	MaxConnections   int
	ConnectTimeout   float64 // seconds
	WaitTimeout      float64 // seconds
	HeartbeatSec     int     // -1 disables
	MaxIdleTimeSec   int
	RoundRobin       bool
}

// PoolConfigOption mutates a PoolConfig under construction.
type PoolConfigOption func(*PoolConfig)

// NewPoolConfig builds a PoolConfig with the documented defaults:
// min=0, max=10, connectTimeout=10s, waitTimeout=5s, heartbeat=30s, maxIdleTime=300s.
func NewPoolConfig(opts ...PoolConfigOption) *PoolConfig {
	cfg := &PoolConfig{
		MinConnections: 0,
		MaxConnections: 10,
		ConnectTimeout: 10,
		WaitTimeout:    5,
		HeartbeatSec:   30,
		MaxIdleTimeSec: 300,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithMinConnections sets the floor below which the pool won't proactively close idle connections.
func WithMinConnections(n int) PoolConfigOption {
	return func(c *PoolConfig) { c.MinConnections = n }
}

// WithMaxConnections sets the ceiling on total live connections.
func WithMaxConnections(n int) PoolConfigOption {
	return func(c *PoolConfig) { c.MaxConnections = n }
}

// WithConnectTimeout sets the per-connection dial timeout in seconds.
func WithConnectTimeout(seconds float64) PoolConfigOption {
	return func(c *PoolConfig) { c.ConnectTimeout = seconds }
}

// WithWaitTimeout sets Pool.acquire's wait-for-availability bound in seconds.
func WithWaitTimeout(seconds float64) PoolConfigOption {
	return func(c *PoolConfig) { c.WaitTimeout = seconds }
}

// WithHeartbeat sets the idle-eviction tick interval in seconds (-1 disables).
func WithHeartbeat(seconds int) PoolConfigOption {
	return func(c *PoolConfig) { c.HeartbeatSec = seconds }
}

// WithMaxIdleTime sets how long a connection may sit idle before eviction.
func WithMaxIdleTime(seconds int) PoolConfigOption {
	return func(c *PoolConfig) { c.MaxIdleTimeSec = seconds }
}

// WithRoundRobinAcquisition switches acquisition from LIFO-idle-first to a
// round-robin strategy (SPEC_FULL §4.6); defaults off.
func WithRoundRobinAcquisition() PoolConfigOption {
	return func(c *PoolConfig) { c.RoundRobin = true }
}

// LoadPoolConfigs decodes the nested "pools.{name}" map described in
// SPEC_FULL §6 into resolved ClientConfig/TopicConfig/PoolConfig trees,
// for hosts that assemble pools from file- or env-sourced configuration
// rather than code. It reads host, port, keepAlive, protocolLevel,
// username/password, cleanSession (or clean_session), prefix, the "pool"
// block and subscribe/publish topics; the "swoole", "will" and "properties"
// keys are not read. Keys not recognized are ignored.
func LoadPoolConfigs(raw map[string]any) (map[string]*ResolvedPoolConfig, error) {
	out := make(map[string]*ResolvedPoolConfig, len(raw))
	for name, v := range raw {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, NewInvalidConfigError(name, "pool entry must be a map")
		}
		resolved, err := loadOnePoolConfig(name, m)
		if err != nil {
			return nil, err
		}
		out[name] = resolved
	}
	return out, nil
}

// ResolvedPoolConfig bundles the three config objects parsed out of a single
// "pools.{name}" entry.
type ResolvedPoolConfig struct {
	Client  *ClientConfig
	Pool    *PoolConfig
	Prefix  string
	Subscribe []TopicConfig
	Publish   []TopicConfig
}

func loadOnePoolConfig(name string, m map[string]any) (*ResolvedPoolConfig, error) {
	host, _ := m["host"].(string)
	port := asInt(m["port"])

	var opts []ClientConfigOption
	if ka, ok := m["keepAlive"]; ok {
		opts = append(opts, WithKeepAlive(asInt(ka)))
	}
	if pl, ok := m["protocolLevel"]; ok {
		opts = append(opts, WithProtocolLevel(asInt(pl)))
	}
	if u, ok := m["username"].(string); ok {
		p, _ := m["password"].(string)
		opts = append(opts, WithCredentials(u, p))
	}
	clean := true
	if cs, ok := m["cleanSession"]; ok {
		clean = asBool(cs)
	} else if cs, ok := m["clean_session"]; ok {
		// loader-level alias for cleanSession (SPEC_FULL §9).
		clean = asBool(cs)
	}
	opts = append(opts, WithCleanSession(clean))

	prefix, _ := m["prefix"].(string)
	if prefix != "" {
		opts = append(opts, WithClientPrefix(prefix))
	}

	clientCfg, err := NewClientConfig(host, port, opts...)
	if err != nil {
		return nil, fmt.Errorf("pool %q: %w", name, err)
	}

	poolCfg := NewPoolConfig()
	if pm, ok := m["pool"].(map[string]any); ok {
		var popts []PoolConfigOption
		if v, ok := pm["minConnections"]; ok {
			popts = append(popts, WithMinConnections(asInt(v)))
		}
		if v, ok := pm["maxConnections"]; ok {
			popts = append(popts, WithMaxConnections(asInt(v)))
		}
		if v, ok := pm["waitTimeout"]; ok {
			popts = append(popts, WithWaitTimeout(asFloat(v)))
		}
		if v, ok := pm["connectTimeout"]; ok {
			popts = append(popts, WithConnectTimeout(asFloat(v)))
		}
		if v, ok := pm["heartbeat"]; ok {
			popts = append(popts, WithHeartbeat(asInt(v)))
		}
		if v, ok := pm["maxIdleTime"]; ok {
			popts = append(popts, WithMaxIdleTime(asInt(v)))
		}
		poolCfg = NewPoolConfig(popts...)
	}
	if err := validatePoolConfig(poolCfg); err != nil {
		return nil, fmt.Errorf("pool %q: %w", name, err)
	}

	var subscribe, publish []TopicConfig
	if subm, ok := m["subscribe"].(map[string]any); ok {
		subscribe = parseTopicConfigs(subm["topics"])
	}
	if pubm, ok := m["publish"].(map[string]any); ok {
		publish = parseTopicConfigs(pubm["topics"])
	}

	return &ResolvedPoolConfig{Client: clientCfg, Pool: poolCfg, Prefix: prefix, Subscribe: subscribe, Publish: publish}, nil
}

// parseTopicConfigs decodes the "subscribe.topics"/"publish.topics" array
// described in SPEC_FULL §6 into TopicConfig values. Entries that aren't maps
// are skipped rather than failing the whole pool load.
func parseTopicConfigs(v any) []TopicConfig {
	list, ok := v.([]any)
	if !ok {
		return nil
	}

	out := make([]TopicConfig, 0, len(list))
	for _, item := range list {
		tm, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, parseTopicConfig(tm))
	}
	return out
}

func parseTopicConfig(tm map[string]any) TopicConfig {
	topic, _ := tm["topic"].(string)
	filter, _ := tm["filter"].(string)

	cfg := TopicConfig{
		Topic:             topic,
		QoS:               uint8(asInt(tm["qos"])),
		EnableMultiSub:    asBool(tm["enableMultiSub"]),
		MultiSubNum:       asInt(tm["multiSubNum"]),
		EnableShareTopic:  asBool(tm["enableShareTopic"]),
		EnableQueueTopic:  asBool(tm["enableQueueTopic"]),
		NoLocal:           asBool(tm["noLocal"]),
		RetainAsPublished: asBool(tm["retainAsPublished"]),
		RetainHandling:    uint8(asInt(tm["retainHandling"])),
		Filter:            filter,
	}

	if st, ok := tm["shareTopic"].(map[string]any); ok {
		cfg.ShareTopic = ShareTopicConfig{GroupName: asStringSlice(st["groupName"])}
	}
	if props, ok := tm["properties"].(map[string]any); ok {
		cfg.Properties = asStringMap(props)
	}

	return cfg
}

func asStringSlice(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, e := range list {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func asStringMap(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

func asInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	default:
		return 0
	}
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	default:
		return 0
	}
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}
