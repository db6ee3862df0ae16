package notifyhub_config

import (
	"time"

	"github.com/NordCoder/Notifyhub/internal/obs"
	"github.com/NordCoder/Notifyhub/internal/repository/kafka"
	pg "github.com/NordCoder/Notifyhub/internal/repository/postgres"
	"github.com/NordCoder/Notifyhub/internal/services/notifyhub/delivery"
	"github.com/NordCoder/Notifyhub/internal/services/notifyhub/transport"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type App struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	Version  string `mapstructure:"version"`
	// Instance tells hub replicas apart in logs and traces. Generated when empty.
	Instance string `mapstructure:"instance"`
}

type Server struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	GRPCAddr        string        `mapstructure:"grpc_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

type DB struct {
	Driver         string `mapstructure:"driver"`
	MigrateOnStart bool   `mapstructure:"migrate_on_start"`
	pg.Config      `mapstructure:",squash"`
}

type SQLite struct {
	Path string `mapstructure:"path"`
}

type OTEL struct {
	Enable       bool    `mapstructure:"enable"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

func (oc *OTEL) AsOTELConfig(app App) *obs.OTELConfig {
	return &obs.OTELConfig{
		Enable:      oc.Enable,
		Endpoint:    oc.OTLPEndpoint,
		ServiceName: oc.ServiceName,
		ServiceVer:  app.Version,
		Instance:    app.Instance,
		SampleRatio: oc.SampleRatio,
	}
}

type Log struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

func (lc *Log) AsLoggerConfig(app App) *obs.LogConfig {
	return &obs.LogConfig{
		Level:  lc.Level,
		Pretty: lc.Pretty,
		App:    app.Name,
		Env:    app.Env,
		Ver:    app.Version,
		Inst:   app.Instance,
	}
}

type Kafka struct {
	Enable             bool     `mapstructure:"enable"`
	Brokers            []string `mapstructure:"brokers"`
	NotificationsTopic string   `mapstructure:"notifications_topic"`
	PresenceTopic      string   `mapstructure:"presence_topic"`
	DispatchTopic      string   `mapstructure:"dispatch_topic"`
	GroupID            string   `mapstructure:"group_id"`
	Partitions         int      `mapstructure:"partitions"`
	ReplicationFactor  int      `mapstructure:"replication_factor"`
}

// TopicSpecs describes the named topics with the configured layout. Empty
// names are skipped.
func (k Kafka) TopicSpecs(maxWait time.Duration, names ...string) []kafka.TopicSpec {
	specs := make([]kafka.TopicSpec, 0, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		specs = append(specs, kafka.TopicSpec{
			Name:              n,
			NumPartitions:     k.Partitions,
			ReplicationFactor: k.ReplicationFactor,
			MaxWait:           maxWait,
		})
	}
	return specs
}

type Outbox struct {
	Workers       int           `mapstructure:"workers"`
	BatchSize     int           `mapstructure:"batch_size"`
	WaitTime      time.Duration `mapstructure:"wait_time"`
	InProgressTTL time.Duration `mapstructure:"in_progress_ttl"`
	Retention     time.Duration `mapstructure:"retention"`
}

type Hub struct {
	Shards          int           `mapstructure:"shards"`
	PushTimeout     time.Duration `mapstructure:"push_timeout"`
	SendBuffer      int           `mapstructure:"send_buffer"`
	PresenceBuffer  int           `mapstructure:"presence_buffer"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	PongTimeout     time.Duration `mapstructure:"pong_timeout"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes"`
	ConnectRate     float64       `mapstructure:"connect_rate"`
	ConnectBurst    int           `mapstructure:"connect_burst"`
}

func (h Hub) AsWSConfig(origins []string) transport.WSConfig {
	return transport.WSConfig{
		SendBuffer:      h.SendBuffer,
		WriteTimeout:    h.WriteTimeout,
		PongTimeout:     h.PongTimeout,
		PingInterval:    h.PingInterval,
		MaxMessageBytes: h.MaxMessageBytes,
		AllowedOrigins:  origins,
	}
}

type CatchUp struct {
	Mode          string        `mapstructure:"mode"`
	Window        time.Duration `mapstructure:"window"`
	BroadcastOnly bool          `mapstructure:"broadcast_only"`
}

func (c CatchUp) AsPolicy() delivery.Policy {
	return delivery.Policy{Mode: c.Mode, Window: c.Window, BroadcastOnly: c.BroadcastOnly}
}

type Dispatch struct {
	Concurrency int `mapstructure:"concurrency"`
}

type Auth struct {
	AdminKey           string `mapstructure:"admin_key"`
	AdminKeyHash       string `mapstructure:"admin_key_hash"`
	IdentitySecret     string `mapstructure:"identity_secret"`
	AllowPlainIdentity bool   `mapstructure:"allow_plain_identity"`
}

type Seed struct {
	Enable   bool          `mapstructure:"enable"`
	Attempts int           `mapstructure:"attempts"`
	Wait     time.Duration `mapstructure:"wait"`
}

type Config struct {
	App      App      `mapstructure:"app"`
	Server   Server   `mapstructure:"server"`
	DB       DB       `mapstructure:"db"`
	SQLite   SQLite   `mapstructure:"sqlite"`
	OTEL     OTEL     `mapstructure:"otel"`
	Log      Log      `mapstructure:"log"`
	Kafka    Kafka    `mapstructure:"kafka"`
	Outbox   Outbox   `mapstructure:"outbox"`
	Hub      Hub      `mapstructure:"hub"`
	CatchUp  CatchUp  `mapstructure:"catchup"`
	Dispatch Dispatch `mapstructure:"dispatch"`
	Auth     Auth     `mapstructure:"auth"`
	Seed     Seed     `mapstructure:"seed"`
}

type ErrConfig string

func (e ErrConfig) Error() string { return string(e) }
