package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"pong/room"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Game     GameConfig     `mapstructure:"game"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Log      LogConfig      `mapstructure:"log"`
	Recorder RecorderConfig `mapstructure:"recorder"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	SendBuffer      int           `mapstructure:"send_buffer" validate:"min=1"`
}

type GameConfig struct {
	TickHz            int           `mapstructure:"tick_hz" validate:"min=1,max=1000"`
	BroadcastEvery    int           `mapstructure:"broadcast_every" validate:"min=1"`
	MaxScore          int           `mapstructure:"max_score" validate:"min=1"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout" validate:"gt=0"`
	GraceWindow       time.Duration `mapstructure:"grace_window" validate:"gt=0"`
	LivenessInterval  time.Duration `mapstructure:"liveness_interval" validate:"gt=0"`
	PauseOnDisconnect bool          `mapstructure:"pause_on_disconnect"`
	StaleRoomTTL      time.Duration `mapstructure:"stale_room_ttl" validate:"gt=0"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"required"`
}

// PostgresConfig: an empty URL runs without a database.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns" validate:"min=0"`
	Migrate  bool   `mapstructure:"migrate"`
}

// RedisConfig: an empty Addr disables cross-instance fan-out.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"min=0"`
}

// KafkaConfig: no brokers means room events are only logged.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic" validate:"required_with=Brokers"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

type RecorderConfig struct {
	Retries       uint64        `mapstructure:"retries"`
	FlushInterval time.Duration `mapstructure:"flush_interval" validate:"gt=0"`
}

func setDefaults(v *viper.Viper) {
	g := room.DefaultConfig()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.send_buffer", 64)

	v.SetDefault("game.tick_hz", g.TickHz)
	v.SetDefault("game.broadcast_every", g.BroadcastEvery)
	v.SetDefault("game.max_score", g.MaxScore)
	v.SetDefault("game.heartbeat_timeout", g.HeartbeatTimeout)
	v.SetDefault("game.grace_window", g.GraceWindow)
	v.SetDefault("game.liveness_interval", g.LivenessInterval)
	v.SetDefault("game.pause_on_disconnect", g.PauseOnDisconnect)
	v.SetDefault("game.stale_room_ttl", g.StaleRoomTTL)
	v.SetDefault("game.sweep_interval", g.SweepInterval)

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("postgres.url", "")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.migrate", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "pong.rooms")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("recorder.retries", 3)
	v.SetDefault("recorder.flush_interval", 30*time.Second)
}

// Load reads .env (if any), then config.yaml from the search paths, then
// PONG_ environment overrides such as PONG_REDIS_ADDR.
func Load(paths ...string) (Config, error) {
	if err := LoadDotEnv(); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	setDefaults(v)

	v.SetEnvPrefix("PONG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads a .env file into the environment. A missing file is
// not an error.
func LoadDotEnv(files ...string) error {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// Room converts the game section into room settings.
func (c Config) Room() room.Config {
	g := c.Game
	return room.Config{
		TickHz:            g.TickHz,
		BroadcastEvery:    g.BroadcastEvery,
		MaxScore:          g.MaxScore,
		HeartbeatTimeout:  g.HeartbeatTimeout,
		GraceWindow:       g.GraceWindow,
		LivenessInterval:  g.LivenessInterval,
		PauseOnDisconnect: g.PauseOnDisconnect,
		StaleRoomTTL:      g.StaleRoomTTL,
		SweepInterval:     g.SweepInterval,
	}
}
