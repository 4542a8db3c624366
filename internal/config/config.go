package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type EventsCfg struct {
	Enabled   bool
	Brokers   string
	Topic     string
	GroupID   string
	QueueSize int
}

type Config struct {
	Addr       string
	LogLevel   string
	LogConsole bool
	LogSampleN int

	RedisAddr      string
	RedisPoolSize  int
	StoreOpTimeout time.Duration

	LayoutTTL    time.Duration
	LayoutTTLOvr map[string]time.Duration
	MemoSize     int

	DefaultRadius float64
	DefaultKeyer  string
	SynthMax      int

	HotThreshold  float64
	HotHalfLife   time.Duration
	HotLogSample  float64
	WarmHotLayers bool

	Events EventsCfg
}

func FromEnv() Config {
	ttl := getduration("LAYOUT_TTL", 60*time.Second)

	return Config{
		Addr:       getenv("ADDR", ":8080"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogConsole: getbool("LOG_CONSOLE", false),
		LogSampleN: getint("LOG_SAMPLE_N", 0),

		RedisAddr:      getenv("REDIS_ADDR", "localhost:6379"),
		RedisPoolSize:  getint("REDIS_POOL_SIZE", 0),
		StoreOpTimeout: getduration("STORE_OP_TIMEOUT", 250*time.Millisecond),

		LayoutTTL:    ttl,
		LayoutTTLOvr: parseDurationMap(getenv("LAYOUT_TTL_OVERRIDES", "")),
		MemoSize:     getint("MEMO_SIZE", 1024),

		DefaultRadius: getfloat("DEFAULT_RADIUS", 30),
		DefaultKeyer:  getenv("DEFAULT_KEYER", "exact"),
		SynthMax:      getint("SYNTH_MAX", 100000),

		HotThreshold:  getfloat("HOT_THRESHOLD", 10.0),
		HotHalfLife:   getduration("HOT_HALF_LIFE", time.Minute),
		HotLogSample:  getfloat("HOT_LOG_SAMPLE", 0.01),
		WarmHotLayers: getbool("WARM_HOT_LAYERS", true),

		Events: EventsCfg{
			Enabled:   getbool("EVENTS_ENABLED", false),
			Brokers:   getenv("KAFKA_BROKERS", "localhost:9092"),
			Topic:     getenv("KAFKA_TOPIC", "layer-events"),
			GroupID:   getenv("KAFKA_GROUP_ID", "spiderfy-server"),
			QueueSize: getint("KAFKA_QUEUE_SIZE", 1024),
		},
	}
}

// LayerTTL returns the layout cache TTL for a layer, honoring per-layer
// overrides.
func (c Config) LayerTTL(layer string) time.Duration {
	if d, ok := c.LayoutTTLOvr[layer]; ok {
		return d
	}
	return c.LayoutTTL
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parse "district-a=5m,backbone=30s" into a per-layer duration map
func parseDurationMap(s string) map[string]time.Duration {
	out := map[string]time.Duration{}
	s = strings.TrimSpace(s)
	if s == "" {
		return out
	}
	parts := strings.SplitSeq(s, ",")
	for p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		k := strings.TrimSpace(kv[0])
		v := strings.TrimSpace(kv[1])
		if k == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil {
			out[k] = d
		}
	}
	return out
}
