package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type InvalidationCfg struct {
	Enabled bool
	Driver  string
	Topic   string
	Brokers string
	GroupID string
}

type RedisCfg struct {
	DB       int
	PoolSize int
	// Timeout bounds dial, read and write.
	Timeout time.Duration
}

type FetchCfg struct {
	Timeout  time.Duration
	MaxBytes int64
	BaseDir  string
}

// AdHocCfg gates /overlay?src=. Allow holds hosts, URL prefixes or path
// prefixes; empty allows any source once Enabled.
type AdHocCfg struct {
	Enabled bool
	Allow   []string
}

type CacheCfg struct {
	L1Size       int
	TTL          time.Duration
	TTLOverrides map[string]time.Duration // by layer
	OpTimeout    time.Duration
}

type Config struct {
	Addr           string
	LogLevel       string
	LogConsole     bool
	MetricsEnabled bool
	CatalogPath    string
	RedisAddr      string
	H3Res          int
	H3ResMin       int
	FitDelay       time.Duration
	Redis          RedisCfg
	Fetch          FetchCfg
	AdHoc          AdHocCfg
	Cache          CacheCfg
	Invalidation   InvalidationCfg
}

func FromEnv() Config {
	res := getint("H3_RES", 7)
	if res < 0 || res > 15 {
		res = 7
	}
	minRes := getint("H3_RES_MIN", 3)
	if minRes < 0 {
		minRes = 0
	}
	if minRes > res {
		minRes = res
	}

	return Config{
		Addr:           getenv("ADDR", ":8090"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		LogConsole:     getbool("LOG_CONSOLE", false),
		MetricsEnabled: getbool("METRICS_ENABLED", true),
		CatalogPath:    getenv("CATALOG_FILE", ""),
		RedisAddr:      getenv("REDIS_ADDR", ""),
		H3Res:          res,
		H3ResMin:       minRes,
		FitDelay:       getduration("FIT_DELAY", 100*time.Millisecond),
		Redis: RedisCfg{
			DB:       getint("REDIS_DB", 0),
			PoolSize: getint("REDIS_POOL_SIZE", 32),
			Timeout:  getduration("REDIS_TIMEOUT", time.Second),
		},
		Fetch: FetchCfg{
			Timeout:  getduration("FETCH_TIMEOUT", 30*time.Second),
			MaxBytes: getint64("FETCH_MAX_BYTES", 256<<20),
			BaseDir:  getenv("FETCH_BASE_DIR", ""),
		},
		AdHoc: AdHocCfg{
			Enabled: getbool("ADHOC_SOURCES", false),
			Allow:   getlist("ADHOC_ALLOW"),
		},
		Cache: CacheCfg{
			L1Size:       getint("CACHE_L1_SIZE", 128),
			TTL:          getduration("CACHE_TTL", 10*time.Minute),
			TTLOverrides: parseDurationMap(getenv("CACHE_TTL_OVERRIDES", "")),
			OpTimeout:    getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		},
		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Driver:  getenv("INVALIDATION_DRIVER", "kafka"),
			Topic:   getenv("KAFKA_TOPIC", "overlay-invalidation"),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			GroupID: getenv("KAFKA_GROUP_ID", defaultGroupID()),
		},
	}
}

// Every instance holds its own L1, so each needs its own consumer group to
// see every invalidation.
func defaultGroupID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "local"
	}
	return "overlay-invalidator-" + host
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

func getint64(k string, def int64) int64 {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getlist(k string) []string {
	var out []string
	for p := range strings.SplitSeq(os.Getenv(k), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parse "layer=5m,other=30s" into map
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
