package env

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	APIURL                   = "CHAT_API_URL"
	WSURL                    = "CHAT_WS_URL"
	AccessToken              = "CHAT_ACCESS_TOKEN"
	WithForm                 = "CHAT_WITH_FORM"
	GracePeriod              = "CHAT_GRACE_PERIOD"
	HTTPTimeout              = "CHAT_HTTP_TIMEOUT"
	Workers                  = "CHAT_WORKERS"
	StoreBackend             = "CHAT_STORE"
	StorePath                = "CHAT_STORE_PATH"
	ChatRedisURL             = "CHAT_REDIS_URL"
	ChatRedisPass            = "CHAT_REDIS_PASS"
	AWSRegion                = "AWS_REGION"
	AWSID                    = "AWS_ID"
	AWSSecret                = "AWS_SECRET"
	AWSToken                 = "AWS_TOKEN"
	DynamoDBEndpoint         = "DYNAMODB_ENDPOINT"
	DynamoDBTable            = "DYNAMODB_TABLE"
	LogLevel                 = "LOG_LEVEL"
	NoAgentMessage           = "CHAT_NO_AGENT_MESSAGE"
	AgentDisconnectedMessage = "CHAT_AGENT_DISCONNECTED_MESSAGE"
)

func Get(key string) string {
	return os.Getenv(key)
}

func Lookup(key string) (string, bool) {
	val, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(val) == "" {
		return "", false
	}
	return val, true
}

func GetOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func MustGet(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic("env: required environment variable not set: " + key)
	}
	return val
}

func GetBool(key string, defaultVal bool) bool {
	val, ok := Lookup(key)
	if !ok {
		return defaultVal
	}
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return defaultVal
	}
}

func GetInt(key string, defaultVal int) int {
	val, ok := Lookup(key)
	if !ok {
		return defaultVal
	}
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return defaultVal
	}
	return n
}

// GetDuration accepts Go duration strings ("5s") or a bare number of seconds.
func GetDuration(key string, defaultVal time.Duration) time.Duration {
	val, ok := Lookup(key)
	if !ok {
		return defaultVal
	}
	val = strings.TrimSpace(val)
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if n, err := strconv.Atoi(val); err == nil {
		return time.Duration(n) * time.Second
	}
	return defaultVal
}
