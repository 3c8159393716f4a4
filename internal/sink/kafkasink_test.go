package sink

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/shortontech/gomatomo/internal/params"
)

func TestNewKafkaSinkFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		for _, k := range []string{"KAFKA_BROKERS", "KAFKA_TOPIC", "KAFKA_ACKS", "KAFKA_SASL_MECHANISM", "KAFKA_TLS_SKIP_VERIFY"} {
			t.Setenv(k, "")
		}
		cfg := NewKafkaSinkFromEnv().config
		if !reflect.DeepEqual(cfg.Brokers, []string{"localhost:9092"}) {
			t.Errorf("Brokers = %v, want [localhost:9092]", cfg.Brokers)
		}
		if cfg.Topic != "gomatomo.requests" || cfg.Acks != "all" {
			t.Errorf("Topic = %q, Acks = %q; want gomatomo.requests, all", cfg.Topic, cfg.Acks)
		}
	})

	t.Run("from env", func(t *testing.T) {
		t.Setenv("KAFKA_BROKERS", "b1:9092 , b2:9092")
		t.Setenv("KAFKA_TOPIC", "matomo.mirror")
		t.Setenv("KAFKA_SASL_MECHANISM", "PLAIN")
		t.Setenv("KAFKA_SASL_USER", "u")
		t.Setenv("KAFKA_TLS_SKIP_VERIFY", "yes")

		cfg := NewKafkaSinkFromEnv().config
		if !reflect.DeepEqual(cfg.Brokers, []string{"b1:9092", "b2:9092"}) {
			t.Errorf("Brokers = %v, want trimmed list", cfg.Brokers)
		}
		if cfg.Topic != "matomo.mirror" || cfg.SASLMechanism != "PLAIN" || cfg.SASLUser != "u" || !cfg.TLSSkipVerify {
			t.Errorf("config = %+v", cfg)
		}
	})
}

func TestKafkaSinkConfigMap(t *testing.T) {
	tests := []struct {
		name   string
		config KafkaConfig
		want   map[string]any
		absent []string
	}{
		{
			name:   "plain",
			config: KafkaConfig{Brokers: []string{"b1:9092", "b2:9092"}, Acks: "1", Compression: "zstd"},
			want: map[string]any{
				"bootstrap.servers": "b1:9092,b2:9092",
				"acks":              "1",
				"compression.type":  "zstd",
			},
			absent: []string{"security.protocol", "sasl.mechanism"},
		},
		{
			name:   "tls",
			config: KafkaConfig{Brokers: []string{"b1:9092"}, TLSCAPath: "/etc/ca.pem", TLSSkipVerify: true},
			want: map[string]any{
				"security.protocol":                     "SSL",
				"ssl.ca.location":                       "/etc/ca.pem",
				"ssl.endpoint.identification.algorithm": "none",
			},
			absent: []string{"sasl.mechanism"},
		},
		{
			name:   "sasl over tls",
			config: KafkaConfig{Brokers: []string{"b1:9092"}, SASLMechanism: "SCRAM-SHA-256", SASLUser: "u", SASLPassword: "p", TLSCAPath: "/etc/ca.pem"},
			want: map[string]any{
				"security.protocol": "SASL_SSL",
				"sasl.mechanism":    "SCRAM-SHA-256",
				"sasl.username":     "u",
				"sasl.password":     "p",
				"ssl.ca.location":   "/etc/ca.pem",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cm := (&KafkaSink{config: tt.config}).configMap()
			for k, v := range tt.want {
				if cm[k] != v {
					t.Errorf("%s = %v, want %v", k, cm[k], v)
				}
			}
			for _, k := range tt.absent {
				if _, ok := cm[k]; ok {
					t.Errorf("%s should not be set", k)
				}
			}
		})
	}
}

func TestKafkaSinkLifecycle(t *testing.T) {
	s := NewKafkaSink([]string{"localhost:9092"}, "test")
	if s.Name() != "kafka" {
		t.Errorf("Name() = %q, want kafka", s.Name())
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() before Start = %v", err)
	}

	err := s.Enqueue(NewRecord(params.New(params.SiteID, 1, params.EventCategory, "video"), time.Now()))
	if err == nil || !strings.Contains(err.Error(), "not initialized") {
		t.Errorf("Enqueue() before Start = %v, want not initialized", err)
	}

	// The producer connects lazily, so Start normally succeeds without a broker.
	if err := s.Start(context.Background()); err != nil {
		if !strings.Contains(err.Error(), "failed to create Kafka producer") {
			t.Errorf("Start() error = %v", err)
		}
		return
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

func TestKafkaSinkMessage(t *testing.T) {
	s := NewKafkaSink([]string{"localhost:9092"}, "matomo.requests")
	rec := NewRecord(params.New(params.SiteID, 7, params.ActionName, "Home", params.PageViewID, "a1b2c3"), time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))

	msg, err := s.message(rec)
	if err != nil {
		t.Fatalf("message() failed: %v", err)
	}
	if string(msg.Key) != rec.ID.String() {
		t.Errorf("Key = %q, want %q", msg.Key, rec.ID.String())
	}
	if *msg.TopicPartition.Topic != "matomo.requests" {
		t.Errorf("Topic = %q, want matomo.requests", *msg.TopicPartition.Topic)
	}

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	want := map[string]string{"action": "pageview", "site_id": "7", "schema": "v1"}
	if !reflect.DeepEqual(headers, want) {
		t.Errorf("headers = %v, want %v", headers, want)
	}

	var decoded struct {
		ID     string         `json:"id"`
		Params map[string]any `json:"params"`
	}
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("value is not valid JSON: %v", err)
	}
	if decoded.ID != rec.ID.String() || decoded.Params["action_name"] != "Home" {
		t.Errorf("value = %s", msg.Value)
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("SINK_TEST_STR", "")
	if got := getEnvOr("SINK_TEST_STR", "def"); got != "def" {
		t.Errorf("getEnvOr(unset) = %q, want def", got)
	}
	t.Setenv("SINK_TEST_STR", "v")
	if got := getEnvOr("SINK_TEST_STR", "def"); got != "v" {
		t.Errorf("getEnvOr(set) = %q, want v", got)
	}

	for value, want := range map[string]bool{"1": true, " TRUE ": true, "y": true, "0": false, "no": false, "maybe": true, "": true} {
		t.Setenv("SINK_TEST_BOOL", value)
		if got := getBoolEnv("SINK_TEST_BOOL", true); got != want {
			t.Errorf("getBoolEnv(%q) = %v, want %v", value, got, want)
		}
	}
}
