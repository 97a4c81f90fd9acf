/*
Copyright 2025 The airia-test-pod Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config loads the service configuration from the environment.
// Every probe has its own sub-config; a probe whose required keys are
// absent stays registered and reports itself as not configured.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Auth carries the single static credential and token settings.
type Auth struct {
	Username string
	// PasswordHash is the bcrypt hash of the operator password.
	PasswordHash string
	SecretKey    string
	TokenTTL     time.Duration
}

type Postgres struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (p Postgres) Configured() bool {
	return p.Host != "" && p.User != "" && p.Password != ""
}

// MissingKeys names the unset environment keys, for skip messages.
func (p Postgres) MissingKeys() []string {
	return missing(map[string]string{
		"POSTGRESQL_HOST":     p.Host,
		"POSTGRESQL_USER":     p.User,
		"POSTGRESQL_PASSWORD": p.Password,
	})
}

type Cassandra struct {
	Hosts    []string
	Port     int
	Username string
	Password string
	Keyspace string
}

func (c Cassandra) Configured() bool {
	return len(c.Hosts) > 0 && c.Username != "" && c.Password != ""
}

func (c Cassandra) MissingKeys() []string {
	return missing(map[string]string{
		"CASSANDRA_HOSTS":    strings.Join(c.Hosts, ","),
		"CASSANDRA_USERNAME": c.Username,
		"CASSANDRA_PASSWORD": c.Password,
	})
}

type BlobStorage struct {
	AccountName string
	AccountKey  string
	Container   string
}

func (b BlobStorage) Configured() bool {
	return b.AccountName != "" && b.AccountKey != "" && b.Container != ""
}

func (b BlobStorage) MissingKeys() []string {
	return missing(map[string]string{
		"AZURE_STORAGE_ACCOUNT_NAME": b.AccountName,
		"AZURE_STORAGE_ACCOUNT_KEY":  b.AccountKey,
		"AZURE_STORAGE_CONTAINER":    b.Container,
	})
}

type S3 struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Bucket          string
}

func (s S3) Configured() bool {
	return s.AccessKeyID != "" && s.SecretAccessKey != "" && s.Region != "" && s.Bucket != ""
}

func (s S3) MissingKeys() []string {
	return missing(map[string]string{
		"S3_ACCESS_KEY_ID":     s.AccessKeyID,
		"S3_SECRET_ACCESS_KEY": s.SecretAccessKey,
		"S3_REGION":            s.Region,
		"S3_BUCKET":            s.Bucket,
	})
}

type S3Compatible struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Bucket          string
}

func (s S3Compatible) Configured() bool {
	return s.Endpoint != "" && s.AccessKeyID != "" && s.SecretAccessKey != "" && s.Bucket != ""
}

func (s S3Compatible) MissingKeys() []string {
	return missing(map[string]string{
		"S3_COMPATIBLE_ENDPOINT":          s.Endpoint,
		"S3_COMPATIBLE_ACCESS_KEY_ID":     s.AccessKeyID,
		"S3_COMPATIBLE_SECRET_ACCESS_KEY": s.SecretAccessKey,
		"S3_COMPATIBLE_BUCKET":            s.Bucket,
	})
}

type AzureOpenAI struct {
	Endpoint   string
	APIKey     string
	APIVersion string
	// Deployment is the chat deployment id; embedding and vision
	// deployments are optional and gate their sub-tests.
	Deployment          string
	EmbeddingDeployment string
	VisionDeployment    string
}

func (a AzureOpenAI) Configured() bool {
	return a.Endpoint != "" && a.APIKey != "" && a.Deployment != ""
}

func (a AzureOpenAI) MissingKeys() []string {
	return missing(map[string]string{
		"AZURE_OPENAI_ENDPOINT":   a.Endpoint,
		"AZURE_OPENAI_API_KEY":    a.APIKey,
		"AZURE_OPENAI_DEPLOYMENT": a.Deployment,
	})
}

type Bedrock struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	ModelID         string
	EmbeddingModelID string
}

func (b Bedrock) Configured() bool {
	return b.Region != "" && b.ModelID != ""
}

func (b Bedrock) MissingKeys() []string {
	return missing(map[string]string{
		"BEDROCK_REGION":   b.Region,
		"BEDROCK_MODEL_ID": b.ModelID,
	})
}

type OpenAI struct {
	APIKey string
	Model  string
}

func (o OpenAI) Configured() bool { return o.APIKey != "" }

func (o OpenAI) MissingKeys() []string {
	return missing(map[string]string{"OPENAI_API_KEY": o.APIKey})
}

type Anthropic struct {
	APIKey string
	Model  string
}

func (a Anthropic) Configured() bool { return a.APIKey != "" }

func (a Anthropic) MissingKeys() []string {
	return missing(map[string]string{"ANTHROPIC_API_KEY": a.APIKey})
}

type Gemini struct {
	APIKey string
	Model  string
}

func (g Gemini) Configured() bool { return g.APIKey != "" }

func (g Gemini) MissingKeys() []string {
	return missing(map[string]string{"GEMINI_API_KEY": g.APIKey})
}

type Mistral struct {
	APIKey string
	Model  string
}

func (m Mistral) Configured() bool { return m.APIKey != "" }

func (m Mistral) MissingKeys() []string {
	return missing(map[string]string{"MISTRAL_API_KEY": m.APIKey})
}

type Embedding struct {
	Endpoint string
	APIKey   string
	Model    string
}

func (e Embedding) Configured() bool { return e.Endpoint != "" && e.Model != "" }

func (e Embedding) MissingKeys() []string {
	return missing(map[string]string{
		"EMBEDDING_ENDPOINT": e.Endpoint,
		"EMBEDDING_MODEL":    e.Model,
	})
}

type DocIntel struct {
	Endpoint string
	APIKey   string
}

func (d DocIntel) Configured() bool { return d.Endpoint != "" && d.APIKey != "" }

func (d DocIntel) MissingKeys() []string {
	return missing(map[string]string{
		"DOCINTEL_ENDPOINT": d.Endpoint,
		"DOCINTEL_API_KEY":  d.APIKey,
	})
}

// Kubernetes configures the PVC probe and the diagnostics collector.
type Kubernetes struct {
	PVCEnabled   bool
	StorageClass string
	TestPVCSize  string
	Namespace    string
}

type GPU struct {
	Enabled bool
}

type DNS struct {
	Hostnames []string
}

func (d DNS) Configured() bool { return len(d.Hostnames) > 0 }

type SSL struct {
	URLs []string
}

func (s SSL) Configured() bool { return len(s.URLs) > 0 }

type Diagnostics struct {
	OutputDir string
}

// Config is the complete service configuration, loaded once at startup.
type Config struct {
	Port         int
	LogLevel     string
	LogFormat    string
	StaticDir    string
	Concurrency  int
	ProbeTimeout time.Duration

	Auth         Auth
	Postgres     Postgres
	Cassandra    Cassandra
	BlobStorage  BlobStorage
	S3           S3
	S3Compatible S3Compatible
	AzureOpenAI  AzureOpenAI
	Bedrock      Bedrock
	OpenAI       OpenAI
	Anthropic    Anthropic
	Gemini       Gemini
	Mistral      Mistral
	Embedding    Embedding
	DocIntel     DocIntel
	Kubernetes   Kubernetes
	GPU          GPU
	DNS          DNS
	SSL          SSL
	Diagnostics  Diagnostics
}

// Load reads the configuration from the environment. It does not
// validate; call Validate on the result before serving.
func Load() *Config {
	return &Config{
		Port:         envInt("PORT", 8080),
		LogLevel:     envString("LOG_LEVEL", "info"),
		LogFormat:    envString("LOG_FORMAT", "json"),
		StaticDir:    envString("STATIC_DIR", "static"),
		Concurrency:  envInt("WORKER_CONCURRENCY_LIMIT", 16),
		ProbeTimeout: time.Duration(envInt("PROBE_TIMEOUT_SECONDS", 60)) * time.Second,
		Auth: Auth{
			Username:     os.Getenv("AUTH_USERNAME"),
			PasswordHash: os.Getenv("AUTH_PASSWORD"),
			SecretKey:    os.Getenv("AUTH_SECRET_KEY"),
			TokenTTL:     time.Duration(envInt("AUTH_TOKEN_TTL_MINUTES", 30)) * time.Minute,
		},
		Postgres: Postgres{
			Host:     os.Getenv("POSTGRESQL_HOST"),
			Port:     envInt("POSTGRESQL_PORT", 5432),
			User:     os.Getenv("POSTGRESQL_USER"),
			Password: os.Getenv("POSTGRESQL_PASSWORD"),
			Database: envString("POSTGRESQL_DATABASE", "postgres"),
			SSLMode:  envString("POSTGRESQL_SSLMODE", "require"),
		},
		Cassandra: Cassandra{
			Hosts:    envList("CASSANDRA_HOSTS"),
			Port:     envInt("CASSANDRA_PORT", 9042),
			Username: os.Getenv("CASSANDRA_USERNAME"),
			Password: os.Getenv("CASSANDRA_PASSWORD"),
			Keyspace: os.Getenv("CASSANDRA_KEYSPACE"),
		},
		BlobStorage: BlobStorage{
			AccountName: os.Getenv("AZURE_STORAGE_ACCOUNT_NAME"),
			AccountKey:  os.Getenv("AZURE_STORAGE_ACCOUNT_KEY"),
			Container:   os.Getenv("AZURE_STORAGE_CONTAINER"),
		},
		S3: S3{
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
			Region:          os.Getenv("S3_REGION"),
			Bucket:          os.Getenv("S3_BUCKET"),
		},
		S3Compatible: S3Compatible{
			Endpoint:        os.Getenv("S3_COMPATIBLE_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_COMPATIBLE_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_COMPATIBLE_SECRET_ACCESS_KEY"),
			Region:          envString("S3_COMPATIBLE_REGION", "us-east-1"),
			Bucket:          os.Getenv("S3_COMPATIBLE_BUCKET"),
		},
		AzureOpenAI: AzureOpenAI{
			Endpoint:            os.Getenv("AZURE_OPENAI_ENDPOINT"),
			APIKey:              os.Getenv("AZURE_OPENAI_API_KEY"),
			APIVersion:          envString("AZURE_OPENAI_API_VERSION", "2024-02-01"),
			Deployment:          os.Getenv("AZURE_OPENAI_DEPLOYMENT"),
			EmbeddingDeployment: os.Getenv("AZURE_OPENAI_EMBEDDING_DEPLOYMENT"),
			VisionDeployment:    os.Getenv("AZURE_OPENAI_VISION_DEPLOYMENT"),
		},
		Bedrock: Bedrock{
			Region:           os.Getenv("BEDROCK_REGION"),
			AccessKeyID:      os.Getenv("BEDROCK_ACCESS_KEY_ID"),
			SecretAccessKey:  os.Getenv("BEDROCK_SECRET_ACCESS_KEY"),
			ModelID:          os.Getenv("BEDROCK_MODEL_ID"),
			EmbeddingModelID: os.Getenv("BEDROCK_EMBEDDING_MODEL_ID"),
		},
		OpenAI: OpenAI{
			APIKey: os.Getenv("OPENAI_API_KEY"),
			Model:  envString("OPENAI_MODEL", "gpt-4o-mini"),
		},
		Anthropic: Anthropic{
			APIKey: os.Getenv("ANTHROPIC_API_KEY"),
			Model:  envString("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),
		},
		Gemini: Gemini{
			APIKey: os.Getenv("GEMINI_API_KEY"),
			Model:  envString("GEMINI_MODEL", "gemini-2.0-flash"),
		},
		Mistral: Mistral{
			APIKey: os.Getenv("MISTRAL_API_KEY"),
			Model:  envString("MISTRAL_MODEL", "mistral-small-latest"),
		},
		Embedding: Embedding{
			Endpoint: os.Getenv("EMBEDDING_ENDPOINT"),
			APIKey:   os.Getenv("EMBEDDING_API_KEY"),
			Model:    os.Getenv("EMBEDDING_MODEL"),
		},
		DocIntel: DocIntel{
			Endpoint: os.Getenv("DOCINTEL_ENDPOINT"),
			APIKey:   os.Getenv("DOCINTEL_API_KEY"),
		},
		Kubernetes: Kubernetes{
			PVCEnabled:   envBool("PVC_ENABLED", true),
			StorageClass: os.Getenv("KUBERNETES_STORAGE_CLASS"),
			TestPVCSize:  envString("KUBERNETES_TEST_PVC_SIZE", "1Gi"),
			Namespace:    envString("POD_NAMESPACE", "default"),
		},
		GPU: GPU{
			Enabled: envBool("GPU_ENABLED", true),
		},
		DNS: DNS{
			Hostnames: envList("DNS_TEST_HOSTNAMES"),
		},
		SSL: SSL{
			URLs: envList("SSL_TEST_URLS"),
		},
		Diagnostics: Diagnostics{
			OutputDir: envString("DIAGNOSTICS_OUTPUT_DIR", os.TempDir()),
		},
	}
}

// Validate checks the startup-fatal part of the configuration. Probe
// sub-configs are intentionally not checked here; missing probe keys
// mean "skipped", not a startup failure.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT %d out of range", c.Port)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY_LIMIT must be positive, got %d", c.Concurrency)
	}
	if c.Auth.Username == "" {
		return fmt.Errorf("AUTH_USERNAME must be set")
	}
	if c.Auth.SecretKey == "" {
		return fmt.Errorf("AUTH_SECRET_KEY must be set")
	}
	if c.Auth.PasswordHash == "" {
		return fmt.Errorf("AUTH_PASSWORD must be set")
	}
	if _, err := bcrypt.Cost([]byte(c.Auth.PasswordHash)); err != nil {
		return fmt.Errorf("AUTH_PASSWORD is not a bcrypt hash: %w", err)
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("AUTH_TOKEN_TTL_MINUTES must be positive")
	}
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func missing(keys map[string]string) []string {
	var out []string
	for key, value := range keys {
		if value == "" {
			out = append(out, key)
		}
	}
	// Deterministic order for messages.
	sort.Strings(out)
	return out
}
