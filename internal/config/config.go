// Package config 统一配置管理
//
// 配置加载策略：
//  1. 从 .env 加载敏感信息（对象存储密钥、API Key 哈希）和 APP_ENV
//  2. 根据 APP_ENV 加载对应的 configs/{env}.yaml 配置文件
//  3. 环境变量可覆盖 YAML 配置
//
// 使用方式：
//   - 开发环境: APP_ENV=dev (默认)
//   - 测试环境: APP_ENV=test
//   - 生产环境: APP_ENV=prod
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment 环境类型
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test"
	EnvDevelopment Environment = "dev"
)

// 元数据后端类型
const (
	BackendMongo     = "mongo"     // 事务后端（严格序号保证）
	BackendFirestore = "firestore" // REST 后端（弱保证，低并发场景）
)

// YAMLConfig YAML 配置文件结构
type YAMLConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Metadata  MetadataConfig  `yaml:"metadata"`
	MinIO     MinIOConfig     `yaml:"minio"`
	Redis     RedisConfig     `yaml:"redis"`
	Firestore FirestoreConfig `yaml:"firestore"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

// MetadataConfig 元数据存储配置
type MetadataConfig struct {
	Backend string `yaml:"backend"` // mongo | firestore
	MongoURI string `yaml:"mongo_uri"`
	MongoDB  string `yaml:"mongo_db"`
}

// FirestoreConfig REST 后端配置
type FirestoreConfig struct {
	BaseURL         string `yaml:"base_url"`         // 文档根路径
	CredentialsFile string `yaml:"credentials_file"` // 服务账号 JSON 密钥路径
}

// MinIOConfig 对象存储配置
type MinIOConfig struct {
	Endpoint      string `yaml:"endpoint"`
	AccessKey     string `yaml:"-"` // 从 MINIO_ACCESS_KEY 环境变量读取
	SecretKey     string `yaml:"-"` // 从 MINIO_SECRET_KEY 环境变量读取
	UseSSL        bool   `yaml:"use_ssl"`
	Bucket        string `yaml:"bucket"`
	PublicBaseURL string `yaml:"public_base_url"` // 对外可寻址根地址（CDN 等）
}

// RedisConfig 读缓存配置（可选，URL 为空则禁用）
type RedisConfig struct {
	URL string `yaml:"url"`
}

// Config 应用配置（最终使用的配置）
type Config struct {
	Env          Environment
	APIPort      string
	Metadata     MetadataConfig
	Firestore    FirestoreConfig
	MinIO        MinIOConfig
	RedisURL     string
	APIKeyHashes []string // bcrypt 哈希后的上传 API Key，逗号分隔自 API_KEY_HASHES
}

var configPaths = []string{
	"configs",
	"../configs",
	"../../configs",
	"../../../configs",
}

var envPaths = []string{
	".env",
	"../.env",
	"../../.env",
	"../../../.env",
}

// Load 加载配置
// 1. 加载 .env（敏感信息 + APP_ENV）
// 2. 根据 APP_ENV 加载 configs/{env}.yaml
// 3. 构建最终配置
func Load() *Config {
	// 加载 .env
	for _, p := range envPaths {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}

	// 解析环境
	env := parseEnv(getEnv("APP_ENV", "dev"))

	// 加载 YAML 配置
	yamlCfg := loadYAMLConfig(env)

	// 从环境变量获取敏感信息
	yamlCfg.MinIO.AccessKey = getEnv("MINIO_ACCESS_KEY", "minioadmin")
	yamlCfg.MinIO.SecretKey = getEnv("MINIO_SECRET_KEY", "minioadmin")

	cfg := &Config{
		Env:       env,
		APIPort:   getEnv("API_PORT", yamlCfg.Server.Port),
		Metadata:  yamlCfg.Metadata,
		Firestore: yamlCfg.Firestore,
		MinIO:     yamlCfg.MinIO,
		RedisURL:  getEnv("REDIS_URL", yamlCfg.Redis.URL),
	}
	if uri := os.Getenv("MONGO_URI"); uri != "" {
		cfg.Metadata.MongoURI = uri
	}
	if hashes := os.Getenv("API_KEY_HASHES"); hashes != "" {
		for _, h := range strings.Split(hashes, ",") {
			if h = strings.TrimSpace(h); h != "" {
				cfg.APIKeyHashes = append(cfg.APIKeyHashes, h)
			}
		}
	}

	cfg.validate()
	return cfg
}

// loadYAMLConfig 加载 YAML 配置文件
// 加载顺序：默认值 → common.yaml → {env}.yaml
func loadYAMLConfig(env Environment) *YAMLConfig {
	// 1. 初始化默认值
	cfg := &YAMLConfig{
		Server: ServerConfig{Port: "8080"},
		Metadata: MetadataConfig{
			Backend:  BackendMongo,
			MongoURI: "mongodb://localhost:27017",
			MongoDB:  "storybook_hub",
		},
		MinIO: MinIOConfig{Endpoint: "localhost:9000", Bucket: "storybook-hub"},
	}

	// 2. 加载 common.yaml（公共配置）
	for _, base := range configPaths {
		path := filepath.Join(base, "common.yaml")
		if data, err := os.ReadFile(path); err == nil {
			yaml.Unmarshal(data, cfg)
			break
		}
	}

	// 3. 加载 {env}.yaml（环境特定配置，覆盖公共配置）
	filename := fmt.Sprintf("%s.yaml", env)
	for _, base := range configPaths {
		path := filepath.Join(base, filename)
		if data, err := os.ReadFile(path); err == nil {
			yaml.Unmarshal(data, cfg)
			break
		}
	}

	return cfg
}

// validate 验证并填充默认值
func (c *Config) validate() {
	if c.APIPort == "" {
		c.APIPort = "8080"
	}
	switch c.Metadata.Backend {
	case BackendMongo, BackendFirestore:
	default:
		c.Metadata.Backend = BackendMongo
	}
	if c.Metadata.MongoDB == "" {
		c.Metadata.MongoDB = "storybook_hub"
	}
}

func parseEnv(env string) Environment {
	switch strings.ToLower(env) {
	case "test":
		return EnvTest
	case "prod", "production":
		return EnvProduction
	default:
		return EnvDevelopment
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// IsTest 是否为测试环境
func (c *Config) IsTest() bool {
	return c.Env == EnvTest
}

// String 返回配置摘要（隐藏密钥）
func (c *Config) String() string {
	return fmt.Sprintf("Config{Env: %s, Backend: %s, Mongo: %s, MinIO: %s, Redis: %s}",
		c.Env, c.Metadata.Backend, maskPassword(c.Metadata.MongoURI), c.MinIO.Endpoint, maskPassword(c.RedisURL))
}

// maskPassword 隐藏连接串中的密码
// 用户名允许为空（redis://:pass@host 这种形式）
func maskPassword(url string) string {
	re := regexp.MustCompile(`(://[^:/@]*:)([^@]+)(@)`)
	return re.ReplaceAllString(url, "${1}***${3}")
}
