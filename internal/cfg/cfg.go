package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/DRSN-tech/image-gallery/pkg/e"
	"github.com/DRSN-tech/image-gallery/pkg/logger"
	"github.com/jimlawless/whereami"
)

// Способы хранения файлов изображений
const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

type Config struct {
	Http    *HTTPConfig
	Qdrant  *QdrantCfg
	Storage *StorageCfg
	Redis   *RedisCfg
	Ml      *MLServiceCfg
	OpenAI  *OpenAICfg
	Db      *PGDBCfg
	Kafka   *KafkaCfg
	Admin   *AdminCfg
	Upload  *UploadCfg
}

type HTTPConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type QdrantCfg struct {
	Port           int
	Host           string
	ApiKey         string
	CollectionName string // имя коллекции в Qdrant
	UseTLS         bool
	VectorSize     uint64 // размерность image_vector
	TextVectorSize uint64 // размерность text_contain_vector
}

type StorageCfg struct {
	Method    string // local | s3
	LocalPath string // корень локального хранилища, раздаётся как /static
	Minio     *MinIOCfg
}

type MinIOCfg struct {
	MinioEndpoint     string        // Адрес конечной точки Minio
	BucketName        string        // Название конкретного бакета в Minio
	MinioRootUser     string        // Имя пользователя для доступа к Minio
	MinioRootPassword string        // Пароль для доступа к Minio
	MinioUseSSL       bool          // Использовать ли TLS при подключении
	PathPrefix        string        // Префикс всех объектов галереи в бакете
	PresignTTL        time.Duration // Время жизни подписанных ссылок
}

type RedisCfg struct {
	Addr         string
	Password     string
	User         string
	DB           int
	MaxRetries   int
	DialTimeout  time.Duration
	Timeout      time.Duration
	EmbeddingTTL time.Duration
}

type MLServiceCfg struct {
	Addr          string
	MaxConcurrent int
	MaxRetries    int
	Timeout       time.Duration
}

// OpenAICfg настройки модели для пространства text_contain_vector
type OpenAICfg struct {
	Enabled    bool
	BaseURL    string
	ApiKey     string
	Model      string
	Dimensions int
	RPS        int
}

type PGDBCfg struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type KafkaCfg struct {
	Topic             string
	Brokers           []string
	NetworkMode       string
	Partitions        int
	ReplicationFactor int
}

type AdminCfg struct {
	Enabled bool
	Token   string
}

type UploadCfg struct {
	MaxSizeBytes  int64
	ThumbnailSize int
	BatchSize     int // размер пачки при индексации каталога
}

// Load безопасно загружает конфигурацию и возвращает ошибку в случае неудачи.
func Load(log logger.Logger) (*Config, error) {
	db, err := loadPGDBCfg(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	http, err := loadHTTPConfig(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	redis, err := loadRedisCfg(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	storage, err := loadStorageCfg(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	qdrant, err := loadQdrantCfg(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	ml, err := loadMLServiceCfg(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	openai, err := loadOpenAICfg(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	kafka, err := loadKafkaCfg()
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	admin, err := loadAdminCfg(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	upload, err := loadUploadCfg()
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return &Config{
		Http:    http,
		Qdrant:  qdrant,
		Storage: storage,
		Redis:   redis,
		Ml:      ml,
		OpenAI:  openai,
		Db:      db,
		Kafka:   kafka,
		Admin:   admin,
		Upload:  upload,
	}, nil
}

func loadKafkaCfg() (*KafkaCfg, error) {
	const (
		defaultPartitions        = 3
		defaultReplicationFactor = 1
		defaultNetworkMode       = "tcp"
		defaultTopic             = "gallery.images"
	)

	brokerStr := os.Getenv("KAFKA_BROKERS")
	if brokerStr == "" {
		return nil, fmt.Errorf("KAFKA_BROKERS environment variable is required")
	}
	brokers := strings.Split(brokerStr, ",")

	partitions, err := parseIntEnv("KAFKA_PARTITIONS", defaultPartitions)
	if err != nil {
		return nil, e.Wrap("KAFKA_PARTITIONS", err)
	}

	replicationFactor, err := parseIntEnv("REPLICATION_FACTOR", defaultReplicationFactor)
	if err != nil {
		return nil, e.Wrap("REPLICATION_FACTOR", err)
	}

	return &KafkaCfg{
		Brokers:           brokers,
		Topic:             getEnvOrDefault("KAFKA_TOPIC", defaultTopic),
		Partitions:        partitions,
		ReplicationFactor: replicationFactor,
		NetworkMode:       getEnvOrDefault("KAFKA_NETWORK_MODE", defaultNetworkMode),
	}, nil
}

func loadStorageCfg(log logger.Logger) (*StorageCfg, error) {
	const (
		defaultMethod     = StorageLocal
		defaultLocalPath  = "./static"
		defaultUseSSL     = false
		defaultEndpoint   = "minio:9000"
		defaultPresignTTL = time.Hour
	)

	method := strings.ToLower(getEnvOrDefault("STORAGE_METHOD", defaultMethod))
	if method != StorageLocal && method != StorageS3 {
		err := fmt.Errorf("%w: %q", e.ErrUnknownStorageMethod, method)
		log.Errorf(err, "invalid STORAGE_METHOD")
		return nil, err
	}

	useSSL, err := strconv.ParseBool(getEnvOrDefault("MINIO_USE_SSL", strconv.FormatBool(defaultUseSSL)))
	if err != nil {
		log.Errorf(err, "invalid MINIO_USE_SSL")
		return nil, err
	}

	presignTTL, err := parseDurationEnv("MINIO_PRESIGN_TTL", defaultPresignTTL)
	if err != nil {
		log.Errorf(err, "invalid MINIO_PRESIGN_TTL")
		return nil, err
	}

	minio := &MinIOCfg{
		MinioEndpoint:     getEnvOrDefault("MINIO_ENDPOINT", defaultEndpoint),
		BucketName:        getEnv("BUCKET_NAME"),
		MinioRootUser:     getEnv("MINIO_ROOT_USER"),
		MinioRootPassword: getEnv("MINIO_ROOT_PASSWORD"),
		MinioUseSSL:       useSSL,
		PathPrefix:        strings.Trim(getEnv("MINIO_PATH_PREFIX"), "/"),
		PresignTTL:        presignTTL,
	}

	if method == StorageS3 && minio.BucketName == "" {
		err := fmt.Errorf("BUCKET_NAME is required for s3 storage")
		log.Errorf(err, "missing BUCKET_NAME")
		return nil, err
	}

	return &StorageCfg{
		Method:    method,
		LocalPath: getEnvOrDefault("STORAGE_LOCAL_PATH", defaultLocalPath),
		Minio:     minio,
	}, nil
}

func loadHTTPConfig(log logger.Logger) (*HTTPConfig, error) {
	const (
		defaultPort         = "8000"
		defaultReadTimeout  = 15 * time.Second
		defaultWriteTimeout = 30 * time.Second
		defaultIdleTimeout  = 60 * time.Second
	)

	readTimeout, err := parseDurationEnv("HTTP_READ_TIMEOUT", defaultReadTimeout)
	if err != nil {
		log.Errorf(err, "invalid HTTP_READ_TIMEOUT")
		return nil, err
	}

	writeTimeout, err := parseDurationEnv("HTTP_WRITE_TIMEOUT", defaultWriteTimeout)
	if err != nil {
		log.Errorf(err, "invalid HTTP_WRITE_TIMEOUT")
		return nil, err
	}

	idleTimeout, err := parseDurationEnv("KEEP_ALIVE", defaultIdleTimeout)
	if err != nil {
		log.Errorf(err, "invalid KEEP_ALIVE")
		return nil, err
	}

	return &HTTPConfig{
		Port:         getEnvOrDefault("HTTP_PORT", defaultPort),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}, nil
}

func loadPGDBCfg(log logger.Logger) (*PGDBCfg, error) {
	const (
		defaultHost    = "localhost"
		defaultPort    = "5432"
		defaultSSLMode = "disable"
	)

	user := getEnv("POSTGRES_USER")
	if user == "" {
		err := fmt.Errorf("POSTGRES_USER is required")
		log.Errorf(err, "missing POSTGRES_USER")
		return nil, err
	}

	password := getEnv("POSTGRES_PASSWORD")
	if password == "" {
		err := fmt.Errorf("POSTGRES_PASSWORD is required")
		log.Errorf(err, "missing POSTGRES_PASSWORD")
		return nil, err
	}

	dbName := getEnv("POSTGRES_DB")
	if dbName == "" {
		err := fmt.Errorf("POSTGRES_DB is required")
		log.Errorf(err, "missing POSTGRES_DB")
		return nil, err
	}

	return &PGDBCfg{
		Host:     getEnvOrDefault("POSTGRES_HOST", defaultHost),
		Port:     getEnvOrDefault("POSTGRES_PORT", defaultPort),
		User:     user,
		Password: password,
		DBName:   dbName,
		SSLMode:  getEnvOrDefault("SSL_MODE", defaultSSLMode),
	}, nil
}

func loadQdrantCfg(logger logger.Logger) (*QdrantCfg, error) {
	const (
		defaultQdrantGRPCPort = "6334"
		defaultHost           = "localhost"
		defaultCollection     = "NekoImg"
		defaultUseTLS         = false
		defaultVectorSize     = "768"
	)

	port, err := strconv.Atoi(getEnvOrDefault("QDRANT_GRPC_PORT", defaultQdrantGRPCPort))
	if err != nil {
		logger.Errorf(err, "invalid QDRANT_GRPC_PORT")
		return nil, err
	}

	useTLS, err := strconv.ParseBool(getEnvOrDefault("QDRANT_USE_TLS", strconv.FormatBool(defaultUseTLS)))
	if err != nil {
		logger.Errorf(err, "invalid QDRANT_USE_TLS")
		return nil, err
	}

	vectorSize, err := strconv.ParseUint(getEnvOrDefault("VECTOR_SIZE", defaultVectorSize), 10, 64)
	if err != nil {
		logger.Errorf(err, "invalid VECTOR_SIZE")
		return nil, err
	}

	textVectorSize, err := strconv.ParseUint(getEnvOrDefault("TEXT_VECTOR_SIZE", defaultVectorSize), 10, 64)
	if err != nil {
		logger.Errorf(err, "invalid TEXT_VECTOR_SIZE")
		return nil, err
	}

	return &QdrantCfg{
		Host:           getEnvOrDefault("QDRANT_HOST", defaultHost),
		Port:           port,
		ApiKey:         getEnv("QDRANT__SERVICE__API_KEY"),
		CollectionName: getEnvOrDefault("COLLECTION_NAME", defaultCollection),
		UseTLS:         useTLS,
		VectorSize:     vectorSize,
		TextVectorSize: textVectorSize,
	}, nil
}

func loadRedisCfg(log logger.Logger) (*RedisCfg, error) {
	const (
		defaultAddr         = "localhost:6379"
		defaultDB           = 0
		defaultMaxRetries   = 3
		defaultDialTimeout  = 5 * time.Second
		defaultReadTimeout  = 3 * time.Second
		defaultWriteTimeout = 3 * time.Second
		defaultEmbeddingTTL = 24 * time.Hour
	)

	db, err := strconv.Atoi(getEnvOrDefault("REDIS_DB_ID", strconv.Itoa(defaultDB)))
	if err != nil {
		log.Errorf(err, "invalid REDIS_DB_ID")
		return nil, err
	}

	maxRetries, err := strconv.Atoi(getEnvOrDefault("MAX_RETRIES", strconv.Itoa(defaultMaxRetries)))
	if err != nil {
		log.Errorf(err, "invalid MAX_RETRIES")
		return nil, err
	}

	dialTimeout, err := parseDurationEnv("DIAL_TIMEOUT", defaultDialTimeout)
	if err != nil {
		log.Errorf(err, "invalid DIAL_TIMEOUT")
		return nil, err
	}

	readTimeout, err := parseDurationEnv("READ_TIMEOUT", defaultReadTimeout)
	if err != nil {
		log.Errorf(err, "invalid READ_TIMEOUT")
		return nil, err
	}

	writeTimeout, err := parseDurationEnv("WRITE_TIMEOUT", defaultWriteTimeout)
	if err != nil {
		log.Errorf(err, "invalid WRITE_TIMEOUT")
		return nil, err
	}

	embeddingTTL, err := parseDurationEnv("EMBEDDING_CACHE_TTL", defaultEmbeddingTTL)
	if err != nil {
		log.Errorf(err, "invalid EMBEDDING_CACHE_TTL")
		return nil, err
	}

	timeout := readTimeout
	if writeTimeout > timeout {
		timeout = writeTimeout
	}

	return &RedisCfg{
		Addr:         getEnvOrDefault("REDIS_ADDR", defaultAddr),
		Password:     getEnv("REDIS_PASSWORD"),
		User:         getEnv("REDIS_USER"),
		DB:           db,
		MaxRetries:   maxRetries,
		DialTimeout:  dialTimeout,
		Timeout:      timeout,
		EmbeddingTTL: embeddingTTL,
	}, nil
}

func loadMLServiceCfg(log logger.Logger) (*MLServiceCfg, error) {
	const (
		defaultHost          = "ml-service"
		defaultPort          = "50051"
		defaultMaxConcurrent = 8
		defaultMaxRetries    = 3
		defaultTimeout       = 30 * time.Second
	)

	maxConcurrent, err := parseIntEnv("ML_MAX_CONCURRENT", defaultMaxConcurrent)
	if err != nil {
		log.Errorf(err, "invalid ML_MAX_CONCURRENT")
		return nil, err
	}

	timeout, err := parseDurationEnv("ML_TIMEOUT", defaultTimeout)
	if err != nil {
		log.Errorf(err, "invalid ML_TIMEOUT")
		return nil, err
	}

	host := getEnvOrDefault("ML_HOST", defaultHost)
	port := getEnvOrDefault("ML_PORT", defaultPort)

	return &MLServiceCfg{
		Addr:          host + ":" + port,
		MaxConcurrent: maxConcurrent,
		MaxRetries:    defaultMaxRetries,
		Timeout:       timeout,
	}, nil
}

func loadOpenAICfg(log logger.Logger) (*OpenAICfg, error) {
	const (
		defaultBaseURL    = "https://api.openai.com/v1"
		defaultModel      = "text-embedding-3-small"
		defaultDimensions = 768
		defaultRPS        = 5
	)

	dimensions, err := parseIntEnv("OPENAI_EMBEDDING_DIMENSIONS", defaultDimensions)
	if err != nil {
		log.Errorf(err, "invalid OPENAI_EMBEDDING_DIMENSIONS")
		return nil, err
	}

	rps, err := parseIntEnv("OPENAI_RPS", defaultRPS)
	if err != nil {
		log.Errorf(err, "invalid OPENAI_RPS")
		return nil, err
	}

	apiKey := getEnv("OPENAI_API_KEY")

	return &OpenAICfg{
		Enabled:    apiKey != "",
		BaseURL:    getEnvOrDefault("OPENAI_BASE_URL", defaultBaseURL),
		ApiKey:     apiKey,
		Model:      getEnvOrDefault("OPENAI_EMBEDDING_MODEL", defaultModel),
		Dimensions: dimensions,
		RPS:        rps,
	}, nil
}

func loadAdminCfg(log logger.Logger) (*AdminCfg, error) {
	enabled, err := strconv.ParseBool(getEnvOrDefault("ADMIN_API_ENABLE", "false"))
	if err != nil {
		log.Errorf(err, "invalid ADMIN_API_ENABLE")
		return nil, err
	}

	token := getEnv("ADMIN_TOKEN")
	if enabled && token == "" {
		err := fmt.Errorf("ADMIN_TOKEN is required when admin api is enabled")
		log.Errorf(err, "missing ADMIN_TOKEN")
		return nil, err
	}

	return &AdminCfg{Enabled: enabled, Token: token}, nil
}

func loadUploadCfg() (*UploadCfg, error) {
	const (
		defaultMaxSizeMB     = 10
		defaultThumbnailSize = 256
		defaultBatchSize     = 32
	)

	maxSizeMB, err := parseIntEnv("UPLOAD_MAX_SIZE_MB", defaultMaxSizeMB)
	if err != nil {
		return nil, e.Wrap("UPLOAD_MAX_SIZE_MB", err)
	}

	thumbnailSize, err := parseIntEnv("THUMBNAIL_SIZE", defaultThumbnailSize)
	if err != nil {
		return nil, e.Wrap("THUMBNAIL_SIZE", err)
	}

	batchSize, err := parseIntEnv("INDEX_BATCH_SIZE", defaultBatchSize)
	if err != nil {
		return nil, e.Wrap("INDEX_BATCH_SIZE", err)
	}

	return &UploadCfg{
		MaxSizeBytes:  int64(maxSizeMB) << 20,
		ThumbnailSize: thumbnailSize,
		BatchSize:     batchSize,
	}, nil
}

// getEnv возвращает значение переменной окружения.
// Возвращает пустую строку, если переменная не задана.
func getEnv(key string) string {
	return os.Getenv(key)
}

// getEnvOrDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

// parseDurationEnv считывает длительность или возвращает значение по умолчанию.
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	if v := os.Getenv(key); v != "" {
		return time.ParseDuration(v)
	}

	return defaultValue, nil
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}

	intValue, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue, e.ErrIncorrectEnvVariable
	}

	return intValue, nil
}
