package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger 封装 zap,提供网格交易域的结构化日志方法。
type Logger struct {
	*zap.Logger
	config Config
}

// Config 日志配置。
type Config struct {
	Level      string   `yaml:"level"`       // debug, info, warn, error
	Outputs    []string `yaml:"outputs"`     // stdout, file
	OutputFile string   `yaml:"output_file"` // 日志文件路径
	ErrorFile  string   `yaml:"error_file"`  // 错误日志单独文件
	Format     string   `yaml:"format"`      // json 或 console
}

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	return Config{
		Level:   "info",
		Outputs: []string{"stdout"},
		Format:  "json",
	}
}

// New 创建 Logger。
func New(cfg Config) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", cfg.Level, err)
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	cores := []zapcore.Core{}

	if contains(cfg.Outputs, "stdout") {
		var encoder zapcore.Encoder
		if cfg.Format == "console" {
			encoder = zapcore.NewConsoleEncoder(encoderConfig)
		} else {
			encoder = zapcore.NewJSONEncoder(encoderConfig)
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level))
	}

	if contains(cfg.Outputs, "file") && cfg.OutputFile != "" {
		fileWriter, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file failed: %w", err)
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(fileWriter), level))
	}

	// 错误日志单独落盘,只收 error 及以上。
	if cfg.ErrorFile != "" {
		errorWriter, err := os.OpenFile(cfg.ErrorFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open error log file failed: %w", err)
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(errorWriter), zapcore.ErrorLevel))
	}

	core := zapcore.NewTee(cores...)
	zapLogger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	return &Logger{Logger: zapLogger, config: cfg}, nil
}

// NewNop 返回丢弃所有输出的 Logger,测试用。
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop(), config: DefaultConfig()}
}

// WithFields 附加字段返回新的 Logger。
func (l *Logger) WithFields(fields map[string]any) *Logger {
	return &Logger{
		Logger: l.Logger.With(toZapFields(fields)...),
		config: l.config,
	}
}

// LogOrder 记录订单事件(提交、成交、拒绝)。
func (l *Logger) LogOrder(event, symbol, side string, fields map[string]any) {
	zf := append(toZapFields(fields),
		zap.String("event", event),
		zap.String("symbol", symbol),
		zap.String("side", side),
	)
	l.Info("order_event", zf...)
}

// LogFill 记录一笔成交。
func (l *Logger) LogFill(symbol, side string, price, quantity float64, levelIndex int) {
	l.Info("fill_event",
		zap.String("symbol", symbol),
		zap.String("side", side),
		zap.Float64("price", price),
		zap.Float64("quantity", quantity),
		zap.Int("level", levelIndex),
	)
}

// LogRisk 记录风控事件,按 warn 级别输出。
func (l *Logger) LogRisk(event string, fields map[string]any) {
	zf := append(toZapFields(fields), zap.String("event", event))
	l.Warn("risk_event", zf...)
}

// LogReset 记录网格重铺。
func (l *Logger) LogReset(symbol string, oldCenter, newCenter float64) {
	l.Info("grid_reset",
		zap.String("symbol", symbol),
		zap.Float64("old_center", oldCenter),
		zap.Float64("new_center", newCenter),
	)
}

// LogError 记录错误并附带上下文。
func (l *Logger) LogError(err error, context map[string]any) {
	zf := append(toZapFields(context), zap.Error(err))
	l.Error("error_event", zf...)
}

// Close 刷出缓冲。进程退出前调用。
func (l *Logger) Close() error {
	return l.Sync()
}

func toZapFields(fields map[string]any) []zap.Field {
	zf := make([]zap.Field, 0, len(fields)+3)
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	return zf
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
