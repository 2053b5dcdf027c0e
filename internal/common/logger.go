package common

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger builds the process logger. Output goes to a rotating file when logPath is set,
// stdout otherwise.
func NewLogger(logPath, level string) (*zap.Logger, error) {
	var writeSyncer zapcore.WriteSyncer
	if logPath != "" {
		// 配置日志轮转
		writeSyncer = zapcore.AddSync(&lumberjack.Logger{
			Filename:   logPath,
			MaxSize:    10, // MB
			MaxBackups: 10,
			MaxAge:     7, // days
			LocalTime:  true,
		})
	} else {
		writeSyncer = zapcore.Lock(os.Stdout)
	}

	customTimeEncoder := func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Local().Format("2006-01-02 15:04:05.000"))
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "T",
		LevelKey:       "L",
		MessageKey:     "M",
		CallerKey:      "C",
		NameKey:        "N",
		StacktraceKey:  "S",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     customTimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	encoder := zapcore.NewConsoleEncoder(encoderConfig)

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	core := zapcore.NewCore(encoder, writeSyncer, lvl)
	return zap.New(core, zap.AddCaller()), nil
}
