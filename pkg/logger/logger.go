package logger

import (
	"log/slog"
	"os"
	"sync"
)

var (
	log  *slog.Logger
	once sync.Once
)

// Init sets up the process-wide JSON logger. Safe to call more than once.
func Init() {
	once.Do(func() {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	})
}

func attrs(fields map[string]interface{}) []any {
	out := make([]any, 0, len(fields)*2)
	for key, value := range fields {
		out = append(out, key, value)
	}
	return out
}

func Info(event string, fields map[string]interface{}) {
	if log == nil {
		Init()
	}
	log.Info(event, attrs(fields)...)
}

func Warn(event string, fields map[string]interface{}) {
	if log == nil {
		Init()
	}
	log.Warn(event, attrs(fields)...)
}

func Error(event string, err error, fields map[string]interface{}) {
	if log == nil {
		Init()
	}
	all := attrs(fields)
	if err != nil {
		all = append(all, "error", err.Error())
	}
	log.Error(event, all...)
}

func InfoWithUser(userID, event string, fields map[string]interface{}) {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["user_id"] = userID
	Info(event, fields)
}

func WarnWithUser(userID, event string, fields map[string]interface{}) {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["user_id"] = userID
	Warn(event, fields)
}
