package logging

import (
	"time"
)

const componentKey = "component"

func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

func Time(key string, value time.Time) Field {
	return Field{Key: key, Value: value.UTC().Format(time.RFC3339Nano)}
}

func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Component tags the entry with the emitting subsystem
func Component(name string) Field {
	return String(componentKey, name)
}

func Operation(op string) Field {
	return String("operation", op)
}

func Latency(d time.Duration) Field {
	return Duration("latency", d)
}

func Count(n int) Field {
	return Int("count", n)
}

// Connectivity fields

func Event(name string) Field {
	return String("event", name)
}

func Namespace(path string) Field {
	return String("namespace", path)
}

func RequestID(id string) Field {
	return String("request_id", id)
}

func Attempt(n int) Field {
	return Int("attempt", n)
}

func Endpoint(url string) Field {
	return String("endpoint", url)
}

func Reason(reason string) Field {
	return String("reason", reason)
}

// Search fields

func Query(q string) Field {
	return String("query", q)
}

func Page(n int) Field {
	return Int("page", n)
}
