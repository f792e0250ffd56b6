// Package observ provides structured JSON-line logging and lightweight
// in-process metrics for the engine. Events go to stdout, one JSON object
// per line, so they can be shipped anywhere that eats line-delimited JSON.
package observ

import (
	"encoding/json"
	"fmt"
	"time"
)

func Log(event string, kv map[string]any) {
	if kv == nil {
		kv = map[string]any{}
	}
	kv["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	kv["event"] = event
	b, _ := json.Marshal(kv)
	fmt.Println(string(b))
}

// LogError logs an event carrying an error, keeping the error string under
// the "error" key so failure events stay greppable.
func LogError(event string, err error, kv map[string]any) {
	if kv == nil {
		kv = map[string]any{}
	}
	if err != nil {
		kv["error"] = err.Error()
	}
	Log(event, kv)
}
