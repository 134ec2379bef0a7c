package acpfacade

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// debugLogDir is the directory raw ACP frames are appended to when debug
// mode is on. Defaults to the process CWD; override with ACPX_DEBUG_LOG_DIR.
var debugLogDir = resolveDebugLogDir()

var debugLogMu sync.Mutex

func resolveDebugLogDir() string {
	if dir := os.Getenv("ACPX_DEBUG_LOG_DIR"); dir != "" {
		return dir
	}
	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}
	return "."
}

// logRawUpdate appends one raw ACP session notification to a per-session
// debug file. No-op unless debugMode is set.
func logRawUpdate(sessionID string, raw any) {
	if !debugMode {
		return
	}
	entry := map[string]any{
		"ts":         time.Now().UnixMilli(),
		"session_id": sessionID,
		"raw":        raw,
	}
	logFile := filepath.Join(debugLogDir, fmt.Sprintf("raw-acp-%s.jsonl", sessionID))
	writeJSONLine(logFile, entry)
}

func writeJSONLine(logFile string, entry any) {
	b, err := json.Marshal(entry)
	if err != nil {
		log.Printf("[acpfacade] failed to marshal debug entry: %v", err)
		return
	}

	debugLogMu.Lock()
	defer debugLogMu.Unlock()

	f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Printf("[acpfacade] failed to open debug log %s: %v", logFile, err)
		return
	}
	defer func() { _ = f.Close() }()

	_, _ = f.WriteString(string(b) + "\n")
}
