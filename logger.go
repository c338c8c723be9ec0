package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	logDir = "logs"

	errorLogger  *log.Logger
	errorLogPath string
	errorLogOnce sync.Once

	debugLogger  *log.Logger
	debugLogPath string
	debugLogOnce sync.Once
	// debugPacketDumpLen limits how many bytes of a chunk are logged.
	// A value of 0 dumps the entire chunk.
	debugPacketDumpLen = 64
)

// setupLogging points the standard logger at stdout. Log files under logDir
// are only created once something is written to them.
func setupLogging(debug bool) {
	ts := time.Now().Format("20060102-150405")
	errorLogPath = filepath.Join(logDir, fmt.Sprintf("error-%s.log", ts))
	errorLogOnce = sync.Once{}
	errorLogger = log.New(os.Stdout, "", log.LstdFlags)
	log.SetOutput(errorLogger.Writer())

	setDebugLogging(debug)
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.Create(path)
}

func errorLogFile() {
	errorLogOnce.Do(func() {
		if f, err := openLogFile(errorLogPath); err == nil {
			errorLogger.SetOutput(io.MultiWriter(os.Stdout, f))
			log.SetOutput(errorLogger.Writer())
		}
	})
}

func logError(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	if errorLogger != nil {
		errorLogFile()
		errorLogger.Print(msg)
	}
	statusMessage(msg)
}

func logWarn(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	if errorLogger != nil {
		errorLogFile()
		errorLogger.Printf("warning: %s", msg)
	}
	statusMessage("warning: " + msg)
}

func logInfo(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	if errorLogger != nil {
		errorLogger.Print(msg)
	} else {
		log.Print(msg)
	}
	statusMessage(msg)
}

func debugLogFile() {
	debugLogOnce.Do(func() {
		if f, err := openLogFile(debugLogPath); err == nil {
			debugLogger.SetOutput(io.MultiWriter(os.Stdout, f))
		}
	})
}

func logDebug(format string, v ...interface{}) {
	if debugLogger == nil {
		return
	}
	debugLogFile()
	debugLogger.Printf(format, v...)
}

// logDebugPacket dumps a received chunk in hex.
func logDebugPacket(prefix string, data []byte) {
	if debugLogger == nil {
		return
	}
	debugLogFile()
	n := len(data)
	dump := data
	if debugPacketDumpLen > 0 && n > debugPacketDumpLen {
		dump = data[:debugPacketDumpLen]
	}
	debugLogger.Printf("%s len=%d payload=% x", prefix, n, dump)
}

func setDebugLogging(enabled bool) {
	if !enabled {
		debugLogger = nil
		return
	}
	ts := time.Now().Format("20060102-150405")
	debugLogPath = filepath.Join(logDir, fmt.Sprintf("debug-%s.log", ts))
	debugLogOnce = sync.Once{}
	debugLogger = log.New(os.Stdout, "debug: ", log.LstdFlags)
}
