package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/twinklywall/ledmirror/internal/capture"
	"github.com/twinklywall/ledmirror/internal/ipc"
	"github.com/twinklywall/ledmirror/internal/secmem"
)

func probe() {
	cfg := loadConfig()
	engine := capture.NewEngine(engineConfig(cfg))
	defer engine.Close()

	if err := engine.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "Capture unavailable: %v\n", err)
		os.Exit(1)
	}
	screen := engine.ScreenSize()
	fmt.Printf("Screen:  %dx%d\n", screen.Width, screen.Height)
	fmt.Printf("Method:  %s\n", engine.Method())

	out, _ := json.MarshalIndent(engine.Capabilities(), "", "  ")
	fmt.Println(string(out))
}

func listWindows() {
	titles, err := capture.AvailableWindows()
	if errors.Is(err, capture.ErrNotSupported) {
		fmt.Fprintln(os.Stderr, "Window enumeration is not supported on this platform.")
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list windows: %v\n", err)
		os.Exit(1)
	}
	for _, title := range titles {
		fmt.Println(title)
	}
}

func callMethod(method, params string) {
	cfg := loadConfig()

	var args any
	if params != "" {
		raw := json.RawMessage(params)
		if !json.Valid(raw) {
			fmt.Fprintln(os.Stderr, "Params must be valid JSON.")
			os.Exit(1)
		}
		args = raw
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	key := secmem.NewKey(ipc.KeyFromSecret(cfg.IPCSecret))
	defer key.Zero()

	client, err := ipc.Dial(ctx, cfg.IPCPath, key.Bytes())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to %s: %v\n", cfg.IPCPath, err)
		os.Exit(1)
	}
	defer client.Close()

	var result json.RawMessage
	if err := client.Call(ctx, method, args, &result); err != nil {
		fmt.Fprintf(os.Stderr, "Call failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(result))
}
