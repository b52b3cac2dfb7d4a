package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	apiKey    string
	roomID    string
	userID    string
	language  string
	input     string
	wait      bool
)

func main() {
	root := &cobra.Command{
		Use:   "collabquest-cli",
		Short: "CLI client for the CollabQuest execution engine",
	}

	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	root.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("COLLABQUEST_API_KEY"), "API key")
	root.PersistentFlags().StringVarP(&roomID, "room", "r", "cli", "Room ID")
	root.PersistentFlags().StringVarP(&userID, "user", "u", "cli-user", "User ID")

	execCmd := &cobra.Command{
		Use:   "exec [code]",
		Short: "Submit code to a room (reads stdin when no argument)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runExec,
	}
	execCmd.Flags().StringVarP(&language, "language", "l", "python", "Language (python, javascript, go, bash)")
	execCmd.Flags().StringVarP(&input, "input", "i", "", "Stdin passed to the program")
	execCmd.Flags().BoolVarP(&wait, "wait", "w", true, "Block until the terminal result")
	root.AddCommand(execCmd)

	execFileCmd := &cobra.Command{
		Use:   "exec-file [file]",
		Short: "Submit code from a file",
		Args:  cobra.ExactArgs(1),
		RunE:  runExecFile,
	}
	execFileCmd.Flags().StringVarP(&language, "language", "l", "", "Language (auto-detected from extension)")
	execFileCmd.Flags().StringVarP(&input, "input", "i", "", "Stdin passed to the program")
	execFileCmd.Flags().BoolVarP(&wait, "wait", "w", true, "Block until the terminal result")
	root.AddCommand(execFileCmd)

	root.AddCommand(&cobra.Command{
		Use:   "cancel",
		Short: "Cancel your queued execution in the room",
		RunE:  runCancel,
	})

	root.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the room's queue and active executions",
		RunE:  runStatus,
	})

	root.AddCommand(&cobra.Command{
		Use:   "history",
		Short: "Show the room's recent results",
		RunE:  runHistory,
	})

	root.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show engine statistics",
		RunE:  runStats,
	})

	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE:  runHealth,
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runExec(cmd *cobra.Command, args []string) error {
	var code string
	if len(args) > 0 {
		code = args[0]
	} else {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		code = string(data)
	}
	return submit(code)
}

func runExecFile(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}

	if language == "" {
		switch ext := fileExtension(args[0]); ext {
		case ".py":
			language = "python"
		case ".js":
			language = "javascript"
		case ".go":
			language = "go"
		case ".sh":
			language = "bash"
		default:
			return fmt.Errorf("cannot detect language for extension %q, use --language flag", ext)
		}
	}
	return submit(string(data))
}

func submit(code string) error {
	payload := map[string]any{
		"user_id":  userID,
		"language": language,
		"code":     code,
		"input":    input,
	}
	body, _ := json.Marshal(payload)

	path := fmt.Sprintf("/rooms/%s/executions", url.PathEscape(roomID))
	if wait {
		path += "?wait=true"
	}

	req, err := http.NewRequest(http.MethodPost, serverURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	setAuth(req)

	// Long enough to cover a queued slot plus a full execution.
	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	printJSON(result)

	if status, ok := result["status"].(string); ok && wait && status != "completed" {
		os.Exit(1)
	}
	return nil
}

func runCancel(_ *cobra.Command, _ []string) error {
	path := fmt.Sprintf("/rooms/%s/executions?user_id=%s", url.PathEscape(roomID), url.QueryEscape(userID))
	return call(http.MethodDelete, path)
}

func runStatus(_ *cobra.Command, _ []string) error {
	return call(http.MethodGet, fmt.Sprintf("/rooms/%s/status", url.PathEscape(roomID)))
}

func runHistory(_ *cobra.Command, _ []string) error {
	return call(http.MethodGet, fmt.Sprintf("/rooms/%s/history", url.PathEscape(roomID)))
}

func runStats(_ *cobra.Command, _ []string) error {
	return call(http.MethodGet, "/statistics")
}

func runHealth(_ *cobra.Command, _ []string) error {
	return call(http.MethodGet, "/health")
}

func call(method, path string) error {
	req, err := http.NewRequest(method, serverURL+path, nil)
	if err != nil {
		return err
	}
	setAuth(req)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var result any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	printJSON(result)
	return nil
}

func setAuth(req *http.Request) {
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
}

func printJSON(v any) {
	formatted, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(formatted))
}

func fileExtension(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			return path[i:]
		}
	}
	return ""
}
