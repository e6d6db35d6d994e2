/*
 * Copyright 2025 Cong Wang
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var (
	gatewayURL = "http://localhost:8080"
	verbose    = false
	apiKey     = ""
	apiKeyFile = ""
)

// subscriptionKeyHeader must match the header the hub's auth middleware reads.
const subscriptionKeyHeader = "ocp-apim-subscription-key"

// API request/response structures
type SendMessageRequest struct {
	Recipient   string `json:"recipient"`
	Message     string `json:"message"`
	ChannelType string `json:"channelType"`
}

type SendMessageResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
	StatusURL string `json:"statusUrl"`
}

type BatchSendRequest struct {
	Messages []SendMessageRequest `json:"messages"`
}

type BatchItemResult struct {
	MessageID    string `json:"messageId,omitempty"`
	Status       string `json:"status"`
	Recipient    string `json:"recipient"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

type BatchSendResponse struct {
	Results          []BatchItemResult `json:"results"`
	StatusURLPattern string            `json:"statusUrlPattern"`
	TotalCount       int               `json:"totalCount"`
	SuccessCount     int               `json:"successCount"`
	FailedCount      int               `json:"failedCount"`
}

type MessageStatusResponse struct {
	MessageID         string    `json:"messageId"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
	ExternalMessageID string    `json:"externalMessageId,omitempty"`
	ErrorMessage      string    `json:"errorMessage,omitempty"`
	RetryCount        int       `json:"retryCount"`
	Recipient         string    `json:"recipient"`
	ChannelType       string    `json:"channelType"`
}

func main() {
	args := os.Args[1:]

	// Parse global flags until we hit the command word
	i := 0
	for i < len(args) {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			break
		}
		switch {
		case arg == "--gateway-url" && i+1 < len(args):
			gatewayURL = args[i+1]
			i += 2
		case strings.HasPrefix(arg, "--gateway-url="):
			gatewayURL = strings.TrimPrefix(arg, "--gateway-url=")
			i++
		case arg == "--api-key" && i+1 < len(args):
			apiKey = args[i+1]
			i += 2
		case strings.HasPrefix(arg, "--api-key="):
			apiKey = strings.TrimPrefix(arg, "--api-key=")
			i++
		case arg == "--api-key-file" && i+1 < len(args):
			apiKeyFile = args[i+1]
			i += 2
		case strings.HasPrefix(arg, "--api-key-file="):
			apiKeyFile = strings.TrimPrefix(arg, "--api-key-file=")
			i++
		case arg == "-v" || arg == "--verbose":
			verbose = true
			i++
		case arg == "-h" || arg == "--help":
			printUsage()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown global flag: %s\n", arg)
			printUsage()
			os.Exit(1)
		}
	}

	if i >= len(args) {
		printUsage()
		os.Exit(1)
	}

	command := args[i]
	commandArgs := args[i+1:]

	switch command {
	case "ping":
		handlePing(commandArgs)
	case "send":
		handleSend(commandArgs)
	case "batch":
		handleBatch(commandArgs)
	case "status":
		handleStatus(commandArgs)
	case "history":
		handleHistory(commandArgs)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Message Hub Admin Tool")
	fmt.Println("")
	fmt.Println("Usage: messagehub-admin [global-flags] <command> [args]")
	fmt.Println("")
	fmt.Println("Global Flags:")
	fmt.Println("  --gateway-url <url>       Hub base URL (default: http://localhost:8080)")
	fmt.Println("  --api-key <key>           Tenant subscription key")
	fmt.Println("  --api-key-file <file>     File containing the tenant subscription key")
	fmt.Println("  -v, --verbose             Verbose output")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  ping                                   Check the hub accepts the subscription key")
	fmt.Println("  send <recipient> <message> [flags]     Submit a single message")
	fmt.Println("  batch [flags]                          Submit messages from a JSON file")
	fmt.Println("  status <message-id>                    Show the delivery status of a message")
	fmt.Println("  history [flags]                        List recent messages for the tenant")
	fmt.Println("")
	fmt.Println("Send Flags:")
	fmt.Println("  --channel <type>          Channel type: 'HTTP' or 'SMPP' (default: HTTP)")
	fmt.Println("")
	fmt.Println("Batch Flags:")
	fmt.Println("  -f, --file <file>         JSON file with the messages to send (required)")
	fmt.Println("")
	fmt.Println("History Flags:")
	fmt.Println("  --limit <n>               Maximum messages to return, 1-100 (default: 50)")
	fmt.Println("  --status <status>         Filter by status: queued, processing, sent, delivered, failed")
	fmt.Println("")
	fmt.Println("Examples:")
	fmt.Println("  messagehub-admin --api-key-file tenant.key ping")
	fmt.Println("  messagehub-admin --api-key demo-key send +15551230001 \"Your code is 123456\"")
	fmt.Println("  messagehub-admin --api-key demo-key send +15551230001 \"Welcome\" --channel SMPP")
	fmt.Println("  messagehub-admin --api-key demo-key batch -f messages.json")
	fmt.Println("  messagehub-admin --api-key demo-key status 0198c5b6-3f9e-7d21-b7c4-9a1f2e8d4c01")
	fmt.Println("  messagehub-admin --api-key demo-key history --limit 10 --status failed")
	fmt.Println("  messagehub-admin --gateway-url http://hub.example.com:8080 --api-key demo-key history")
}

func handlePing(args []string) {
	// Create flag set for ping command (no flags currently, but ready for future)
	pingFlags := flag.NewFlagSet("ping", flag.ExitOnError)

	if err := pingFlags.Parse(args); err != nil {
		os.Exit(1)
	}

	resp, err := makeAPIRequest("GET", "/ping", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ping failed: %v\n", err)
		os.Exit(1)
	}

	// The endpoint answers with a plain text body
	fmt.Println(strings.TrimSpace(string(resp)))
}

func handleSend(args []string) {
	// Create flag set for send command
	sendFlags := flag.NewFlagSet("send", flag.ExitOnError)

	var channel string

	sendFlags.StringVar(&channel, "channel", "HTTP", "Channel type: 'HTTP' or 'SMPP'")

	sendFlags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: messagehub-admin send <recipient> <message> [flags]\n")
		fmt.Fprintf(os.Stderr, "\nFlags:\n")
		sendFlags.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  messagehub-admin --api-key demo-key send +15551230001 \"Your code is 123456\"\n")
		fmt.Fprintf(os.Stderr, "  messagehub-admin --api-key demo-key send +15551230001 \"Welcome\" --channel SMPP\n")
	}

	if len(args) < 2 {
		sendFlags.Usage()
		os.Exit(1)
	}

	recipient := args[0]
	message := args[1]

	// Parse flags starting from the third argument
	if err := sendFlags.Parse(args[2:]); err != nil {
		os.Exit(1)
	}

	req := SendMessageRequest{
		Recipient:   recipient,
		Message:     message,
		ChannelType: channel,
	}

	resp, err := makeAPIRequest("POST", "/api/message", req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to send message: %v\n", err)
		os.Exit(1)
	}

	var response SendMessageResponse
	if err := json.Unmarshal(resp, &response); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse response: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Message accepted: %s\n", response.MessageID)
	fmt.Printf("  Status: %s\n", response.Status)
	fmt.Printf("  Status URL: %s\n", response.StatusURL)
}

func handleBatch(args []string) {
	// Create flag set for batch command
	batchFlags := flag.NewFlagSet("batch", flag.ExitOnError)

	var batchFile string

	batchFlags.StringVar(&batchFile, "f", "", "JSON file with the messages to send (required)")
	batchFlags.StringVar(&batchFile, "file", "", "JSON file with the messages to send (required)")

	batchFlags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: messagehub-admin batch [flags]\n")
		fmt.Fprintf(os.Stderr, "\nFlags:\n")
		batchFlags.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nThe file holds {\"messages\": [...]} or a bare JSON array of\n")
		fmt.Fprintf(os.Stderr, "{\"recipient\", \"message\", \"channelType\"} objects, 100 at most.\n")
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  messagehub-admin --api-key demo-key batch -f messages.json\n")
	}

	if err := batchFlags.Parse(args); err != nil {
		os.Exit(1)
	}

	if batchFile == "" {
		fmt.Fprintf(os.Stderr, "Error: Batch file is required (-f or --file flag)\n")
		batchFlags.Usage()
		os.Exit(1)
	}

	data, err := os.ReadFile(filepath.Clean(batchFile))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read batch file: %v\n", err)
		os.Exit(1)
	}

	var req BatchSendRequest
	if err := json.Unmarshal(data, &req); err != nil || len(req.Messages) == 0 {
		// Also accept a bare JSON array of messages
		var messages []SendMessageRequest
		if err := json.Unmarshal(data, &messages); err != nil || len(messages) == 0 {
			fmt.Fprintf(os.Stderr, "Batch file must contain {\"messages\": [...]} or a JSON array of messages\n")
			os.Exit(1)
		}
		req.Messages = messages
	}

	resp, err := makeAPIRequest("POST", "/api/messages", req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to send batch: %v\n", err)
		os.Exit(1)
	}

	var response BatchSendResponse
	if err := json.Unmarshal(resp, &response); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse response: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Batch accepted: %d queued, %d failed, %d total\n\n", response.SuccessCount, response.FailedCount, response.TotalCount)
	for _, result := range response.Results {
		if result.ErrorMessage != "" {
			fmt.Printf("  %s  %s  (%s)\n", result.Status, result.Recipient, result.ErrorMessage)
			continue
		}
		fmt.Printf("  %s  %s  %s\n", result.Status, result.Recipient, result.MessageID)
	}
	if response.StatusURLPattern != "" {
		fmt.Printf("\nStatus URL pattern: %s\n", response.StatusURLPattern)
	}
}

func handleStatus(args []string) {
	// Create flag set for status command
	statusFlags := flag.NewFlagSet("status", flag.ExitOnError)

	statusFlags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: messagehub-admin status <message-id>\n")
	}

	if len(args) < 1 {
		statusFlags.Usage()
		os.Exit(1)
	}

	messageID := args[0]

	if err := statusFlags.Parse(args[1:]); err != nil {
		os.Exit(1)
	}

	resp, err := makeAPIRequest("GET", "/api/messages/"+url.PathEscape(messageID)+"/status", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get message status: %v\n", err)
		os.Exit(1)
	}

	var response MessageStatusResponse
	if err := json.Unmarshal(resp, &response); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse response: %v\n", err)
		os.Exit(1)
	}

	printMessage(&response, "  ")
}

func handleHistory(args []string) {
	// Create flag set for history command
	historyFlags := flag.NewFlagSet("history", flag.ExitOnError)

	var limit int
	var status string

	historyFlags.IntVar(&limit, "limit", 0, "Maximum messages to return, 1-100 (default: 50)")
	historyFlags.StringVar(&status, "status", "", "Filter by status: queued, processing, sent, delivered, failed")

	historyFlags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: messagehub-admin history [flags]\n")
		fmt.Fprintf(os.Stderr, "\nFlags:\n")
		historyFlags.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  messagehub-admin --api-key demo-key history\n")
		fmt.Fprintf(os.Stderr, "  messagehub-admin --api-key demo-key history --limit 10 --status failed\n")
	}

	if err := historyFlags.Parse(args); err != nil {
		os.Exit(1)
	}

	endpoint := "/api/messages/history"
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if status != "" {
		params.Set("status", status)
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	resp, err := makeAPIRequest("GET", endpoint, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get message history: %v\n", err)
		os.Exit(1)
	}

	var messages []MessageStatusResponse
	if err := json.Unmarshal(resp, &messages); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse response: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Found %d message(s):\n\n", len(messages))
	if len(messages) == 0 {
		fmt.Println("  No messages")
		return
	}

	for i := range messages {
		printMessage(&messages[i], "    ")
		fmt.Println()
	}
}

func printMessage(m *MessageStatusResponse, indent string) {
	if indent == "  " {
		fmt.Printf("Message: %s\n", m.MessageID)
	} else {
		fmt.Printf("  %s\n", m.MessageID)
	}
	fmt.Printf("%sStatus: %s\n", indent, m.Status)
	fmt.Printf("%sRecipient: %s\n", indent, m.Recipient)
	fmt.Printf("%sChannel: %s\n", indent, m.ChannelType)
	fmt.Printf("%sCreated: %s\n", indent, m.CreatedAt.Format(time.RFC3339))
	fmt.Printf("%sUpdated: %s\n", indent, m.UpdatedAt.Format(time.RFC3339))
	if m.RetryCount > 0 {
		fmt.Printf("%sRetries: %d\n", indent, m.RetryCount)
	}
	if m.ExternalMessageID != "" {
		fmt.Printf("%sProvider ID: %s\n", indent, m.ExternalMessageID)
	}
	if m.ErrorMessage != "" {
		fmt.Printf("%sError: %s\n", indent, m.ErrorMessage)
	}
}

func resolveAPIKey() (string, error) {
	key := apiKey
	if key == "" && apiKeyFile != "" {
		keyBytes, err := os.ReadFile(filepath.Clean(apiKeyFile))
		if err != nil {
			return "", fmt.Errorf("failed to read API key file: %w", err)
		}
		key = strings.TrimSpace(string(keyBytes))
	}
	if key == "" {
		return "", fmt.Errorf("subscription key is required. Use --api-key or --api-key-file flag")
	}
	return key, nil
}

func makeAPIRequest(method, endpoint string, body interface{}) ([]byte, error) {
	key, err := resolveAPIKey()
	if err != nil {
		return nil, err
	}

	requestURL := strings.TrimRight(gatewayURL, "/") + endpoint

	if verbose {
		fmt.Printf("Making %s request to: %s\n", method, requestURL)
	}

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)

		if verbose {
			fmt.Printf("Request body: %s\n", string(jsonData))
		}
	}

	req, err := http.NewRequest(method, requestURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	req.Header.Set(subscriptionKeyHeader, key)

	client := &http.Client{
		Timeout: 30 * time.Second,
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if verbose {
		fmt.Printf("Response status: %d\n", resp.StatusCode)
		fmt.Printf("Response body: %s\n", string(respBody))
	}

	if resp.StatusCode == http.StatusUnauthorized {
		// The hub answers 401 with an empty body
		return nil, fmt.Errorf("API error (401): subscription key rejected")
	}

	if resp.StatusCode >= 400 {
		// Try to parse the error envelope
		var errorResp struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(respBody, &errorResp) == nil && errorResp.Error.Message != "" {
			return nil, fmt.Errorf("API error (%d, %s): %s", resp.StatusCode, errorResp.Error.Code, errorResp.Error.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}
