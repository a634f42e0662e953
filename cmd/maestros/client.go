package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// apiClient talks to a running gateway's web API. Address and password come
// from MAESTROS_ADDR / MAESTROS_WEB_PASSWORD, overridable with -addr.
type apiClient struct {
	addr     string
	password string
	http     *http.Client
}

func newAPIClient(addr string) *apiClient {
	if addr == "" {
		addr = os.Getenv("MAESTROS_ADDR")
	}
	if addr == "" {
		addr = "http://127.0.0.1:8080"
	}
	return &apiClient{
		addr:     strings.TrimRight(addr, "/"),
		password: os.Getenv("MAESTROS_WEB_PASSWORD"),
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *apiClient) do(method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.addr+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.password != "" {
		req.SetBasicAuth("maestros", c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway unreachable at %s: %w", c.addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("gateway returned %s", resp.Status)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func runSubmit(args []string) error {
	var addr, wfType, participants string
	var taskWords []string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-addr":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -addr")
			}
			i++
			addr = args[i]
		case "-type":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -type")
			}
			i++
			wfType = args[i]
		case "-participants":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -participants")
			}
			i++
			participants = args[i]
		default:
			taskWords = append(taskWords, args[i])
		}
	}

	task := strings.Join(taskWords, " ")
	if task == "" {
		fmt.Fprintf(os.Stderr, "Usage: maestros submit [-addr <url>] [-type <workflow>] [-participants a,b,c] <task...>\n")
		return fmt.Errorf("missing task")
	}
	if wfType == "" {
		wfType = "conditional"
	}

	var names []string
	for _, p := range strings.Split(participants, ",") {
		if p = strings.TrimSpace(p); p != "" {
			names = append(names, p)
		}
	}

	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	err := newAPIClient(addr).do("POST", "/api/workflows", map[string]any{
		"task":          task,
		"workflow_type": wfType,
		"participants":  names,
	}, &out)
	if err != nil {
		return err
	}

	fmt.Printf("Submitted %s (%s)\n", out.ID, out.Status)
	return nil
}

func runStatus(args []string) error {
	var addr, id string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-addr":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -addr")
			}
			i++
			addr = args[i]
		default:
			id = args[i]
		}
	}

	client := newAPIClient(addr)

	if id != "" {
		var exec map[string]any
		if err := client.do("GET", "/api/workflows/"+id, nil, &exec); err != nil {
			return err
		}
		return printJSON(exec)
	}

	var status map[string]any
	if err := client.do("GET", "/api/status", nil, &status); err != nil {
		return err
	}
	return printJSON(status)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
