// placecall is a one-shot client: it asks a running warmline worker to
// place an outbound call and prints the created session.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

type options struct {
	baseURL     string
	destination string
	metadata    string
	timeout     time.Duration
}

type startCallRequest struct {
	Destination string            `json:"destination"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func main() {
	var opts options
	flag.StringVar(&opts.baseURL, "addr", "http://127.0.0.1:8080", "worker base URL")
	flag.StringVar(&opts.destination, "dest", "", "destination phone number (required)")
	flag.StringVar(&opts.metadata, "metadata", "", "comma separated key=value pairs")
	flag.DurationVar(&opts.timeout, "timeout", 10*time.Second, "request timeout")
	flag.Parse()

	if strings.TrimSpace(opts.destination) == "" {
		fmt.Fprintln(os.Stderr, "error: -dest is required")
		flag.Usage()
		os.Exit(2)
	}

	req := startCallRequest{Destination: strings.TrimSpace(opts.destination)}
	if meta, err := parseMetadata(opts.metadata); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	} else {
		req.Metadata = meta
	}

	body, err := json.Marshal(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	client := &http.Client{Timeout: opts.timeout}
	res, err := client.Post(strings.TrimRight(opts.baseURL, "/")+"/v1/calls", "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
		os.Exit(1)
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(res.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read response: %v\n", err)
		os.Exit(1)
	}
	if res.StatusCode != http.StatusCreated {
		fmt.Fprintf(os.Stderr, "worker returned %d: %s\n", res.StatusCode, strings.TrimSpace(string(payload)))
		os.Exit(1)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, payload, "", "  "); err != nil {
		fmt.Println(string(payload))
		return
	}
	fmt.Println(pretty.String())
}

func parseMetadata(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("bad metadata pair %q, want key=value", pair)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, nil
}
