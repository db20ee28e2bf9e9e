package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dunglas/httpsfv"
)

// PUT /cart answers with a redirect; the CLI inspects it instead of following.
var client = &http.Client{
	Timeout: 30 * time.Second,
	CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	},
}

// buyerFlags identify whose cart a command operates on.
type buyerFlags struct {
	user    string
	browser string
	country string
}

// header renders the Buyer-Context structured field dictionary, e.g.
// user="42", browser="b-1", country="US". Empty members are omitted.
func (b buyerFlags) header() (string, error) {
	dict := httpsfv.NewDictionary()
	for _, m := range []struct{ key, value string }{
		{"user", b.user},
		{"browser", b.browser},
		{"country", b.country},
	} {
		if m.value != "" {
			dict.Add(m.key, httpsfv.NewItem(m.value))
		}
	}
	if len(dict.Names()) == 0 {
		return "", errors.New("--user or --browser is required")
	}
	return httpsfv.Marshal(dict)
}

func doRequest(method, path string, body any) (map[string]any, error) {
	result, _, err := doRequestStatus(method, path, body)
	return result, err
}

// doRequestStatus sends a JSON request. On HTTP errors the decoded body is
// still returned alongside the error when it is JSON.
func doRequestStatus(method, path string, body any) (map[string]any, int, error) {
	resp, respBody, err := send(method, path, body)
	if err != nil {
		return nil, 0, err
	}

	var result map[string]any
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &result); err != nil && resp.StatusCode < 400 {
			return nil, resp.StatusCode, fmt.Errorf("parsing response: %w", err)
		}
	}
	if resp.StatusCode >= 400 {
		return result, resp.StatusCode, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}
	return result, resp.StatusCode, nil
}

// putCart replaces the cart and returns the flash alert, if any.
func putCart(body map[string]any) (string, error) {
	resp, respBody, err := send(http.MethodPut, "/cart", body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusSeeOther {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}
	for _, c := range resp.Cookies() {
		if c.Name == "alert" {
			msg, err := url.QueryUnescape(c.Value)
			if err != nil {
				return c.Value, nil
			}
			return msg, nil
		}
	}
	return "", nil
}

func send(method, path string, body any) (*http.Response, []byte, error) {
	var reqBody io.Reader
	var reqJSON []byte

	if body != nil {
		var err error
		reqJSON, err = json.MarshalIndent(body, "", "  ")
		if err != nil {
			return nil, nil, fmt.Errorf("marshaling request: %w", err)
		}
		reqBody = bytes.NewReader(reqJSON)
	}

	req, err := http.NewRequest(method, serverURL+path, reqBody)
	if err != nil {
		return nil, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	bc, err := buyer.header()
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Buyer-Context", bc)

	if !quiet {
		printRequest(method, path, reqJSON)
	}

	start := time.Now()
	resp, err := client.Do(req)
	duration := time.Since(start)
	if err != nil {
		return nil, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("reading response: %w", err)
	}

	if !quiet {
		printResponse(resp.StatusCode, respBody, duration)
	}
	return resp, respBody, nil
}
