// Package translation forwards final transcripts to a LibreTranslate
// compatible service.
package translation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Result is one target language rendering of a transcript.
type Result struct {
	Primary          string   `json:"primary"`
	Alternatives     []string `json:"alternatives,omitempty"`
	DetectedLanguage string   `json:"detectedLanguage,omitempty"`
}

type Client struct {
	base    string
	http    *http.Client
	timeout time.Duration
	log     zerolog.Logger
}

// New returns a client for base. An empty base yields a client that never
// translates.
func New(base string, timeoutSec int, logger zerolog.Logger) *Client {
	if timeoutSec <= 0 {
		timeoutSec = 8
	}
	timeout := time.Duration(timeoutSec) * time.Second
	return &Client{
		base:    strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: timeout},
		timeout: timeout,
		log:     logger.With().Str("component", "translation").Logger(),
	}
}

// Enabled reports whether the client has an endpoint.
func (c *Client) Enabled() bool { return c != nil && c.base != "" }

// Timeout bounds one Translate call.
func (c *Client) Timeout() time.Duration { return c.timeout }

// Translate requests text in every target language, one call per target. A
// blank source is sent as "auto".
func (c *Client) Translate(ctx context.Context, text, source string, targets []string, altLimit int) (map[string]Result, error) {
	out := make(map[string]Result, len(targets))
	if !c.Enabled() || len(targets) == 0 || strings.TrimSpace(text) == "" {
		return out, nil
	}
	src := strings.TrimSpace(source)
	if src == "" {
		src = "auto"
	}
	for _, tgt := range targets {
		res, err := c.translateOne(ctx, text, src, tgt, altLimit)
		if err != nil {
			return nil, err
		}
		out[tgt] = res
	}
	return out, nil
}

func (c *Client) translateOne(ctx context.Context, text, src, tgt string, altLimit int) (Result, error) {
	payload := map[string]any{
		"q":      text,
		"source": src,
		"target": tgt,
		"format": "text",
	}
	if altLimit > 0 {
		payload["alternatives"] = altLimit
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/translate", bytes.NewReader(b))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("translation %s: %w", tgt, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("translation http %d for target %s", resp.StatusCode, tgt)
	}

	var lr struct {
		TranslatedText   string   `json:"translatedText"`
		Alternatives     []string `json:"alternatives"`
		DetectedLanguage struct {
			Language string `json:"language"`
		} `json:"detectedLanguage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return Result{}, fmt.Errorf("translation %s: decode: %w", tgt, err)
	}

	res := Result{
		Primary:          strings.TrimSpace(lr.TranslatedText),
		DetectedLanguage: lr.DetectedLanguage.Language,
	}
	for _, a := range lr.Alternatives {
		if s := strings.TrimSpace(a); s != "" {
			res.Alternatives = append(res.Alternatives, s)
		}
	}
	c.log.Debug().Str("target", tgt).Dur("took", time.Since(start)).Msg("translated")
	return res, nil
}
