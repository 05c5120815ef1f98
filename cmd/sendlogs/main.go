package main

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp"
)

// sendlogs walks a directory of dedicated-server log files and posts each one
// to the ingestion endpoint. Files the server accepts (or has already seen)
// move to processed/; files it rejects as unparsable move to corrupt/.

var (
	flagDir   string
	flagURL   string
	flagToken string
)

func main() {
	root := &cobra.Command{
		Use:   "sendlogs",
		Short: "Upload game-session log files to a warlog-tracker server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(flagDir, flagURL, flagToken)
		},
	}

	root.Flags().StringVar(&flagDir, "dir", ".", "directory containing log files")
	root.Flags().StringVar(&flagURL, "url", "http://localhost:8080/logs", "ingestion endpoint")
	root.Flags().StringVar(&flagToken, "token", "", "shared ingest secret")
	root.MarkFlagRequired("token")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(dir, url, token string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read directory: %w", err)
	}

	client := &fasthttp.Client{
		MaxConnsPerHost: 4,
		ReadTimeout:     60 * time.Second,
		WriteTimeout:    60 * time.Second,
	}

	var sent, skipped, corrupt, failed int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())

		status, err := upload(client, url, token, path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", entry.Name(), err)
			failed++
			continue
		}

		switch {
		case status == http.StatusCreated:
			sent++
			moveTo(dir, "processed", entry.Name())
		case status == http.StatusConflict:
			skipped++
			moveTo(dir, "processed", entry.Name())
		case status == http.StatusBadRequest || status == http.StatusNotAcceptable:
			corrupt++
			moveTo(dir, "corrupt", entry.Name())
		default:
			fmt.Fprintf(os.Stderr, "%s: server returned %d\n", entry.Name(), status)
			failed++
		}
		fmt.Printf("%s: %d\n", entry.Name(), status)
	}

	fmt.Printf("sent %d, already ingested %d, corrupt %d, failed %d\n", sent, skipped, corrupt, failed)
	return nil
}

func upload(client *fasthttp.Client, url, token, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read file: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("log", filepath.Base(path))
	if err != nil {
		return 0, fmt.Errorf("failed to build form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return 0, fmt.Errorf("failed to write form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return 0, fmt.Errorf("failed to close form: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType(writer.FormDataContentType())
	req.Header.Set("X-Ingest-Token", token)
	req.SetBody(body.Bytes())

	if err := client.Do(req, resp); err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	return resp.StatusCode(), nil
}

func moveTo(dir, bucket, name string) {
	dest := filepath.Join(dir, bucket)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
		return
	}
	if err := os.Rename(filepath.Join(dir, name), filepath.Join(dest, name)); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
	}
}
