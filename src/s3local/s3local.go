/*
Package s3local is a stand-in for S3 during local development. It understands
just enough of the protocol for the assets package: creating buckets, putting
objects, and getting them back. Objects are plain files under a folder.
*/
package s3local

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"io/fs"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opencompanion/companion/src/config"
	"github.com/opencompanion/companion/src/jobs"
	"github.com/opencompanion/companion/src/logging"
)

type s3Error struct {
	XMLName xml.Name `xml:"Error"`
	Code    string   `xml:"Code"`
	Message string   `xml:"Message"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	xml.NewEncoder(w).Encode(s3Error{Code: code, Message: msg})
}

// Serves path-style requests (/bucket/key) out of dir.
func Handler(dir string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bucket, key := bucketKey(r)
		log := logging.Debug().Str("method", r.Method).Str("bucket", bucket).Str("key", key)

		if bucket == "" || strings.Contains(bucket, "..") || strings.Contains(key, "..") {
			log.Msg("Rejected local S3 request")
			writeError(w, http.StatusBadRequest, "InvalidRequest", "bad bucket or key")
			return
		}
		bucketDir := filepath.Join(dir, bucket)

		switch r.Method {
		case http.MethodPut:
			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeError(w, http.StatusBadRequest, "IncompleteBody", err.Error())
				return
			}
			log.Int("len(body)", len(body)).Msg("Local S3 put")

			if key == "" {
				if err := os.MkdirAll(bucketDir, fs.ModePerm); err != nil {
					writeError(w, http.StatusInternalServerError, "InternalError", err.Error())
					return
				}
				w.Header().Set("Location", "/"+bucket)
				return
			}

			if _, err := os.Stat(bucketDir); err != nil {
				writeError(w, http.StatusNotFound, "NoSuchBucket", "The specified bucket does not exist")
				return
			}
			if err := os.WriteFile(filepath.Join(bucketDir, key), body, 0644); err != nil {
				writeError(w, http.StatusInternalServerError, "InternalError", err.Error())
				return
			}
		case http.MethodGet:
			log.Msg("Local S3 get")

			if _, err := os.Stat(bucketDir); err != nil {
				writeError(w, http.StatusNotFound, "NoSuchBucket", "The specified bucket does not exist")
				return
			}
			fileBytes, err := os.ReadFile(filepath.Join(bucketDir, key))
			if err != nil {
				writeError(w, http.StatusNotFound, "NoSuchKey", "The specified key does not exist")
				return
			}
			w.Write(fileBytes)
		default:
			writeError(w, http.StatusNotImplemented, "NotImplemented", r.Method+" is not supported")
		}
	})
}

// Slashes in keys are flattened so every bucket is a single folder.
func bucketKey(r *http.Request) (string, string) {
	path := strings.TrimPrefix(r.URL.Path, "/")
	slashIdx := strings.IndexByte(path, '/')
	if slashIdx == -1 {
		return path, ""
	}
	return path[:slashIdx], strings.ReplaceAll(path[slashIdx+1:], "/", "~")
}

/*
Runs the local S3 server on the configured endpoint's address. Only does anything
in dev with S3.LocalDir set and a localhost endpoint; otherwise it returns a
finished job.
*/
func StartServer() *jobs.Job {
	const name = "local s3"
	if config.Config.Env != config.Dev || config.Config.S3.LocalDir == "" {
		return jobs.Skipped(name, "only runs in dev with S3.LocalDir set")
	}

	endpoint, err := url.Parse(config.Config.S3.Endpoint)
	if err != nil || !isLocalHost(endpoint.Hostname()) {
		return jobs.Skipped(name, "S3 endpoint is not local: "+config.Config.S3.Endpoint)
	}

	if err := os.MkdirAll(config.Config.S3.LocalDir, fs.ModePerm); err != nil {
		logging.Error().Err(err).Msg("Failed to create local S3 folder")
		return jobs.Skipped(name, "could not create S3.LocalDir")
	}

	job := jobs.New(name)
	server := http.Server{
		Addr:    endpoint.Host,
		Handler: Handler(config.Config.S3.LocalDir),
	}

	go func() {
		defer job.Finish()
		job.Logger.Info().Str("addr", server.Addr).Str("dir", config.Config.S3.LocalDir).Msg("Serving local S3")
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			job.Logger.Error().Err(err).Msg("Local S3 server failed")
		}
	}()

	go func() {
		<-job.Canceled()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	return job
}

func isLocalHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
