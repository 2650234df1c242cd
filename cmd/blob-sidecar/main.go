// Command blob-sidecar watches an rtmp-server recording directory and
// uploads completed FLV recordings to Azure Blob Storage. It runs alongside
// rtmp-server as a separate process: the recorder (internal/rtmp/media)
// writes recordings locally with no knowledge of this sidecar, which only
// needs a directory to watch and a container to upload into.
//
// A recording file stays open and growing for the entire stream lifetime, so
// there is no portable filesystem event for "recording finished" — fsnotify
// exposes Write/Create/Remove/Rename/Chmod, not an fd-close notification.
// Instead this watches for a quiet period: each Write event resets a
// per-file debounce timer, and the file is uploaded once no Write has been
// seen for settleDelay. That tolerates the recorder being stopped abruptly
// (no Close event required) at the cost of a settleDelay-long upload lag.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/fsnotify/fsnotify"

	"github.com/alxayo/rtmp-relay/internal/logger"
)

func main() {
	var (
		watchDir     string
		accountURL   string
		containerStr string
		settleDelay  time.Duration
	)
	flag.StringVar(&watchDir, "watch-dir", "recordings", "Directory of FLV recordings to watch")
	flag.StringVar(&accountURL, "account-url", "", "Azure Storage account blob endpoint, e.g. https://<account>.blob.core.windows.net")
	flag.StringVar(&containerStr, "container", "rtmp-recordings", "Blob container name")
	flag.DurationVar(&settleDelay, "settle-delay", 30*time.Second, "Quiet period with no writes before a recording is considered finished and uploaded")
	flag.Parse()

	logger.Init()
	log := logger.Logger().With("component", "blob_sidecar")

	if accountURL == "" {
		log.Error("missing required -account-url")
		os.Exit(2)
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		log.Error("failed to obtain Azure credential", "error", err)
		os.Exit(1)
	}

	client, err := azblob.NewClient(accountURL, cred, nil)
	if err != nil {
		log.Error("failed to create blob client", "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(watchDir, 0o755); err != nil {
		log.Error("failed to prepare watch dir", "dir", watchDir, "error", err)
		os.Exit(1)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Error("failed to create filesystem watcher", "error", err)
		os.Exit(1)
	}
	defer watcher.Close()

	if err := watcher.Add(watchDir); err != nil {
		log.Error("failed to watch directory", "dir", watchDir, "error", err)
		os.Exit(1)
	}

	up := newUploader(client, containerStr, settleDelay, log)
	log.Info("blob-sidecar watching for recordings", "dir", watchDir, "container", containerStr, "settle_delay", settleDelay)
	run(watcher, up, log)
}

// run drains fsnotify events until the watcher's channels close (on
// watcher.Close).
func run(watcher *fsnotify.Watcher, up *uploader, log *slog.Logger) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !shouldTrack(event) {
				continue
			}
			up.noteActivity(event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Error("filesystem watcher error", "error", err)
		}
	}
}

// shouldTrack reports whether a filesystem event belongs to a recording file
// we care about: only .flv files, only Create/Write/Rename (the events that
// can plausibly mean "this file now has new content").
func shouldTrack(event fsnotify.Event) bool {
	if !strings.EqualFold(filepath.Ext(event.Name), ".flv") {
		return false
	}
	return event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0
}

// uploader debounces per-file activity and uploads a file to blob storage
// once it has been quiet for settleDelay.
type uploader struct {
	client      *azblob.Client
	container   string
	settleDelay time.Duration
	log         *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func newUploader(client *azblob.Client, container string, settleDelay time.Duration, log *slog.Logger) *uploader {
	return &uploader{
		client:      client,
		container:   container,
		settleDelay: settleDelay,
		log:         log,
		timers:      make(map[string]*time.Timer),
	}
}

// noteActivity resets the debounce timer for path, scheduling an upload
// settleDelay after the last call for this path.
func (u *uploader) noteActivity(path string) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if t, ok := u.timers[path]; ok {
		t.Stop()
	}
	u.timers[path] = time.AfterFunc(u.settleDelay, func() {
		u.mu.Lock()
		delete(u.timers, path)
		u.mu.Unlock()
		u.upload(path)
	})
}

// upload reads path and uploads it under its base name.
func (u *uploader) upload(path string) {
	f, err := os.Open(path)
	if err != nil {
		u.log.Error("failed to open recording for upload", "path", path, "error", err)
		return
	}
	defer f.Close()

	blobName := filepath.Base(path)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if _, err := u.client.UploadFile(ctx, u.container, blobName, f, nil); err != nil {
		u.log.Error("failed to upload recording", "path", path, "blob", blobName, "error", err)
		return
	}
	u.log.Info("uploaded recording", "path", path, "blob", blobName, "container", u.container)
}
