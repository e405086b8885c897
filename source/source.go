// Package source reads archived chat logs back into the pipeline.
//
// Both readers walk a directory laid out the way the file sink writes it,
// <root>/<channel>/<file>, taking the channel name from the directory. Files
// ending in .gz are decompressed transparently. Lines are delivered in file
// order, files in lexical order, so per-channel ordering of a converted
// archive survives a round trip.
package source

import (
	"bufio"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/c360/chatstream/errors"
	"github.com/c360/chatstream/event"
)

// Handler receives each decoded event. Returning an error stops the walk.
type Handler func(ctx context.Context, ev event.Event) error

// maxLineSize bounds a single log line; chat messages are capped far below
// this upstream.
const maxLineSize = 1 << 20

// walk visits every regular file under root with a matching extension,
// grouped by channel directory.
func walk(ctx context.Context, root string, exts []string, visit func(channel, path string) error) error {
	channels, err := os.ReadDir(root)
	if err != nil {
		return errors.WrapPermanent(err, "source", "walk", "read root directory")
	}

	for _, channelEntry := range channels {
		if !channelEntry.IsDir() {
			continue
		}
		channel := channelEntry.Name()
		files, err := os.ReadDir(filepath.Join(root, channel))
		if err != nil {
			return errors.WrapPermanent(err, "source", "walk", "read channel directory "+channel)
		}
		for _, f := range files {
			if err := ctx.Err(); err != nil {
				return err
			}
			if f.IsDir() || !matchesExt(f.Name(), exts) {
				continue
			}
			if err := visit(channel, filepath.Join(root, channel, f.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

func matchesExt(name string, exts []string) bool {
	base := strings.TrimSuffix(name, ".gz")
	for _, ext := range exts {
		if strings.HasSuffix(base, ext) {
			return true
		}
	}
	return false
}

// eachLine streams the lines of one possibly gzipped file.
func eachLine(ctx context.Context, path string, fn func(line string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.WrapPermanent(err, "source", "eachLine", "open "+path)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return errors.WrapPermanent(err, "source", "eachLine", "open gzip "+path)
		}
		defer gz.Close()
		r = gz
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(scanner.Text()); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.WrapPermanent(err, "source", "eachLine", "scan "+path)
	}
	return nil
}
