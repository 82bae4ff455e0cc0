package tracker

import (
	"context"
	"fmt"
	"hash/crc32"
	"os"

	"github.com/bryan-buckman/noveltracker/internal/source"
)

// CoverID names the cover file of a novel: the Webnovel book id when there is
// one, else the CRC-32 of the title.
func CoverID(sourceLabel, novelURL, title string) string {
	if sourceLabel == "webnovel" {
		if id := source.ExtractBookID(novelURL); id != "" {
			return id + ".webp"
		}
	}
	return fmt.Sprintf("%d.webp", crc32.ChecksumIEEE([]byte(title)))
}

// storeCover makes sure the cover file coverID exists, downloading remoteURL
// or falling back to the image inside the EPUB. It returns coverID, or "" when
// no image could be stored.
func (s *Service) storeCover(ctx context.Context, e *env, coverID, remoteURL, epubPath string) string {
	if coverID == "" || e.library.CoverDir == "" {
		return ""
	}
	dst := e.library.CoverPath(coverID)
	if _, err := os.Stat(dst); err == nil {
		return coverID
	}

	var data []byte
	if remoteURL != "" {
		var err error
		data, err = s.sources.Download(ctx, remoteURL, e.source)
		if err != nil {
			s.log.Warn("cover download failed", "url", remoteURL, "error", err)
			data = nil
		}
	}
	if data == nil && epubPath != "" {
		data = s.localCover(e, epubPath)
	}
	if data == nil {
		return ""
	}

	if err := os.MkdirAll(e.library.CoverDir, 0o755); err != nil {
		s.log.Error("create cover directory", "dir", e.library.CoverDir, "error", err)
		return ""
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		s.log.Error("write cover", "path", dst, "error", err)
		return ""
	}
	return coverID
}

func (s *Service) localCover(e *env, epubPath string) []byte {
	book, err := e.library.Open(epubPath)
	if err != nil {
		s.log.Warn("open epub for cover", "file", epubPath, "error", err)
		return nil
	}
	defer book.Close()
	data, _, err := book.Cover()
	if err != nil {
		s.log.Debug("no cover in epub", "file", epubPath, "error", err)
		return nil
	}
	return data
}
