package download

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/lrstanley/go-ytdlp"

	"github.com/jku-tools/moodle-mirror/internal/classify"
	"github.com/jku-tools/moodle-mirror/pkg/moodle"
)

func failed(src string) moodle.DownloadOutcome {
	return moodle.DownloadOutcome{URL: src}
}

// fetchResource streams a file module straight to disk.
func (m *Manager) fetchResource(ctx context.Context, item moodle.Downloadable, dir string) (moodle.DownloadOutcome, error) {
	return m.streamToFile(ctx, http.MethodGet, item.SourceURL(), item.SourceURL(), nil, dir)
}

// exportFolder asks the folder export endpoint to zip the folder, then
// streams the archive.
func (m *Manager) exportFolder(ctx context.Context, item moodle.Downloadable, dir string) (moodle.DownloadOutcome, error) {
	u, err := url.Parse(item.SourceURL())
	if err != nil {
		return failed(item.SourceURL()), err
	}
	id := u.Query().Get("id")
	if id == "" {
		return failed(item.SourceURL()), &moodle.ParseError{Page: "folder link", Missing: "id parameter"}
	}
	form := url.Values{"id": {id}, "sesskey": {m.client.Sesskey()}}
	return m.streamToFile(ctx, http.MethodPost, m.client.SiteURL("/mod/folder/download_folder.php"), item.SourceURL(), form, dir)
}

// fetchExternal follows a url module: portal-hosted files honor the force
// download parameters, external video hosts are resolved to a progressive
// stream at or below the target resolution.
func (m *Manager) fetchExternal(ctx context.Context, item moodle.Downloadable, dir string) (moodle.DownloadOutcome, error) {
	link := item.SourceURL()
	if strings.Contains(link, "?") {
		link += "&forcedownload=1&redirect=1"
	} else {
		link += "?forcedownload=1&redirect=1"
	}
	resp, err := m.client.Stream(ctx, http.MethodGet, link, nil)
	if err != nil {
		return failed(item.SourceURL()), err
	}
	if isWatchURL(resp.Request.URL) {
		watch := resp.Request.URL.String()
		resp.Body.Close()
		return m.fetchVideo(ctx, item.SourceURL(), watch, dir)
	}
	defer resp.Body.Close()
	return m.saveResponse(item.SourceURL(), resp, dir)
}

func isWatchURL(u *url.URL) bool {
	host := strings.TrimPrefix(u.Host, "www.")
	return (host == "youtube.com" && u.Path == "/watch") || host == "youtu.be"
}

// fetchVideo picks the best progressive stream at or below the target
// height, falling back to the best available when the target is not.
func (m *Manager) fetchVideo(ctx context.Context, src, watch, dir string) (moodle.DownloadOutcome, error) {
	format := fmt.Sprintf("best[height<=%d][vcodec!=none][acodec!=none]/best", m.cfg.TargetHeight)
	dl := ytdlp.New().
		Format(format).
		RestrictFilenames().
		Output(filepath.Join(dir, "%(title)s.%(ext)s"))

	result, err := dl.Run(ctx, watch)
	if err != nil {
		return failed(src), err
	}
	info, err := result.GetExtractedInfo()
	if err != nil || len(info) == 0 || info[0].Filename == nil {
		return failed(src), nil
	}
	return moodle.DownloadOutcome{URL: src, OK: true, Path: *info[0].Filename}, nil
}

// captureStream extracts the playable source of an embedded stream page and
// remuxes it to a local container with ffmpeg. The remux is retried exactly
// once when the expected output file is absent after the first attempt.
func (m *Manager) captureStream(ctx context.Context, item moodle.Downloadable, dir string) (moodle.DownloadOutcome, error) {
	page, err := m.client.Get(ctx, item.SourceURL())
	if err != nil {
		return failed(item.SourceURL()), err
	}
	src, err := extractStreamSource(page.Body)
	if err != nil {
		return failed(item.SourceURL()), err
	}

	unescaped, err := url.PathUnescape(src)
	if err != nil {
		unescaped = src
	}
	base := path.Base(unescaped)
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}
	name, err := uniqueName(dir, normalizeStreamExt(sanitizeFilename(base)))
	if err != nil {
		return failed(item.SourceURL()), err
	}
	out := filepath.Join(dir, name)

	err = m.remux(ctx, src, out)
	if err != nil && !fileExists(out) {
		m.log.Warn().Str("url", item.SourceURL()).Err(err).Msg("Stream capture failed, retrying once")
		err = m.remux(ctx, src, out)
	}
	if err != nil {
		return failed(item.SourceURL()), err
	}
	if !fileExists(out) {
		return failed(item.SourceURL()), nil
	}
	return moodle.DownloadOutcome{URL: item.SourceURL(), OK: true, Path: out}, nil
}

func (m *Manager) remux(ctx context.Context, src, out string) error {
	cmd := exec.CommandContext(ctx, m.cfg.FFmpegPath,
		"-y",
		"-protocol_whitelist", "file,blob,http,https,tcp,tls,crypto",
		"-i", src,
		"-c", "copy",
		out)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	return cmd.Run()
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

// extractStreamSource finds the first playable source on the page: a video
// element or any non-script element carrying both src and type.
func extractStreamSource(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	src := ""
	doc.Find("body [src]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		name := goquery.NodeName(sel)
		if name == "script" {
			return true
		}
		if _, hasType := sel.Attr("type"); !hasType && name != "video" {
			return true
		}
		src, _ = sel.Attr("src")
		return src == ""
	})
	if src == "" {
		return "", &moodle.ParseError{Page: "stream page", Missing: "playable source"}
	}
	return src, nil
}

// captureQuiz walks summary page to review page, renders the quiz to
// markdown and side-loads portal-hosted images into a subdirectory named
// after the quiz.
func (m *Manager) captureQuiz(ctx context.Context, item moodle.Downloadable, dir string) (moodle.DownloadOutcome, error) {
	page, err := m.client.Get(ctx, item.SourceURL())
	if err != nil {
		return failed(item.SourceURL()), err
	}
	summary, err := classify.ParseQuizSummary(page.Body)
	if err != nil {
		return failed(item.SourceURL()), err
	}
	if summary.ReviewURL == "" {
		return failed(item.SourceURL()), nil
	}

	review, err := m.client.Get(ctx, summary.ReviewURL)
	if err != nil {
		return failed(item.SourceURL()), err
	}
	doc, err := classify.ParseQuiz(review.Body)
	if err != nil {
		return failed(item.SourceURL()), err
	}

	slug := slugify(summary.Name)
	imageDir := filepath.Join(dir, slug)
	rendered := classify.RenderQuizMarkdown(doc, func(src string) (string, bool) {
		return m.sideloadImage(ctx, src, dir, imageDir)
	})

	name, err := uniqueName(dir, slug+".md")
	if err != nil {
		return failed(item.SourceURL()), err
	}
	out := filepath.Join(dir, name)
	if err := os.WriteFile(out, []byte(rendered), 0644); err != nil {
		return failed(item.SourceURL()), err
	}
	return moodle.DownloadOutcome{URL: item.SourceURL(), OK: true, Path: out}, nil
}

// sideloadImage fetches a portal-hosted quiz image into imageDir and
// returns its path relative to the quiz document. Non-portal images are
// left as absolute references.
func (m *Manager) sideloadImage(ctx context.Context, src, docDir, imageDir string) (string, bool) {
	u, err := url.Parse(src)
	if err != nil || u.Host != m.client.Host() {
		return "", false
	}
	if err := os.MkdirAll(imageDir, 0755); err != nil {
		return "", false
	}
	resp, err := m.client.Stream(ctx, http.MethodGet, src, nil)
	if err != nil {
		m.log.Warn().Str("url", src).Err(err).Msg("Quiz image download failed")
		return "", false
	}
	defer resp.Body.Close()

	name := filenameFromResponse(resp)
	name, err = uniqueName(imageDir, name)
	if err != nil {
		return "", false
	}
	target := filepath.Join(imageDir, name)
	if err := writeBody(target, resp.Body); err != nil {
		m.log.Warn().Str("url", src).Err(err).Msg("Quiz image write failed")
		return "", false
	}
	rel, err := filepath.Rel(docDir, target)
	if err != nil {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// streamToFile performs the request and writes the attachment payload to
// dir. A response without a file payload is a failed item, not an error.
func (m *Manager) streamToFile(ctx context.Context, method, requestURL, src string, form url.Values, dir string) (moodle.DownloadOutcome, error) {
	resp, err := m.client.Stream(ctx, method, requestURL, form)
	if err != nil {
		return failed(src), err
	}
	defer resp.Body.Close()
	return m.saveResponse(src, resp, dir)
}

// saveResponse writes a response carrying a Content-Disposition attachment
// to dir under a collision-free name.
func (m *Manager) saveResponse(src string, resp *http.Response, dir string) (moodle.DownloadOutcome, error) {
	cd := resp.Header.Get("Content-Disposition")
	if cd == "" {
		return failed(src), nil
	}
	_, params, err := mime.ParseMediaType(cd)
	if err != nil || params["filename"] == "" {
		return failed(src), nil
	}
	name, err := uniqueName(dir, sanitizeFilename(params["filename"]))
	if err != nil {
		return failed(src), err
	}
	target := filepath.Join(dir, name)
	if err := writeBody(target, resp.Body); err != nil {
		return failed(src), err
	}
	return moodle.DownloadOutcome{URL: src, OK: true, Path: target}, nil
}

func filenameFromResponse(resp *http.Response) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil && params["filename"] != "" {
			return sanitizeFilename(params["filename"])
		}
	}
	return sanitizeFilename(path.Base(resp.Request.URL.Path))
}

func writeBody(target string, body io.Reader) error {
	f, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(target)
		return err
	}
	return f.Close()
}
